package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Artifact is a canonical byte encoding of a value plus its digest.
type Artifact struct {
	SchemaID       string `json:"schema_id"`
	ContentType    string `json:"content_type"`
	CanonicalBytes []byte `json:"-"`
	Digest         string `json:"digest"`
	Preview        string `json:"preview,omitempty"`
}

// Canonicalize converts a raw value into a canonical Artifact.
// Strings are NFC-normalized text, byte slices are taken verbatim and
// anything else is encoded as JCS.
func Canonicalize(schemaID string, raw interface{}) (*Artifact, error) {
	var canonicalBytes []byte
	var contentType string
	var err error

	switch v := raw.(type) {
	case string:
		contentType = "text/plain"
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("invalid UTF-8 string")
		}
		canonicalBytes = []byte(NormalizeText(v))
	case []byte:
		contentType = "application/octet-stream"
		canonicalBytes = v
	default:
		contentType = "application/json"
		canonicalBytes, err = JCS(v)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize as JSON: %w", err)
		}
	}

	return &Artifact{
		SchemaID:       schemaID,
		ContentType:    contentType,
		CanonicalBytes: canonicalBytes,
		Digest:         ComputeArtifactHash(canonicalBytes),
		Preview:        generatePreview(canonicalBytes),
	}, nil
}

// ComputeArtifactHash returns the prefixed SHA-256 digest of the canonical bytes.
func ComputeArtifactHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func generatePreview(data []byte) string {
	const maxPreviewLen = 50
	if len(data) <= maxPreviewLen {
		return string(data)
	}
	return string(data[:maxPreviewLen]) + "..."
}
