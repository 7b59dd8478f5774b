package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/canonicalize"
)

var (
	// ErrEmptyActorID is returned when actor ID is empty.
	ErrEmptyActorID = errors.New("audit: actor_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrTrailNotConfigured is returned when export is invoked without a trail.
	ErrTrailNotConfigured = errors.New("audit: trail not configured (fail-closed)")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	ActorID   string    `json:"actor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter builds evidence packs from a Trail.
type Exporter struct {
	trail *Trail
	clock func() time.Time
}

func NewExporter(t *Trail) *Exporter {
	return &Exporter{trail: t, clock: time.Now}
}

// WithClock sets the clock used for generated_at.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// GeneratePack creates a zip file containing the matching trail entries and
// a manifest, and returns it with its SHA-256 checksum.
func (e *Exporter) GeneratePack(_ context.Context, req ExportRequest) ([]byte, string, error) {
	if req.ActorID == "" {
		return nil, "", ErrEmptyActorID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.trail == nil {
		return nil, "", ErrTrailNotConfigured
	}

	filter := TrailFilter{ActorID: req.ActorID}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	entries := e.trail.Query(filter)

	eventsJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}
	events, err := canonicalize.Canonicalize("audit-events", entries)
	if err != nil {
		return nil, "", fmt.Errorf("audit: canonicalize events: %w", err)
	}

	generatedAt := e.clock().UTC()
	manifest := map[string]interface{}{
		"actor_id":      req.ActorID,
		"generated_at":  generatedAt,
		"event_count":   len(entries),
		"events_digest": events.Digest,
		"chain_head":    e.trail.Head(),
		"period": map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestArtifact, err := canonicalize.Canonicalize("audit-manifest", manifest)
	if err != nil {
		return nil, "", fmt.Errorf("audit: canonicalize manifest: %w", err)
	}
	manifestJSON := manifestArtifact.CanonicalBytes

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, file := range []struct {
		name string
		data []byte
	}{
		{"events.json", eventsJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(fmt.Sprintf("Evidence pack for agent %s\nGenerated at %s\n", req.ActorID, generatedAt.Format(time.RFC3339)))},
	} {
		f, err := w.Create(file.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := f.Write(file.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
