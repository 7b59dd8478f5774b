package ppr

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// FormatVersion is written into every new receipt.
const FormatVersion = "1.0.0"

// SupportedFormats is the range of receipt format versions this build reads.
const SupportedFormats = "^1.0.0"

const recordSchemaURL = "https://nondominium.schemas.local/ppr/participation_claim.schema.json"

//go:embed schemas/participation_claim.schema.json
var recordSchemaJSON string

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error

	supportedConstraint = mustConstraint(SupportedFormats)
)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("ppr: bad format constraint %q: %v", s, err))
	}
	return c
}

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(recordSchemaURL, bytes.NewReader([]byte(recordSchemaJSON))); err != nil {
			recordSchemaErr = fmt.Errorf("receipt schema load failed: %w", err)
			return
		}
		recordSchema, recordSchemaErr = c.Compile(recordSchemaURL)
		if recordSchemaErr != nil {
			recordSchemaErr = fmt.Errorf("receipt schema compile failed: %w", recordSchemaErr)
		}
	})
	return recordSchema, recordSchemaErr
}

// CheckFormatVersion reports whether v is a receipt format this build reads.
func CheckFormatVersion(v string) error {
	const op = "ppr.CheckFormatVersion"
	ver, err := semver.NewVersion(v)
	if err != nil {
		return contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, op, err)
	}
	if !supportedConstraint.Check(ver) {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op,
			"format version %s not in %s", v, SupportedFormats)
	}
	return nil
}

// ValidateRecordJSON validates a serialized receipt against the receipt schema.
func ValidateRecordJSON(raw []byte) error {
	const op = "ppr.ValidateRecordJSON"
	schema, err := compiledRecordSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, op, err)
	}
	if err := schema.Validate(doc); err != nil {
		return contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, op, err)
	}
	return nil
}

// DecodeRecord validates and decodes a serialized receipt.
func DecodeRecord(raw []byte) (*ParticipationClaim, error) {
	if err := ValidateRecordJSON(raw); err != nil {
		return nil, err
	}
	var c ParticipationClaim
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, "ppr.DecodeRecord", err)
	}
	if err := CheckFormatVersion(c.FormatVersion); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeRecord serializes a receipt in its stored form.
func EncodeRecord(c *ParticipationClaim) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("ppr: encode receipt: %w", err)
	}
	return b, nil
}
