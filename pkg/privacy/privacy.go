// Package privacy holds the private data field vocabulary and the scrubbing
// applied to free text before it reaches logs or audit records.
package privacy

import (
	"context"
	"regexp"
	"sort"
)

// PIIClassification defines the sensitivity level of data.
type PIIClassification string

const (
	PIINone      PIIClassification = "NONE"
	PIISensitive PIIClassification = "SENSITIVE" // email, phone, address, location
	PIICritical  PIIClassification = "CRITICAL"  // legal name
)

// PrivacyManager defines the interface for privacy controls.
type PrivacyManager interface {
	// Scrub removes PII from the given text based on the classification.
	Scrub(ctx context.Context, text string, level PIIClassification) string
	// Validate reports metadata keys that name private fields.
	Validate(ctx context.Context, data map[string]interface{}) (bool, []string)
	// Redact returns a copy of data with private values withheld.
	Redact(ctx context.Context, data map[string]interface{}) map[string]interface{}
}

// StandardPrivacyManager implements the PrivacyManager interface.
type StandardPrivacyManager struct {
	emailRegex *regexp.Regexp
	phoneRegex *regexp.Regexp
}

// NewPrivacyManager returns a new instance of StandardPrivacyManager.
func NewPrivacyManager() *StandardPrivacyManager {
	return &StandardPrivacyManager{
		emailRegex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		phoneRegex: regexp.MustCompile(`\+?[0-9][0-9 ().-]{6,}[0-9]`),
	}
}

// Scrub redacts PII from the text. Phone numbers are redacted only at the
// critical level; emails at any level above none.
func (pm *StandardPrivacyManager) Scrub(ctx context.Context, text string, level PIIClassification) string {
	if level == PIINone {
		return text
	}
	text = pm.emailRegex.ReplaceAllString(text, "[REDACTED_EMAIL]")
	if level == PIICritical {
		text = pm.phoneRegex.ReplaceAllString(text, "[REDACTED_PHONE]")
	}
	return text
}

// Validate flags audit or log metadata that carries private field values
// under their field names. The offending keys are returned sorted.
func (pm *StandardPrivacyManager) Validate(ctx context.Context, data map[string]interface{}) (bool, []string) {
	var violations []string
	for key := range data {
		if IsPrivateKey(key) {
			violations = append(violations, key)
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return false, violations
	}
	return true, nil
}

// Redact returns a copy of data safe to persist. Values under a private
// field name are withheld and every string is scrubbed at the sensitive
// level; ids and digests would match the phone pattern.
func (pm *StandardPrivacyManager) Redact(ctx context.Context, data map[string]interface{}) map[string]interface{} {
	if len(data) == 0 {
		return data
	}
	_, flagged := pm.Validate(ctx, data)
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = pm.redactValue(ctx, v)
	}
	for _, k := range flagged {
		out[k] = Withheld
	}
	return out
}

func (pm *StandardPrivacyManager) redactValue(ctx context.Context, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return pm.Scrub(ctx, t, PIISensitive)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = pm.Scrub(ctx, s, PIISensitive)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = pm.redactValue(ctx, e)
		}
		return out
	case map[string]interface{}:
		return pm.Redact(ctx, t)
	default:
		return v
	}
}

// Withheld replaces a value recorded under a private field name.
const Withheld = "[REDACTED_FIELD]"

// IsPrivateKey reports whether key names a private field.
func IsPrivateKey(key string) bool {
	f := Field(key)
	return f.Valid() && f.Classification() != PIINone
}

var defaultManager = NewPrivacyManager()

// ScrubEmails redacts emails only, for text that also carries identifiers.
func ScrubEmails(text string) string {
	return defaultManager.Scrub(context.Background(), text, PIISensitive)
}

// Redact applies the default manager's Redact.
func Redact(ctx context.Context, data map[string]interface{}) map[string]interface{} {
	return defaultManager.Redact(ctx, data)
}
