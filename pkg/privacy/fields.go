package privacy

import (
	"slices"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// Field names one item of an agent's private data.
type Field string

const (
	FieldLegalName        Field = "legal_name"
	FieldEmail            Field = "email"
	FieldPhone            Field = "phone"
	FieldAddress          Field = "address"
	FieldEmergencyContact Field = "emergency_contact"
	FieldTimeZone         Field = "time_zone"
	FieldLocation         Field = "location"
)

var fieldClasses = map[Field]PIIClassification{
	FieldLegalName:        PIICritical,
	FieldEmail:            PIISensitive,
	FieldPhone:            PIISensitive,
	FieldAddress:          PIISensitive,
	FieldEmergencyContact: PIISensitive,
	FieldLocation:         PIISensitive,
	FieldTimeZone:         PIINone,
}

// Valid reports whether f is part of the private data vocabulary.
func (f Field) Valid() bool {
	_, ok := fieldClasses[f]
	return ok
}

// Shareable reports whether f may appear in a capability grant. Legal
// names never may.
func (f Field) Shareable() bool {
	return f.Valid() && f != FieldLegalName
}

// Classification returns the sensitivity of f.
func (f Field) Classification() PIIClassification {
	if c, ok := fieldClasses[f]; ok {
		return c
	}
	return PIICritical
}

// ShareableFields returns every field a grant may carry, sorted.
func ShareableFields() []Field {
	out := make([]Field, 0, len(fieldClasses)-1)
	for f := range fieldClasses {
		if f.Shareable() {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

// ParseFields converts raw names into a sorted, de-duplicated field set,
// rejecting names outside the shareable vocabulary.
func ParseFields(names []string) ([]Field, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		fields = append(fields, Field(n))
	}
	return NormalizeShareable(fields)
}

// NormalizeShareable sorts and de-duplicates fields, failing with
// FIELD_NOT_ALLOWED on legal_name or any unknown field.
func NormalizeShareable(fields []Field) ([]Field, error) {
	out := slices.Clone(fields)
	for _, f := range out {
		if !f.Shareable() {
			return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeFieldNotAllowed, "privacy.NormalizeShareable",
				"field %q cannot be shared", f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
