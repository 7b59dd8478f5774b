// Package privatedata holds an agent's private contact data and serves
// field-filtered views of it to holders of a valid capability grant.
package privatedata

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

// PrivateData is the full private record of one agent.
type PrivateData struct {
	LegalName        string `json:"legal_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
	TimeZone         string `json:"time_zone"`
	Location         string `json:"location"`
}

// Value returns the value of field f.
func (p *PrivateData) Value(f privacy.Field) (string, bool) {
	switch f {
	case privacy.FieldLegalName:
		return p.LegalName, true
	case privacy.FieldEmail:
		return p.Email, true
	case privacy.FieldPhone:
		return p.Phone, true
	case privacy.FieldAddress:
		return p.Address, true
	case privacy.FieldEmergencyContact:
		return p.EmergencyContact, true
	case privacy.FieldTimeZone:
		return p.TimeZone, true
	case privacy.FieldLocation:
		return p.Location, true
	}
	return "", false
}

// FilteredPrivateData is what a grantee sees. Unshared fields are nil and
// LegalName is always nil.
type FilteredPrivateData struct {
	LegalName        *string `json:"legal_name"`
	Email            *string `json:"email"`
	Phone            *string `json:"phone"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
	TimeZone         *string `json:"time_zone"`
	Location         *string `json:"location"`
}

// Filter returns a view of p populated only for fields. legal_name is
// dropped even when listed.
func Filter(p *PrivateData, fields []privacy.Field) *FilteredPrivateData {
	out := &FilteredPrivateData{}
	for _, f := range fields {
		if !f.Shareable() {
			continue
		}
		v, ok := p.Value(f)
		if !ok {
			continue
		}
		switch f {
		case privacy.FieldEmail:
			out.Email = &v
		case privacy.FieldPhone:
			out.Phone = &v
		case privacy.FieldAddress:
			out.Address = &v
		case privacy.FieldEmergencyContact:
			out.EmergencyContact = &v
		case privacy.FieldTimeZone:
			out.TimeZone = &v
		case privacy.FieldLocation:
			out.Location = &v
		}
	}
	return out
}

// Vault stores private data records by owner.
type Vault interface {
	Get(ctx context.Context, owner contracts.AgentID) (*PrivateData, error)
	Put(ctx context.Context, owner contracts.AgentID, data PrivateData) error
}

// MemoryVault is an in-process Vault.
type MemoryVault struct {
	mu      sync.RWMutex
	records map[contracts.AgentID]PrivateData
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: make(map[contracts.AgentID]PrivateData)}
}

func (v *MemoryVault) Get(_ context.Context, owner contracts.AgentID) (*PrivateData, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[owner]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "privatedata.Get", "no private data for %s", owner)
	}
	return &rec, nil
}

func (v *MemoryVault) Put(_ context.Context, owner contracts.AgentID, data PrivateData) error {
	if owner == "" {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "privatedata.Put", "owner is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[owner] = data
	return nil
}
