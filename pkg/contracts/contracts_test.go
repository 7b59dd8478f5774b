package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatibleActions(t *testing.T) {
	tests := []struct {
		name     string
		promised VfAction
		observed VfAction
		want     bool
	}{
		{"same action", ActionWork, ActionWork, true},
		{"service family", ActionWork, ActionMove, true},
		{"transfer family", ActionTransfer, ActionTransferAllRights, true},
		{"custody vs transfer", ActionTransferCustody, ActionTransfer, false},
		{"cite is standalone", ActionCite, ActionWork, false},
		{"unknown actions never match each other", VfAction("x"), VfAction("y"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompatibleActions(tt.promised, tt.observed))
		})
	}
}

func TestAllActionsValid(t *testing.T) {
	for _, a := range AllActions() {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, VfAction("teleport").Valid())
}

func TestResourceRefMatches(t *testing.T) {
	inst := ResourceRef{InstanceID: "r-1"}
	spec := ResourceRef{SpecificationID: "spec-1"}

	assert.True(t, inst.Matches(ResourceRef{InstanceID: "r-1", SpecificationID: "other"}))
	assert.False(t, inst.Matches(ResourceRef{InstanceID: "r-2"}))
	assert.False(t, inst.Matches(spec))
	assert.True(t, spec.Matches(ResourceRef{SpecificationID: "spec-1"}))
	assert.False(t, ResourceRef{}.Matches(ResourceRef{}))
	assert.True(t, ResourceRef{}.IsZero())
}

func TestCommitmentCounterparty(t *testing.T) {
	c := &Commitment{Provider: "a", Receiver: "b"}
	assert.Equal(t, AgentID("b"), c.Counterparty("a"))
	assert.Equal(t, AgentID("a"), c.Counterparty("b"))
	assert.True(t, c.Parties("a"))
	assert.False(t, c.Parties("c"))
}

func TestErrorClassification(t *testing.T) {
	sentinel := errors.New("already claimed")
	err := fmt.Errorf("issue: %w", NewError(KindStateConflict, CodeAlreadyClaimed, "issue", sentinel))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindStateConflict, kind)
	assert.Equal(t, CodeAlreadyClaimed, CodeOf(err))
	assert.True(t, IsKind(err, KindStateConflict))
	assert.False(t, IsKind(err, KindCrypto))
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "STATE_CONFLICT/ALREADY_CLAIMED")

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, "", CodeOf(nil))
}
