package economic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRegistry() *MemoryRegistry {
	return NewMemoryRegistry().WithClock(func() time.Time { return fixedNow })
}

func TestRegistry_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	c, err := r.ProposeCommitment(ctx, &contracts.Commitment{
		Action: contracts.ActionWork, Provider: "a", Receiver: "b",
		Resource: contracts.ResourceRef{InstanceID: "bike-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, contracts.AgentID("a"), c.CreatedBy)
	assert.Equal(t, fixedNow, c.CreatedAt)

	e, err := r.RecordEvent(ctx, &contracts.EconomicEvent{
		Action: contracts.ActionWork, Provider: "a", Receiver: "b",
		Resource: contracts.ResourceRef{InstanceID: "bike-1"}, Quantity: 1,
	})
	require.NoError(t, err)

	none, err := r.ClaimFor(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := r.RecordClaim(ctx, &contracts.Claim{Fulfills: c.ID, FulfilledBy: e.ID})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, first.ClaimedAt)

	_, err = r.RecordClaim(ctx, &contracts.Claim{Fulfills: c.ID, FulfilledBy: e.ID, Note: "again"})
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindStateConflict))
	assert.Equal(t, contracts.CodeAlreadyClaimed, contracts.CodeOf(err))

	got, err := r.ClaimFor(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestRegistry_Validation(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	tests := []struct {
		name string
		c    *contracts.Commitment
	}{
		{"nil", nil},
		{"missing receiver", &contracts.Commitment{Action: contracts.ActionWork, Provider: "a"}},
		{"self", &contracts.Commitment{Action: contracts.ActionWork, Provider: "a", Receiver: "a"}},
		{"unknown action", &contracts.Commitment{Action: "fly", Provider: "a", Receiver: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ProposeCommitment(ctx, tt.c)
			assert.True(t, contracts.IsKind(err, contracts.KindValidation))
		})
	}

	_, err := r.RecordEvent(ctx, &contracts.EconomicEvent{Action: contracts.ActionWork, Provider: "a", Receiver: "b", Quantity: -1})
	assert.True(t, contracts.IsKind(err, contracts.KindValidation))

	_, err = r.RecordClaim(ctx, &contracts.Claim{Fulfills: "missing", FulfilledBy: "missing"})
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	_, err = r.GetCommitment(ctx, "missing")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
	_, err = r.GetEvent(ctx, "missing")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestRegistry_DuplicateIDs(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	c := &contracts.Commitment{ID: "c-1", Action: contracts.ActionUse, Provider: "a", Receiver: "b"}
	_, err := r.ProposeCommitment(ctx, c)
	require.NoError(t, err)
	_, err = r.ProposeCommitment(ctx, c)
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	c, err := r.ProposeCommitment(ctx, &contracts.Commitment{Action: contracts.ActionUse, Provider: "a", Receiver: "b", Note: "orig"})
	require.NoError(t, err)
	c.Note = "mutated"

	got, err := r.GetCommitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Note)
}
