// Package capabilitiestest checks Store implementations against the
// behaviour the grant service relies on.
package capabilitiestest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// NewGrant returns an unstored grant owned by owner with a fresh secret.
func NewGrant(t *testing.T, id string, owner contracts.AgentID, offset time.Duration) (*capabilities.Grant, crypto.Secret) {
	t.Helper()
	secret, err := crypto.NewSecret()
	require.NoError(t, err)
	created := base.Add(offset)
	return &capabilities.Grant{
		ID:           id,
		Owner:        owner,
		GrantedTo:    "bob",
		Fields:       []privacy.Field{privacy.FieldEmail, privacy.FieldPhone},
		Context:      "custodian_transfer",
		CreatedAt:    created,
		ExpiresAt:    created.Add(capabilities.DefaultDuration),
		SecretDigest: capabilities.DigestSecret(secret),
	}, secret
}

// RunStoreTests exercises a fresh store from newStore for each subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) capabilities.Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		g, _ := NewGrant(t, "g-1", "alice", 0)
		require.NoError(t, s.Put(ctx, g))

		got, err := s.Get(ctx, "g-1")
		require.NoError(t, err)
		assert.Equal(t, g.Fields, got.Fields)
		assert.True(t, g.ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, g.Context, got.Context)
		assert.Nil(t, got.RevokedAt)

		err = s.Put(ctx, g)
		assert.True(t, contracts.IsKind(err, contracts.KindStateConflict), "duplicate put: %v", err)

		_, err = s.Get(ctx, "missing")
		assert.True(t, contracts.IsKind(err, contracts.KindNotFound), "missing get: %v", err)
	})

	t.Run("find by secret digest", func(t *testing.T) {
		s := newStore(t)
		g, secret := NewGrant(t, "g-1", "alice", 0)
		require.NoError(t, s.Put(ctx, g))

		got, err := s.FindBySecretDigest(ctx, capabilities.DigestSecret(secret))
		require.NoError(t, err)
		assert.Equal(t, "g-1", got.ID)

		_, err = s.FindBySecretDigest(ctx, capabilities.DigestSecret("wrong"))
		assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
	})

	t.Run("revoke tombstones", func(t *testing.T) {
		s := newStore(t)
		g, _ := NewGrant(t, "g-1", "alice", 0)
		require.NoError(t, s.Put(ctx, g))

		at := base.Add(time.Hour)
		require.NoError(t, s.MarkRevoked(ctx, "g-1", at))
		got, err := s.Get(ctx, "g-1")
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, at.Equal(*got.RevokedAt))

		err = s.MarkRevoked(ctx, "g-1", at)
		assert.Equal(t, contracts.CodeAlreadyRevoked, contracts.CodeOf(err))
		err = s.MarkRevoked(ctx, "missing", at)
		assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
	})

	t.Run("list by owner", func(t *testing.T) {
		s := newStore(t)
		g2, _ := NewGrant(t, "g-2", "alice", time.Hour)
		g1, _ := NewGrant(t, "g-1", "alice", 0)
		other, _ := NewGrant(t, "g-3", "carol", 0)
		for _, g := range []*capabilities.Grant{g2, g1, other} {
			require.NoError(t, s.Put(ctx, g))
		}
		got, err := s.ListByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "g-1", got[0].ID)
		assert.Equal(t, "g-2", got[1].ID)
	})
}
