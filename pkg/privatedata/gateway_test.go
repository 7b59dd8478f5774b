package privatedata_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
	"github.com/Mindburn-Labs/nondominium/pkg/privatedata"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var aliceData = privatedata.PrivateData{
	LegalName:        "Alice Martin",
	Email:            "alice@example.org",
	Phone:            "+33 6 00 00 00 01",
	Address:          "1 rue du Port",
	EmergencyContact: "Eve",
	TimeZone:         "Europe/Paris",
	Location:         "Nantes",
}

type env struct {
	now     time.Time
	store   *capabilities.MemoryStore
	caps    *capabilities.Service
	gateway *privatedata.Gateway
	trail   *audit.Trail
}

func newEnv(t *testing.T, opts ...privatedata.GatewayOption) *env {
	t.Helper()
	e := &env{now: t0, store: capabilities.NewMemoryStore(), trail: audit.NewTrail()}
	e.caps = capabilities.NewService(e.store, capabilities.WithClock(func() time.Time { return e.now }))
	vault := privatedata.NewMemoryVault()
	require.NoError(t, vault.Put(context.Background(), "alice", aliceData))
	opts = append([]privatedata.GatewayOption{privatedata.WithAuditLogger(audit.NewTrailLogger(e.trail))}, opts...)
	e.gateway = privatedata.NewGateway(e.caps, vault, opts...)
	return e
}

func (e *env) grant(t *testing.T, fields ...privacy.Field) (*capabilities.Grant, crypto.Secret) {
	t.Helper()
	g, secret, err := e.caps.Grant(context.Background(), "alice", capabilities.GrantInput{
		GrantedTo: "bob",
		Fields:    fields,
		Context:   "custodian_transfer",
	})
	require.NoError(t, err)
	return g, secret
}

func TestCustodianTransferScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g, secret := e.grant(t, privacy.FieldEmail, privacy.FieldPhone)
	assert.Equal(t, t0.Add(7*24*time.Hour), g.ExpiresAt)

	e.now = t0.Add(6 * 24 * time.Hour)
	got, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail, privacy.FieldPhone, privacy.FieldLocation})
	require.NoError(t, err)
	require.NotNil(t, got.Email)
	require.NotNil(t, got.Phone)
	assert.Equal(t, aliceData.Email, *got.Email)
	assert.Equal(t, aliceData.Phone, *got.Phone)
	assert.Nil(t, got.Location)
	assert.Nil(t, got.LegalName)

	e.now = t0.Add(8 * 24 * time.Hour)
	_, err = e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
	require.Error(t, err)
	assert.True(t, errors.Is(err, privatedata.ErrAccessExpired))
	assert.Equal(t, contracts.CodeAccessExpired, contracts.CodeOf(err))
}

func TestLegalNameNeverDisclosed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, secret := e.grant(t, privacy.FieldEmail)

	got, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldLegalName, privacy.FieldEmail})
	require.NoError(t, err)
	assert.Nil(t, got.LegalName)
	require.NotNil(t, got.Email)

	// A grant that somehow carries legal_name still never discloses it.
	smuggled, err := crypto.NewSecret()
	require.NoError(t, err)
	require.NoError(t, e.store.Put(ctx, &capabilities.Grant{
		ID:           "smuggled",
		Owner:        "alice",
		GrantedTo:    "bob",
		Fields:       []privacy.Field{privacy.FieldLegalName, privacy.FieldTimeZone},
		CreatedAt:    t0,
		ExpiresAt:    t0.Add(time.Hour),
		SecretDigest: capabilities.DigestSecret(smuggled),
	}))
	got, err = e.gateway.Access(ctx, "bob", smuggled, []privacy.Field{privacy.FieldLegalName, privacy.FieldTimeZone})
	require.NoError(t, err)
	assert.Nil(t, got.LegalName)
	require.NotNil(t, got.TimeZone)

	_, err = e.gateway.Access(ctx, "bob", smuggled, []privacy.Field{privacy.FieldLegalName})
	assert.True(t, errors.Is(err, privatedata.ErrFieldNotGranted))

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), aliceData.LegalName)
}

func TestAccessFailuresAreDistinguishable(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown secret", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.gateway.Access(ctx, "bob", "not-a-secret", []privacy.Field{privacy.FieldEmail})
		assert.True(t, errors.Is(err, privatedata.ErrAccessDenied))
		assert.True(t, contracts.IsKind(err, contracts.KindAuthorization))
	})

	t.Run("wrong claimant", func(t *testing.T) {
		e := newEnv(t)
		_, secret := e.grant(t, privacy.FieldEmail)
		_, err := e.gateway.Access(ctx, "mallory", secret, []privacy.Field{privacy.FieldEmail})
		assert.True(t, errors.Is(err, privatedata.ErrAccessDenied))
	})

	t.Run("revoked", func(t *testing.T) {
		e := newEnv(t)
		g, secret := e.grant(t, privacy.FieldEmail)
		require.NoError(t, e.caps.Revoke(ctx, "alice", g.ID))
		_, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
		assert.True(t, errors.Is(err, privatedata.ErrAccessRevoked))
		assert.Equal(t, contracts.CodeAccessRevoked, contracts.CodeOf(err))
	})

	t.Run("revoked and expired reports revoked", func(t *testing.T) {
		e := newEnv(t)
		g, secret := e.grant(t, privacy.FieldEmail)
		require.NoError(t, e.caps.Revoke(ctx, "alice", g.ID))
		e.now = t0.Add(30 * 24 * time.Hour)
		_, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
		assert.True(t, errors.Is(err, privatedata.ErrAccessRevoked))
	})

	t.Run("no requested field granted", func(t *testing.T) {
		e := newEnv(t)
		_, secret := e.grant(t, privacy.FieldEmail)
		_, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldAddress, "shoe_size"})
		assert.True(t, errors.Is(err, privatedata.ErrFieldNotGranted))
		assert.Equal(t, contracts.CodeFieldNotGranted, contracts.CodeOf(err))
	})
}

func TestFailedRedemptionsAreRateLimited(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, privatedata.WithFailureRate(1, 2))
	_, secret := e.grant(t, privacy.FieldEmail)

	for i := 0; i < 2; i++ {
		_, err := e.gateway.Access(ctx, "bob", "guess", []privacy.Field{privacy.FieldEmail})
		require.True(t, errors.Is(err, privatedata.ErrAccessDenied))
	}
	_, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
	assert.True(t, errors.Is(err, privatedata.ErrRateLimited))
	assert.Equal(t, contracts.CodeRateLimited, contracts.CodeOf(err))

	// Other claimants are unaffected.
	_, err = e.gateway.Access(ctx, "carol", "guess", []privacy.Field{privacy.FieldEmail})
	assert.True(t, errors.Is(err, privatedata.ErrAccessDenied))

	e.now = e.now.Add(time.Minute)
	got, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
	require.NoError(t, err)
	require.NotNil(t, got.Email)
}

func TestLimiterTableIsBounded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, privatedata.WithFailureRate(1, 1), privatedata.WithMaxClaimants(2))
	deny := func(claimant contracts.AgentID) error {
		_, err := e.gateway.Access(ctx, claimant, "guess", []privacy.Field{privacy.FieldEmail})
		return err
	}

	require.True(t, errors.Is(deny("mallory-1"), privatedata.ErrAccessDenied))
	require.True(t, errors.Is(deny("mallory-2"), privatedata.ErrAccessDenied))
	assert.Equal(t, 2, privatedata.TrackedClaimants(e.gateway))

	// Unknown claimants past the cap share one bucket.
	require.True(t, errors.Is(deny("mallory-3"), privatedata.ErrAccessDenied))
	assert.True(t, errors.Is(deny("mallory-4"), privatedata.ErrRateLimited))
	assert.Equal(t, 2, privatedata.TrackedClaimants(e.gateway))

	// Refilled limiters are evicted to make room.
	e.now = e.now.Add(time.Minute)
	require.True(t, errors.Is(deny("carol"), privatedata.ErrAccessDenied))
	assert.Equal(t, 1, privatedata.TrackedClaimants(e.gateway))
}

func TestEveryDecisionIsAudited(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, secret := e.grant(t, privacy.FieldEmail)

	_, err := e.gateway.Access(ctx, "bob", secret, []privacy.Field{privacy.FieldEmail})
	require.NoError(t, err)
	_, err = e.gateway.Access(ctx, "bob", "guess", []privacy.Field{privacy.FieldEmail})
	require.Error(t, err)

	entries := e.trail.Query(audit.TrailFilter{Action: audit.ActionRedeem})
	require.Len(t, entries, 2)
	assert.Equal(t, "granted", entries[0].Event.Metadata["outcome"])
	assert.Equal(t, "denied", entries[1].Event.Metadata["outcome"])
	for _, entry := range entries {
		_, leaked := entry.Event.Metadata["email"]
		assert.False(t, leaked)
	}
}

func TestFilter(t *testing.T) {
	f := privatedata.Filter(&aliceData, []privacy.Field{privacy.FieldAddress, privacy.FieldLegalName})
	require.NotNil(t, f.Address)
	assert.Nil(t, f.LegalName)
	assert.Nil(t, f.Email)
}
