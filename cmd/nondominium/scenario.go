package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/nondominium/pkg/agent"
	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/config"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/governance"
	"github.com/Mindburn-Labs/nondominium/pkg/identity"
	"github.com/Mindburn-Labs/nondominium/pkg/issuance"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
	"github.com/Mindburn-Labs/nondominium/pkg/privatedata"
	"github.com/Mindburn-Labs/nondominium/pkg/reputation"
	"github.com/Mindburn-Labs/nondominium/pkg/store"
)

// demoClock is a settable clock shared by every component of a scenario.
type demoClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *demoClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *demoClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type envOptions struct {
	configPath string
	dsn        string
	seedHex    string
}

// env is a two-agent network wired from configuration.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   *demoClock
	trail   *audit.Trail
	network *agent.Network
	alice   *agent.Agent
	bob     *agent.Agent
	closers []func()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newEnv(ctx context.Context, opts envOptions, stderr io.Writer) (*env, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		clock:  &demoClock{now: time.Now().UTC().Truncate(time.Second)},
		trail:  audit.NewTrail(),
	}
	e.trail.WithClock(e.clock.Now)
	auditLog := audit.NewTrailLogger(e.trail)

	var obs *observability.Provider
	if cfg.TelemetryEnabled {
		obs, err = observability.New(ctx, observability.DefaultConfig(), observability.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = obs.Shutdown(context.Background()) })
	}

	engineOpts := []issuance.Option{
		issuance.WithClock(e.clock.Now),
		issuance.WithAuditLogger(auditLog),
		issuance.WithObservability(obs),
		issuance.WithLogger(logger),
	}
	if cfg.RulesFile != "" {
		rs, err := loadRules(cfg.RulesFile, logger)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, issuance.WithRules(rs))
	}
	e.network = agent.NewNetwork(nil, engineOpts...)

	backends, err := e.openBackends(ctx, opts.dsn)
	if err != nil {
		e.Close()
		return nil, err
	}

	seed, err := rootSeed(opts.seedHex)
	if err != nil {
		e.Close()
		return nil, err
	}
	for _, label := range []string{"alice", "bob"} {
		priv, err := crypto.DeriveAgentKey(seed, label)
		if err != nil {
			e.Close()
			return nil, err
		}
		host := identity.NewLocalHost(contracts.AgentID(label), crypto.NewEd25519SignerFromKey(priv, label), e.clock.Now)
		agentOpts, err := backends(host.CurrentAgent())
		if err != nil {
			e.Close()
			return nil, err
		}
		agentOpts = append(agentOpts,
			agent.WithAuditLogger(auditLog),
			agent.WithObservability(obs),
			agent.WithLogger(logger),
			agent.WithCapabilityOptions(
				capabilities.WithDefaultDuration(cfg.GrantDefaultDuration),
				capabilities.WithMaxDuration(cfg.GrantMaxDuration),
			),
			agent.WithGatewayOptions(privatedata.WithFailureRate(cfg.RedeemRatePerMinute, cfg.RedeemBurst)),
			agent.WithDeriverOptions(reputation.WithCompletionThreshold(cfg.CompletionThreshold)),
		)
		a, err := e.network.Join(host, agentOpts...)
		if err != nil {
			e.Close()
			return nil, err
		}
		if label == "alice" {
			e.alice = a
		} else {
			e.bob = a
		}
	}
	return e, nil
}

// openBackends returns the per-agent storage options. Without a DSN the
// ledger stays in memory; grants go to Redis when REDIS_ADDR is set.
func (e *env) openBackends(ctx context.Context, dsn string) (func(contracts.AgentID) ([]agent.Option, error), error) {
	var (
		db      *sql.DB
		dialect store.Dialect
		client  redis.UniversalClient
	)
	if dsn != "" {
		var err error
		db, dialect, err = store.Open(ctx, e.cfg.DatabaseDriver, dsn)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = db.Close() })
	}
	if e.cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: e.cfg.RedisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("redis %s: %w", e.cfg.RedisAddr, err)
		}
		client = rc
		e.closers = append(e.closers, func() { _ = rc.Close() })
	}

	return func(id contracts.AgentID) ([]agent.Option, error) {
		var opts []agent.Option
		if db != nil {
			l, err := store.NewSQLLedger(ctx, db, dialect, id)
			if err != nil {
				return nil, err
			}
			opts = append(opts, agent.WithLedger(l.WithClock(e.clock.Now)))
		}
		switch {
		case client != nil:
			opts = append(opts, agent.WithGrantStore(store.NewRedisGrantStore(client, "nondominium:"+string(id))))
		case db != nil:
			grants, err := store.NewSQLGrantStore(ctx, db, dialect)
			if err != nil {
				return nil, err
			}
			opts = append(opts, agent.WithGrantStore(grants))
		}
		return opts, nil
	}, nil
}

func loadRules(path string, logger *slog.Logger) (*governance.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	rules, err := governance.ParseRules(data)
	if err != nil {
		return nil, err
	}
	return governance.NewRuleSet(rules, governance.WithLogger(logger))
}

func rootSeed(seedHex string) ([]byte, error) {
	if seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		return seed, nil
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// Close releases backends in reverse order.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

type transportResult struct {
	CommitmentID      string        `json:"commitment_id"`
	ProviderReceipt   string        `json:"provider_receipt"`
	ReceiverReceipt   string        `json:"receiver_receipt"`
	ProviderClaimType ppr.ClaimType `json:"provider_claim_type"`
	ReceiverClaimType ppr.ClaimType `json:"receiver_claim_type"`
	SignedDataHash    string        `json:"signed_data_hash"`

	provider *ppr.ParticipationClaim
	receiver *ppr.ParticipationClaim
}

// runTransport has alice deliver a transport service to bob and issues the
// receipt pair.
func (e *env) runTransport(ctx context.Context) (*transportResult, error) {
	res := contracts.ResourceRef{InstanceID: "cargo-bike-3"}
	c, err := e.alice.ProposeCommitment(ctx, contracts.Commitment{
		Action:   contracts.ActionWork,
		Provider: e.alice.ID(),
		Receiver: e.bob.ID(),
		Resource: res,
		DueDate:  e.clock.Now().Add(48 * time.Hour),
		Note:     "move cargo bike to the north depot",
	})
	if err != nil {
		return nil, err
	}
	e.clock.Advance(26 * time.Hour)
	ev, err := e.alice.RecordEvent(ctx, contracts.EconomicEvent{
		Action:   contracts.ActionWork,
		Provider: e.alice.ID(),
		Receiver: e.bob.ID(),
		Resource: res,
		Quantity: 1,
	})
	if err != nil {
		return nil, err
	}

	provRef, recvRef, err := e.alice.IssueParticipationReceipts(ctx, agent.IssueRequest{
		CommitmentID:       c.ID,
		EventID:            ev.ID,
		Counterparty:       e.bob.ID(),
		RoleContext:        "Transport",
		InteractionContext: "cargo_delivery",
		ProviderMetrics: ppr.PerformanceMetrics{
			Timeliness: 0.9, Quality: 1, Reliability: 1, Communication: 0.8, CompletionRate: 1,
		},
	})
	if err != nil {
		return nil, err
	}
	prov, err := e.alice.Ledger().Get(ctx, provRef)
	if err != nil {
		return nil, err
	}
	recv, err := e.bob.Ledger().Get(ctx, recvRef)
	if err != nil {
		return nil, err
	}
	return &transportResult{
		CommitmentID:      c.ID,
		ProviderReceipt:   provRef,
		ReceiverReceipt:   recvRef,
		ProviderClaimType: prov.ClaimType,
		ReceiverClaimType: recv.ClaimType,
		SignedDataHash:    hex.EncodeToString(prov.BilateralSignature.SignedDataHash[:]),
		provider:          prov,
		receiver:          recv,
	}, nil
}

type sharingResult struct {
	GrantID     string                           `json:"grant_id"`
	ExpiresAt   time.Time                        `json:"expires_at"`
	Disclosed   *privatedata.FilteredPrivateData `json:"disclosed"`
	AfterExpiry string                           `json:"after_expiry"`
	Status      capabilities.Status              `json:"status"`
}

// runSharing has alice share contact fields with bob for a custodian
// transfer, then redeems before and after expiry.
func (e *env) runSharing(ctx context.Context) (*sharingResult, error) {
	if err := e.alice.SetPrivateData(ctx, privatedata.PrivateData{
		LegalName: "Alice Martin",
		Email:     "alice@example.org",
		Phone:     "+33 6 00 00 00 01",
		Address:   "1 rue du Port, Nantes",
		TimeZone:  "Europe/Paris",
		Location:  "Nantes",
	}); err != nil {
		return nil, err
	}
	receipt, err := e.alice.GrantPrivateDataAccess(ctx, e.bob.ID(),
		[]privacy.Field{privacy.FieldEmail, privacy.FieldPhone}, "custodian_transfer", 0)
	if err != nil {
		return nil, err
	}

	e.clock.Advance(24 * time.Hour)
	data, err := e.alice.RedeemCapabilityClaim(ctx, e.bob.ID(), receipt.Secret,
		[]privacy.Field{privacy.FieldEmail, privacy.FieldPhone, privacy.FieldLocation})
	if err != nil {
		return nil, err
	}

	e.clock.Advance(7 * 24 * time.Hour)
	_, err = e.alice.RedeemCapabilityClaim(ctx, e.bob.ID(), receipt.Secret, []privacy.Field{privacy.FieldEmail})
	if err == nil {
		return nil, fmt.Errorf("expired grant %s was redeemed", receipt.GrantID)
	}
	status, serr := e.alice.ValidateCapabilityGrant(ctx, receipt.GrantID)
	if serr != nil {
		return nil, serr
	}
	return &sharingResult{
		GrantID:     receipt.GrantID,
		ExpiresAt:   receipt.ExpiresAt,
		Disclosed:   data,
		AfterExpiry: contracts.CodeOf(err),
		Status:      status,
	}, nil
}
