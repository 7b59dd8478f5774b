package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/reputation"
)

type summaryReport struct {
	Summaries   []*reputation.Summary `json:"summaries"`
	Attestation string                `json:"attestation,omitempty"`
}

// runSummaryCmd implements `nondominium summary`.
//
// Runs the transport scenario and prints the provider's reputation summary
// in every disclosure scope. --attest adds a signed token for the
// comprehensive summary.
func runSummaryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("summary", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		opts   envOptions
		role   string
		attest bool
		ttl    time.Duration
	)
	cmd.StringVar(&opts.dsn, "db", "", "Database DSN for durable ledgers (in-memory when empty)")
	cmd.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.StringVar(&opts.seedHex, "seed-hex", "", "Root seed for agent keys (random when empty)")
	cmd.StringVar(&role, "role", "Transport", "Role for the role-specific summary")
	cmd.BoolVar(&attest, "attest", false, "Sign the comprehensive summary")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Attestation lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := newEnv(ctx, opts, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer e.Close()

	if _, err := e.runTransport(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: transport scenario: %v\n", err)
		return 2
	}

	var report summaryReport
	for _, o := range []reputation.Options{
		{Scope: reputation.ScopeBasic},
		{Scope: reputation.ScopeRoleSpecific, Role: role},
		{Scope: reputation.ScopeComprehensive},
	} {
		s, err := e.alice.DeriveReputationSummary(ctx, o)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %s summary: %v\n", o.Scope, err)
			return 2
		}
		report.Summaries = append(report.Summaries, s)
	}
	if attest {
		token, err := e.alice.AttestReputation(report.Summaries[len(report.Summaries)-1], ttl)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: attest: %v\n", err)
			return 2
		}
		report.Attestation = token
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 2
	}
	return 0
}
