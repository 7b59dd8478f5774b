package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

type demoReport struct {
	Transport *transportResult  `json:"transport"`
	Sharing   *sharingResult    `json:"sharing"`
	Audit     auditReport       `json:"audit"`
	Keys      map[string]string `json:"keys"`
}

type auditReport struct {
	Records      int    `json:"records"`
	Head         string `json:"head"`
	Verified     bool   `json:"verified"`
	PackChecksum string `json:"pack_checksum,omitempty"`
}

// runDemoCmd implements `nondominium demo`.
//
// Runs the transport scenario and the custodian-transfer sharing scenario
// between two fresh agents and prints a JSON report. With --out the receipt
// copies and public keys are written for `nondominium verify`.
//
// Exit codes:
//
//	0 = scenarios completed
//	2 = usage or runtime error
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		opts      envOptions
		outDir    string
		auditPack string
	)
	cmd.StringVar(&opts.dsn, "db", "", "Database DSN for durable ledgers (in-memory when empty)")
	cmd.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.StringVar(&opts.seedHex, "seed-hex", "", "Root seed for agent keys (random when empty)")
	cmd.StringVar(&outDir, "out", "", "Directory to write receipts and keys")
	cmd.StringVar(&auditPack, "audit-pack", "", "Write alice's audit evidence pack (zip) to this path")
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

	transport, err := e.runTransport(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: transport scenario: %v\n", err)
		return 2
	}
	sharing, err := e.runSharing(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sharing scenario: %v\n", err)
		return 2
	}

	report := demoReport{
		Transport: transport,
		Sharing:   sharing,
		Audit: auditReport{
			Records:  e.trail.Size(),
			Head:     e.trail.Head(),
			Verified: e.trail.VerifyChain() == nil,
		},
		Keys: make(map[string]string),
	}
	for _, id := range e.network.Keys().Agents() {
		pub, err := e.network.Keys().PublicKey(id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		report.Keys[string(id)] = hex.EncodeToString(pub)
	}

	if outDir != "" {
		if err := writeDemoFiles(outDir, transport, report.Keys); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if auditPack != "" {
		pack, checksum, err := audit.NewExporter(e.trail).WithClock(e.clock.Now).
			GeneratePack(ctx, audit.ExportRequest{ActorID: string(e.alice.ID())})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: audit pack: %v\n", err)
			return 2
		}
		if err := os.WriteFile(auditPack, pack, 0o600); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		report.Audit.PackChecksum = checksum
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 2
	}
	return 0
}

func writeDemoFiles(dir string, t *transportResult, keys map[string]string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for name, c := range map[string]*ppr.ParticipationClaim{
		"provider-receipt.json": t.provider,
		"receiver-receipt.json": t.receiver,
	} {
		doc, err := ppr.EncodeRecord(c)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), doc, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	keyDoc, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "keys.json"), keyDoc, 0o600)
}
