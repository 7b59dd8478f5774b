package main

import (
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

type verifyReport struct {
	Verified  bool          `json:"verified"`
	ReceiptID string        `json:"receipt_id,omitempty"`
	Side      ppr.Side      `json:"side,omitempty"`
	ClaimType ppr.ClaimType `json:"claim_type,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// runVerifyCmd implements `nondominium verify`.
//
// Checks a stored receipt document: schema, format version, payload hash
// and both signatures.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var file, providerKey, receiverKey string
	cmd.StringVar(&file, "file", "", "Path to receipt JSON (REQUIRED)")
	cmd.StringVar(&providerKey, "provider-key", "", "Provider public key, hex (REQUIRED)")
	cmd.StringVar(&receiverKey, "receiver-key", "", "Receiver public key, hex (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" || providerKey == "" || receiverKey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file, --provider-key and --receiver-key are required")
		return 2
	}

	providerPub, ok := crypto.ParsePublicKeyHex(providerKey)
	if !ok {
		_, _ = fmt.Fprintln(stderr, "Error: --provider-key is not a hex Ed25519 public key")
		return 2
	}
	receiverPub, ok := crypto.ParsePublicKeyHex(receiverKey)
	if !ok {
		_, _ = fmt.Fprintln(stderr, "Error: --receiver-key is not a hex Ed25519 public key")
		return 2
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := verifyClaim(raw, providerPub, receiverPub)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 2
	}
	if !report.Verified {
		return 1
	}
	return 0
}

func verifyClaim(raw []byte, providerPub, receiverPub ed25519.PublicKey) verifyReport {
	c, err := ppr.DecodeRecord(raw)
	if err != nil {
		return verifyReport{Reason: err.Error()}
	}
	report := verifyReport{ReceiptID: c.ID, Side: c.Side, ClaimType: c.ClaimType}

	ownerPub, counterpartyPub := providerPub, receiverPub
	if c.Side == ppr.SideReceiver {
		ownerPub, counterpartyPub = receiverPub, providerPub
	}
	if err := c.Verify(ownerPub, counterpartyPub); err != nil {
		report.Reason = err.Error()
		return report
	}
	report.Verified = true
	return report
}
