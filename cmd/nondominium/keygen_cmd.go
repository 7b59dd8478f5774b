package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/identity"
)

type keygenOutput struct {
	AgentID   string `json:"agent_id"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	SeedHex   string `json:"seed_hex,omitempty"`
}

// runKeygenCmd implements `nondominium keygen`.
//
// Derives an agent's Ed25519 key from a root seed and a label. Without
// --seed-hex a fresh seed is generated and printed.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var seedHex, label string
	cmd.StringVar(&seedHex, "seed-hex", "", "Hex-encoded root seed (generated when empty)")
	cmd.StringVar(&label, "label", "", "Agent label (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if label == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --label is required")
		return 2
	}

	out := keygenOutput{KeyID: label}
	var seed []byte
	if seedHex == "" {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: generate seed: %v\n", err)
			return 2
		}
		out.SeedHex = hex.EncodeToString(seed)
	} else {
		var err error
		if seed, err = hex.DecodeString(seedHex); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --seed-hex: %v\n", err)
			return 2
		}
	}

	priv, err := crypto.DeriveAgentKey(seed, label)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	signer := crypto.NewEd25519SignerFromKey(priv, label)
	out.AgentID = string(identity.AgentIDFromKey(signer.PublicKey()))
	out.PublicKey = signer.PublicKeyHex()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 2
	}
	return 0
}
