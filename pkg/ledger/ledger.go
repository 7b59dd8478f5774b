// Package ledger holds each agent's private, append-only collection of
// participation receipts.
//
//   - One ledger per agent; only the owner appends to or reads it
//   - Every entry is hash-chained to its predecessor
//   - No update or delete operation exists
package ledger

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/canonicalize"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// GenesisHash is the predecessor of the first entry.
const GenesisHash = "genesis"

// Reader is the read side of a Ledger.
type Reader interface {
	Owner() contracts.AgentID
	// List yields matching receipts ordered by ClaimedAt ascending. The
	// sequence may be ranged over more than once.
	List(ctx context.Context, f Filter) iter.Seq2[*ppr.ParticipationClaim, error]
	Get(ctx context.Context, id string) (*ppr.ParticipationClaim, error)
	Len(ctx context.Context) (int, error)
}

// Ledger is an agent's private receipt store.
type Ledger interface {
	Reader
	// Append stores c and returns its id. Callers outside the owning agent
	// go through a verifying acceptor instead.
	Append(ctx context.Context, c *ppr.ParticipationClaim) (string, error)
}

// Entry is the chain link recorded for each receipt.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	ReceiptID   string    `json:"receipt_id"`
	ReceiptHash string    `json:"receipt_hash"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	AppendedAt  time.Time `json:"appended_at"`
}

// Filter selects receipts. Zero fields match everything; time bounds are
// inclusive.
type Filter struct {
	From         time.Time
	To           time.Time
	ClaimTypes   []ppr.ClaimType
	Categories   []ppr.Category
	Counterparty contracts.AgentID
}

// Match reports whether c passes the filter.
func (f Filter) Match(c *ppr.ParticipationClaim) bool {
	if !f.From.IsZero() && c.ClaimedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.ClaimedAt.After(f.To) {
		return false
	}
	if len(f.ClaimTypes) > 0 && !slices.Contains(f.ClaimTypes, c.ClaimType) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, c.Category()) {
		return false
	}
	if f.Counterparty != "" && c.Counterparty != f.Counterparty {
		return false
	}
	return true
}

// ReceiptHash is the canonical SHA-256 of a stored receipt.
func ReceiptHash(c *ppr.ParticipationClaim) (string, error) {
	h, err := canonicalize.CanonicalHash(c)
	if err != nil {
		return "", fmt.Errorf("ledger: receipt hash: %w", err)
	}
	return "sha256:" + h, nil
}

// ChainHash links an entry to its predecessor.
func ChainHash(seq uint64, receiptHash, prevHash string) (string, error) {
	h, err := canonicalize.CanonicalHash(struct {
		Seq      uint64 `json:"seq"`
		Receipt  string `json:"receipt"`
		PrevHash string `json:"prev"`
	}{seq, receiptHash, prevHash})
	if err != nil {
		return "", fmt.Errorf("ledger: chain hash: %w", err)
	}
	return "sha256:" + h, nil
}

// CheckAppend applies the checks every implementation runs before storing a
// receipt, filling in the id and format version when empty.
func CheckAppend(owner contracts.AgentID, c *ppr.ParticipationClaim, newID func() string) error {
	const op = "ledger.Append"
	if c == nil {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "receipt is nil")
	}
	if c.Owner != owner {
		return contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotLedgerOwner, op,
			"receipt owned by %s cannot be written to ledger of %s", c.Owner, owner)
	}
	if !c.ClaimType.Valid() {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown claim type %q", c.ClaimType)
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if c.FormatVersion == "" {
		c.FormatVersion = ppr.FormatVersion
	}
	if err := ppr.CheckFormatVersion(c.FormatVersion); err != nil {
		return err
	}
	return c.CheckConsistency()
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[*ppr.ParticipationClaim, error]) ([]*ppr.ParticipationClaim, error) {
	var out []*ppr.ParticipationClaim
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func cloneClaim(c *ppr.ParticipationClaim) *ppr.ParticipationClaim {
	cp := *c
	cp.BilateralSignature.ProviderSignature = slices.Clone(c.BilateralSignature.ProviderSignature)
	cp.BilateralSignature.ReceiverSignature = slices.Clone(c.BilateralSignature.ReceiverSignature)
	if c.ResourceReference != nil {
		ref := *c.ResourceReference
		cp.ResourceReference = &ref
	}
	return &cp
}
