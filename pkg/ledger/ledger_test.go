package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr/pprtest"
)

var (
	alice = pprtest.NewParty("alice")
	bob   = pprtest.NewParty("bob")
	carol = pprtest.NewParty("carol")
	t0    = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
)

func aliceReceipt(id string, at time.Time, counterparty pprtest.Party, types ppr.ClaimTypePair) *ppr.ParticipationClaim {
	prov, _ := pprtest.Pair(alice, counterparty, pprtest.Terms{
		Fulfills:  id,
		ClaimedAt: at,
		Types:     types,
		Provider:  pprtest.Metrics(0.8),
		Receiver:  pprtest.Metrics(0.9),
	})
	return prov
}

func TestLedgerAppend(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("alice")
	id, err := l.Append(ctx, aliceReceipt("c-1", t0, bob, ppr.DefaultClaimTypes))
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	if n, _ := l.Len(ctx); n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}
	got, err := l.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.FormatVersion != ppr.FormatVersion {
		t.Fatalf("expected format version %s, got %s", ppr.FormatVersion, got.FormatVersion)
	}
}

func TestLedgerRejectsForeignOwner(t *testing.T) {
	l := NewMemoryLedger("alice")
	_, recv := pprtest.Pair(alice, bob, pprtest.Terms{Fulfills: "c-1", ClaimedAt: t0})
	_, err := l.Append(context.Background(), recv)
	if !contracts.IsKind(err, contracts.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if n, _ := l.Len(context.Background()); n != 0 {
		t.Fatal("rejected receipt must not be stored")
	}
}

func TestLedgerRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("alice")
	r := aliceReceipt("c-1", t0, bob, ppr.DefaultClaimTypes)
	r.ID = "ppr-1"
	if _, err := l.Append(ctx, r); err != nil {
		t.Fatal(err)
	}

	_, err := l.Append(ctx, r)
	if contracts.CodeOf(err) != contracts.CodeDuplicate {
		t.Fatalf("expected duplicate id error, got %v", err)
	}

	again := aliceReceipt("c-1", t0.Add(time.Hour), bob, ppr.DefaultClaimTypes)
	_, err = l.Append(ctx, again)
	if contracts.CodeOf(err) != contracts.CodeAlreadyClaimed {
		t.Fatalf("expected already claimed, got %v", err)
	}
}

func TestLedgerRejectsTamperedReceipt(t *testing.T) {
	l := NewMemoryLedger("alice")
	r := aliceReceipt("c-1", t0, bob, ppr.DefaultClaimTypes)
	r.PerformanceMetrics.Quality = 1
	_, err := l.Append(context.Background(), r)
	if !contracts.IsKind(err, contracts.KindCrypto) {
		t.Fatalf("expected crypto error, got %v", err)
	}

	_, err = l.Append(context.Background(), nil)
	if !contracts.IsKind(err, contracts.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLedgerListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("alice")
	transport := ppr.ClaimTypePair{Provider: ppr.TransportFulfillment, Receiver: ppr.ServiceCommitmentAccepted}
	custody := ppr.ClaimTypePair{Provider: ppr.ResponsibleTransfer, Receiver: ppr.CustodyAcceptance}

	// Appended out of claim order.
	for _, r := range []*ppr.ParticipationClaim{
		aliceReceipt("c-3", t0.Add(3*time.Hour), carol, custody),
		aliceReceipt("c-1", t0.Add(1*time.Hour), bob, transport),
		aliceReceipt("c-2", t0.Add(2*time.Hour), bob, ppr.DefaultClaimTypes),
	} {
		if _, err := l.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := Collect(l.List(ctx, Filter{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Fulfills != "c-1" || all[1].Fulfills != "c-2" || all[2].Fulfills != "c-3" {
		t.Fatalf("unexpected order: %v", fulfills(all))
	}

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"from inclusive", Filter{From: t0.Add(2 * time.Hour)}, []string{"c-2", "c-3"}},
		{"to inclusive", Filter{To: t0.Add(2 * time.Hour)}, []string{"c-1", "c-2"}},
		{"claim type", Filter{ClaimTypes: []ppr.ClaimType{ppr.TransportFulfillment}}, []string{"c-1"}},
		{"category", Filter{Categories: []ppr.Category{ppr.CategoryCustody}}, []string{"c-3"}},
		{"counterparty", Filter{Counterparty: "bob"}, []string{"c-1", "c-2"}},
		{"nothing", Filter{Counterparty: "dave"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(l.List(ctx, tt.f))
			if err != nil {
				t.Fatal(err)
			}
			if g := fulfills(got); !equalStrings(g, tt.want) {
				t.Fatalf("got %v, want %v", g, tt.want)
			}
		})
	}
}

func TestLedgerListRestartable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("alice")
	if _, err := l.Append(ctx, aliceReceipt("c-1", t0, bob, ppr.DefaultClaimTypes)); err != nil {
		t.Fatal(err)
	}
	seq := l.List(ctx, Filter{})

	first, _ := Collect(seq)
	second, _ := Collect(seq)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected sequence to be restartable, got %d then %d", len(first), len(second))
	}

	first[0].ClaimType = ppr.GovernanceCompliance
	stored, _ := l.Get(ctx, first[0].ID)
	if stored.ClaimType == ppr.GovernanceCompliance {
		t.Fatal("list must return copies")
	}
}

func TestLedgerListHonoursContext(t *testing.T) {
	l := NewMemoryLedger("alice")
	if _, err := l.Append(context.Background(), aliceReceipt("c-1", t0, bob, ppr.DefaultClaimTypes)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(l.List(ctx, Filter{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLedgerChainIntegrity(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("alice").WithClock(func() time.Time { return t0 })
	if l.Head() != GenesisHash {
		t.Fatal("expected genesis head")
	}
	for i, id := range []string{"c-1", "c-2", "c-3"} {
		if _, err := l.Append(ctx, aliceReceipt(id, t0.Add(time.Duration(i)*time.Minute), bob, ppr.DefaultClaimTypes)); err != nil {
			t.Fatal(err)
		}
	}

	ok, reason := l.Verify()
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}
	entries := []Entry{l.entries[0].Entry, l.entries[1].Entry, l.entries[2].Entry}
	if entries[1].PrevHash != entries[0].ContentHash {
		t.Fatal("second entry prev_hash should match first content_hash")
	}
	if l.Head() != entries[2].ContentHash {
		t.Fatal("head should be last content hash")
	}
	if !entries[0].AppendedAt.Equal(t0) {
		t.Fatal("clock override not applied")
	}

	// Tamper with a stored receipt.
	l.entries[1].claim.Counterparty = "mallory"
	ok, _ = l.Verify()
	if ok {
		t.Fatal("expected tampered receipt to break verification")
	}
}

func TestVerifyChainMismatchedLengths(t *testing.T) {
	ok, _ := VerifyChain([]Entry{{}}, nil)
	if ok {
		t.Fatal("expected length mismatch to fail")
	}
}

func fulfills(cs []*ppr.ParticipationClaim) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Fulfills)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
