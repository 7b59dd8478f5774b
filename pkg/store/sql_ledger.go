package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ledger"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// SQLLedger is a durable, hash-chained ledger.Ledger for one owner. Several
// owners may share a database; each ledger only reads and writes its own rows.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	owner   contracts.AgentID
	clock   func() time.Time
}

var _ ledger.Ledger = (*SQLLedger)(nil)

// NewSQLLedger migrates the schema and returns owner's ledger.
func NewSQLLedger(ctx context.Context, db *sql.DB, dialect Dialect, owner contracts.AgentID) (*SQLLedger, error) {
	if owner == "" {
		return nil, errors.New("store: ledger owner is required")
	}
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &SQLLedger{db: db, dialect: dialect, owner: owner, clock: time.Now}, nil
}

// WithClock sets the clock used for AppendedAt.
func (l *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	l.clock = clock
	return l
}

func (l *SQLLedger) Owner() contracts.AgentID { return l.owner }

func (l *SQLLedger) Append(ctx context.Context, c *ppr.ParticipationClaim) (string, error) {
	const op = "store.SQLLedger.Append"
	var cp *ppr.ParticipationClaim
	if c != nil {
		v := *c
		cp = &v
	}
	if err := ledger.CheckAppend(l.owner, cp, uuid.NewString); err != nil {
		return "", err
	}
	doc, err := ppr.EncodeRecord(cp)
	if err != nil {
		return "", err
	}
	receiptHash, err := ledger.ReceiptHash(cp)
	if err != nil {
		return "", err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%s: begin: %w", op, err)
	}
	defer rollback(tx)

	var existing string
	err = tx.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT receipt_id FROM ppr_entries WHERE owner = ? AND receipt_id = ?`), string(l.owner), cp.ID).Scan(&existing)
	switch {
	case err == nil:
		return "", contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "receipt %s already recorded", cp.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%s: %w", op, err)
	}
	err = tx.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT receipt_id FROM ppr_entries WHERE owner = ? AND fulfills = ? AND side = ?`),
		string(l.owner), cp.Fulfills, string(cp.Side)).Scan(&existing)
	switch {
	case err == nil:
		return "", contracts.Errorf(contracts.KindStateConflict, contracts.CodeAlreadyClaimed, op,
			"commitment %s already has a %s receipt (%s)", cp.Fulfills, cp.Side, existing)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var (
		head     int64
		headHash = ledger.GenesisHash
	)
	err = tx.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT sequence, content_hash FROM ppr_entries WHERE owner = ? ORDER BY sequence DESC LIMIT 1`),
		string(l.owner)).Scan(&head, &headHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: read head: %w", op, err)
	}
	seq := uint64(head) + 1
	contentHash, err := ledger.ChainHash(seq, receiptHash, headHash)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, l.dialect.Rebind(`INSERT INTO ppr_entries (
		owner, sequence, receipt_id, fulfills, side, claim_type, counterparty, claimed_at_ns,
		document, receipt_hash, content_hash, prev_hash, appended_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(l.owner), int64(seq), cp.ID, cp.Fulfills, string(cp.Side), string(cp.ClaimType), string(cp.Counterparty),
		cp.ClaimedAt.UnixNano(), string(doc), receiptHash, contentHash, headHash, formatTime(l.clock()),
	)
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%s: commit: %w", op, err)
	}
	return cp.ID, nil
}

// List queries matching receipts ordered by ClaimedAt. Rows are drained
// before the first yield so callers may use the ledger inside the loop.
func (l *SQLLedger) List(ctx context.Context, f ledger.Filter) iter.Seq2[*ppr.ParticipationClaim, error] {
	return func(yield func(*ppr.ParticipationClaim, error) bool) {
		query, args := l.listQuery(f)
		docs, err := l.queryDocuments(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			c, err := ppr.DecodeRecord([]byte(doc))
			if err != nil {
				yield(nil, err)
				return
			}
			if !f.Match(c) {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (l *SQLLedger) listQuery(f ledger.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT document FROM ppr_entries WHERE owner = ?`)
	args := []any{string(l.owner)}
	if !f.From.IsZero() {
		b.WriteString(` AND claimed_at_ns >= ?`)
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		b.WriteString(` AND claimed_at_ns <= ?`)
		args = append(args, f.To.UnixNano())
	}
	if f.Counterparty != "" {
		b.WriteString(` AND counterparty = ?`)
		args = append(args, string(f.Counterparty))
	}
	if len(f.ClaimTypes) > 0 {
		b.WriteString(` AND claim_type IN (`)
		for i, t := range f.ClaimTypes {
			if i > 0 {
				b.WriteString(`, `)
			}
			b.WriteString(`?`)
			args = append(args, string(t))
		}
		b.WriteString(`)`)
	}
	b.WriteString(` ORDER BY claimed_at_ns, sequence`)
	return l.dialect.Rebind(b.String()), args
}

func (l *SQLLedger) queryDocuments(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan receipt: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query receipts: %w", err)
	}
	return docs, nil
}

func (l *SQLLedger) Get(ctx context.Context, id string) (*ppr.ParticipationClaim, error) {
	var doc string
	err := l.db.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT document FROM ppr_entries WHERE owner = ? AND receipt_id = ?`), string(l.owner), id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "store.SQLLedger.Get", "receipt %s not found", id)
		}
		return nil, fmt.Errorf("store: get receipt: %w", err)
	}
	return ppr.DecodeRecord([]byte(doc))
}

func (l *SQLLedger) Len(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT COUNT(*) FROM ppr_entries WHERE owner = ?`), string(l.owner)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count receipts: %w", err)
	}
	return n, nil
}

// Verify re-checks every chain link and receipt hash.
func (l *SQLLedger) Verify(ctx context.Context) (bool, string, error) {
	entries, claims, err := l.chain(ctx)
	if err != nil {
		return false, "", err
	}
	ok, msg := ledger.VerifyChain(entries, claims)
	return ok, msg, nil
}

func (l *SQLLedger) chain(ctx context.Context) ([]ledger.Entry, []*ppr.ParticipationClaim, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.Rebind(`SELECT sequence, receipt_id, receipt_hash, content_hash, prev_hash, appended_at, document
		FROM ppr_entries WHERE owner = ? ORDER BY sequence`), string(l.owner))
	if err != nil {
		return nil, nil, fmt.Errorf("store: read chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		entries []ledger.Entry
		claims  []*ppr.ParticipationClaim
	)
	for rows.Next() {
		var (
			e          ledger.Entry
			seq        int64
			appendedAt string
			doc        string
		)
		if err := rows.Scan(&seq, &e.ReceiptID, &e.ReceiptHash, &e.ContentHash, &e.PrevHash, &appendedAt, &doc); err != nil {
			return nil, nil, fmt.Errorf("store: scan chain: %w", err)
		}
		e.Sequence = uint64(seq)
		if e.AppendedAt, err = parseTime(appendedAt); err != nil {
			return nil, nil, err
		}
		c, err := ppr.DecodeRecord([]byte(doc))
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: read chain: %w", err)
	}
	return entries, claims, nil
}
