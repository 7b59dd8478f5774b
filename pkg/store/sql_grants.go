package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

// SQLGrantStore is a capabilities.Store on database/sql.
type SQLGrantStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ capabilities.Store = (*SQLGrantStore)(nil)

// NewSQLGrantStore migrates the schema and returns the store.
func NewSQLGrantStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLGrantStore, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &SQLGrantStore{db: db, dialect: dialect}, nil
}

const grantColumns = `id, owner, granted_to, fields, context, created_at, expires_at, secret_digest, revoked_at`

func (s *SQLGrantStore) Put(ctx context.Context, g *capabilities.Grant) error {
	const op = "store.SQLGrantStore.Put"
	fields, err := json.Marshal(g.Fields)
	if err != nil {
		return fmt.Errorf("%s: encode fields: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer rollback(tx)

	var n int
	if err := tx.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COUNT(*) FROM capability_grants WHERE id = ? OR secret_digest = ?`), g.ID, g.SecretDigest).Scan(&n); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "grant %s or its secret already exists", g.ID)
	}

	var revoked any
	if g.RevokedAt != nil {
		revoked = formatTime(*g.RevokedAt)
	}
	_, err = tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO capability_grants (
		id, owner, granted_to, fields, context, created_at, created_at_ns, expires_at, secret_digest, revoked_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		g.ID, string(g.Owner), string(g.GrantedTo), string(fields), g.Context,
		formatTime(g.CreatedAt), g.CreatedAt.UnixNano(), formatTime(g.ExpiresAt), g.SecretDigest, revoked,
	)
	if err != nil {
		return fmt.Errorf("%s: insert: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (s *SQLGrantStore) Get(ctx context.Context, id string) (*capabilities.Grant, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+grantColumns+` FROM capability_grants WHERE id = ?`), id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, capabilities.ErrGrantNotFound(id)
	}
	return g, err
}

func (s *SQLGrantStore) FindBySecretDigest(ctx context.Context, digest string) (*capabilities.Grant, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+grantColumns+` FROM capability_grants WHERE secret_digest = ?`), digest)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "store.SQLGrantStore.FindBySecretDigest", "no grant for secret")
	}
	return g, err
}

func (s *SQLGrantStore) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE capability_grants SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("store: revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: revoke grant: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return capabilities.ErrAlreadyRevoked(id)
}

func (s *SQLGrantStore) ListByOwner(ctx context.Context, owner contracts.AgentID) ([]*capabilities.Grant, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+grantColumns+` FROM capability_grants WHERE owner = ? ORDER BY created_at_ns, id`), string(owner))
	if err != nil {
		return nil, fmt.Errorf("store: list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*capabilities.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list grants: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*capabilities.Grant, error) {
	var (
		g                    capabilities.Grant
		owner, grantedTo     string
		fields               string
		createdAt, expiresAt string
		revokedAt            sql.NullString
	)
	if err := row.Scan(&g.ID, &owner, &grantedTo, &fields, &g.Context, &createdAt, &expiresAt, &g.SecretDigest, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan grant: %w", err)
	}
	g.Owner = contracts.AgentID(owner)
	g.GrantedTo = contracts.AgentID(grantedTo)

	var names []privacy.Field
	if err := json.Unmarshal([]byte(fields), &names); err != nil {
		return nil, fmt.Errorf("store: decode grant fields: %w", err)
	}
	g.Fields = names

	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		at, err := parseTime(revokedAt.String)
		if err != nil {
			return nil, err
		}
		g.RevokedAt = &at
	}
	return &g, nil
}
