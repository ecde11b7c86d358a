package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema:
//
//	CREATE TABLE oidc_account (
//	    id         TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL DEFAULT '',
//	    email      TEXT NOT NULL DEFAULT '',
//	    properties JSONB NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE oidc_account_subject (
//	    provider   TEXT NOT NULL,
//	    subject    TEXT NOT NULL,
//	    account_id TEXT NOT NULL REFERENCES oidc_account(id) ON DELETE CASCADE,
//	    PRIMARY KEY (provider, subject)
//	);

// dbOps is the subset of pgx shared by pools and transactions.
type dbOps interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore is a Postgres-backed Store using pgx.
type PGStore struct {
	pool *pgxpool.Pool
	db   dbOps
}

// NewPGStore creates a Store on top of a pgx pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, db: pool}
}

func (s *PGStore) Get(ctx context.Context, id string) (*Account, error) {
	a := &Account{Properties: map[string]string{}, Subjects: map[string]string{}}
	err := s.db.QueryRow(ctx,
		`SELECT id, name, email, properties, created_at FROM oidc_account WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.Properties, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadSubjects(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PGStore) FindBySubject(ctx context.Context, provider, sub string) (*Account, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT account_id FROM oidc_account_subject WHERE provider = $1 AND subject = $2`,
		provider, sub).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *PGStore) Create(ctx context.Context, a *Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO oidc_account (id, name, email, properties, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Name, a.Email, a.Properties, a.CreatedAt)
	return err
}

func (s *PGStore) BindSubject(ctx context.Context, id, provider, sub string) error {
	var bound string
	err := s.db.QueryRow(ctx,
		`SELECT account_id FROM oidc_account_subject WHERE provider = $1 AND subject = $2`,
		provider, sub).Scan(&bound)
	switch {
	case err == nil:
		if bound == id {
			return nil
		}
		return ErrSubjectTaken
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO oidc_account_subject (provider, subject, account_id) VALUES ($1, $2, $3)`,
		provider, sub, id)
	return err
}

func (s *PGStore) Save(ctx context.Context, a *Account) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE oidc_account SET name = $2, email = $3, properties = $4 WHERE id = $1`,
		a.ID, a.Name, a.Email, a.Properties)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WithTx runs fn against a transaction-scoped view. Only pool-backed stores
// may open transactions; nesting is not supported.
func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	if s.pool == nil {
		return fmt.Errorf("account: nested transactions are not supported")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(ctx, &PGStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) loadSubjects(ctx context.Context, a *Account) error {
	rows, err := s.db.Query(ctx,
		`SELECT provider, subject FROM oidc_account_subject WHERE account_id = $1`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var provider, sub string
		if err := rows.Scan(&provider, &sub); err != nil {
			return err
		}
		a.Subjects[provider] = sub
	}
	return rows.Err()
}
