package account

import (
	"context"
	"errors"
)

// Storage errors.
var (
	// ErrNotFound indicates no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrSubjectTaken indicates the (provider, sub) pair is already bound to a
	// different account. Bindings are never silently moved.
	ErrSubjectTaken = errors.New("subject already bound to another account")
)

// Store is the account persistence capability. Create and BindSubject must be
// called inside WithTx when they are part of one logical operation, so a
// failure partway never leaves a half-bound account.
type Store interface {
	// Get loads an account by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Account, error)
	// FindBySubject loads the account bound to (provider, sub).
	// Returns ErrNotFound if the subject is unbound.
	FindBySubject(ctx context.Context, provider, sub string) (*Account, error)
	// Create persists a new account.
	Create(ctx context.Context, a *Account) error
	// BindSubject binds (provider, sub) to the account. Returns
	// ErrSubjectTaken when the pair is bound to a different account; binding
	// the same pair to the same account again is a no-op.
	BindSubject(ctx context.Context, id, provider, sub string) error
	// Save persists changes to an existing account's fields and properties.
	Save(ctx context.Context, a *Account) error
	// WithTx runs fn against a transactional view of the store. An error from
	// fn rolls every write back.
	WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
