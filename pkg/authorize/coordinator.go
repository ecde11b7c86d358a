// Package authorize contains the coordinator that reconciles exchanged
// provider identities onto local accounts: log in an existing account, create
// one when registration policy allows, or connect a subject to the current
// account.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/account"
	"github.com/stephane-berube/openid-connect/pkg/auth"
	"github.com/stephane-berube/openid-connect/pkg/claims"
	"github.com/stephane-berube/openid-connect/pkg/hooks"
)

// Reason classifies why a Resolve verdict failed (or that it did not).
type Reason int

const (
	ReasonOK Reason = iota
	ReasonRegistrationBlocked
	ReasonUidMismatch
	ReasonExchangeFailed
	ReasonProviderError
	ReasonPendingApproval
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonRegistrationBlocked:
		return "registration_blocked"
	case ReasonUidMismatch:
		return "uid_mismatch"
	case ReasonExchangeFailed:
		return "exchange_failed"
	case ReasonProviderError:
		return "provider_error"
	case ReasonPendingApproval:
		return "pending_approval"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of a Resolve call.
type Verdict struct {
	OK      bool
	Account *account.Account
	Reason  Reason
}

// ErrNotConnected is returned by ConnectCurrentUser when no user is logged in.
var ErrNotConnected = errors.New("authorize: no authenticated user to connect")

// Sessions is the session capability the coordinator needs to establish a
// login, identify the current user, and queue user-facing notices.
type Sessions interface {
	CurrentUser(ctx context.Context) (string, error)
	SetCurrentUser(ctx context.Context, uid string) error
	AddFlash(ctx context.Context, kind, message string)
}

// Context is handed to pre/post-authorize and save hooks. Account is the
// designated mutable output for pre-authorize callbacks; a returned error
// aborts the operation.
type Context struct {
	Account  *account.Account
	Info     *claims.UserInfo
	Provider string
	IsNew    bool
}

// Coordinator decides login-vs-create and performs subject connects.
type Coordinator struct {
	accounts account.Store
	mapper   *claims.Mapper
	policy   account.PolicyStore
	logger   *zap.Logger

	// PreAuthorize hooks run before a new account is persisted.
	PreAuthorize hooks.List[*Context]
	// PostAuthorize hooks run after a login resolves, for both new and
	// existing accounts.
	PostAuthorize hooks.List[*Context]
	// Save hooks run after claim mapping is applied to an existing account.
	Save hooks.List[*Context]
}

// NewCoordinator wires the coordinator's capabilities.
func NewCoordinator(accounts account.Store, mapper *claims.Mapper, policy account.PolicyStore, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		accounts: accounts,
		mapper:   mapper,
		policy:   policy,
		logger:   logger.Named("authorize"),
	}
}

// Resolve performs the login operation for an exchanged token bundle: an
// account already bound to the token's subject is logged in; otherwise the
// registration policy decides whether one is created from mapped claims. The
// verdict reports failure when no account could be resolved.
func (c *Coordinator) Resolve(ctx context.Context, client auth.Client, tokens *auth.Tokens, sess Sessions) *Verdict {
	info, err := c.mapper.Normalize(ctx, client, tokens)
	if err != nil {
		c.logger.Error("Failed to normalize provider claims",
			zap.String("provider", client.Name()), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}

	acct, err := c.accounts.FindBySubject(ctx, client.Name(), info.Subject)
	switch {
	case err == nil:
		return c.loginExisting(ctx, client, acct, info, sess)
	case errors.Is(err, account.ErrNotFound):
		return c.register(ctx, client, info, sess)
	default:
		c.logger.Error("Subject lookup failed",
			zap.String("provider", client.Name()), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}
}

func (c *Coordinator) loginExisting(ctx context.Context, client auth.Client, acct *account.Account, info *claims.UserInfo, sess Sessions) *Verdict {
	if acct.Pending() {
		c.logger.Info("Login blocked, account pending approval",
			zap.String("provider", client.Name()), zap.String("account", acct.ID))
		sess.AddFlash(ctx, "status", "Your account is awaiting administrator approval.")
		return &Verdict{Account: acct, Reason: ReasonPendingApproval}
	}

	c.mapper.ApplyToAccount(ctx, acct, info)
	if err := c.accounts.Save(ctx, acct); err != nil {
		c.logger.Error("Failed to save mapped claims", zap.String("account", acct.ID), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}

	hctx := &Context{Account: acct, Info: info, Provider: client.Name()}
	if err := c.Save.Invoke(ctx, hctx); err != nil {
		c.logger.Warn("Save hook failed", zap.String("account", acct.ID), zap.Error(err))
	}

	if err := sess.SetCurrentUser(ctx, acct.ID); err != nil {
		c.logger.Error("Failed to establish session", zap.String("account", acct.ID), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}
	if err := c.PostAuthorize.Invoke(ctx, hctx); err != nil {
		c.logger.Warn("Post-authorize hook failed", zap.String("account", acct.ID), zap.Error(err))
	}

	c.logger.Info("Login successful",
		zap.String("provider", client.Name()), zap.String("account", acct.ID))
	return &Verdict{OK: true, Account: acct, Reason: ReasonOK}
}

// register creates a new account from mapped claims inside a transaction so a
// failing hook never leaves a half-bound account.
func (c *Coordinator) register(ctx context.Context, client auth.Client, info *claims.UserInfo, sess Sessions) *Verdict {
	if !account.AllowsRegistration(ctx, c.policy) {
		c.logger.Info("Registration blocked by policy",
			zap.String("provider", client.Name()),
			zap.String("mode", c.policy.RegistrationMode(ctx).String()))
		sess.AddFlash(ctx, "error", "Only administrators can register new accounts.")
		return &Verdict{Reason: ReasonRegistrationBlocked}
	}

	// Under visitors-with-approval the account is created but held back from
	// logging in until an administrator activates it. The override flag
	// creates active accounts regardless of mode.
	pending := c.policy.RegistrationMode(ctx) == account.RegistrationVisitorsApproval &&
		!c.policy.OverrideRegistration(ctx)

	acct := &account.Account{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	c.mapper.ApplyToAccount(ctx, acct, info)
	if pending {
		acct.SetProperty(account.PropertyPending, "true")
	}
	hctx := &Context{Account: acct, Info: info, Provider: client.Name(), IsNew: true}

	err := c.accounts.WithTx(ctx, func(ctx context.Context, s account.Store) error {
		if err := c.PreAuthorize.Invoke(ctx, hctx); err != nil {
			return fmt.Errorf("pre-authorize hook: %w", err)
		}
		if err := s.Create(ctx, acct); err != nil {
			return err
		}
		if err := s.BindSubject(ctx, acct.ID, client.Name(), info.Subject); err != nil {
			return err
		}
		return c.PostAuthorize.Invoke(ctx, hctx)
	})
	if err != nil {
		c.logger.Error("Account registration failed",
			zap.String("provider", client.Name()), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}

	if pending {
		c.logger.Info("Account created pending administrator approval",
			zap.String("provider", client.Name()), zap.String("account", acct.ID))
		sess.AddFlash(ctx, "status", "Your account is awaiting administrator approval.")
		return &Verdict{Account: acct, Reason: ReasonPendingApproval}
	}

	if err := sess.SetCurrentUser(ctx, acct.ID); err != nil {
		c.logger.Error("Failed to establish session", zap.String("account", acct.ID), zap.Error(err))
		return &Verdict{Reason: ReasonProviderError}
	}

	c.logger.Info("Account created and logged in",
		zap.String("provider", client.Name()), zap.String("account", acct.ID))
	return &Verdict{OK: true, Account: acct, Reason: ReasonOK}
}

// ConnectCurrentUser binds the token's subject to the already-authenticated
// account. A subject bound to a different account is never silently rebound.
func (c *Coordinator) ConnectCurrentUser(ctx context.Context, client auth.Client, tokens *auth.Tokens, sess Sessions) error {
	uid, err := sess.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if uid == "" {
		return ErrNotConnected
	}

	info, err := c.mapper.Normalize(ctx, client, tokens)
	if err != nil {
		return err
	}

	existing, err := c.accounts.FindBySubject(ctx, client.Name(), info.Subject)
	switch {
	case err == nil:
		if existing.ID != uid {
			c.logger.Warn("Subject already bound to another account",
				zap.String("provider", client.Name()), zap.String("account", uid))
			return account.ErrSubjectTaken
		}
		return nil // already connected to this account
	case errors.Is(err, account.ErrNotFound):
		// fall through to bind
	default:
		return err
	}

	err = c.accounts.WithTx(ctx, func(ctx context.Context, s account.Store) error {
		if err := s.BindSubject(ctx, uid, client.Name(), info.Subject); err != nil {
			return err
		}
		acct, err := s.Get(ctx, uid)
		if err != nil {
			return err
		}
		return c.Save.Invoke(ctx, &Context{Account: acct, Info: info, Provider: client.Name()})
	})
	if err != nil {
		return err
	}

	c.logger.Info("Subject connected to account",
		zap.String("provider", client.Name()), zap.String("account", uid))
	return nil
}
