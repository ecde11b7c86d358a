package authorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/account"
	"github.com/stephane-berube/openid-connect/pkg/auth"
	"github.com/stephane-berube/openid-connect/pkg/claims"
)

// fakeSession records what the coordinator does with the session.
type fakeSession struct {
	uid     string
	flashes []string
}

func (f *fakeSession) CurrentUser(ctx context.Context) (string, error) { return f.uid, nil }
func (f *fakeSession) SetCurrentUser(ctx context.Context, uid string) error {
	f.uid = uid
	return nil
}
func (f *fakeSession) AddFlash(ctx context.Context, kind, message string) {
	f.flashes = append(f.flashes, kind+": "+message)
}

func newCoordinator(store account.Store, policy account.PolicyStore) *Coordinator {
	return NewCoordinator(store, claims.NewMapper(zap.NewNop()), policy, zap.NewNop())
}

func googleClient(sub string) *auth.MockClient {
	c := auth.NewMockClient("google")
	c.NextClaims = map[string]any{
		"sub":   sub,
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
	}
	return c
}

func TestResolveExistingAccount(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &account.Account{ID: "a1", CreatedAt: time.Now()}))
	require.NoError(t, store.BindSubject(ctx, "a1", "google", "u123"))

	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	require.True(t, verdict.OK)
	assert.Equal(t, ReasonOK, verdict.Reason)
	assert.Equal(t, "a1", verdict.Account.ID)
	assert.Equal(t, "a1", sess.uid, "session must be established for the resolved account")

	// Mapped claims were applied to the existing account.
	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
}

func TestResolveCreatesAccountWhenPolicyAllows(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitors})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	require.True(t, verdict.OK)
	require.NotNil(t, verdict.Account)
	assert.Equal(t, verdict.Account.ID, sess.uid)

	got, err := store.FindBySubject(ctx, "google", "u123")
	require.NoError(t, err)
	assert.Equal(t, verdict.Account.ID, got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestResolveRegistrationBlocked(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.False(t, verdict.OK)
	assert.Equal(t, ReasonRegistrationBlocked, verdict.Reason)
	assert.Empty(t, sess.uid, "no session may be established")
	assert.NotEmpty(t, sess.flashes, "the coordinator emits the policy notice itself")

	_, err := store.FindBySubject(ctx, "google", "u123")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestResolveVisitorsApprovalCreatesPendingAccount(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitorsApproval})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.False(t, verdict.OK)
	assert.Equal(t, ReasonPendingApproval, verdict.Reason)
	assert.Empty(t, sess.uid, "a pending account must not be logged in")
	assert.NotEmpty(t, sess.flashes)

	got, err := store.FindBySubject(ctx, "google", "u123")
	require.NoError(t, err)
	assert.True(t, got.Pending())
}

func TestResolvePendingAccountCannotLogIn(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	acct := &account.Account{ID: "a1", CreatedAt: time.Now()}
	acct.SetProperty(account.PropertyPending, "true")
	require.NoError(t, store.Create(ctx, acct))
	require.NoError(t, store.BindSubject(ctx, "a1", "google", "u123"))

	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitors})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.False(t, verdict.OK)
	assert.Equal(t, ReasonPendingApproval, verdict.Reason)
	assert.Empty(t, sess.uid)
}

func TestResolveApprovalOverrideActivates(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitorsApproval, Override: true})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	require.True(t, verdict.OK)
	assert.False(t, verdict.Account.Pending())
	assert.Equal(t, verdict.Account.ID, sess.uid)
}

func TestResolveOverrideBeatsAdminOnly(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly, Override: true})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.True(t, verdict.OK)
}

func TestResolveFailingPostAuthorizeRollsBack(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitors})
	coord.PostAuthorize.Register(func(ctx context.Context, hctx *Context) error {
		return errors.New("downstream provisioning failed")
	})
	sess := &fakeSession{}

	verdict := coord.Resolve(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.False(t, verdict.OK)
	assert.Empty(t, sess.uid)

	// The transaction must have rolled the create and bind back.
	_, err := store.FindBySubject(ctx, "google", "u123")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestResolveProviderError(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationVisitors})
	sess := &fakeSession{}

	client := auth.NewMockClient("google")
	client.NextUserInfoErr = auth.ErrFailedToGetUserInfo

	verdict := coord.Resolve(ctx, client, &auth.Tokens{AccessToken: "at"}, sess)
	assert.False(t, verdict.OK)
	assert.Equal(t, ReasonProviderError, verdict.Reason)
}

func TestConnectCurrentUser(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &account.Account{ID: "a1", CreatedAt: time.Now()}))

	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{uid: "a1"}

	err := coord.ConnectCurrentUser(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	require.NoError(t, err)

	got, err := store.FindBySubject(ctx, "google", "u123")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}

func TestConnectSubjectTaken(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &account.Account{ID: "a1", CreatedAt: time.Now()}))
	require.NoError(t, store.Create(ctx, &account.Account{ID: "a2", CreatedAt: time.Now()}))
	require.NoError(t, store.BindSubject(ctx, "a1", "google", "u123"))

	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{uid: "a2"}

	err := coord.ConnectCurrentUser(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.ErrorIs(t, err, account.ErrSubjectTaken)

	// The binding must not have moved.
	got, err := store.FindBySubject(ctx, "google", "u123")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}

func TestConnectAlreadyConnectedIsNoop(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &account.Account{ID: "a1", CreatedAt: time.Now()}))
	require.NoError(t, store.BindSubject(ctx, "a1", "google", "u123"))

	coord := newCoordinator(store, account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{uid: "a1"}

	assert.NoError(t, coord.ConnectCurrentUser(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess))
}

func TestConnectRequiresAuthenticatedUser(t *testing.T) {
	ctx := context.Background()
	coord := newCoordinator(account.NewMemoryStore(), account.Policy{Mode: account.RegistrationAdminOnly})
	sess := &fakeSession{}

	err := coord.ConnectCurrentUser(ctx, googleClient("u123"), &auth.Tokens{AccessToken: "at"}, sess)
	assert.ErrorIs(t, err, ErrNotConnected)
}
