package flow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session value keys. All flow keys are cleared by the time a callback
// returns, success or failure; only keyCurrentUser outlives the attempt.
const (
	keyStateToken  = "oidc.state"
	keyFlowState   = "oidc.flow"
	keyCurrentUser = "uid"
	keyFlashes     = "flashes"
)

// stateTokenBytes is the entropy of the anti-forgery token. 32 bytes gives
// 256 bits, enough to rule out collisions and brute force across concurrent
// flows.
const stateTokenBytes = 32

// lockStripes is the size of the fixed mutex pool sessions hash onto. The
// pool keeps the manager's footprint constant regardless of how many session
// ids it has seen; two sessions sharing a stripe only coarsens serialization.
const lockStripes = 64

// Manager hands out Session handles and owns the striped mutexes that make
// read-and-clear operations atomic with respect to a second concurrent
// callback in the same session.
type Manager struct {
	store    Store
	tokenTTL time.Duration
	userTTL  time.Duration
	logger   *zap.Logger

	locks [lockStripes]sync.Mutex
}

// NewManager creates a session manager on top of the given store. tokenTTL
// bounds how long an initiated flow may wait for its callback; userTTL is the
// lifetime of an established login.
func NewManager(store Store, tokenTTL, userTTL time.Duration, logger *zap.Logger) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	if userTTL <= 0 {
		userTTL = 24 * time.Hour
	}
	return &Manager{
		store:    store,
		tokenTTL: tokenTTL,
		userTTL:  userTTL,
		logger:   logger.Named("session"),
	}
}

// Session returns the handle for the given session id. Handles for the same
// id always share a stripe, so their read-and-clear operations serialize.
func (m *Manager) Session(sid string) *Session {
	h := fnv.New32a()
	h.Write([]byte(sid))
	lock := &m.locks[h.Sum32()%lockStripes]
	return &Session{id: sid, store: m.store, tokenTTL: m.tokenTTL, userTTL: m.userTTL, lock: lock, logger: m.logger}
}

// Session is a handle on one browser session's flow state.
type Session struct {
	id       string
	store    Store
	tokenTTL time.Duration
	userTTL  time.Duration
	lock     *sync.Mutex
	logger   *zap.Logger
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GenerateStateToken produces a high-entropy anti-forgery token, stores it in
// the session and returns it for embedding in the outbound authorization
// request. A later Generate replaces any pending token.
func (s *Session) GenerateStateToken(ctx context.Context) (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.store.Set(ctx, s.id, keyStateToken, token, s.tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ConfirmStateToken reports whether candidate matches the session's pending
// state token. The stored token is spent on any check, success or failure, so
// a token authorizes at most one callback. Missing token or mismatch is
// false; callers must treat false as deny.
func (s *Session) ConfirmStateToken(ctx context.Context, candidate string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	stored, err := s.store.Get(ctx, s.id, keyStateToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("State token lookup failed", zap.Error(err))
		}
		return false
	}
	if err := s.store.Delete(ctx, s.id, keyStateToken); err != nil {
		s.logger.Warn("State token delete failed", zap.Error(err))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// SetFlowState stores the pending flow's parameters for the callback.
func (s *Session) SetFlowState(ctx context.Context, fs FlowState) error {
	data, err := json.Marshal(fs)
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.Set(ctx, s.id, keyFlowState, string(data), s.tokenTTL)
}

// PopFlowState reads and destroys the pending FlowState. The second return is
// false when no flow was pending; the caller applies its defaults. The delete
// happens regardless of outcome so a FlowState is never consumed twice.
func (s *Session) PopFlowState(ctx context.Context) (FlowState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw, err := s.store.Get(ctx, s.id, keyFlowState)
	_ = s.store.Delete(ctx, s.id, keyFlowState)
	if err != nil {
		return FlowState{}, false
	}
	var fs FlowState
	if err := json.Unmarshal([]byte(raw), &fs); err != nil {
		s.logger.Warn("Corrupt flow state dropped", zap.Error(err))
		return FlowState{}, false
	}
	return fs, true
}

// SetCurrentUser establishes the session for the given account id.
func (s *Session) SetCurrentUser(ctx context.Context, uid string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.Set(ctx, s.id, keyCurrentUser, uid, s.userTTL)
}

// CurrentUser returns the logged-in account id, or "" for anonymous.
func (s *Session) CurrentUser(ctx context.Context) (string, error) {
	uid, err := s.store.Get(ctx, s.id, keyCurrentUser)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return uid, err
}

// Flash is a one-shot user-facing notice. Presentation is the embedding
// application's concern; the library only queues them.
type Flash struct {
	Kind    string `json:"kind"` // "status" or "error"
	Message string `json:"message"`
}

// AddFlash queues a notice for the next page view.
func (s *Session) AddFlash(ctx context.Context, kind, message string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var flashes []Flash
	if raw, err := s.store.Get(ctx, s.id, keyFlashes); err == nil {
		_ = json.Unmarshal([]byte(raw), &flashes)
	}
	flashes = append(flashes, Flash{Kind: kind, Message: message})
	data, _ := json.Marshal(flashes)
	if err := s.store.Set(ctx, s.id, keyFlashes, string(data), s.userTTL); err != nil {
		s.logger.Warn("Failed to store flash message", zap.Error(err))
	}
}

// PopFlashes returns and clears the queued notices.
func (s *Session) PopFlashes(ctx context.Context) []Flash {
	s.lock.Lock()
	defer s.lock.Unlock()

	raw, err := s.store.Get(ctx, s.id, keyFlashes)
	_ = s.store.Delete(ctx, s.id, keyFlashes)
	if err != nil {
		return nil
	}
	var flashes []Flash
	_ = json.Unmarshal([]byte(raw), &flashes)
	return flashes
}
