// Package flow holds the short-lived, session-scoped state of a login
// attempt: the anti-forgery state token, the pending flow's parameters, and
// the identity of the logged-in account. Values live in a pluggable Store
// (in-process memory or Redis) keyed by session id; all access goes through
// Session so that read-and-clear operations are serialized per session.
package flow

import (
	"context"
	"errors"
	"time"
)

// Store is the backend holding per-session values. Keys are scoped by session
// id; implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, sid, key string) (string, error)
	Set(ctx context.Context, sid, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, sid, key string) error
}

// ErrNotFound is returned by Store.Get when the key does not exist.
var ErrNotFound = errors.New("flow: key not found")
