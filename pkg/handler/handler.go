// Package handler wires the callback state machine to HTTP: the access gate
// on the anti-forgery state token, flow-state consumption, code exchange,
// login-vs-connect dispatch, and the terminal redirect.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/auth"
	"github.com/stephane-berube/openid-connect/pkg/authorize"
	"github.com/stephane-berube/openid-connect/pkg/config"
	"github.com/stephane-berube/openid-connect/pkg/flow"
	"github.com/stephane-berube/openid-connect/pkg/metrics"
)

// sessionCookie carries the browser's session id.
const sessionCookie = "oidc_session"

// Handler serves the login initiation and redirect callback endpoints.
type Handler struct {
	logger   *zap.Logger
	registry *auth.Registry
	sessions *flow.Manager
	coord    *authorize.Coordinator
	metrics  *metrics.Metrics

	defaultDestination string
	ssoCookie          config.SSOCookieConfig
}

// New creates the HTTP handler.
func New(
	logger *zap.Logger,
	registry *auth.Registry,
	sessions *flow.Manager,
	coord *authorize.Coordinator,
	m *metrics.Metrics,
	defaultDestination string,
	ssoCookie config.SSOCookieConfig,
) *Handler {
	if defaultDestination == "" {
		defaultDestination = "/"
	}
	if ssoCookie.DefaultName == "" {
		ssoCookie.DefaultName = "sso_logged_in"
	}
	return &Handler{
		logger:             logger.Named("handler"),
		registry:           registry,
		sessions:           sessions,
		coord:              coord,
		metrics:            m,
		defaultDestination: defaultDestination,
		ssoCookie:          ssoCookie,
	}
}

// Routes mounts the endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.sessionMiddleware)
	r.Get("/openid-connect/{client_name}", h.Callback)
	r.Get("/openid-connect/{client_name}/start", h.Start)
	return r
}

type sessionCtxKey struct{}

// sessionMiddleware attaches the browser's flow.Session to the request
// context, issuing a new session id cookie when none is present.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			sid = c.Value
		} else {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		sess := h.sessions.Session(sid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, sess)))
	})
}

// SessionFrom returns the flow.Session attached by the middleware.
func SessionFrom(ctx context.Context) *flow.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*flow.Session)
	return sess
}
