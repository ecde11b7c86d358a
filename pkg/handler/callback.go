package handler

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/julien040/go-ternary"
	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/account"
	"github.com/stephane-berube/openid-connect/pkg/authorize"
	"github.com/stephane-berube/openid-connect/pkg/flow"
)

// cancellationErrors are the OAuth error codes meaning the user declined or
// must re-interact. They are surfaced as a neutral notice, never logged at
// error severity.
var cancellationErrors = map[string]bool{
	"interaction_required":       true,
	"login_required":             true,
	"account_selection_required": true,
	"consent_required":           true,
}

// Callback handles GET /openid-connect/{client_name}: the provider's redirect
// back to us. Whatever branch runs, the pending flow state is consumed and
// the response is a redirect (or 403/404 before the flow is entered).
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "client_name")
	log := h.logger.With(zap.String("provider", name))
	sess := SessionFrom(ctx)
	q := r.URL.Query()

	// Access gate: a present, confirmed state token is required before any
	// other processing. Confirm consumes the token, so a replay fails here.
	if state := q.Get("state"); state == "" || sess == nil || !sess.ConfirmStateToken(ctx, state) {
		log.Warn("Callback state check failed")
		h.metrics.Callbacks.WithLabelValues("access_denied").Inc()
		http.Error(w, "Invalid state parameter", http.StatusForbidden)
		return
	}

	// Pop the flow state before any branching so it is never reused, even if
	// a later step fails.
	fs, ok := sess.PopFlowState(ctx)
	if !ok || fs.Operation == "" {
		fs.Operation = flow.OpLogin
	}

	client, err := h.registry.Get(name)
	if err != nil && !q.Has("error") && !q.Has("code") {
		// Neither an error nor a code: this is not a provider callback at
		// all, just a stray visit to the route.
		log.Info("Out-of-flow callback visit")
		h.metrics.Callbacks.WithLabelValues("not_found").Inc()
		http.NotFound(w, r)
		return
	}

	if errCode := q.Get("error"); errCode != "" {
		if cancellationErrors[errCode] {
			sess.AddFlash(ctx, "status", fmt.Sprintf("Logging in with %s has been canceled.", name))
			h.metrics.Callbacks.WithLabelValues("user_cancelled").Inc()
		} else {
			desc := ternary.If(q.Get("error_description") != "", q.Get("error_description"), "Unknown error")
			log.Error("Provider returned an error",
				zap.String("error", errCode),
				zap.String("description", desc))
			sess.AddFlash(ctx, "error", fmt.Sprintf("Could not authenticate with %s.", name))
			h.metrics.Callbacks.WithLabelValues("provider_error").Inc()
		}
		h.redirect(w, r, fs)
		return
	}

	if client == nil {
		// A code arrived but the provider could not be instantiated; there is
		// nothing to exchange it against.
		log.Warn("Provider unavailable for code exchange", zap.Error(err))
		h.metrics.Callbacks.WithLabelValues("exchange_failed").Inc()
		h.redirect(w, r, fs)
		return
	}

	tokens, err := client.ExchangeCode(ctx, q.Get("code"))
	if err != nil || tokens == nil {
		// No tokens means no account change; the flow still ends in the
		// redirect. The counter is the only trace this leaves.
		h.metrics.Callbacks.WithLabelValues("exchange_failed").Inc()
		h.redirect(w, r, fs)
		return
	}

	switch fs.Operation {
	case flow.OpConnect:
		// A connect must target the user who initiated it. A mismatch means
		// the session changed hands mid-flow; the connect is skipped rather
		// than treated as an attack, since the state token already gated
		// access.
		uid, uidErr := sess.CurrentUser(ctx)
		if uidErr != nil || uid == "" || fs.ConnectUserID != uid {
			log.Warn("Connect flow user mismatch, skipping",
				zap.String("flow_uid", fs.ConnectUserID),
				zap.String("session_uid", uid))
			h.metrics.Callbacks.WithLabelValues("uid_mismatch").Inc()
			break
		}
		switch connErr := h.coord.ConnectCurrentUser(ctx, client, tokens, sess); {
		case connErr == nil:
			sess.AddFlash(ctx, "status", fmt.Sprintf("Account successfully connected with %s.", name))
			h.metrics.Callbacks.WithLabelValues("ok").Inc()
			h.metrics.Connects.Inc()
		case errors.Is(connErr, account.ErrSubjectTaken):
			sess.AddFlash(ctx, "error", fmt.Sprintf("Another user is already connected to this %s account.", name))
			h.metrics.Callbacks.WithLabelValues("provider_error").Inc()
		default:
			log.Error("Connect failed", zap.Error(connErr))
			sess.AddFlash(ctx, "error", fmt.Sprintf("Connecting with %s could not be completed.", name))
			h.metrics.Callbacks.WithLabelValues("provider_error").Inc()
		}
	default:
		verdict := h.coord.Resolve(ctx, client, tokens, sess)
		if verdict.OK {
			h.metrics.Callbacks.WithLabelValues("ok").Inc()
			h.metrics.Logins.Inc()
			h.setSSOCookie(w, r)
		} else {
			h.metrics.Callbacks.WithLabelValues(verdict.Reason.String()).Inc()
			// For policy outcomes the coordinator has already queued its
			// more specific notice.
			if verdict.Reason != authorize.ReasonRegistrationBlocked &&
				verdict.Reason != authorize.ReasonPendingApproval {
				sess.AddFlash(ctx, "error", fmt.Sprintf("Logging in with %s could not be completed.", name))
			}
			// No session was established; the flow destination may require
			// one, so land on the default instead.
			fs = flow.FlowState{}
		}
	}

	h.redirect(w, r, fs)
}

// setSSOCookie sets the auxiliary "logged in to SSO" flag cookie for external
// integrations. The name depends on which host served the request; the
// mapping is configuration.
func (h *Handler) setSSOCookie(w http.ResponseWriter, r *http.Request) {
	// SplitHostPort handles bracketed IPv6 literals; a bare host without a
	// port is used as is.
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	name, ok := h.ssoCookie.Hosts[host]
	name = ternary.If(ok, name, h.ssoCookie.DefaultName)
	http.SetCookie(w, &http.Cookie{
		Name:    name,
		Value:   "1",
		Path:    "/",
		Expires: time.Now().Add(24 * time.Hour),
	})
}

// redirect issues the terminal redirect of the callback. It always runs, no
// matter which branch handled the request.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, fs flow.FlowState) {
	http.Redirect(w, r, h.renderDestination(fs), http.StatusFound)
}

// renderDestination resolves a flow destination to an internal absolute path.
// External and protocol-relative targets fall back to the default landing
// path: the destination came through the session, but open redirects are
// still not worth the risk.
func (h *Handler) renderDestination(fs flow.FlowState) string {
	dest := ternary.If(fs.Destination != "", fs.Destination, h.defaultDestination)
	if !strings.HasPrefix(dest, "/") {
		dest = "/" + dest
	}
	if strings.HasPrefix(dest, "//") || strings.Contains(dest, "://") {
		dest = h.defaultDestination
	}
	if len(fs.Query) > 0 {
		dest += "?" + fs.Query.Encode()
	}
	return dest
}
