package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/flow"
)

// Start handles GET /openid-connect/{client_name}/start: it stores the flow
// parameters and a fresh state token in the session, then redirects the
// browser to the provider's authorization endpoint.
//
// Query parameters: destination (internal landing path), op ("connect" links
// the provider identity to the logged-in account instead of logging in).
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "client_name")
	log := h.logger.With(zap.String("provider", name))
	sess := SessionFrom(ctx)
	if sess == nil {
		http.Error(w, "No session", http.StatusInternalServerError)
		return
	}

	client, err := h.registry.Get(name)
	if err != nil {
		log.Info("Unknown provider requested", zap.Error(err))
		http.NotFound(w, r)
		return
	}

	fs := flow.FlowState{
		Destination: r.URL.Query().Get("destination"),
		Operation:   flow.OpLogin,
	}
	if q := r.URL.Query().Get("query"); q != "" {
		if values, err := url.ParseQuery(q); err == nil {
			fs.Query = values
		}
	}

	if r.URL.Query().Get("op") == string(flow.OpConnect) {
		uid, err := sess.CurrentUser(ctx)
		if err != nil || uid == "" {
			// Connecting requires a logged-in account to connect to.
			http.Error(w, "Authentication required", http.StatusForbidden)
			return
		}
		fs.Operation = flow.OpConnect
		fs.ConnectUserID = uid
	}

	if err := sess.SetFlowState(ctx, fs); err != nil {
		log.Error("Failed to store flow state", zap.Error(err))
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}
	state, err := sess.GenerateStateToken(ctx)
	if err != nil {
		log.Error("Failed to generate state token", zap.Error(err))
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}

	authURL := client.AuthURL(ctx, state)
	if authURL == "" {
		log.Error("Provider produced no authorization URL")
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}

	log.Info("Redirecting to provider for authentication",
		zap.String("operation", string(fs.Operation)))
	http.Redirect(w, r, authURL, http.StatusFound)
}
