package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratecode/triage-sub002/internal/errors"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/oauth"
	"github.com/stratecode/triage-sub002/internal/store"
)

// registerOAuthRoutes mounts /plugins/{name}/oauth/authorize and
// /plugins/{name}/oauth/callback for one plugin's Flow (§4.9).
func registerOAuthRoutes(router chi.Router, pluginName string, flow *oauth.Flow, installStore *store.Store, logger *logging.Logger) {
	installer := &installerAdapter{store: installStore}

	router.Get("/plugins/"+pluginName+"/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		redirectAfter := r.URL.Query().Get("redirect_after")
		url, err := flow.AuthorizeURL(redirectAfter)
		if err != nil {
			writeOAuthError(w, err, logger)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	})

	router.Get("/plugins/"+pluginName+"/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if errCode := r.URL.Query().Get("error"); errCode != "" {
			writeJSONBody(w, http.StatusOK, map[string]string{"status": "cancelled"})
			return
		}

		state := r.URL.Query().Get("state")
		claims, err := flow.VerifyState(state)
		if err != nil {
			writeOAuthError(w, err, logger)
			return
		}

		code := r.URL.Query().Get("code")
		tokens, err := flow.Exchange(ctx, code)
		if err != nil {
			writeOAuthError(w, err, logger)
			return
		}

		inst, err := flow.Store(ctx, installer, tokens.ChannelID, tokens)
		if err != nil {
			writeOAuthError(w, err, logger)
			return
		}

		writeJSONBody(w, http.StatusOK, map[string]interface{}{
			"status":         "installed",
			"channel_id":     inst.ChannelID,
			"redirect_after": claims.RedirectAfter,
		})
	})
}

func writeOAuthError(w http.ResponseWriter, err error, logger *logging.Logger) {
	if se := errors.As(err); se != nil {
		writeJSONBody(w, se.HTTPStatus, map[string]string{"error": se.Message, "error_code": string(se.Code)})
		return
	}
	if logger != nil {
		logger.WithError(err).Error("unexpected oauth error")
	}
	writeJSONBody(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSONBody(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
