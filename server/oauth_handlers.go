package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/oauthflow"
)

const flowStateCookie = "oauth_flow_state"

// OAuthStartHandler begins the authorization-code flow for the provider named
// in the path. The anti-forgery state is double-bound: persisted server-side
// by the coordinator and pinned to this browser via a short-lived cookie.
func (s *Server) OAuthStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")

		result, err := s.flows.Start(r.Context(), provider, s.baseURL+RouteOAuthCallback)
		if err != nil {
			if errors.Is(err, oauthflow.ErrUnknownProvider) {
				writeJSONError(w, "unknown_provider", "provider is not configured", http.StatusNotFound)
				return
			}
			s.logger.Error().Err(err).Str("provider", provider).Msg("flow start failed")
			writeJSONError(w, "server_error", "could not start sign-in", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     flowStateCookie,
			Value:    result.State,
			Path:     RouteOAuthCallback,
			MaxAge:   int(oauthflow.DefaultStateTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, result.AuthorizationURL, http.StatusFound)
	}
}

// OAuthCallbackHandler completes the flow and signs the mapped user in.
// Accepts GET with query parameters and POST for form_post response mode.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "malformed callback parameters", http.StatusBadRequest)
			return
		}
		returnedState := r.Form.Get("state")
		code := r.Form.Get("code")

		if errCode := r.Form.Get("error"); errCode != "" {
			writeJSONError(w, "provider_denied", errCode, http.StatusBadRequest)
			return
		}
		if returnedState == "" || code == "" {
			writeJSONError(w, "invalid_request", "state and code are required", http.StatusBadRequest)
			return
		}

		cookie, err := r.Cookie(flowStateCookie)
		if err != nil {
			writeJSONError(w, "invalid_state", "flow state rejected", http.StatusBadRequest)
			return
		}

		identity, err := s.flows.CompleteCallback(r.Context(), cookie.Value, code, returnedState)
		if err != nil {
			s.writeCallbackError(w, err)
			return
		}

		pair, err := s.manager.Login(r.Context(), identity.User.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", identity.User.ID).Msg("post-callback login failed")
			writeJSONError(w, "server_error", "sign-in failed", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: flowStateCookie, Value: "", Path: RouteOAuthCallback, MaxAge: -1})
		s.setTokenCookies(w, pair)
		writeJSON(w, http.StatusOK, pair)
	}
}

func (s *Server) writeCallbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oauthflow.ErrFlowStateInvalid),
		errors.Is(err, oauthflow.ErrFlowAlreadyConsumed):
		writeJSONError(w, "invalid_state", "flow state rejected", http.StatusBadRequest)
	case errors.Is(err, oauthflow.ErrCodeExchangeRejected):
		writeJSONError(w, "invalid_code", "authorization code rejected", http.StatusBadRequest)
	case errors.Is(err, oauthflow.ErrSignUpDisabled):
		writeJSONError(w, "signup_disabled", "no matching account and sign-up is disabled", http.StatusForbidden)
	case errors.Is(err, oauthflow.ErrProviderUnavailable):
		writeJSONError(w, "provider_unavailable", "identity provider is unavailable", http.StatusBadGateway)
	default:
		s.logger.Error().Err(err).Msg("callback failed")
		writeJSONError(w, "server_error", "sign-in failed", http.StatusInternalServerError)
	}
}
