package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/guard"
	"github.com/awesome-pro/stack/users"
)

const contentTypeJSON = "application/json"

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// credentials extracts the caller's tokens. The access token comes from the
// Authorization header or the access cookie; the refresh token only from its
// cookie. HTTP callers are always client-context: the server partition never
// crosses this transport.
func (s *Server) credentials(r *http.Request) auth.Credentials {
	creds := auth.Credentials{Context: auth.ContextClient}

	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		creds.AccessToken = h[7:]
	} else if c, err := r.Cookie(accessTokenCookie); err == nil {
		creds.AccessToken = c.Value
	}
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		creds.RefreshToken = c.Value
	}
	return creds
}

func (s *Server) setTokenCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// resolve runs resolution plus the guard and writes the failure response
// itself. A nil return means the response is already written.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, policy auth.Policy) *auth.Resolution {
	res, err := s.manager.ResolveCurrentUser(r.Context(), s.credentials(r), policy)
	if err != nil {
		if errors.Is(err, auth.ErrSessionCompromised) {
			s.clearTokenCookies(w)
			writeJSONError(w, "session_compromised", "refresh token reuse detected", http.StatusUnauthorized)
			return nil
		}
		writeJSONError(w, "unauthenticated", "authentication required", http.StatusUnauthorized)
		return nil
	}

	switch decision := guard.Evaluate(res, policy, s.manager.SignInURL()); decision.Kind {
	case guard.Allow:
		if res.Pair != nil {
			s.setTokenCookies(w, res.Pair)
		}
		return res
	case guard.RedirectTo:
		http.Redirect(w, r, decision.Location, http.StatusFound)
		return nil
	default:
		writeJSONError(w, "unauthenticated", "authentication required", http.StatusUnauthorized)
		return nil
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "malformed JSON body", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", "email and password are required", http.StatusBadRequest)
			return
		}

		pair, err := s.manager.LoginWithPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeJSONError(w, "invalid_credentials", "invalid email or password", http.StatusUnauthorized)
				return
			}
			s.logger.Error().Err(err).Msg("login failed")
			writeJSONError(w, "server_error", "login failed", http.StatusInternalServerError)
			return
		}

		s.setTokenCookies(w, pair)
		writeJSON(w, http.StatusOK, pair)
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refreshToken := ""
		if c, err := r.Cookie(refreshTokenCookie); err == nil {
			refreshToken = c.Value
		}
		if refreshToken == "" {
			writeJSONError(w, "invalid_request", "no refresh token", http.StatusBadRequest)
			return
		}

		pair, err := s.manager.Refresh(r.Context(), refreshToken)
		if err != nil {
			s.clearTokenCookies(w)
			switch {
			case errors.Is(err, auth.ErrSessionCompromised):
				writeJSONError(w, "session_compromised", "refresh token reuse detected", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrSessionRevoked):
				writeJSONError(w, "session_revoked", "session has been revoked", http.StatusUnauthorized)
			default:
				writeJSONError(w, "invalid_grant", "refresh token rejected", http.StatusUnauthorized)
			}
			return
		}

		s.setTokenCookies(w, pair)
		writeJSON(w, http.StatusOK, pair)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.resolve(w, r, auth.PolicyThrow)
		if res == nil {
			return
		}

		if err := s.manager.SignOut(r.Context(), res.SessionID); err != nil {
			s.logger.Error().Err(err).Msg("sign-out failed")
			writeJSONError(w, "server_error", "sign-out failed", http.StatusInternalServerError)
			return
		}

		s.clearTokenCookies(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.resolve(w, r, auth.PolicyThrow)
		if res == nil {
			return
		}
		writeJSON(w, http.StatusOK, res.User)
	}
}

// metadataRequest decodes every partition field so writes aimed at protected
// partitions reach the manager and fail there, rather than being dropped.
type metadataRequest struct {
	Client         users.Metadata `json:"client_metadata"`
	ClientReadOnly users.Metadata `json:"client_read_only_metadata"`
	Server         users.Metadata `json:"server_metadata"`
}

func (s *Server) MetadataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.resolve(w, r, auth.PolicyThrow)
		if res == nil {
			return
		}

		var req metadataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "malformed JSON body", http.StatusBadRequest)
			return
		}

		patch := auth.PartitionedPatch{
			Client:         req.Client,
			ClientReadOnly: req.ClientReadOnly,
			Server:         req.Server,
		}
		if err := s.manager.UpdateMetadata(r.Context(), res.User.ID, patch, auth.ContextClient); err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				writeJSONError(w, "forbidden", "partition is not client-writable", http.StatusForbidden)
				return
			}
			s.logger.Error().Err(err).Msg("metadata update failed")
			writeJSONError(w, "server_error", "metadata update failed", http.StatusInternalServerError)
			return
		}

		user, err := s.manager.GetUser(r.Context(), res.User.ID, auth.ContextClient)
		if err != nil {
			writeJSONError(w, "server_error", "user lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.keyring.JWKS()
		if err != nil {
			writeJSONError(w, "unsupported", "no public keys published", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, jwks)
	}
}
