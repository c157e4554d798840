// Package server is the HTTP transport over the auth engine. Handlers stay
// thin: credential extraction, JSON shaping, and cookie handling live here,
// every decision belongs to the auth manager, the flow coordinator, and the
// guard.
package server

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/oauthflow"
	"github.com/awesome-pro/stack/token"
)

type Server struct {
	mux     *http.ServeMux
	routes  []string
	logger  zerolog.Logger
	manager *auth.Manager
	flows   *oauthflow.Coordinator
	keyring *token.Keyring
	baseURL string
}

type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBaseURL sets the externally visible base URL used to build the OAuth
// callback redirect URI.
func WithBaseURL(baseURL string) Option {
	return func(s *Server) {
		s.baseURL = baseURL
	}
}

func New(manager *auth.Manager, flows *oauthflow.Coordinator, keyring *token.Keyring, options ...Option) (*Server, error) {
	if manager == nil {
		return nil, errors.New("[Server New] auth manager is required")
	}
	if flows == nil {
		return nil, errors.New("[Server New] flow coordinator is required")
	}
	if keyring == nil {
		return nil, errors.New("[Server New] token keyring is required")
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  zerolog.Nop(),
		manager: manager,
		flows:   flows,
		keyring: keyring,
		baseURL: "http://localhost:8080",
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		s.logger.Debug().Str("route", route).Msg("registered")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	api := s.APIMiddleware()

	s.RegisterRouteFunc("POST "+RouteLogin, ChainMiddleware(s.LoginHandler(), api...))
	s.RegisterRouteFunc("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), api...))
	s.RegisterRouteFunc("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), api...))

	s.RegisterRouteFunc("GET "+RouteOAuthStart, ChainMiddleware(s.OAuthStartHandler(), api...))
	s.RegisterRouteFunc("GET "+RouteOAuthCallback, ChainMiddleware(s.OAuthCallbackHandler(), api...))
	s.RegisterRouteFunc("POST "+RouteOAuthCallback, ChainMiddleware(s.OAuthCallbackHandler(), api...)) // form_post response mode

	s.RegisterRouteFunc("GET "+RouteMe, ChainMiddleware(s.MeHandler(), api...))
	s.RegisterRouteFunc("PATCH "+RouteMeMetadata, ChainMiddleware(s.MetadataHandler(), api...))

	s.RegisterRouteFunc("GET "+RouteJWKS, ChainMiddleware(s.JWKSHandler(), api...))
}
