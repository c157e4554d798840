package server

const (
	RouteLogin         = "/auth/login"
	RouteRefresh       = "/auth/refresh"
	RouteSignOut       = "/auth/signout"
	RouteOAuthStart    = "/auth/oauth/{provider}/start"
	RouteOAuthCallback = "/auth/oauth/callback"
	RouteMe            = "/me"
	RouteMeMetadata    = "/me/metadata"
	RouteJWKS          = "/.well-known/jwks.json"
)
