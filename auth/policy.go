package auth

// Context identifies which party is asking: the owning browser client or a
// trusted server. It controls which metadata partitions are visible and
// writable.
type Context string

const (
	ContextClient Context = "client"
	ContextServer Context = "server"
)

// Policy selects how an unauthenticated resolution is reported.
type Policy string

const (
	// PolicyReturnNull yields an empty resolution.
	PolicyReturnNull Policy = "return-null"
	// PolicyRedirect signals the caller to redirect to the sign-in destination.
	PolicyRedirect Policy = "redirect"
	// PolicyThrow raises ErrUnauthenticated.
	PolicyThrow Policy = "throw"
)

// Credentials are the tokens a calling context re-presents on each call. The
// engine never chooses the transport they travelled on.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Context      Context
}
