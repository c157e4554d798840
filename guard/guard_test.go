package guard_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/guard"
	"github.com/awesome-pro/stack/users"
)

const signInURL = "/auth/sign-in"

func TestEvaluate(t *testing.T) {
	user := &users.User{ID: "user-1"}
	authed := &auth.Resolution{User: user}
	anon := &auth.Resolution{}

	tests := []struct {
		name   string
		res    *auth.Resolution
		policy auth.Policy
		want   guard.Decision
	}{
		{
			name:   "authenticated allows under return-null",
			res:    authed,
			policy: auth.PolicyReturnNull,
			want:   guard.Decision{Kind: guard.Allow, User: user},
		},
		{
			name:   "authenticated allows under redirect",
			res:    authed,
			policy: auth.PolicyRedirect,
			want:   guard.Decision{Kind: guard.Allow, User: user},
		},
		{
			name:   "authenticated allows under throw",
			res:    authed,
			policy: auth.PolicyThrow,
			want:   guard.Decision{Kind: guard.Allow, User: user},
		},
		{
			name:   "unauthenticated denies under return-null",
			res:    anon,
			policy: auth.PolicyReturnNull,
			want:   guard.Decision{Kind: guard.Deny},
		},
		{
			name:   "unauthenticated redirects under redirect",
			res:    anon,
			policy: auth.PolicyRedirect,
			want:   guard.Decision{Kind: guard.RedirectTo, Location: signInURL},
		},
		{
			name:   "unauthenticated denies under throw",
			res:    anon,
			policy: auth.PolicyThrow,
			want:   guard.Decision{Kind: guard.Deny},
		},
		{
			name:   "nil resolution treated as unauthenticated",
			res:    nil,
			policy: auth.PolicyRedirect,
			want:   guard.Decision{Kind: guard.RedirectTo, Location: signInURL},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := guard.Evaluate(tt.res, tt.policy, signInURL)
			require.Equal(t, tt.want, got)
		})
	}
}
