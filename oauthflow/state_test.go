package oauthflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/oauthflow"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    oauthflow.Status
		to      oauthflow.Status
		allowed bool
	}{
		{oauthflow.StatusInitiated, oauthflow.StatusRedirected, true},
		{oauthflow.StatusRedirected, oauthflow.StatusCallbackReceived, true},
		{oauthflow.StatusCallbackReceived, oauthflow.StatusExchanged, true},
		{oauthflow.StatusExchanged, oauthflow.StatusCompleted, true},
		{oauthflow.StatusInitiated, oauthflow.StatusCallbackReceived, false},
		{oauthflow.StatusRedirected, oauthflow.StatusCompleted, false},
		{oauthflow.StatusCompleted, oauthflow.StatusFailed, false},
		{oauthflow.StatusFailed, oauthflow.StatusRedirected, false},
		{oauthflow.StatusInitiated, oauthflow.StatusFailed, true},
		{oauthflow.StatusExchanged, oauthflow.StatusFailed, true},
	}

	for _, tc := range tests {
		got := tc.from.CanTransition(tc.to)
		require.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, oauthflow.StatusCompleted.Terminal())
	require.True(t, oauthflow.StatusFailed.Terminal())
	require.False(t, oauthflow.StatusRedirected.Terminal())
}

func TestFlowStateExpired(t *testing.T) {
	now := time.Now()
	flow := &oauthflow.FlowState{ExpiresAt: now.Add(time.Minute)}

	require.False(t, flow.Expired(now))
	require.False(t, flow.Expired(now.Add(time.Minute)))
	require.True(t, flow.Expired(now.Add(2*time.Minute)))
}
