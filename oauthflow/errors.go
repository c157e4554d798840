package oauthflow

import "errors"

var (
	// ErrFlowStateInvalid covers anti-forgery failures: unknown, expired, or
	// mismatched state. Never retried.
	ErrFlowStateInvalid = errors.New("flow state invalid")

	// ErrFlowAlreadyConsumed is returned when a state token is redeemed a
	// second time; under concurrent duplicate callbacks exactly one caller
	// succeeds and the rest get this.
	ErrFlowAlreadyConsumed = errors.New("flow already consumed")

	// ErrProviderUnavailable wraps network failures and provider-side outages
	// during the code exchange. Retryable by the caller only: authorization
	// codes are single-use, so the coordinator never retries the exchange
	// itself.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrCodeExchangeRejected is returned when the provider refuses the
	// authorization code or its exchange parameters. Not retryable: the code
	// is spent, tampered, or mismatched.
	ErrCodeExchangeRejected = errors.New("authorization code rejected")

	ErrUnknownProvider = errors.New("unknown provider")
	ErrSignUpDisabled  = errors.New("sign-up disabled for provider")
)
