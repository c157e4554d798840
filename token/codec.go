package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/token/keys"
)

// DefaultLeeway is the clock-skew allowance applied during expiry checks.
const DefaultLeeway = 30 * time.Second

// Keyring holds the process-wide signing material. The active signer is used
// for all new tokens; the previous signer, when set, is accepted for
// verification only, which gives an overlap window during key rotation.
// A Keyring is immutable after construction.
type Keyring struct {
	active   Signer
	previous Signer
}

// NewKeyring creates a keyring with the given active signer.
func NewKeyring(active Signer) *Keyring {
	return &Keyring{active: active}
}

// NewRotatingKeyring creates a keyring that signs with active and verifies
// against both active and previous.
func NewRotatingKeyring(active, previous Signer) *Keyring {
	return &Keyring{active: active, previous: previous}
}

// Active returns the signer used for issuing tokens.
func (k *Keyring) Active() Signer {
	return k.active
}

// JWKS returns the public keys of every asymmetric signer in the keyring,
// active first. During a rotation window both keys are published so clients
// can verify tokens signed before the cutover. Errors when no signer is
// asymmetric.
func (k *Keyring) JWKS() (*keys.JWKS, error) {
	set := &keys.JWKS{}
	for _, signer := range []Signer{k.active, k.previous} {
		kp, ok := signer.(*KeyPairSigner)
		if !ok {
			continue
		}
		jwks, err := kp.GetJWKS()
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, jwks.Keys...)
	}
	if len(set.Keys) == 0 {
		return nil, errors.New("[Keyring JWKS] no asymmetric signing keys configured")
	}
	return set, nil
}

// Codec issues and verifies signed, time-bounded credential tokens. Issued
// tokens are self-contained: verification needs only the keyring and the
// clock, never a store lookup.
type Codec struct {
	keyring  *Keyring
	issuer   string
	audience string
	leeway   time.Duration
	nowFunc  func() time.Time
}

// CodecOption defines a function type to modify the Codec instance.
type CodecOption func(*Codec)

// WithIssuer sets the iss claim placed on issued tokens.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithAudience sets the aud claim placed on issued tokens.
func WithAudience(audience string) CodecOption {
	return func(c *Codec) {
		c.audience = audience
	}
}

// WithLeeway sets the clock-skew allowance for expiry checks. Values above a
// minute defeat the point of short-lived access tokens, so keep it small.
func WithLeeway(leeway time.Duration) CodecOption {
	return func(c *Codec) {
		c.leeway = leeway
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// NewCodec initializes a Codec with the given keyring.
func NewCodec(keyring *Keyring, options ...CodecOption) (*Codec, error) {
	if keyring == nil || keyring.active == nil {
		return nil, errors.New("[NewCodec] keyring with an active signer is required")
	}

	c := &Codec{
		keyring: keyring,
		leeway:  DefaultLeeway,
		nowFunc: time.Now,
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Issue produces a signed token of the given kind carrying claims, valid for
// ttl from now. Returns ErrEncoding when the claims cannot be serialized.
func (c *Codec) Issue(claims Claims, kind Kind, ttl time.Duration) (string, error) {
	now := c.nowFunc()

	wire := &wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.UserID,
			Audience:  c.audienceClaim(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		SessionID: claims.SessionID,
		RefreshID: claims.RefreshID,
		Kind:      string(kind),
	}

	signed, err := c.keyring.active.Sign(wire)
	if err != nil {
		return "", errors.Wrap(ErrEncoding, err.Error())
	}
	return signed, nil
}

// Verify checks the signature, kind tag, and expiry of a raw token and returns
// its claims. Failures are distinguishable: ErrTokenExpired,
// ErrTokenInvalidSignature, ErrTokenKindMismatch, or ErrTokenMalformed.
func (c *Codec) Verify(raw string, kind Kind) (*Claims, error) {
	wire, err := c.parse(raw, c.keyring.active)
	if err != nil && errors.Is(err, ErrTokenInvalidSignature) && c.keyring.previous != nil {
		// Rotation overlap: accept tokens signed by the previous key.
		wire, err = c.parse(raw, c.keyring.previous)
	}
	if err != nil {
		return nil, err
	}

	if Kind(wire.Kind) != kind {
		return nil, errors.Wrapf(ErrTokenKindMismatch, "got %q want %q", wire.Kind, kind)
	}

	return wire.toClaims(), nil
}

func (c *Codec) parse(raw string, signer Signer) (*wireClaims, error) {
	parser := jwt.NewParser(
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.nowFunc),
		jwt.WithValidMethods([]string{signer.GetSigningMethod().Alg()}),
		jwt.WithExpirationRequired(),
	)

	wire := &wireClaims{}
	parsed, err := parser.ParseWithClaims(raw, wire, signer.GetVerificationKey)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, errors.Wrap(ErrTokenExpired, err.Error())
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, errors.Wrap(ErrTokenInvalidSignature, err.Error())
		default:
			return nil, errors.Wrap(ErrTokenMalformed, err.Error())
		}
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	return wire, nil
}

func (c *Codec) audienceClaim() jwt.ClaimStrings {
	if c.audience == "" {
		return nil
	}
	return jwt.ClaimStrings{c.audience}
}
