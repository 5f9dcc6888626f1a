package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	BotFrameworkIssuer = "https://api.botframework.com"
	defaultLeeway      = 5 * time.Minute
)

// DefaultJWKSURLs are the signing key sets for Bot Framework channel tokens
// and Entra ID issued tokens.
var DefaultJWKSURLs = []string{
	"https://login.botframework.com/v1/.well-known/keys",
	"https://login.microsoftonline.com/common/discovery/v2.0/keys",
}

var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims are the token claims the handler cares about.
type Claims struct {
	jwt.RegisteredClaims
	ServiceURL string `json:"serviceurl,omitempty"`
	AppID      string `json:"appid,omitempty"`
	AZP        string `json:"azp,omitempty"`
}

// TokenVerifier validates the bearer token of an inbound request.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Verifier validates channel-issued RS256 tokens.
type Verifier struct {
	keyfunc  jwt.Keyfunc
	audience string
	issuers  []string
	leeway   time.Duration
}

type Option func(*Verifier)

// WithTenant additionally trusts tokens issued by the given Entra tenant.
func WithTenant(tenantID string) Option {
	return func(v *Verifier) {
		tenantID = strings.TrimSpace(tenantID)
		if tenantID == "" {
			return
		}
		v.issuers = append(v.issuers,
			"https://sts.windows.net/"+tenantID+"/",
			"https://login.microsoftonline.com/"+tenantID+"/v2.0",
		)
	}
}

func WithIssuers(issuers ...string) Option {
	return func(v *Verifier) {
		v.issuers = append([]string(nil), issuers...)
	}
}

func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

func NewVerifier(kf jwt.Keyfunc, audience string, opts ...Option) (*Verifier, error) {
	if kf == nil {
		return nil, errors.New("auth: keyfunc must not be nil")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("auth: audience must not be empty")
	}
	v := &Verifier{
		keyfunc:  kf,
		audience: audience,
		issuers:  []string{BotFrameworkIssuer},
		leeway:   defaultLeeway,
	}
	for _, opt := range opts {
		opt(v)
	}
	if len(v.issuers) == 0 {
		return nil, errors.New("auth: at least one issuer is required")
	}
	return v, nil
}

// NewJWKSVerifier builds a Verifier whose keys come from the given JWKS
// endpoints. keyfunc refreshes the cached keys in the background for the
// lifetime of ctx.
func NewJWKSVerifier(ctx context.Context, jwksURLs []string, audience string, opts ...Option) (*Verifier, error) {
	if len(jwksURLs) == 0 {
		return nil, errors.New("auth: at least one JWKS URL is required")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, jwksURLs)
	if err != nil {
		return nil, fmt.Errorf("auth: create JWKS client: %w", err)
	}
	return NewVerifier(jwks.Keyfunc, audience, opts...)
}

func (v *Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token is invalid", ErrUnauthorized)
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: untrusted issuer %q", ErrUnauthorized, claims.Issuer)
	}
	return claims, nil
}

// Anonymous accepts every request. It is used when no client id is
// configured, e.g. against a local emulator.
type Anonymous struct{}

func (Anonymous) Verify(context.Context, string) (*Claims, error) {
	return &Claims{}, nil
}
