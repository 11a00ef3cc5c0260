package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL = 10 * time.Minute
	googleIssuer        = "https://accounts.google.com"
	googleIssuerBare    = "accounts.google.com"
)

var (
	// ErrInvalidGoogleToken wraps every reason a Google ID token is rejected.
	ErrInvalidGoogleToken = errors.New("auth: invalid google id token")
	// ErrDomainNotAllowed means the token is genuine but the account is outside the allowed campus domains.
	ErrDomainNotAllowed = errors.New("auth: google account domain not allowed")
	// ErrInvalidVerifierConfig reports a GoogleVerifier constructed with unusable settings.
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")

	errMissingToken          = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
)

// GoogleVerifierConfig configures Google ID token verification.
// AllowedDomains, when non-empty, restricts sign-in to accounts whose hosted
// domain (or verified email domain) is listed.
type GoogleVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	AllowedDomains []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// GoogleClaims is the verified identity and profile carried by a Google ID token.
type GoogleClaims struct {
	Subject       string
	Issuer        string
	Expiry        time.Time
	Email         string
	EmailVerified bool
	HostedDomain  string
	Name          string
	Picture       string
}

type googleIDTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	HostedDomain  string `json:"hd"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens offline against the cached JWKS.
type GoogleVerifier struct {
	parser  *jwt.Parser
	keys    *keySet
	clock   func() time.Time
	issuers map[string]struct{}
	domains map[string]struct{}
}

// NewGoogleVerifier validates the configuration and constructs a GoogleVerifier.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	issuers := map[string]struct{}{googleIssuer: {}, googleIssuerBare: {}}
	if cfg.AllowedIssuers != nil {
		issuers = normalizedSet(cfg.AllowedIssuers, false)
		if len(issuers) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
		}
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &GoogleVerifier{
		parser: jwt.NewParser(
			jwt.WithAudience(audience),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
		keys:    newKeySet(jwksURL, httpClient, cacheTTL, logger),
		clock:   clock,
		issuers: issuers,
		domains: normalizedSet(cfg.AllowedDomains, true),
	}, nil
}

// Verify validates the raw ID token and returns its identity claims.
// Rejections wrap ErrInvalidGoogleToken, or ErrDomainNotAllowed for accounts outside the allowed domains.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, errMissingToken)
	}

	claims := &googleIDTokenClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		keyID, _ := token.Header["kid"].(string)
		if keyID == "" {
			return nil, errMissingKeyIdentifier
		}
		return v.keys.key(ctx, keyID, v.clock())
	})
	if err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, err)
	}

	if _, trusted := v.issuers[claims.Issuer]; !trusted {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, errUntrustedIssuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidGoogleToken, errMissingSubject)
	}

	verified := GoogleClaims{
		Subject:       claims.Subject,
		Issuer:        claims.Issuer,
		Expiry:        claims.ExpiresAt.Time,
		Email:         strings.TrimSpace(claims.Email),
		EmailVerified: claims.EmailVerified,
		HostedDomain:  strings.ToLower(strings.TrimSpace(claims.HostedDomain)),
		Name:          strings.TrimSpace(claims.Name),
		Picture:       strings.TrimSpace(claims.Picture),
	}
	if !v.domainAllowed(verified) {
		return GoogleClaims{}, ErrDomainNotAllowed
	}
	return verified, nil
}

func (v *GoogleVerifier) domainAllowed(claims GoogleClaims) bool {
	if len(v.domains) == 0 {
		return true
	}
	if _, ok := v.domains[claims.HostedDomain]; ok && claims.HostedDomain != "" {
		return true
	}
	if !claims.EmailVerified {
		return false
	}
	at := strings.LastIndex(claims.Email, "@")
	if at < 0 {
		return false
	}
	_, ok := v.domains[strings.ToLower(claims.Email[at+1:])]
	return ok
}

func normalizedSet(values []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}
