package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidIssuerConfig wraps constructor validation failures.
	ErrInvalidIssuerConfig = errors.New("auth: invalid token issuer config")
	// ErrInvalidBackendToken wraps every reason a bearer token is refused; the jwt cause stays matchable.
	ErrInvalidBackendToken = errors.New("auth: invalid backend token")

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints the HS256 bearer tokens handed out after Google sign-in and checks them on
// every authenticated request. The subject is the caller's Google account id.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
	parser   *jwt.Parser
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	var problem error
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	switch {
	case len(cfg.SigningSecret) == 0:
		problem = errMissingSigningSecret
	case issuer == "":
		problem = errMissingIssuer
	case audience == "":
		problem = errMissingAudience
	case cfg.TokenTTL <= 0:
		problem = errNonPositiveTTL
	}
	if problem != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerConfig, problem)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		secret:   cfg.SigningSecret,
		issuer:   issuer,
		audience: audience,
		ttl:      cfg.TokenTTL,
		clock:    clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// IssueBackendToken signs a token for subject and returns it with its lifetime in seconds.
func (i *TokenIssuer) IssueBackendToken(subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	issuedAt := i.clock().UTC().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.ttl)),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign backend token: %w", err)
	}
	return signed, int64(i.ttl / time.Second), nil
}

// ValidateToken checks signature, issuer, audience and lifetime and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := i.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBackendToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidBackendToken, errMissingSubjectClaim)
	}
	return claims.Subject, nil
}
