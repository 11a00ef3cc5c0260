package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errKeyNotFound   = errors.New("signing key not found in JWKS")
	errNoUsableKeys  = errors.New("jwks document contained no usable keys")
	errBadJWKPayload = errors.New("jwk is not a usable RSA signing key")
)

// keySet fetches Google's published signing keys and caches them for ttl.
// A kid missing from a fresh cache forces one refetch, which covers key rotation.
type keySet struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func newKeySet(url string, client *http.Client, ttl time.Duration, logger *zap.Logger) *keySet {
	return &keySet{url: url, client: client, ttl: ttl, logger: logger}
}

func (s *keySet) key(ctx context.Context, keyID string, now time.Time) (*rsa.PublicKey, error) {
	if key, fresh := s.cached(keyID, now); key != nil {
		return key, nil
	} else if fresh {
		s.logger.Debug("unknown kid, refetching jwks", zap.String("kid", keyID))
	}

	keys, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.keys = keys
	s.expiresAt = now.Add(s.ttl)
	s.mu.Unlock()

	if key, ok := keys[keyID]; ok {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (s *keySet) cached(keyID string, now time.Time) (key *rsa.PublicKey, fresh bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil || now.After(s.expiresAt) {
		return nil, false
	}
	return s.keys[keyID], true
}

func (s *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, candidate := range document.Keys {
		publicKey, err := candidate.rsaPublicKey()
		if err != nil {
			s.logger.Debug("skipping jwk", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		keys[candidate.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return keys, nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.KeyType != "RSA" || k.Use != "sig" || k.KeyID == "" {
		return nil, errBadJWKPayload
	}
	modulus, err := decodeBase64Int(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponent, err := decodeBase64Int(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !exponent.IsInt64() || exponent.Int64() < 3 || exponent.Int64() > 1<<31-1 {
		return nil, errBadJWKPayload
	}
	return &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}, nil
}

func decodeBase64Int(encoded string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errBadJWKPayload
	}
	return new(big.Int).SetBytes(raw), nil
}
