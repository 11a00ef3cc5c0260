// Package ids issues identifiers for persisted records.
package ids

import "github.com/google/uuid"

// Provider issues new unique identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Valid reports whether value parses as a UUID.
func Valid(value string) bool {
	return uuid.Validate(value) == nil
}
