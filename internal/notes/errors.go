package notes

import (
	"errors"
	"fmt"
)

// Kind classifies note service failures. The set is closed.
type Kind int

const (
	// KindInvalidData marks client-correctable input; nothing was mutated.
	KindInvalidData Kind = iota + 1
	// KindUploadFailed marks an object-store or commit failure after side effects were compensated.
	KindUploadFailed
	// KindDatabase marks a storage engine failure.
	KindDatabase
	// KindBadVote marks an unrecognised vote token.
	KindBadVote
	// KindNotFound marks a missing note or user.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid_data"
	case KindUploadFailed:
		return "upload_failed"
	case KindDatabase:
		return "database_error"
	case KindBadVote:
		return "bad_vote"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ServiceError carries a kind, a dotted operation.reason code, and a user-facing message.
type ServiceError struct {
	kind    Kind
	code    string
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code + ": " + e.message
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() Kind {
	return e.kind
}

// Message is safe to show to API clients.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(kind Kind, operation, reason, message string, cause error) *ServiceError {
	return &ServiceError{
		kind:    kind,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

// AsServiceError extracts a *ServiceError from err.
func AsServiceError(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}

// KindOf returns the kind of a ServiceError, or zero for other errors.
func KindOf(err error) Kind {
	if serviceErr, ok := AsServiceError(err); ok {
		return serviceErr.kind
	}
	return 0
}
