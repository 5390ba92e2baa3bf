package account

import "errors"

var (
	// ErrInvalidCredentials is shown to clients for any failed login so it
	// cannot reveal which phone numbers are registered.
	ErrInvalidCredentials = errors.New("incorrect phone number or password")

	ErrPhoneTaken   = errors.New("phone number already registered")
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
	ErrUserDisabled = errors.New("user disabled")
	ErrNoSessions   = errors.New("login is not configured")
)

// ValidationError reports a field the client must fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
