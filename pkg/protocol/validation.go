package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxContentLength is the maximum message length in characters
	DefaultMaxContentLength = 500

	MinPasswordLength = 6
)

var (
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLong   = errors.New("message content exceeds maximum length")
	ErrInvalidUsername  = errors.New("username must be 3-20 characters, letters, digits and _ only")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// ValidateContent trims content and checks it against the length limit.
// Length is counted in characters, not bytes. Returns the trimmed content.
func ValidateContent(content string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxContentLength
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", fmt.Errorf("%w (max %d characters)", ErrContentTooLong, maxLength)
	}
	return trimmed, nil
}

// ValidateUsername checks a username for account registration
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidatePassword checks a password for account registration
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// ErrorCodeFor maps a validation error to its wire error code
func ErrorCodeFor(err error) uint16 {
	switch {
	case errors.Is(err, ErrEmptyContent):
		return ErrCodeEmptyMessage
	case errors.Is(err, ErrContentTooLong):
		return ErrCodeMessageTooLong
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrMissingEvent), errors.Is(err, ErrFrameTooLarge):
		return ErrCodeInvalidFormat
	default:
		return ErrCodeInvalidInput
	}
}
