package recovery

import (
	"errors"
	"unicode"
)

var (
	ErrMissingFields    = errors.New("Please fill in all fields")
	ErrPasswordMismatch = errors.New("Passwords do not match")
	ErrWeakPassword     = errors.New("Password must be at least 8 characters long with one uppercase letter, one lowercase letter, one number, and one special character.")
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

// ValidatePassword applies the password policy before any remote call
func ValidatePassword(password, confirm string) error {
	if password == "" || confirm == "" {
		return ErrMissingFields
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if !StrongPassword(password) {
		return ErrWeakPassword
	}
	return nil
}

// StrongPassword reports whether password has the required length and
// at least one ASCII uppercase, lowercase, digit and symbol character.
func StrongPassword(password string) bool {
	if len([]rune(password)) < MinPasswordLength {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
