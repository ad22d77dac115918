package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateSignUp checks the staged sign-up fields. It does not check whether
// the email is already registered.
func ValidateSignUp(email, password, name string) error {
	if email == "" || password == "" || name == "" {
		return ErrSignUpIncomplete
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return ValidateName(name)
}

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}

	if len(email) > 254 {
		return fmt.Errorf("email must not exceed 254 characters")
	}

	return nil
}
