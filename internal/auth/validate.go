package auth

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	hasLetter    = regexp.MustCompile(`[A-Za-z]`)
	hasDigit     = regexp.MustCompile(`\d`)
)

// ValidateEmail reports whether email looks like an address.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword checks the strength rules: at least six characters
// with at least one letter and one digit.
func ValidatePassword(password string) error {
	err := validation.Validate(password,
		validation.RuneLength(6, 0).Error(shortPasswordMessage),
		validation.Match(hasLetter).Error(passwordMixMessage),
		validation.Match(hasDigit).Error(passwordMixMessage),
	)
	if err != nil {
		return &InputError{Message: err.Error()}
	}
	return nil
}

// ValidateSignIn checks the fields required by every credential form.
func ValidateSignIn(email, password string) error {
	if email == "" || password == "" {
		return &InputError{Message: missingFieldsMessage}
	}
	if err := validation.Validate(email, validation.Match(emailPattern).Error(invalidEmailMessage)); err != nil {
		return &InputError{Message: err.Error()}
	}
	return nil
}

// ValidateSignUp runs the sign-in checks, the password rules and requires
// a display name.
func ValidateSignUp(email, password, displayName string) error {
	if err := ValidateSignIn(email, password); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if err := validation.Validate(strings.TrimSpace(displayName), validation.Required.Error(missingNameMessage)); err != nil {
		return &InputError{Message: err.Error()}
	}
	return nil
}
