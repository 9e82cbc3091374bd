package deskapi

import (
	"net/mail"
	"strings"
)

// ValidateEmail checks that email is a bare address such as a@b.co.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return Validation("email", "Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return Validation("email", "Enter a valid email address")
	}
	return nil
}
