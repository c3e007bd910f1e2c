package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Identity is the signed-in user as reported by the identity provider.
// A nil *Identity means signed out.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName prefers the name, then the email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if n := strings.TrimSpace(i.Name); n != "" {
		return n
	}
	return strings.TrimSpace(i.Email)
}

// Initial is the avatar letter: first letter of the display name, upper-cased.
func (i *Identity) Initial() string {
	r, _ := utf8.DecodeRuneInString(i.DisplayName())
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

// SameIdentity compares by ID; two nil identities are the same.
func SameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
