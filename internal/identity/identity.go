package identity

import "strings"

// DefaultDisplayName is shown when the identity layer reports no usable name.
const DefaultDisplayName = "Creator"

// Well-known field names read from the identity layer.
const (
	FieldSubject = "sub"
	FieldEmail   = "email"
	FieldName    = "name"
	FieldPicture = "picture"
)

// Principal is the authenticated creator for the current request.
// It is rebuilt on every request and never persisted.
type Principal struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// FieldSource exposes identity attributes by name regardless of how the
// identity layer stores them.
type FieldSource interface {
	Field(name string) (string, bool)
}

// Session is the identity layer's view of the current request.
type Session interface {
	FieldSource
	IsLoggedIn() bool
}

// Resolve builds a Principal from src. Missing or unreadable fields resolve
// to their defaults; Resolve never fails.
func Resolve(src FieldSource) Principal {
	p := Principal{DisplayName: DefaultDisplayName}
	if src == nil {
		return p
	}
	if email, ok := readField(src, FieldEmail); ok {
		p.Email = NormalizeEmail(email)
	}
	if name, ok := readField(src, FieldName); ok {
		if name = strings.TrimSpace(name); name != "" {
			p.DisplayName = name
		}
	}
	return p
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// readField treats a panicking adapter the same as an absent field.
func readField(src FieldSource, name string) (value string, ok bool) {
	defer func() {
		if recover() != nil {
			value, ok = "", false
		}
	}()
	return src.Field(name)
}
