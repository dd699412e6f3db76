package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tubepilot.app/internal/identity"
)

const (
	// CookieName carries the signed session token.
	CookieName = "tp_session"
	// DefaultTTL is the lifetime of a session when none is configured.
	DefaultTTL = 7 * 24 * time.Hour

	issuer       = "tubepilot"
	maxClockSkew = 5 * time.Second
)

var (
	// ErrMissingSecret means no signing secret was configured.
	ErrMissingSecret = errors.New("session: secret is not configured")
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("session: invalid token")
)

// Profile is the identity captured at login and stored in the session.
type Profile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Claims is the session token payload. It is read through identity.FieldSource.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Field exposes claims by identity field name.
func (c *Claims) Field(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	var v string
	switch name {
	case identity.FieldSubject:
		v = c.Subject
	case identity.FieldEmail:
		v = c.Email
	case identity.FieldName:
		v = c.Name
	case identity.FieldPicture:
		v = c.Picture
	default:
		return "", false
	}
	return v, v != ""
}

// Manager mints and verifies HS256 session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecureCookies marks cookies Secure; enable behind HTTPS.
func WithSecureCookies(secure bool) ManagerOption {
	return func(m *Manager) { m.secure = secure }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager signing with secret.
func NewManager(secret string, opts ...ManagerOption) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	m := &Manager{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a session token for p.
func (m *Manager) Issue(p Profile) (string, time.Time, error) {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return "", time.Time{}, errors.New("session: subject is required")
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	claims := Claims{
		Email:   strings.TrimSpace(p.Email),
		Name:    strings.TrimSpace(p.Name),
		Picture: strings.TrimSpace(p.Picture),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the token signature and required claims.
func (m *Manager) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(maxClockSkew),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Login issues a token for p and sets it as the session cookie.
func (m *Manager) Login(w http.ResponseWriter, p Profile) error {
	token, exp, err := m.Issue(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest returns the caller's session. A missing or invalid cookie
// yields identity.Anonymous.
func (m *Manager) FromRequest(r *http.Request) identity.Session {
	if m == nil || r == nil {
		return identity.Anonymous
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return identity.Anonymous
	}
	claims, err := m.Parse(c.Value)
	if err != nil {
		return identity.Anonymous
	}
	return identity.LoggedIn(claims)
}
