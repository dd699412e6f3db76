package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tubepilot.app/internal/identity"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("   "); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t)
	token, exp, err := m.Issue(Profile{Subject: "g-1", Email: "Paid@Creator.com", Name: "Ada", Picture: "https://img/1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if d := time.Until(exp); d < DefaultTTL-time.Minute || d > DefaultTTL {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "g-1" || claims.Email != "Paid@Creator.com" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if v, ok := claims.Field(identity.FieldPicture); !ok || v != "https://img/1" {
		t.Fatalf("picture field = %q, %v", v, ok)
	}
	if _, ok := claims.Field("roles"); ok {
		t.Fatalf("unknown field should be absent")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	m := newTestManager(t)
	token, _, err := m.Issue(Profile{Subject: "g-1", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other, _ := NewManager("other-secret")
	if _, err := other.Parse(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := m.Parse(token + "x"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for bad signature, got %v", err)
	}
	if _, err := m.Parse(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestParseRejectsForeignIssuerAndAlg(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "g-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected issuer rejection, got %v", err)
	}

	claims.Issuer = issuer
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected alg rejection, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	past := time.Now().Add(-30 * 24 * time.Hour)
	issuerMgr := newTestManager(t, WithClock(func() time.Time { return past }))
	token, _, err := issuerMgr.Issue(Profile{Subject: "g-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := newTestManager(t).Parse(token); err != ErrInvalidToken {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestLoginCookieRoundTrip(t *testing.T) {
	m := newTestManager(t, WithTTL(time.Hour), WithSecureCookies(true))
	rec := httptest.NewRecorder()
	if err := m.Login(rec, Profile{Subject: "g-1", Email: " Paid@Creator.com ", Name: "Ada"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || !c.HttpOnly || !c.Secure || c.MaxAge != 3600 {
		t.Fatalf("unexpected cookie: %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	sess := m.FromRequest(req)
	if !sess.IsLoggedIn() {
		t.Fatalf("expected logged-in session")
	}
	p := identity.Resolve(sess)
	if p.Email != "paid@creator.com" || p.DisplayName != "Ada" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestFromRequestWithoutValidCookie(t *testing.T) {
	m := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if m.FromRequest(req).IsLoggedIn() {
		t.Fatalf("no cookie must be anonymous")
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	if m.FromRequest(req).IsLoggedIn() {
		t.Fatalf("invalid cookie must be anonymous")
	}
	var nilMgr *Manager
	if nilMgr.FromRequest(req).IsLoggedIn() {
		t.Fatalf("nil manager must be anonymous")
	}
}

func TestClearExpiresCookie(t *testing.T) {
	m := newTestManager(t)
	rec := httptest.NewRecorder()
	m.Clear(rec)
	header := rec.Header().Get("Set-Cookie")
	if !strings.Contains(header, CookieName+"=") || !strings.Contains(header, "Max-Age=0") {
		t.Fatalf("unexpected Set-Cookie: %s", header)
	}
}
