package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testClientID = "client-123"

type fakeIdP struct {
	t      *testing.T
	srv    *httptest.Server
	key    jwk.Key
	pubSet jwk.Set

	mu            sync.Mutex
	challenge     string
	nonce         string
	emailVerified bool
	audience      string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	_ = key.Set(jwk.KeyIDKey, "kid-1")
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		t.Fatalf("PublicKeyOf: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	idp := &fakeIdP{t: t, key: key, pubSet: set, emailVerified: true, audience: testClientID}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc("/jwks", idp.jwks)
	mux.HandleFunc("/token", idp.token)
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (f *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":                 f.srv.URL,
		"authorization_endpoint": f.srv.URL + "/auth",
		"token_endpoint":         f.srv.URL + "/token",
		"jwks_uri":               f.srv.URL + "/jwks",
	})
}

func (f *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.pubSet)
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != f.challenge {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("code") != "good-code" {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}

	now := time.Now()
	tok := jwt.New()
	_ = tok.Set(jwt.IssuerKey, f.srv.URL)
	_ = tok.Set(jwt.AudienceKey, f.audience)
	_ = tok.Set(jwt.SubjectKey, "google-sub-1")
	_ = tok.Set(jwt.IssuedAtKey, now)
	_ = tok.Set(jwt.ExpirationKey, now.Add(time.Hour))
	_ = tok.Set("nonce", f.nonce)
	_ = tok.Set("email", "Creator@Example.com")
	_ = tok.Set("email_verified", f.emailVerified)
	_ = tok.Set("name", "Ada Creator")
	_ = tok.Set("picture", "https://example.com/ada.png")
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.key))
	if err != nil {
		f.t.Errorf("sign id token: %v", err)
		http.Error(w, "sign", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     string(signed),
	})
}

// authorize records what the browser would carry to the IdP.
func (f *fakeIdP) authorize(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("client_id") != testClientID {
		t.Fatalf("unexpected auth params: %v", q)
	}
	f.mu.Lock()
	f.challenge = q.Get("code_challenge")
	f.nonce = q.Get("nonce")
	f.mu.Unlock()
	return q.Get("state")
}

func newTestProvider(t *testing.T, idp *fakeIdP, states StateCache) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), OIDCConfig{
		Issuer:       idp.srv.URL,
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/callback",
		HTTPClient:   idp.srv.Client(),
	}, states)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestLoginFlow(t *testing.T) {
	idp := newFakeIdP(t)
	states := NewMemoryStateCache(time.Minute)
	p := newTestProvider(t, idp, states)
	ctx := context.Background()

	authURL, err := p.BeginLogin(ctx, "/?tab=ideas")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	state := idp.authorize(t, authURL)

	profile, returnTo, err := p.CompleteLogin(ctx, state, "good-code")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if profile.Subject != "google-sub-1" || profile.Email != "Creator@Example.com" || profile.Name != "Ada Creator" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Picture != "https://example.com/ada.png" {
		t.Fatalf("unexpected picture: %q", profile.Picture)
	}
	if returnTo != "/?tab=ideas" {
		t.Fatalf("unexpected returnTo: %q", returnTo)
	}

	if _, _, err := p.CompleteLogin(ctx, state, "good-code"); err != ErrUnknownState {
		t.Fatalf("replayed state must fail, got %v", err)
	}
}

func TestLoginRejectsUnknownState(t *testing.T) {
	idp := newFakeIdP(t)
	p := newTestProvider(t, idp, NewMemoryStateCache(time.Minute))
	if _, _, err := p.CompleteLogin(context.Background(), "never-issued", "good-code"); err != ErrUnknownState {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
}

func TestLoginRejectsNonceMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	p := newTestProvider(t, idp, NewMemoryStateCache(time.Minute))
	ctx := context.Background()

	authURL, err := p.BeginLogin(ctx, "/")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	state := idp.authorize(t, authURL)
	idp.mu.Lock()
	idp.nonce = "forged"
	idp.mu.Unlock()

	if _, _, err := p.CompleteLogin(ctx, state, "good-code"); err == nil {
		t.Fatalf("expected nonce mismatch error")
	}
}

func TestLoginRejectsWrongAudience(t *testing.T) {
	idp := newFakeIdP(t)
	idp.audience = "someone-else"
	p := newTestProvider(t, idp, NewMemoryStateCache(time.Minute))
	ctx := context.Background()

	authURL, _ := p.BeginLogin(ctx, "/")
	state := idp.authorize(t, authURL)
	if _, _, err := p.CompleteLogin(ctx, state, "good-code"); err == nil {
		t.Fatalf("expected audience error")
	}
}

func TestLoginRejectsUnverifiedEmail(t *testing.T) {
	idp := newFakeIdP(t)
	idp.emailVerified = false
	p := newTestProvider(t, idp, NewMemoryStateCache(time.Minute))
	ctx := context.Background()

	authURL, _ := p.BeginLogin(ctx, "/")
	state := idp.authorize(t, authURL)
	if _, _, err := p.CompleteLogin(ctx, state, "good-code"); err != ErrEmailUnverified {
		t.Fatalf("expected ErrEmailUnverified, got %v", err)
	}
}

func TestLoginRejectsBadCode(t *testing.T) {
	idp := newFakeIdP(t)
	p := newTestProvider(t, idp, NewMemoryStateCache(time.Minute))
	ctx := context.Background()

	authURL, _ := p.BeginLogin(ctx, "/")
	state := idp.authorize(t, authURL)
	if _, _, err := p.CompleteLogin(ctx, state, "bad-code"); err == nil {
		t.Fatalf("expected token exchange error")
	}
}

func TestNewProviderRequiresClientID(t *testing.T) {
	if _, err := NewProvider(context.Background(), OIDCConfig{}, NewMemoryStateCache(0)); err != ErrLoginDisabled {
		t.Fatalf("expected ErrLoginDisabled, got %v", err)
	}
}

func TestSafeReturnTo(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/?tab=retention":      "/?tab=retention",
		"https://evil.example": "/",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
	}
	for in, want := range cases {
		if got := safeReturnTo(in); got != want {
			t.Fatalf("safeReturnTo(%q) = %q, want %q", in, got, want)
		}
	}
}
