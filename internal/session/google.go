package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"

	"tubepilot.app/internal/identity"
)

// GoogleIssuer is Google's OpenID Connect issuer.
const GoogleIssuer = "https://accounts.google.com"

var (
	// ErrLoginDisabled means no OAuth client is configured.
	ErrLoginDisabled = errors.New("session: login is not configured")
	// ErrUnknownState means the callback state was never issued, already used or expired.
	ErrUnknownState = errors.New("session: unknown or expired login state")
	// ErrEmailUnverified means the identity provider flagged the email as unverified.
	ErrEmailUnverified = errors.New("session: email not verified")
)

var defaultScopes = []string{"openid", "email", "profile"}

// OIDCConfig describes the relying party registration.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// Provider runs the authorization code flow with PKCE and nonce against an
// OpenID Connect issuer (Google by default).
type Provider struct {
	issuer   string
	clientID string
	jwksURL  string
	oauth    *oauth2.Config
	states   StateCache
	client   *http.Client
}

type discoveryDoc struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// NewProvider discovers the issuer metadata and returns a ready Provider.
func NewProvider(ctx context.Context, cfg OIDCConfig, states StateCache) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrLoginDisabled
	}
	if states == nil {
		return nil, errors.New("session: state cache is required")
	}
	issuer := strings.TrimRight(strings.TrimSpace(cfg.Issuer), "/")
	if issuer == "" {
		issuer = GoogleIssuer
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	doc, err := discover(ctx, client, issuer)
	if err != nil {
		return nil, err
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &Provider{
		issuer:   doc.Issuer,
		clientID: cfg.ClientID,
		jwksURL:  doc.JWKSURI,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  doc.AuthorizationEndpoint,
				TokenURL: doc.TokenEndpoint,
			},
		},
		states: states,
		client: client,
	}, nil
}

func discover(ctx context.Context, client *http.Client, issuer string) (*discoveryDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: oidc discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session: oidc discovery failed: %s", resp.Status)
	}
	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("session: decode discovery: %w", err)
	}
	if got := strings.TrimRight(doc.Issuer, "/"); got != "" && got != issuer {
		return nil, fmt.Errorf("session: oidc issuer mismatch: %s", doc.Issuer)
	}
	if doc.Issuer == "" {
		doc.Issuer = issuer
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return nil, errors.New("session: oidc discovery missing endpoints")
	}
	return &doc, nil
}

// BeginLogin stores fresh login state and returns the authorization URL.
func (p *Provider) BeginLogin(ctx context.Context, returnTo string) (string, error) {
	state, err := randomToken()
	if err != nil {
		return "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	if err := p.states.Put(ctx, state, StateData{Verifier: verifier, Nonce: nonce, ReturnTo: safeReturnTo(returnTo)}); err != nil {
		return "", fmt.Errorf("session: store login state: %w", err)
	}
	return p.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// CompleteLogin consumes the login state, exchanges the code and verifies
// the ID token. It returns the profile and the path to send the user back to.
func (p *Provider) CompleteLogin(ctx context.Context, state, code string) (Profile, string, error) {
	if strings.TrimSpace(state) == "" || strings.TrimSpace(code) == "" {
		return Profile{}, "", ErrUnknownState
	}
	data, ok, err := p.states.Take(ctx, state)
	if err != nil {
		return Profile{}, "", fmt.Errorf("session: load login state: %w", err)
	}
	if !ok {
		return Profile{}, "", ErrUnknownState
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(data.Verifier))
	if err != nil {
		return Profile{}, "", fmt.Errorf("session: token exchange: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Profile{}, "", errors.New("session: no id_token in response")
	}

	claims, err := p.verifyIDToken(ctx, rawIDToken, data.Nonce)
	if err != nil {
		return Profile{}, "", err
	}
	if v, ok := claims["email_verified"].(bool); ok && !v {
		return Profile{}, "", ErrEmailUnverified
	}
	return profileFrom(claims), data.ReturnTo, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, raw, nonce string) (identity.Map, error) {
	keySet, err := jwk.Fetch(ctx, p.jwksURL, jwk.WithHTTPClient(p.client))
	if err != nil {
		return nil, fmt.Errorf("session: jwks fetch: %w", err)
	}
	token, err := jwt.ParseString(raw,
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.clientID),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("session: id_token verification: %w", err)
	}
	got, _ := token.Get("nonce")
	if s, _ := got.(string); s == "" || s != nonce {
		return nil, errors.New("session: id_token nonce mismatch")
	}
	claims, err := token.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: id_token claims: %w", err)
	}
	return identity.Map(claims), nil
}

func profileFrom(src identity.FieldSource) Profile {
	var p Profile
	p.Subject, _ = src.Field(identity.FieldSubject)
	p.Email, _ = src.Field(identity.FieldEmail)
	p.Name, _ = src.Field(identity.FieldName)
	p.Picture, _ = src.Field(identity.FieldPicture)
	return p
}

// safeReturnTo keeps redirects on this site.
func safeReturnTo(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return "/"
	}
	return s
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
