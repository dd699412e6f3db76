package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"tubepilot.app/internal/entitlement"
	"tubepilot.app/internal/obs"
)

// ErrMissingKey is returned by Validate when the Stripe secret is empty.
var ErrMissingKey = errors.New("billing: stripe api key is empty")

const defaultHTTPTimeout = 10 * time.Second

// Stripe answers entitlement lookups against the Stripe REST API.
type Stripe struct {
	api *client.API
	key string
}

type options struct {
	backendURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures the Stripe provider.
type Option func(*options)

// WithBackendURL points the SDK at a different API host (tests, stripe-mock).
func WithBackendURL(url string) Option {
	return func(o *options) { o.backendURL = strings.TrimSpace(url) }
}

// WithHTTPClient overrides the HTTP client used for Stripe calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger overrides the logger handed to the SDK.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewStripe builds a provider with network retries disabled; the oracle
// treats any failure as a denial instead.
func NewStripe(apiKey string, opts ...Option) *Stripe {
	o := options{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = obs.Logger()
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		LeveledLogger:     o.logger.Named("stripe").Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if o.backendURL != "" {
		cfg.URL = stripe.String(o.backendURL)
	}

	key := strings.TrimSpace(apiKey)
	return &Stripe{api: client.New(key, stripe.NewBackendsWithConfig(cfg)), key: key}
}

// Validate reports whether the provider has a usable credential.
func (s *Stripe) Validate() error {
	if s == nil || s.key == "" {
		return ErrMissingKey
	}
	return nil
}

// FindCustomerByEmail lists at most limit customers whose email matches.
func (s *Stripe) FindCustomerByEmail(ctx context.Context, email string, limit int) ([]entitlement.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true

	var out []entitlement.Customer
	it := s.api.Customers.List(params)
	for it.Next() {
		c := it.Customer()
		out = append(out, entitlement.Customer{ID: c.ID, Email: c.Email})
		if len(out) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActiveSubscriptions lists at most limit active subscriptions of a customer.
func (s *Stripe) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]entitlement.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true

	var out []entitlement.Subscription
	it := s.api.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		out = append(out, entitlement.Subscription{
			ID:         sub.ID,
			CustomerID: customerID,
			Status:     string(sub.Status),
		})
		if len(out) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ entitlement.BillingProvider = (*Stripe)(nil)
