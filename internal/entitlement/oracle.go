package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/obs"
)

// DefaultTimeout bounds a whole billing lookup (customer + subscriptions).
const DefaultTimeout = 5 * time.Second

// Config is the immutable oracle configuration, loaded once at start-up.
type Config struct {
	// AllowList holds operator emails that are always entitled.
	AllowList []string
	// BillingConfigured reports whether a billing credential is present.
	BillingConfigured bool
	// Timeout bounds each billing lookup; zero means DefaultTimeout.
	Timeout time.Duration
}

// Oracle decides whether an email has paid access.
// It holds read-only state and is safe for concurrent use.
type Oracle struct {
	allow             map[string]struct{}
	billingConfigured bool
	provider          BillingProvider
	timeout           time.Duration
	logger            *zap.Logger
}

// Option configures Oracle behavior.
type Option func(*Oracle)

// WithLogger overrides the logger (useful for tests).
func WithLogger(l *zap.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// New constructs an Oracle. A nil provider is treated as unconfigured billing.
func New(cfg Config, provider BillingProvider, opts ...Option) *Oracle {
	allow := make(map[string]struct{}, len(cfg.AllowList))
	for _, email := range cfg.AllowList {
		if email = identity.NormalizeEmail(email); email != "" {
			allow[email] = struct{}{}
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	o := &Oracle{
		allow:             allow,
		billingConfigured: cfg.BillingConfigured && provider != nil,
		provider:          provider,
		timeout:           timeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = obs.Logger()
	}
	return o
}

// IsEntitled reports whether email currently has paid access.
func (o *Oracle) IsEntitled(ctx context.Context, email string) bool {
	return o.Check(ctx, email).Entitled
}

// Check evaluates the decision rules in order; the first match wins.
// Any billing failure denies access.
func (o *Oracle) Check(ctx context.Context, email string) Decision {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return Decision{Reason: ReasonNoEmail}
	}
	if o.AllowListed(email) {
		return Decision{Entitled: true, Reason: ReasonAllowListed}
	}
	if !o.billingConfigured {
		return Decision{Reason: ReasonBillingUnconfigured}
	}

	res := o.Lookup(ctx, email)
	switch res.Status {
	case LookupEntitled:
		return Decision{Entitled: true, Reason: ReasonSubscriptionActive}
	case LookupUnavailable:
		o.logger.Warn("billing lookup failed; denying access", zap.Error(res.Err))
		return Decision{Reason: ReasonProviderUnavailable}
	default:
		if res.CustomerFound {
			return Decision{Reason: ReasonNoActiveSubscription}
		}
		return Decision{Reason: ReasonNoCustomer}
	}
}

// AllowListed reports whether email is on the operator allow-list.
func (o *Oracle) AllowListed(email string) bool {
	_, ok := o.allow[identity.NormalizeEmail(email)]
	return ok
}

// BillingConfigured reports whether lookups will reach the billing provider.
func (o *Oracle) BillingConfigured() bool {
	return o.billingConfigured
}

// Lookup queries the billing provider once, without retry, bounded by the
// configured timeout. A provider that ignores cancellation is abandoned when
// the deadline passes.
func (o *Oracle) Lookup(ctx context.Context, email string) LookupResult {
	if !o.billingConfigured {
		return LookupResult{Status: LookupUnavailable, Err: fmt.Errorf("%w: billing not configured", ErrProviderUnavailable)}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan LookupResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- LookupResult{Status: LookupUnavailable, Err: fmt.Errorf("%w: panic: %v", ErrProviderUnavailable, p)}
			}
		}()
		done <- o.lookup(ctx, email)
	}()

	var res LookupResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = LookupResult{Status: LookupUnavailable, Err: fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())}
	}
	obs.ObserveBillingLookup(res.Status.String(), time.Since(start))
	return res
}

func (o *Oracle) lookup(ctx context.Context, email string) LookupResult {
	customers, err := o.provider.FindCustomerByEmail(ctx, email, CustomerLookupLimit)
	if err != nil {
		return LookupResult{Status: LookupUnavailable, Err: fmt.Errorf("%w: find customer: %v", ErrProviderUnavailable, err)}
	}
	if len(customers) == 0 {
		return LookupResult{Status: LookupNotEntitled}
	}
	subs, err := o.provider.ListActiveSubscriptions(ctx, customers[0].ID, SubscriptionLookupLimit)
	if err != nil {
		return LookupResult{Status: LookupUnavailable, CustomerFound: true, Err: fmt.Errorf("%w: list subscriptions: %v", ErrProviderUnavailable, err)}
	}
	if len(subs) == 0 {
		return LookupResult{Status: LookupNotEntitled, CustomerFound: true}
	}
	return LookupResult{Status: LookupEntitled, CustomerFound: true}
}
