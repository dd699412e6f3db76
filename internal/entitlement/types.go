package entitlement

import (
	"context"
	"errors"
)

// Lookup bounds. Email is expected to identify at most one customer and
// only the existence of an active subscription matters.
const (
	CustomerLookupLimit     = 1
	SubscriptionLookupLimit = 5
)

// ErrProviderUnavailable wraps any failure to reach or read the billing provider.
var ErrProviderUnavailable = errors.New("entitlement: billing provider unavailable")

// Customer is a billing customer record.
type Customer struct {
	ID    string
	Email string
}

// Subscription is an active billing subscription.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
}

// BillingProvider answers the two read-only questions the oracle needs.
type BillingProvider interface {
	FindCustomerByEmail(ctx context.Context, email string, limit int) ([]Customer, error)
	ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]Subscription, error)
}

// Reason explains an entitlement decision.
type Reason string

const (
	ReasonNoEmail              Reason = "no_email"
	ReasonAllowListed          Reason = "allow_listed"
	ReasonBillingUnconfigured  Reason = "billing_unconfigured"
	ReasonSubscriptionActive   Reason = "subscription_active"
	ReasonNoActiveSubscription Reason = "no_active_subscription"
	ReasonNoCustomer           Reason = "no_customer"
	ReasonProviderUnavailable  Reason = "provider_unavailable"
)

// Decision is the oracle's answer for one evaluation. It is never cached.
type Decision struct {
	Entitled bool   `json:"entitled"`
	Reason   Reason `json:"reason"`
}

// LookupStatus is the outcome of a billing provider query.
type LookupStatus int

const (
	LookupNotEntitled LookupStatus = iota
	LookupEntitled
	LookupUnavailable
)

func (s LookupStatus) String() string {
	switch s {
	case LookupEntitled:
		return "entitled"
	case LookupUnavailable:
		return "unavailable"
	default:
		return "not_entitled"
	}
}

// LookupResult carries the billing answer without turning failures into panics
// or bare booleans. Err is set only for LookupUnavailable.
type LookupResult struct {
	Status        LookupStatus
	CustomerFound bool
	Err           error
}
