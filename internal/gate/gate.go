package gate

import (
	"context"

	"go.uber.org/zap"

	"tubepilot.app/internal/entitlement"
	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/obs"
)

// State is the terminal state of one gate evaluation.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateResolved        State = "resolved"
)

// Entitler is the subset of the entitlement oracle the gate depends on.
type Entitler interface {
	Check(ctx context.Context, email string) entitlement.Decision
}

// Outcome is the result of evaluating the gate for one request.
type Outcome struct {
	State     State              `json:"state"`
	Principal identity.Principal `json:"principal"`
	HasAccess bool               `json:"has_access"`
	Reason    entitlement.Reason `json:"reason,omitempty"`
}

// Authenticated reports whether the session carried a logged-in principal.
func (o Outcome) Authenticated() bool { return o.State == StateResolved }

// Gate composes identity resolution and the entitlement oracle.
type Gate struct {
	oracle Entitler
	logger *zap.Logger
}

// Option configures Gate behavior.
type Option func(*Gate)

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// New constructs a Gate around the given oracle.
func New(oracle Entitler, opts ...Option) *Gate {
	g := &Gate{oracle: oracle}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = obs.Logger()
	}
	return g
}

// Evaluate runs one gate cycle. It only reads identity and billing state.
// Unauthenticated sessions never reach the oracle.
func (g *Gate) Evaluate(ctx context.Context, sess identity.Session) Outcome {
	if sess == nil || !sess.IsLoggedIn() {
		obs.RecordGateDecision(string(StateUnauthenticated), "")
		return Outcome{
			State:     StateUnauthenticated,
			Principal: identity.Principal{DisplayName: identity.DefaultDisplayName},
		}
	}

	principal := identity.Resolve(sess)
	out := Outcome{State: StateResolved, Principal: principal}
	if g.oracle == nil {
		out.Reason = entitlement.ReasonBillingUnconfigured
	} else {
		decision := g.oracle.Check(ctx, principal.Email)
		out.HasAccess = decision.Entitled
		out.Reason = decision.Reason
	}

	obs.RecordGateDecision(string(out.State), string(out.Reason))
	g.logger.Debug("access gate evaluated",
		zap.String("email", principal.Email),
		zap.Bool("has_access", out.HasAccess),
		zap.String("reason", string(out.Reason)),
	)
	return out
}
