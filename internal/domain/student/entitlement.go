package student

import (
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITLEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Plan is the commercial plan of a student.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// IsValid reports whether the plan is known.
func (p Plan) IsValid() bool {
	return p == PlanFree || p == PlanPremium
}

// Entitlement groups the fields that decide premium access.
type Entitlement struct {
	Plan            Plan
	PremiumUntil    *time.Time
	PaymentProvider string
}

// IsPremium reports whether the entitlement grants premium access at now.
// A set PremiumUntil wins over Plan: premium requires it to be strictly in the future.
// Without PremiumUntil the plan alone decides.
func (e Entitlement) IsPremium(now time.Time) bool {
	if e.PremiumUntil != nil {
		return e.PremiumUntil.After(now)
	}
	return e.Plan == PlanPremium
}

// IsExpired reports whether a premium window existed and has lapsed.
func (e Entitlement) IsExpired(now time.Time) bool {
	return e.PremiumUntil != nil && !e.PremiumUntil.After(now)
}

// IsPremium is a shorthand for r.Entitlement().IsPremium(now).
func (r *Record) IsPremium(now time.Time) bool {
	return r.Entitlement().IsPremium(now)
}

// IsExpired is a shorthand for r.Entitlement().IsExpired(now).
func (r *Record) IsExpired(now time.Time) bool {
	return r.Entitlement().IsExpired(now)
}

// Grant returns an entitlement that is premium until at least now plus days.
// A window already reaching further is kept, so repeating the same grant
// (an operator retry, a redelivered payment event) changes nothing.
func (e Entitlement) Grant(days int, provider string, now time.Time) (Entitlement, error) {
	if days <= 0 {
		return e, shared.ErrInvalidGrant
	}
	until := now.Add(time.Duration(days) * 24 * time.Hour)
	if e.PremiumUntil != nil && e.PremiumUntil.After(until) {
		until = *e.PremiumUntil
	}
	if provider == "" {
		provider = e.PaymentProvider
	}
	return Entitlement{Plan: PlanPremium, PremiumUntil: &until, PaymentProvider: provider}, nil
}

// Revoked returns a free entitlement that ends at now.
func Revoked(now time.Time) Entitlement {
	t := now
	return Entitlement{Plan: PlanFree, PremiumUntil: &t}
}
