// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ENTITLEMENT QUERY
// Reports a student's plan as the bot sees it: the reconciled view of the
// cached and durable records.
// ══════════════════════════════════════════════════════════════════════════════

// EntitlementReader returns the reconciled entitlement of a phone.
// *session.Store implements it.
type EntitlementReader interface {
	Entitlement(ctx context.Context, phone string, now time.Time) (student.Entitlement, bool, error)
}

// GetEntitlementQuery contains the query parameters.
type GetEntitlementQuery struct {
	// Phone is the student identity in any gateway format.
	Phone string
}

// Validate checks the query.
func (q GetEntitlementQuery) Validate() error {
	_, err := shared.NewPhone(q.Phone)
	return err
}

// EntitlementDTO is the entitlement view returned to operators.
type EntitlementDTO struct {
	Phone           string     `json:"phone"`
	Plan            string     `json:"plan"`
	Premium         bool       `json:"premium"`
	Expired         bool       `json:"expired"`
	PremiumUntil    *time.Time `json:"premium_until,omitempty"`
	PaymentProvider string     `json:"payment_provider,omitempty"`
	CheckedAt       time.Time  `json:"checked_at"`
}

// GetEntitlementHandler handles the GetEntitlementQuery.
type GetEntitlementHandler struct {
	reader EntitlementReader
	now    func() time.Time
}

// NewGetEntitlementHandler creates a new GetEntitlementHandler.
func NewGetEntitlementHandler(reader EntitlementReader) *GetEntitlementHandler {
	return &GetEntitlementHandler{reader: reader, now: time.Now}
}

// Handle executes the query. An unknown phone returns shared.ErrStudentNotFound.
func (h *GetEntitlementHandler) Handle(ctx context.Context, q GetEntitlementQuery) (*EntitlementDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_entitlement: validation failed: %w", err)
	}
	phone, _ := shared.NewPhone(q.Phone)
	now := h.now()

	ent, found, err := h.reader.Entitlement(ctx, phone.String(), now)
	if err != nil {
		return nil, fmt.Errorf("get_entitlement: %w", err)
	}
	if !found {
		return nil, shared.ErrStudentNotFound
	}

	plan := ent.Plan
	if plan == "" {
		plan = student.PlanFree
	}
	return &EntitlementDTO{
		Phone:           phone.String(),
		Plan:            string(plan),
		Premium:         ent.IsPremium(now),
		Expired:         ent.IsExpired(now),
		PremiumUntil:    ent.PremiumUntil,
		PaymentProvider: ent.PaymentProvider,
		CheckedAt:       now,
	}, nil
}
