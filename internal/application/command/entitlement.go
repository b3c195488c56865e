// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/falaja/tutor-bot/internal/application/session"
	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// MaxGrantDays caps a single grant.
const MaxGrantDays = 3650

// EntitlementStore is the part of the session store the entitlement commands need.
// *session.Store implements it.
type EntitlementStore interface {
	Lock(phone string) func()
	ChangeEntitlement(ctx context.Context, phone string, now time.Time, change session.EntitlementChange) (student.Entitlement, error)
}

// EntitlementResult describes a student's entitlement after a command.
type EntitlementResult struct {
	Phone           string
	Plan            student.Plan
	PremiumUntil    *time.Time
	PaymentProvider string
	Premium         bool
	UpdatedAt       time.Time
}

func newEntitlementResult(phone shared.Phone, ent student.Entitlement, now time.Time) *EntitlementResult {
	return &EntitlementResult{
		Phone:           phone.String(),
		Plan:            ent.Plan,
		PremiumUntil:    ent.PremiumUntil,
		PaymentProvider: ent.PaymentProvider,
		Premium:         ent.IsPremium(now),
		UpdatedAt:       now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GRANT PREMIUM COMMAND
// Makes a student premium until at least now plus a number of days. Used by
// operators; repeating a grant leaves the window unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// GrantPremiumCommand contains the data to grant premium.
type GrantPremiumCommand struct {
	// Phone is the student identity in any gateway format.
	Phone string

	// Days of premium counted from now. A longer current window is kept.
	Days int

	// Provider is recorded as the payment provider. Empty keeps the current one.
	Provider string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c GrantPremiumCommand) Validate() error {
	if _, err := shared.NewPhone(c.Phone); err != nil {
		return err
	}
	if c.Days <= 0 || c.Days > MaxGrantDays {
		return fmt.Errorf("grant_premium: days must be 1-%d: %w", MaxGrantDays, shared.ErrValueOutOfRange)
	}
	return nil
}

// GrantPremiumHandler handles the GrantPremiumCommand.
type GrantPremiumHandler struct {
	store EntitlementStore
	log   *logger.Logger
	now   func() time.Time
}

// NewGrantPremiumHandler creates a new GrantPremiumHandler.
func NewGrantPremiumHandler(store EntitlementStore, log *logger.Logger) *GrantPremiumHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GrantPremiumHandler{store: store, log: log, now: time.Now}
}

// Handle executes the grant command.
func (h *GrantPremiumHandler) Handle(ctx context.Context, cmd GrantPremiumCommand) (*EntitlementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("grant_premium: validation failed: %w", err)
	}
	phone, _ := shared.NewPhone(cmd.Phone)
	now := h.now()

	unlock := h.store.Lock(phone.String())
	defer unlock()

	ent, err := h.store.ChangeEntitlement(ctx, phone.String(), now, func(cur student.Entitlement) (student.Entitlement, error) {
		return cur.Grant(cmd.Days, cmd.Provider, now)
	})
	if err != nil {
		return nil, fmt.Errorf("grant_premium: %w", err)
	}

	h.log.Info("premium granted",
		logger.Phone(phone.String()),
		logger.Int("days", cmd.Days),
		logger.String("provider", ent.PaymentProvider),
		logger.Any("premium_until", ent.PremiumUntil),
		logger.String("correlation_id", cmd.CorrelationID),
	)
	return newEntitlementResult(phone, ent, now), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REVOKE PREMIUM COMMAND
// Ends premium immediately. The write is explicit, so a cached premium copy
// does not survive it.
// ══════════════════════════════════════════════════════════════════════════════

// RevokePremiumCommand contains the data to revoke premium.
type RevokePremiumCommand struct {
	Phone         string
	CorrelationID string
}

// Validate validates the command.
func (c RevokePremiumCommand) Validate() error {
	if c.Phone == "" {
		return fmt.Errorf("revoke_premium: phone is required: %w", shared.ErrEmptyValue)
	}
	_, err := shared.NewPhone(c.Phone)
	return err
}

// RevokePremiumHandler handles the RevokePremiumCommand.
type RevokePremiumHandler struct {
	store EntitlementStore
	log   *logger.Logger
	now   func() time.Time
}

// NewRevokePremiumHandler creates a new RevokePremiumHandler.
func NewRevokePremiumHandler(store EntitlementStore, log *logger.Logger) *RevokePremiumHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RevokePremiumHandler{store: store, log: log, now: time.Now}
}

// Handle executes the revoke command.
func (h *RevokePremiumHandler) Handle(ctx context.Context, cmd RevokePremiumCommand) (*EntitlementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("revoke_premium: validation failed: %w", err)
	}
	phone, _ := shared.NewPhone(cmd.Phone)
	now := h.now()

	unlock := h.store.Lock(phone.String())
	defer unlock()

	ent, err := h.store.ChangeEntitlement(ctx, phone.String(), now, func(student.Entitlement) (student.Entitlement, error) {
		return student.Revoked(now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("revoke_premium: %w", err)
	}

	h.log.Info("premium revoked",
		logger.Phone(phone.String()),
		logger.String("correlation_id", cmd.CorrelationID),
	)
	return newEntitlementResult(phone, ent, now), nil
}
