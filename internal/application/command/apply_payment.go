package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// DefaultPaymentDays is granted when a payment event carries no duration.
const DefaultPaymentDays = 30

// ══════════════════════════════════════════════════════════════════════════════
// APPLY PAYMENT COMMAND
// Applies an out-of-band payment event. Only settled payments grant premium;
// every other status is acknowledged and ignored.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyPaymentCommand is a payment event from a payment provider.
type ApplyPaymentCommand struct {
	// Reference identifies the student. It is derived from the phone.
	Reference string

	// Provider names the payment processor, e.g. "mercadopago".
	Provider string

	// Status as reported by the provider.
	Status string

	// Days of premium bought. Zero means the configured default.
	Days int

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ApplyPaymentCommand) Validate() error {
	if strings.TrimSpace(c.Reference) == "" {
		return fmt.Errorf("apply_payment: reference is required: %w", shared.ErrEmptyValue)
	}
	if c.Days < 0 || c.Days > MaxGrantDays {
		return fmt.Errorf("apply_payment: days must be 0-%d: %w", MaxGrantDays, shared.ErrValueOutOfRange)
	}
	return nil
}

// Settled reports whether the status confirms the payment.
func (c ApplyPaymentCommand) Settled() bool {
	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "paid", "approved":
		return true
	}
	return false
}

// ApplyPaymentResult contains the result of applying a payment event.
type ApplyPaymentResult struct {
	// Applied is false when the status did not grant anything.
	Applied bool

	// Entitlement is set when Applied.
	Entitlement *EntitlementResult
}

// ApplyPaymentHandler handles the ApplyPaymentCommand.
type ApplyPaymentHandler struct {
	store       EntitlementStore
	log         *logger.Logger
	defaultDays int
	now         func() time.Time
}

// NewApplyPaymentHandler creates a new ApplyPaymentHandler.
func NewApplyPaymentHandler(store EntitlementStore, defaultDays int, log *logger.Logger) *ApplyPaymentHandler {
	if defaultDays <= 0 {
		defaultDays = DefaultPaymentDays
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ApplyPaymentHandler{store: store, log: log, defaultDays: defaultDays, now: time.Now}
}

// Handle executes the apply payment command.
func (h *ApplyPaymentHandler) Handle(ctx context.Context, cmd ApplyPaymentCommand) (*ApplyPaymentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_payment: validation failed: %w", err)
	}
	phone, err := shared.NewPhone(cmd.Reference)
	if err != nil {
		return nil, fmt.Errorf("apply_payment: bad reference: %w", err)
	}

	if !cmd.Settled() {
		h.log.Info("payment event ignored",
			logger.Phone(phone.String()),
			logger.String("status", cmd.Status),
			logger.String("provider", cmd.Provider),
		)
		return &ApplyPaymentResult{}, nil
	}

	days := cmd.Days
	if days == 0 {
		days = h.defaultDays
	}
	now := h.now()

	unlock := h.store.Lock(phone.String())
	defer unlock()

	ent, err := h.store.ChangeEntitlement(ctx, phone.String(), now, func(cur student.Entitlement) (student.Entitlement, error) {
		return cur.Grant(days, cmd.Provider, now)
	})
	if err != nil {
		return nil, fmt.Errorf("apply_payment: %w", err)
	}

	h.log.Info("payment applied",
		logger.Phone(phone.String()),
		logger.Int("days", days),
		logger.String("provider", ent.PaymentProvider),
		logger.Any("premium_until", ent.PremiumUntil),
		logger.String("correlation_id", cmd.CorrelationID),
	)
	return &ApplyPaymentResult{Applied: true, Entitlement: newEntitlementResult(phone, ent, now)}, nil
}
