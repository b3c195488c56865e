package student

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the durable store of student records.
type Repository interface {
	// Get returns the record for phone.
	// Returns shared.ErrStudentNotFound when no record exists.
	Get(ctx context.Context, phone string) (*Record, error)

	// Upsert writes every field of rec.
	Upsert(ctx context.Context, rec *Record) error

	// UpsertEntitlement writes only the entitlement fields, creating a
	// minimal record when the phone is unknown.
	UpsertEntitlement(ctx context.Context, phone string, ent Entitlement, now time.Time) error
}
