package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
	"github.com/falaja/tutor-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL. Every
// statement runs through a circuit breaker; writes also retry on errors the
// driver reports as safe to retry.
type StudentRepository struct {
	conn    *Connection
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
}

// RepoOption configures a StudentRepository.
type RepoOption func(*StudentRepository)

// WithBreaker replaces the default database breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) RepoOption {
	return func(r *StudentRepository) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// WithRetrier replaces the default write retrier.
func WithRetrier(rt *retry.Retrier) RepoOption {
	return func(r *StudentRepository) {
		if rt != nil {
			r.retrier = rt
		}
	}
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection, opts ...RepoOption) *StudentRepository {
	r := &StudentRepository{
		conn:    conn,
		breaker: circuitbreaker.DatabaseBreaker(nil),
		retrier: retry.DatabaseRetrier(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// exec runs a write through the breaker, retrying transient failures.
func (r *StudentRepository) exec(ctx context.Context, sql string, args ...any) error {
	return r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(ctx, func(ctx context.Context) error {
			_, err := r.conn.Exec(ctx, sql, args...)
			if err != nil && pgconn.SafeToRetry(err) {
				return retry.Retryable(err)
			}
			return err
		})
	})
}

var _ student.Repository = (*StudentRepository)(nil)

const selectStudent = `
	SELECT phone, name, target_language, stage, lesson_index, part_index,
	       awaiting_text, awaiting_set_at, chat_mode,
	       plan, premium_until, payment_provider,
	       last_sales_message_at, last_premium_expired_notice_at,
	       created_at, last_message_at
	FROM students
	WHERE phone = $1
`

// Get returns the record for phone or shared.ErrStudentNotFound.
func (r *StudentRepository) Get(ctx context.Context, phone string) (*student.Record, error) {
	var row studentRow
	found := true
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		err := r.conn.QueryRow(ctx, selectStudent, phone).Scan(
			&row.Phone, &row.Name, &row.TargetLanguage, &row.Stage, &row.LessonIndex, &row.PartIndex,
			&row.AwaitingText, &row.AwaitingSetAt, &row.ChatMode,
			&row.Plan, &row.PremiumUntil, &row.PaymentProvider,
			&row.LastSalesMessageAt, &row.LastPremiumExpiredNoticeAt,
			&row.CreatedAt, &row.LastMessageAt,
		)
		if IsNoRows(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, storeError("Get", "failed to read student", err)
	}
	if !found {
		return nil, shared.ErrStudentNotFound
	}
	return row.toRecord()
}

// keepStoredPremium is true when the stored row is premium right now and the
// incoming row is not. It mirrors Entitlement.IsPremium: a set premium_until
// decides, otherwise the plan does.
const keepStoredPremium = `COALESCE(students.premium_until > NOW(), students.plan = 'premium')
			AND NOT COALESCE(EXCLUDED.premium_until > NOW(), EXCLUDED.plan = 'premium')`

// upsertStudentSQL writes every column. Entitlement columns never drop an
// active premium: only UpsertEntitlement (grant, revoke) may do that.
const upsertStudentSQL = `
		INSERT INTO students (
			phone, name, target_language, stage, lesson_index, part_index,
			awaiting_text, awaiting_set_at, chat_mode,
			plan, premium_until, payment_provider,
			last_sales_message_at, last_premium_expired_notice_at,
			created_at, last_message_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			target_language = EXCLUDED.target_language,
			stage = EXCLUDED.stage,
			lesson_index = EXCLUDED.lesson_index,
			part_index = EXCLUDED.part_index,
			awaiting_text = EXCLUDED.awaiting_text,
			awaiting_set_at = EXCLUDED.awaiting_set_at,
			chat_mode = EXCLUDED.chat_mode,
			plan = CASE WHEN ` + keepStoredPremium + ` THEN students.plan ELSE EXCLUDED.plan END,
			premium_until = CASE WHEN ` + keepStoredPremium + ` THEN students.premium_until ELSE EXCLUDED.premium_until END,
			payment_provider = CASE WHEN ` + keepStoredPremium + ` THEN students.payment_provider ELSE EXCLUDED.payment_provider END,
			last_sales_message_at = EXCLUDED.last_sales_message_at,
			last_premium_expired_notice_at = EXCLUDED.last_premium_expired_notice_at,
			created_at = LEAST(students.created_at, EXCLUDED.created_at),
			last_message_at = GREATEST(students.last_message_at, EXCLUDED.last_message_at),
			updated_at = NOW()
	`

// Upsert writes every field of rec. created_at keeps the earliest value.
func (r *StudentRepository) Upsert(ctx context.Context, rec *student.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	row := rowFromRecord(rec)

	err := r.exec(ctx, upsertStudentSQL,
		row.Phone, row.Name, row.TargetLanguage, row.Stage, row.LessonIndex, row.PartIndex,
		row.AwaitingText, row.AwaitingSetAt, row.ChatMode,
		row.Plan, row.PremiumUntil, row.PaymentProvider,
		row.LastSalesMessageAt, row.LastPremiumExpiredNoticeAt,
		row.CreatedAt, row.LastMessageAt,
	)
	if err != nil {
		return storeError("Upsert", "failed to upsert student", err)
	}
	return nil
}

// UpsertEntitlement writes only the entitlement columns, creating a fresh
// row when the phone has never messaged.
func (r *StudentRepository) UpsertEntitlement(ctx context.Context, phone string, ent student.Entitlement, now time.Time) error {
	plan := ent.Plan
	if plan == "" {
		plan = student.PlanFree
	}

	query := `
		INSERT INTO students (phone, plan, premium_until, payment_provider, created_at, last_message_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, NOW())
		ON CONFLICT (phone) DO UPDATE SET
			plan = EXCLUDED.plan,
			premium_until = EXCLUDED.premium_until,
			payment_provider = EXCLUDED.payment_provider,
			updated_at = NOW()
	`
	err := r.exec(ctx, query, phone, string(plan), ent.PremiumUntil, ent.PaymentProvider, now)
	if err != nil {
		return storeError("UpsertEntitlement", "failed to write entitlement", err)
	}
	return nil
}

// storeError maps a failed statement to a domain kind. Constraint
// violations are the caller's fault; everything else is a transient store
// failure, and a deadline is reported as a timeout.
func storeError(op, msg string, err error) error {
	var kind error
	switch {
	case IsCheckViolation(err):
		kind = shared.ErrInvalidInput
	case IsUniqueViolation(err):
		kind = shared.ErrAlreadyExists
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		kind = shared.ErrTimeout
	default:
		kind = shared.ErrServiceUnavailable
	}
	return shared.WrapError("postgres", op, kind, msg, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

// studentRow mirrors the students table.
type studentRow struct {
	Phone          string
	Name           string
	TargetLanguage string
	Stage          string
	LessonIndex    int
	PartIndex      int
	AwaitingText   *string
	AwaitingSetAt  *time.Time
	ChatMode       string

	Plan            string
	PremiumUntil    *time.Time
	PaymentProvider string

	LastSalesMessageAt         *time.Time
	LastPremiumExpiredNoticeAt *time.Time

	CreatedAt     time.Time
	LastMessageAt time.Time
}

func rowFromRecord(rec *student.Record) studentRow {
	row := studentRow{
		Phone:                      rec.Phone,
		Name:                       rec.Name,
		TargetLanguage:             string(rec.TargetLanguage),
		Stage:                      rec.Stage.Name(),
		LessonIndex:                rec.LessonIndex,
		PartIndex:                  rec.PartIndex,
		ChatMode:                   string(rec.ChatMode),
		Plan:                       string(rec.Plan),
		PremiumUntil:               rec.PremiumUntil,
		PaymentProvider:            rec.PaymentProvider,
		LastSalesMessageAt:         rec.LastSalesMessageAt,
		LastPremiumExpiredNoticeAt: rec.LastPremiumExpiredNoticeAt,
		CreatedAt:                  rec.CreatedAt,
		LastMessageAt:              rec.LastMessageAt,
	}
	if row.ChatMode == "" {
		row.ChatMode = string(student.ChatModeLesson)
	}
	if row.Plan == "" {
		row.Plan = string(student.PlanFree)
	}
	if exp := student.AwaitingOf(rec.Stage); exp != nil {
		text, at := exp.Text, exp.SetAt
		row.AwaitingText = &text
		row.AwaitingSetAt = &at
	}
	return row
}

func (row studentRow) toRecord() (*student.Record, error) {
	var awaiting *student.Expected
	if row.AwaitingText != nil {
		awaiting = &student.Expected{Text: *row.AwaitingText}
		if row.AwaitingSetAt != nil {
			awaiting.SetAt = *row.AwaitingSetAt
		}
	}

	stage, err := student.StageFromName(row.Stage, awaiting)
	if err != nil {
		return nil, fmt.Errorf("postgres: student %s: %w", row.Phone, err)
	}

	return &student.Record{
		Phone:                      row.Phone,
		Name:                       row.Name,
		TargetLanguage:             student.Language(row.TargetLanguage),
		Stage:                      stage,
		LessonIndex:                row.LessonIndex,
		PartIndex:                  row.PartIndex,
		ChatMode:                   student.ChatMode(row.ChatMode),
		Plan:                       student.Plan(row.Plan),
		PremiumUntil:               row.PremiumUntil,
		PaymentProvider:            row.PaymentProvider,
		LastSalesMessageAt:         row.LastSalesMessageAt,
		LastPremiumExpiredNoticeAt: row.LastPremiumExpiredNoticeAt,
		CreatedAt:                  row.CreatedAt,
		LastMessageAt:              row.LastMessageAt,
	}, nil
}
