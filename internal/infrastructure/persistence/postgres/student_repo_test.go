package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
)

func TestStudentRow_RoundTripLearning(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(72 * time.Hour)

	rec := student.New("5511987654321", now)
	rec.Name = "Ana"
	rec.TargetLanguage = student.LanguageFrench
	rec.Stage = student.Learning{Awaiting: &student.Expected{Text: "Bonjour, je m'appelle", SetAt: now}}
	rec.LessonIndex, rec.PartIndex = 1, 2
	rec.SetEntitlement(student.Entitlement{Plan: student.PlanPremium, PremiumUntil: &until, PaymentProvider: "admin"})

	row := rowFromRecord(rec)
	require.NotNil(t, row.AwaitingText)
	assert.Equal(t, "learning", row.Stage)
	assert.Equal(t, "fr", row.TargetLanguage)

	got, err := row.toRecord()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStudentRow_OnboardingHasNoAwaiting(t *testing.T) {
	rec := student.New("5511987654321", time.Now())
	rec.Stage = student.AskingLanguage{}

	row := rowFromRecord(rec)
	assert.Nil(t, row.AwaitingText)
	assert.Nil(t, row.AwaitingSetAt)
	assert.Equal(t, "asking_language", row.Stage)
	assert.Equal(t, "free", row.Plan)
	assert.Equal(t, "lesson", row.ChatMode)
}

func TestStudentRow_UnknownStage(t *testing.T) {
	_, err := studentRow{Phone: "5511987654321", Stage: "graduated"}.toRecord()
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsCheckViolation(assert.AnError))
	assert.False(t, IsNoRows(assert.AnError))
}

func TestUpsertStudentSQL_GuardsEntitlementColumns(t *testing.T) {
	for _, col := range []string{"plan", "premium_until", "payment_provider"} {
		assert.Contains(t, upsertStudentSQL,
			col+" = CASE WHEN "+keepStoredPremium+" THEN students."+col+" ELSE EXCLUDED."+col+" END",
			"%s must not be downgraded by a full-record upsert", col)
	}
	assert.NotContains(t, upsertStudentSQL, "plan = EXCLUDED.plan")
}

func TestStoreError_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"check", &pgconn.PgError{Code: "23514"}, shared.ErrInvalidInput},
		{"unique", &pgconn.PgError{Code: "23505"}, shared.ErrAlreadyExists},
		{"deadline", context.DeadlineExceeded, shared.ErrTimeout},
		{"other", assert.AnError, shared.ErrServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("Upsert", "failed", tt.err)
			assert.ErrorIs(t, err, tt.kind)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStudentRepository_ClosedConnection(t *testing.T) {
	repo := NewStudentRepository(&Connection{closed: true})
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.Get(ctx, "5511987654321")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.False(t, shared.IsNotFound(err))

	err = repo.Upsert(ctx, student.New("5511987654321", now))
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)

	err = repo.UpsertEntitlement(ctx, "5511987654321", student.Entitlement{Plan: student.PlanFree}, now)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)

	// Three failures open the breaker; the next call fails fast.
	_, err = repo.Get(ctx, "5511987654321")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestStudentRepository_UpsertValidatesFirst(t *testing.T) {
	repo := NewStudentRepository(&Connection{closed: true})
	rec := student.New("   ", time.Now())

	err := repo.Upsert(context.Background(), rec)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, 0, repo.breaker.Counts().TotalFailures)
}
