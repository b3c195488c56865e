package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

func TestReconcile(t *testing.T) {
	future := testNow.Add(10 * 24 * time.Hour)
	past := testNow.Add(-time.Hour)

	t.Run("both missing", func(t *testing.T) {
		assert.Nil(t, Reconcile(nil, nil, testNow))
	})

	t.Run("durable premium wins over cached free", func(t *testing.T) {
		cached := student.New(testPhone, testNow)
		cached.Name = "Ana"
		durable := student.New(testPhone, testNow)
		durable.SetEntitlement(student.Entitlement{Plan: student.PlanPremium, PremiumUntil: &future, PaymentProvider: "admin"})

		got := Reconcile(cached, durable, testNow)

		assert.True(t, got.IsPremium(testNow))
		assert.Equal(t, "admin", got.PaymentProvider)
		assert.Equal(t, "Ana", got.Name)
	})

	t.Run("active cached premium is never downgraded", func(t *testing.T) {
		cached := premiumRecord(testPhone, student.AskingName{})
		durable := student.New(testPhone, testNow)

		got := Reconcile(cached, durable, testNow)

		assert.True(t, got.IsPremium(testNow))
		assert.Equal(t, cached.PremiumUntil, got.PremiumUntil)
	})

	t.Run("stale cached premium takes durable revoke", func(t *testing.T) {
		cached := student.New(testPhone, testNow)
		cached.SetEntitlement(student.Entitlement{Plan: student.PlanPremium, PremiumUntil: &past})
		durable := student.New(testPhone, testNow)
		durable.SetEntitlement(student.Revoked(testNow))

		got := Reconcile(cached, durable, testNow)

		assert.Equal(t, student.PlanFree, got.Plan)
		assert.False(t, got.IsPremium(testNow))
	})

	t.Run("cached fields win, durable fills gaps", func(t *testing.T) {
		sentAt := testNow.Add(-time.Hour)
		cached := student.New(testPhone, testNow)
		cached.Stage = student.AskingLanguage{}
		cached.LastMessageAt = testNow.Add(-time.Minute)

		durable := student.New(testPhone, testNow.Add(-72*time.Hour))
		durable.Name = "Bia"
		durable.LastSalesMessageAt = &sentAt
		durable.LastMessageAt = testNow.Add(-time.Hour)

		got := Reconcile(cached, durable, testNow)

		assert.Equal(t, student.AskingLanguage{}, got.Stage)
		assert.Equal(t, "Bia", got.Name)
		assert.Equal(t, &sentAt, got.LastSalesMessageAt)
		assert.Equal(t, durable.CreatedAt, got.CreatedAt)
		assert.Equal(t, cached.LastMessageAt, got.LastMessageAt)
	})
}

func TestStore_LoadAndPersist(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	s := NewStore(repo, nil)

	assert.Nil(t, s.Load(ctx, testPhone, testNow))

	rec := student.New(testPhone, testNow)
	rec.Name = "Ana"
	s.Persist(ctx, rec, testNow)

	assert.Equal(t, "Ana", repo.record(testPhone).Name)
	cached, ok := s.Cached(testPhone)
	require.True(t, ok)
	assert.Equal(t, "Ana", cached.Name)

	loaded := s.Load(ctx, testPhone, testNow)
	require.NotNil(t, loaded)
	assert.Equal(t, "Ana", loaded.Name)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PersistKeepsOutOfBandPremium(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	s := NewStore(repo, nil)

	rec := student.New(testPhone, testNow)
	s.Persist(ctx, rec, testNow)

	// Granted by an operator while the turn was running.
	repo.put(premiumRecord(testPhone, student.AskingName{}))

	stale := student.New(testPhone, testNow)
	stale.Name = "Ana"
	s.Persist(ctx, stale, testNow)

	stored := repo.record(testPhone)
	assert.True(t, stored.IsPremium(testNow))
	assert.Equal(t, "mercadopago", stored.PaymentProvider)
	assert.Equal(t, "Ana", stored.Name)
	assert.True(t, stale.IsPremium(testNow))
}

func TestStore_DurableFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.getErr = errDown
	repo.upsertErr = errDown
	m := newCountingMetrics()
	s := NewStore(repo, nil, WithStoreMetrics(m), WithStoreTimeout(time.Second))

	rec := student.New(testPhone, testNow)
	rec.Name = "Ana"
	s.Persist(ctx, rec, testNow)

	loaded := s.Load(ctx, testPhone, testNow)
	require.NotNil(t, loaded)
	assert.Equal(t, "Ana", loaded.Name)
	assert.Equal(t, 1, m.persistFailed)
	assert.Equal(t, 2, m.readFailed)
}

func TestStore_PersistSkipsWriteWhenDurableUnreadable(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(learningPremium(testPhone, 3, 1, "I am hungry"))
	repo.getErr = errDown
	m := newCountingMetrics()
	s := NewStore(repo, nil, WithStoreMetrics(m))

	// A restarted process during a read outage sees nothing and starts over.
	assert.Nil(t, s.Load(ctx, testPhone, testNow))
	blank := student.New(testPhone, testNow)
	s.Persist(ctx, blank, testNow)

	assert.Zero(t, repo.upsertCount())
	assert.Equal(t, 1, m.persistFailed)
	cached, ok := s.Cached(testPhone)
	require.True(t, ok)
	assert.False(t, cached.IsPremium(testNow))

	repo.getErr = nil
	stored := repo.record(testPhone)
	assert.True(t, stored.IsPremium(testNow))
	assert.Equal(t, "mercadopago", stored.PaymentProvider)
	assert.Equal(t, student.Learning{}.Name(), stored.Stage.Name())

	loaded := s.Load(ctx, testPhone, testNow)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsPremium(testNow), "recovered store restores premium")
}

func TestStore_CacheOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, nil)
	assert.False(t, s.Durable())

	rec := student.New(testPhone, testNow)
	s.Persist(ctx, rec, testNow)
	assert.NotNil(t, s.Load(ctx, testPhone, testNow))

	ent, err := s.ChangeEntitlement(ctx, "5521999990000", testNow, func(cur student.Entitlement) (student.Entitlement, error) {
		return cur.Grant(30, "admin", testNow)
	})
	require.NoError(t, err)
	assert.True(t, ent.IsPremium(testNow))

	got, found, err := s.Entitlement(ctx, "5521999990000", testNow)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ent, got)
}

func TestStore_ChangeEntitlement(t *testing.T) {
	ctx := context.Background()

	t.Run("grant lengthens reconciled entitlement and updates cache", func(t *testing.T) {
		repo := newFakeRepo(premiumRecord(testPhone, student.AskingName{}))
		s := NewStore(repo, nil)
		s.Load(ctx, testPhone, testNow)

		ent, err := s.ChangeEntitlement(ctx, testPhone, testNow, func(cur student.Entitlement) (student.Entitlement, error) {
			return cur.Grant(45, "", testNow)
		})
		require.NoError(t, err)

		want := testNow.Add(45 * 24 * time.Hour)
		assert.Equal(t, want, *ent.PremiumUntil)
		assert.Equal(t, "mercadopago", ent.PaymentProvider)
		assert.Equal(t, want, *repo.record(testPhone).PremiumUntil)

		cached, _ := s.Cached(testPhone)
		assert.Equal(t, want, *cached.PremiumUntil)
	})

	t.Run("revoke bypasses anti-downgrade", func(t *testing.T) {
		repo := newFakeRepo(premiumRecord(testPhone, student.AskingName{}))
		s := NewStore(repo, nil)
		s.Load(ctx, testPhone, testNow)

		_, err := s.ChangeEntitlement(ctx, testPhone, testNow, func(student.Entitlement) (student.Entitlement, error) {
			return student.Revoked(testNow), nil
		})
		require.NoError(t, err)

		loaded := s.Load(ctx, testPhone, testNow)
		assert.False(t, loaded.IsPremium(testNow))
		assert.False(t, repo.record(testPhone).IsPremium(testNow))
	})

	t.Run("unknown phone creates durable row", func(t *testing.T) {
		repo := newFakeRepo()
		s := NewStore(repo, nil)

		_, err := s.ChangeEntitlement(ctx, testPhone, testNow, func(cur student.Entitlement) (student.Entitlement, error) {
			return cur.Grant(30, "admin", testNow)
		})
		require.NoError(t, err)
		assert.True(t, repo.record(testPhone).IsPremium(testNow))
		assert.Equal(t, student.AskingName{}, repo.record(testPhone).Stage)
	})

	t.Run("durable write failure is returned", func(t *testing.T) {
		repo := newFakeRepo()
		repo.upsertErr = errDown
		s := NewStore(repo, nil)

		_, err := s.ChangeEntitlement(ctx, testPhone, testNow, func(cur student.Entitlement) (student.Entitlement, error) {
			return cur.Grant(30, "admin", testNow)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
		assert.True(t, shared.IsRetryable(err))
	})

	t.Run("change error aborts without writing", func(t *testing.T) {
		repo := newFakeRepo()
		s := NewStore(repo, nil)

		_, err := s.ChangeEntitlement(ctx, testPhone, testNow, func(cur student.Entitlement) (student.Entitlement, error) {
			return cur.Grant(0, "admin", testNow)
		})
		assert.ErrorIs(t, err, shared.ErrInvalidGrant)
		assert.Zero(t, repo.upsertCount())
	})
}

func TestStore_Entitlement(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown phone", func(t *testing.T) {
		s := NewStore(newFakeRepo(), nil)
		_, found, err := s.Entitlement(ctx, testPhone, testNow)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("durable down without cache", func(t *testing.T) {
		repo := newFakeRepo()
		repo.getErr = errDown
		s := NewStore(repo, nil)
		_, _, err := s.Entitlement(ctx, testPhone, testNow)
		assert.ErrorIs(t, err, errDown)
	})
}
