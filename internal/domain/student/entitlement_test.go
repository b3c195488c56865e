package student

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

func TestEntitlement_IsPremium(t *testing.T) {
	now := t0

	tests := []struct {
		name string
		ent  Entitlement
		want bool
	}{
		{"free without window", Entitlement{Plan: PlanFree}, false},
		{"premium without window", Entitlement{Plan: PlanPremium}, true},
		{"future window", Entitlement{Plan: PlanPremium, PremiumUntil: ptr(now.Add(time.Minute))}, true},
		{"future window overrides free plan", Entitlement{Plan: PlanFree, PremiumUntil: ptr(now.Add(time.Minute))}, true},
		{"window ending exactly now", Entitlement{Plan: PlanPremium, PremiumUntil: ptr(now)}, false},
		{"past window", Entitlement{Plan: PlanPremium, PremiumUntil: ptr(now.Add(-time.Hour))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ent.IsPremium(now))
		})
	}
}

func TestEntitlement_IsExpired(t *testing.T) {
	now := t0

	assert.False(t, Entitlement{Plan: PlanPremium}.IsExpired(now))
	assert.False(t, Entitlement{PremiumUntil: ptr(now.Add(time.Second))}.IsExpired(now))
	assert.True(t, Entitlement{PremiumUntil: ptr(now)}.IsExpired(now))
	assert.True(t, Entitlement{PremiumUntil: ptr(now.Add(-time.Hour))}.IsExpired(now))
}

func TestEntitlement_Grant(t *testing.T) {
	now := t0

	t.Run("from now when lapsed", func(t *testing.T) {
		ent := Entitlement{Plan: PlanFree, PremiumUntil: ptr(now.Add(-48 * time.Hour))}
		got, err := ent.Grant(30, "stripe", now)
		require.NoError(t, err)
		assert.Equal(t, PlanPremium, got.Plan)
		assert.Equal(t, now.Add(30*24*time.Hour), *got.PremiumUntil)
		assert.Equal(t, "stripe", got.PaymentProvider)
	})

	t.Run("lengthens a shorter active window", func(t *testing.T) {
		ent := Entitlement{Plan: PlanPremium, PremiumUntil: ptr(now.Add(24 * time.Hour)), PaymentProvider: "mercadopago"}
		got, err := ent.Grant(7, "", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(7*24*time.Hour), *got.PremiumUntil)
		assert.Equal(t, "mercadopago", got.PaymentProvider)
	})

	t.Run("keeps a longer active window", func(t *testing.T) {
		ent := Entitlement{Plan: PlanPremium, PremiumUntil: ptr(now.Add(60 * 24 * time.Hour))}
		got, err := ent.Grant(30, "stripe", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(60*24*time.Hour), *got.PremiumUntil)
	})

	t.Run("repeating a grant is a no-op", func(t *testing.T) {
		first, err := Entitlement{Plan: PlanFree}.Grant(30, "stripe", now)
		require.NoError(t, err)
		second, err := first.Grant(30, "stripe", now)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rejects non-positive days", func(t *testing.T) {
		_, err := Entitlement{}.Grant(0, "", now)
		assert.Error(t, err)
	})
}

func TestRevoked(t *testing.T) {
	ent := Revoked(t0)
	assert.Equal(t, PlanFree, ent.Plan)
	assert.False(t, ent.IsPremium(t0))
	assert.True(t, ent.IsExpired(t0))
}
