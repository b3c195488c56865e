package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falaja/tutor-bot/internal/domain/lesson"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

func TestPaywall_Evaluate(t *testing.T) {
	p := NewPaywall(PaywallConfig{CheckoutURL: "https://pay.example.com/premium"})
	c := lesson.NewRuleClassifier()

	t.Run("premium passes", func(t *testing.T) {
		rec := premiumRecord(testPhone, student.AskingName{})
		d := p.Evaluate(rec, c.Classify("oi"), testNow)
		assert.False(t, d.Stop)
		assert.Nil(t, rec.LastSalesMessageAt)
	})

	t.Run("first contact gets initial notice", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		d := p.Evaluate(rec, c.Classify("oi"), testNow)

		assert.True(t, d.Stop)
		assert.Equal(t, NoticeInitial, d.Kind)
		assert.Contains(t, d.Notice, "https://pay.example.com/premium")
		require.NotNil(t, rec.LastSalesMessageAt)
		assert.Equal(t, testNow, *rec.LastSalesMessageAt)
	})

	t.Run("later messages stop silently", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		rec.LastSalesMessageAt = timePtr(testNow.Add(-100 * time.Hour))

		d := p.Evaluate(rec, c.Classify("oi de novo"), testNow)

		assert.True(t, d.Stop)
		assert.Equal(t, NoticeSilent, d.Kind)
		assert.Empty(t, d.Notice)
		assert.Equal(t, testNow.Add(-100*time.Hour), *rec.LastSalesMessageAt)
	})

	t.Run("sales intent after cooldown resends", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		rec.LastSalesMessageAt = timePtr(testNow.Add(-72 * time.Hour))

		d := p.Evaluate(rec, c.Classify("quanto custa?"), testNow)

		assert.Equal(t, NoticeResend, d.Kind)
		assert.NotEmpty(t, d.Notice)
		assert.Equal(t, testNow, *rec.LastSalesMessageAt)
	})

	t.Run("sales intent within cooldown is silent", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		rec.LastSalesMessageAt = timePtr(testNow.Add(-time.Hour))

		d := p.Evaluate(rec, c.Classify("quero assinar"), testNow)

		assert.Equal(t, NoticeSilent, d.Kind)
	})

	t.Run("expired premium gets renewal notice once per cooldown", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		rec.Name = "Ana"
		rec.Plan = student.PlanPremium
		rec.PremiumUntil = timePtr(testNow.Add(-time.Hour))
		rec.LastSalesMessageAt = timePtr(testNow.Add(-time.Hour))

		d := p.Evaluate(rec, c.Classify("oi"), testNow)
		assert.Equal(t, NoticeExpired, d.Kind)
		assert.Contains(t, d.Notice, "Ana")
		assert.Contains(t, d.Notice, "expirou")
		assert.Equal(t, testNow, *rec.LastPremiumExpiredNoticeAt)

		d = p.Evaluate(rec, c.Classify("oi"), testNow.Add(time.Hour))
		assert.Equal(t, NoticeSilent, d.Kind)

		d = p.Evaluate(rec, c.Classify("oi"), testNow.Add(25*time.Hour))
		assert.Equal(t, NoticeExpired, d.Kind)
	})

	t.Run("premium expiring exactly now is expired", func(t *testing.T) {
		rec := student.New(testPhone, testNow)
		rec.Plan = student.PlanPremium
		rec.PremiumUntil = timePtr(testNow)

		d := p.Evaluate(rec, c.Classify("oi"), testNow)
		assert.Equal(t, NoticeExpired, d.Kind)
	})
}

func TestNewPaywall_Defaults(t *testing.T) {
	p := NewPaywall(PaywallConfig{})
	assert.Equal(t, DefaultPaywallConfig().SalesCooldown, p.cfg.SalesCooldown)
	assert.Equal(t, DefaultPaywallConfig().RenewalCooldown, p.cfg.RenewalCooldown)
	assert.NotContains(t, p.initialNotice(), "http")
}
