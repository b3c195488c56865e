package session

import (
	"fmt"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/lesson"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

// PaywallConfig holds the notice cooldowns and the checkout link.
type PaywallConfig struct {
	SalesCooldown   time.Duration
	RenewalCooldown time.Duration
	CheckoutURL     string
}

// DefaultPaywallConfig returns the production cooldowns.
func DefaultPaywallConfig() PaywallConfig {
	return PaywallConfig{
		SalesCooldown:   72 * time.Hour,
		RenewalCooldown: 24 * time.Hour,
	}
}

// NoticeKind names which paywall branch fired.
type NoticeKind string

const (
	NoticeNone    NoticeKind = ""
	NoticeExpired NoticeKind = "expired"
	NoticeInitial NoticeKind = "initial"
	NoticeResend  NoticeKind = "resend"
	NoticeSilent  NoticeKind = "silent"
)

// Decision is the paywall verdict for one turn.
type Decision struct {
	// Stop ends the turn after persisting.
	Stop bool
	// Notice is the text to send, empty for a silent stop.
	Notice string
	Kind   NoticeKind
}

// Paywall blocks non-premium students and rate-limits sales notices.
type Paywall struct {
	cfg PaywallConfig
}

// NewPaywall creates a Paywall. Zero cooldowns fall back to the defaults.
func NewPaywall(cfg PaywallConfig) *Paywall {
	def := DefaultPaywallConfig()
	if cfg.SalesCooldown <= 0 {
		cfg.SalesCooldown = def.SalesCooldown
	}
	if cfg.RenewalCooldown <= 0 {
		cfg.RenewalCooldown = def.RenewalCooldown
	}
	return &Paywall{cfg: cfg}
}

// Evaluate decides whether rec may continue and stamps the notice timestamps
// on rec when a notice is sent. First matching rule wins:
//
//  1. expired and renewal cooldown elapsed: expiry notice
//  2. never sent a sales notice: initial notice
//  3. sales intent and sales cooldown elapsed: resend notice
//  4. otherwise: stop silently
func (p *Paywall) Evaluate(rec *student.Record, in lesson.Intent, now time.Time) Decision {
	if rec.IsPremium(now) {
		return Decision{}
	}

	if rec.IsExpired(now) && elapsed(rec.LastPremiumExpiredNoticeAt, p.cfg.RenewalCooldown, now) {
		rec.LastPremiumExpiredNoticeAt = stamp(now)
		return Decision{Stop: true, Notice: p.expiredNotice(rec), Kind: NoticeExpired}
	}

	if rec.LastSalesMessageAt == nil {
		rec.LastSalesMessageAt = stamp(now)
		return Decision{Stop: true, Notice: p.initialNotice(), Kind: NoticeInitial}
	}

	if in.SalesIntent && elapsed(rec.LastSalesMessageAt, p.cfg.SalesCooldown, now) {
		rec.LastSalesMessageAt = stamp(now)
		return Decision{Stop: true, Notice: p.initialNotice(), Kind: NoticeResend}
	}

	return Decision{Stop: true, Kind: NoticeSilent}
}

func elapsed(last *time.Time, cooldown time.Duration, now time.Time) bool {
	return last == nil || now.Sub(*last) >= cooldown
}

func stamp(now time.Time) *time.Time {
	t := now
	return &t
}

func (p *Paywall) initialNotice() string {
	msg := "Olá! 👋 Para praticar comigo todos os dias, com correções e áudios de pronúncia, você precisa do plano *Premium*."
	if p.cfg.CheckoutURL != "" {
		msg += fmt.Sprintf("\n\nAssine aqui: %s", p.cfg.CheckoutURL)
	}
	msg += "\n\nAssim que o pagamento for confirmado, é só me mandar uma mensagem. 😉"
	return msg
}

func (p *Paywall) expiredNotice(rec *student.Record) string {
	greeting := "Oi!"
	if rec.Name != "" {
		greeting = fmt.Sprintf("Oi, %s!", rec.Name)
	}
	msg := greeting + " Seu plano *Premium* expirou. Renove para continuar suas aulas de onde parou."
	if p.cfg.CheckoutURL != "" {
		msg += fmt.Sprintf("\n\nRenovar: %s", p.cfg.CheckoutURL)
	}
	return msg
}
