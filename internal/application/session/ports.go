// Package session runs one conversation turn per inbound message: dedupe,
// load and reconcile the student record, gate on entitlement, dispatch to the
// lesson engine or the open-ended fallback, persist and reply.
package session

import (
	"context"

	"github.com/falaja/tutor-bot/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR PORTS
// Implementations live in infrastructure. Every port may fail; the orchestrator
// degrades instead of dropping the turn.
// ══════════════════════════════════════════════════════════════════════════════

// Transport delivers replies to a phone identity.
type Transport interface {
	SendText(ctx context.Context, phone, text string) error
	SendAudio(ctx context.Context, phone string, audio []byte) error
}

// Synthesizer turns text into speech audio.
// A nil slice with a nil error means no audio is available.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang student.Language) ([]byte, error)
}

// StudentContext is what the completion collaborator may know about the student.
type StudentContext struct {
	Name           string
	TargetLanguage student.Language
	LessonTitle    string
	CurrentPhrase  string
	Premium        bool
}

// Completer answers free-form messages.
type Completer interface {
	Complete(ctx context.Context, sc StudentContext, userText string) (string, error)
}

// Flags reports feature toggles per phone.
type Flags interface {
	HardPaywall(phone string) bool
	AudioEnabled(phone string) bool
	RequireExplicitAudioText(phone string) bool
	OpenConversation(phone string) bool
}

// Metrics is the observable side channel for the turn pipeline.
type Metrics interface {
	MessageReceived()
	DuplicateDropped()
	TurnCompleted(outcome string)
	PaywallNotice(kind string)
	PersistFailed(op string)
	DurableReadFailed()
	CollaboratorFailed(name string)
}

// ─────────────────────────────────────────────────────────────────────────────
// Defaults
// ─────────────────────────────────────────────────────────────────────────────

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) MessageReceived()          {}
func (NopMetrics) DuplicateDropped()         {}
func (NopMetrics) TurnCompleted(string)      {}
func (NopMetrics) PaywallNotice(string)      {}
func (NopMetrics) PersistFailed(string)      {}
func (NopMetrics) DurableReadFailed()        {}
func (NopMetrics) CollaboratorFailed(string) {}

// StaticFlags applies the same toggles to every phone.
type StaticFlags struct {
	Paywall           bool
	Audio             bool
	ExplicitAudioText bool
	Conversation      bool
}

func (f StaticFlags) HardPaywall(string) bool              { return f.Paywall }
func (f StaticFlags) AudioEnabled(string) bool             { return f.Audio }
func (f StaticFlags) RequireExplicitAudioText(string) bool { return f.ExplicitAudioText }
func (f StaticFlags) OpenConversation(string) bool         { return f.Conversation }
