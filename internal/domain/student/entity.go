package student

import (
	"strings"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Language is the language a student is learning.
type Language string

const (
	// LanguageNone means the student has not chosen yet.
	LanguageNone Language = ""
	// LanguageEnglish selects the English curriculum.
	LanguageEnglish Language = "en"
	// LanguageFrench selects the French curriculum.
	LanguageFrench Language = "fr"
)

// IsValid reports whether the language has a curriculum.
func (l Language) IsValid() bool {
	return l == LanguageEnglish || l == LanguageFrench
}

// DisplayName returns the Portuguese name shown to students.
func (l Language) DisplayName() string {
	switch l {
	case LanguageEnglish:
		return "inglês"
	case LanguageFrench:
		return "francês"
	default:
		return "idioma"
	}
}

// ChatMode selects between guided lessons and open conversation.
type ChatMode string

const (
	ChatModeLesson       ChatMode = "lesson"
	ChatModeConversation ChatMode = "conversation"
)

// IsValid reports whether the mode is known.
func (m ChatMode) IsValid() bool {
	return m == ChatModeLesson || m == ChatModeConversation
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE
// ══════════════════════════════════════════════════════════════════════════════

// Stage is the onboarding or learning state of a student.
// The set of implementations is closed: AskingName, AskingLanguage, Learning.
type Stage interface {
	// Name is the persisted identifier of the stage.
	Name() string
	rank() int
}

// Expected is the lesson text the student was last asked to reproduce.
type Expected struct {
	Text  string
	SetAt time.Time
}

// AskingName waits for the student's name.
type AskingName struct{}

// AskingLanguage waits for the student to pick a target language.
type AskingLanguage struct{}

// Learning runs lessons. Awaiting is nil until the first prompt is sent.
type Learning struct {
	Awaiting *Expected
}

const (
	StageNameAskingName     = "asking_name"
	StageNameAskingLanguage = "asking_language"
	StageNameLearning       = "learning"
)

func (AskingName) Name() string     { return StageNameAskingName }
func (AskingLanguage) Name() string { return StageNameAskingLanguage }
func (Learning) Name() string       { return StageNameLearning }

func (AskingName) rank() int     { return 0 }
func (AskingLanguage) rank() int { return 1 }
func (Learning) rank() int       { return 2 }

// StageFromName rebuilds a stage from its persisted form.
// awaiting is only meaningful for the learning stage.
func StageFromName(name string, awaiting *Expected) (Stage, error) {
	switch name {
	case StageNameAskingName:
		return AskingName{}, nil
	case StageNameAskingLanguage:
		return AskingLanguage{}, nil
	case StageNameLearning:
		return Learning{Awaiting: awaiting}, nil
	default:
		return nil, shared.WrapError("student", "StageFromName", shared.ErrInvalidFormat, "unknown stage "+name, nil)
	}
}

// AwaitingOf returns the expected text of a learning stage, or nil.
func AwaitingOf(s Stage) *Expected {
	if l, ok := s.(Learning); ok {
		return l.Awaiting
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is the full persisted state of one student, keyed by phone.
type Record struct {
	Phone          string
	Name           string
	TargetLanguage Language

	Stage       Stage
	LessonIndex int
	PartIndex   int
	ChatMode    ChatMode

	Plan            Plan
	PremiumUntil    *time.Time
	PaymentProvider string

	LastSalesMessageAt         *time.Time
	LastPremiumExpiredNoticeAt *time.Time

	CreatedAt     time.Time
	LastMessageAt time.Time
}

// New creates a fresh record for a phone seen for the first time.
func New(phone string, now time.Time) *Record {
	return &Record{
		Phone:         phone,
		Stage:         AskingName{},
		ChatMode:      ChatModeLesson,
		Plan:          PlanFree,
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

// Advance moves the record to next. Moving to an earlier stage is refused.
func (r *Record) Advance(next Stage) error {
	if next == nil {
		return shared.ErrInvalidStageTransition
	}
	if r.Stage != nil && next.rank() < r.Stage.rank() {
		return shared.ErrInvalidStageTransition
	}
	r.Stage = next
	return nil
}

// SetAwaiting records the text the student must now reproduce.
// It is a no-op outside the learning stage.
func (r *Record) SetAwaiting(text string, now time.Time) {
	if _, ok := r.Stage.(Learning); !ok {
		return
	}
	r.Stage = Learning{Awaiting: &Expected{Text: text, SetAt: now}}
}

// Awaiting returns the expected text, or nil outside of an active prompt.
func (r *Record) Awaiting() *Expected {
	return AwaitingOf(r.Stage)
}

// SetName stores a trimmed display name.
func (r *Record) SetName(name string) {
	r.Name = strings.TrimSpace(name)
}

// SelectLanguage sets the target language and restarts the curriculum.
func (r *Record) SelectLanguage(lang Language) {
	r.TargetLanguage = lang
	r.LessonIndex = 0
	r.PartIndex = 0
}

// Entitlement returns the entitlement fields of the record.
func (r *Record) Entitlement() Entitlement {
	return Entitlement{
		Plan:            r.Plan,
		PremiumUntil:    copyTime(r.PremiumUntil),
		PaymentProvider: r.PaymentProvider,
	}
}

// SetEntitlement overwrites the entitlement fields.
func (r *Record) SetEntitlement(e Entitlement) {
	r.Plan = e.Plan
	r.PremiumUntil = copyTime(e.PremiumUntil)
	r.PaymentProvider = e.PaymentProvider
}

// Clone returns a deep copy. Cached records are handed out as clones.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PremiumUntil = copyTime(r.PremiumUntil)
	c.LastSalesMessageAt = copyTime(r.LastSalesMessageAt)
	c.LastPremiumExpiredNoticeAt = copyTime(r.LastPremiumExpiredNoticeAt)
	if l, ok := r.Stage.(Learning); ok && l.Awaiting != nil {
		exp := *l.Awaiting
		c.Stage = Learning{Awaiting: &exp}
	}
	return &c
}

// Validate checks the structural invariants of the record.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Phone) == "" {
		return shared.ErrInvalidPhone
	}
	if r.Stage == nil {
		return shared.NewDomainError("student", "Validate", shared.ErrInvalidState, "stage is required")
	}
	if r.LessonIndex < 0 || r.PartIndex < 0 {
		return shared.NewDomainError("student", "Validate", shared.ErrValueOutOfRange, "curriculum position cannot be negative")
	}
	if _, ok := r.Stage.(Learning); ok && !r.TargetLanguage.IsValid() {
		return shared.NewDomainError("student", "Validate", shared.ErrInvalidState, "learning requires a target language")
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
