// Package lesson contains the guided-repetition state machine, the rule-based
// intent classifier and answer similarity scoring.
package lesson

import (
	"time"

	"github.com/falaja/tutor-bot/internal/domain/curriculum"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

// Outcome names what a Step did. It is used for logging and metrics.
type Outcome string

const (
	OutcomeNameRetry      Outcome = "name_retry"
	OutcomeNameSet        Outcome = "name_set"
	OutcomeLanguageRetry  Outcome = "language_retry"
	OutcomeLanguageSet    Outcome = "language_set"
	OutcomePrompted       Outcome = "prompted"
	OutcomeAckRejected    Outcome = "ack_rejected"
	OutcomeRetry          Outcome = "retry"
	OutcomeAdvanced       Outcome = "advanced"
	OutcomeCourseComplete Outcome = "course_complete"
	// OutcomeUnhandled means the record is in a state the engine cannot drive.
	OutcomeUnhandled Outcome = "unhandled"
)

// Result is the reply produced by one Step.
type Result struct {
	Text    string
	Outcome Outcome
	// Score is the similarity of the answer, set only when one was scored.
	Score float64
}

// Engine drives onboarding and lessons for one record at a time.
// It is stateless and safe for concurrent use; callers serialize access per record.
type Engine struct {
	curriculum *curriculum.Curriculum
	minScore   float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMinScore sets the acceptance threshold for answers.
func WithMinScore(score float64) EngineOption {
	return func(e *Engine) {
		if score > 0 && score <= 1 {
			e.minScore = score
		}
	}
}

// NewEngine creates an Engine over c.
func NewEngine(c *curriculum.Curriculum, opts ...EngineOption) *Engine {
	e := &Engine{curriculum: c, minScore: DefaultMinScore}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Curriculum returns the curriculum the engine walks.
func (e *Engine) Curriculum() *curriculum.Curriculum {
	return e.curriculum
}

// Step applies one inbound intent to rec and returns the reply.
func (e *Engine) Step(rec *student.Record, in Intent, now time.Time) Result {
	switch stage := rec.Stage.(type) {
	case student.AskingName:
		return e.stepName(rec, in)
	case student.AskingLanguage:
		return e.stepLanguage(rec, in, now)
	case student.Learning:
		return e.stepLearning(rec, stage, in, now)
	default:
		return Result{Outcome: OutcomeUnhandled}
	}
}

func (e *Engine) stepName(rec *student.Record, in Intent) Result {
	if in.Greeting {
		return Result{Text: msgAskName, Outcome: OutcomeNameRetry}
	}
	if in.AckOnly || in.Normalized == "" {
		return Result{Text: msgAskNameRetry, Outcome: OutcomeNameRetry}
	}
	name := in.Name
	if name == "" {
		name = DefaultName
	}
	rec.SetName(name)
	if err := rec.Advance(student.AskingLanguage{}); err != nil {
		return Result{Outcome: OutcomeUnhandled}
	}
	return Result{Text: askLanguage(rec.Name), Outcome: OutcomeNameSet}
}

func (e *Engine) stepLanguage(rec *student.Record, in Intent, now time.Time) Result {
	if in.LanguageAmbiguous || !in.Language.IsValid() {
		return Result{Text: msgLanguageRetry, Outcome: OutcomeLanguageRetry}
	}

	rec.SelectLanguage(in.Language)
	if err := rec.Advance(student.Learning{}); err != nil {
		return Result{Outcome: OutcomeUnhandled}
	}

	prompt, ok := e.Prompt(rec, now)
	if !ok {
		return Result{Outcome: OutcomeUnhandled}
	}
	return Result{
		Text:    languageSelected(in.Language) + "\n\n" + prompt,
		Outcome: OutcomeLanguageSet,
	}
}

func (e *Engine) stepLearning(rec *student.Record, stage student.Learning, in Intent, now time.Time) Result {
	if len(e.curriculum.Lessons(rec.TargetLanguage)) == 0 {
		return Result{Outcome: OutcomeUnhandled}
	}
	if stage.Awaiting == nil {
		prompt, ok := e.Prompt(rec, now)
		if !ok {
			return Result{Outcome: OutcomeUnhandled}
		}
		return Result{Text: prompt, Outcome: OutcomePrompted}
	}

	expected := stage.Awaiting.Text

	// A bare acknowledgement never counts as an answer, whatever it scores.
	if in.AckOnly {
		return Result{Text: ackReprompt(expected), Outcome: OutcomeAckRejected}
	}

	score := Similarity(expected, in.Text)
	if score < e.minScore {
		return Result{Text: retry(expected), Outcome: OutcomeRetry, Score: score}
	}

	pos := curriculum.Position{Lesson: rec.LessonIndex, Part: rec.PartIndex}
	next, completed := e.curriculum.Next(rec.TargetLanguage, pos)
	rec.LessonIndex, rec.PartIndex = next.Lesson, next.Part

	prompt, ok := e.Prompt(rec, now)
	if !ok {
		return Result{Outcome: OutcomeUnhandled}
	}

	res := Result{Text: msgSuccess + "\n\n" + prompt, Outcome: OutcomeAdvanced, Score: score}
	if completed {
		res.Text = msgSuccess + "\n" + msgCourseComplete + "\n\n" + prompt
		res.Outcome = OutcomeCourseComplete
	}
	return res
}

// Prompt clamps rec's position, marks the current part as awaited and returns
// its prompt text. It reports false when rec has no usable curriculum.
func (e *Engine) Prompt(rec *student.Record, now time.Time) (string, bool) {
	part, pos, err := e.curriculum.Part(rec.TargetLanguage, curriculum.Position{
		Lesson: rec.LessonIndex,
		Part:   rec.PartIndex,
	})
	if err != nil {
		return "", false
	}
	rec.LessonIndex, rec.PartIndex = pos.Lesson, pos.Part
	rec.SetAwaiting(part.Text, now)

	l := e.curriculum.Lessons(rec.TargetLanguage)[pos.Lesson]
	return PromptText(pos.Lesson, l, part), true
}

// CurrentPrompt renders the prompt of rec's current part without touching rec.
func (e *Engine) CurrentPrompt(rec *student.Record) (string, bool) {
	part, pos, err := e.curriculum.Part(rec.TargetLanguage, curriculum.Position{
		Lesson: rec.LessonIndex,
		Part:   rec.PartIndex,
	})
	if err != nil {
		return "", false
	}
	return PromptText(pos.Lesson, e.curriculum.Lessons(rec.TargetLanguage)[pos.Lesson], part), true
}

// CurrentPart returns the part at rec's clamped position.
func (e *Engine) CurrentPart(rec *student.Record) (curriculum.Part, bool) {
	part, _, err := e.curriculum.Part(rec.TargetLanguage, curriculum.Position{
		Lesson: rec.LessonIndex,
		Part:   rec.PartIndex,
	})
	return part, err == nil
}
