package lesson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falaja/tutor-bot/internal/domain/curriculum"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newEngine() (*Engine, *RuleClassifier) {
	return NewEngine(curriculum.Default()), NewRuleClassifier()
}

func learningRecord(lang student.Language, lesson, part int, expected string) *student.Record {
	rec := student.New("5511987654321", now.Add(-time.Hour))
	rec.Name = "Ana"
	rec.TargetLanguage = lang
	rec.LessonIndex, rec.PartIndex = lesson, part
	rec.Stage = student.Learning{Awaiting: &student.Expected{Text: expected, SetAt: now.Add(-time.Minute)}}
	return rec
}

func TestStep_AskName(t *testing.T) {
	e, c := newEngine()

	t.Run("ack re-prompts", func(t *testing.T) {
		rec := student.New("5511987654321", now)
		res := e.Step(rec, c.Classify("ok"), now)
		assert.Equal(t, OutcomeNameRetry, res.Outcome)
		assert.Equal(t, student.AskingName{}, rec.Stage)
		assert.Empty(t, rec.Name)
	})

	t.Run("name advances", func(t *testing.T) {
		rec := student.New("5511987654321", now)
		res := e.Step(rec, c.Classify("sou a Ana"), now)
		assert.Equal(t, OutcomeNameSet, res.Outcome)
		assert.Equal(t, "Ana", rec.Name)
		assert.Equal(t, student.AskingLanguage{}, rec.Stage)
		assert.Contains(t, res.Text, "Ana")
	})

	t.Run("greeting asks for the name", func(t *testing.T) {
		rec := student.New("5511987654321", now)
		res := e.Step(rec, c.Classify("oi, tudo bem?"), now)
		assert.Equal(t, OutcomeNameRetry, res.Outcome)
		assert.Equal(t, AskNamePrompt(), res.Text)
		assert.Equal(t, student.AskingName{}, rec.Stage)
	})

	t.Run("unusable reply falls back to placeholder", func(t *testing.T) {
		rec := student.New("5511987654321", now)
		e.Step(rec, c.Classify("123"), now)
		assert.Equal(t, DefaultName, rec.Name)
		assert.Equal(t, student.AskingLanguage{}, rec.Stage)
	})
}

func TestStep_AskLanguage(t *testing.T) {
	e, c := newEngine()

	t.Run("single language starts lesson zero", func(t *testing.T) {
		rec := student.New("5511987654321", now)
		rec.Stage = student.AskingLanguage{}
		rec.LessonIndex, rec.PartIndex = 2, 1

		res := e.Step(rec, c.Classify("quero inglês"), now)

		assert.Equal(t, OutcomeLanguageSet, res.Outcome)
		assert.Equal(t, student.LanguageEnglish, rec.TargetLanguage)
		assert.Zero(t, rec.LessonIndex)
		assert.Zero(t, rec.PartIndex)
		require.NotNil(t, rec.Awaiting())
		assert.Equal(t, "Hello, my name is", rec.Awaiting().Text)
		assert.Equal(t, now, rec.Awaiting().SetAt)
		assert.Contains(t, res.Text, "inglês")
		assert.Contains(t, res.Text, "Hello, my name is")
	})

	for _, text := range []string{"inglês ou francês", "alemão", "ok"} {
		t.Run("re-prompts on "+text, func(t *testing.T) {
			rec := student.New("5511987654321", now)
			rec.Stage = student.AskingLanguage{}

			res := e.Step(rec, c.Classify(text), now)

			assert.Equal(t, OutcomeLanguageRetry, res.Outcome)
			assert.Equal(t, student.AskingLanguage{}, rec.Stage)
			assert.Equal(t, student.LanguageNone, rec.TargetLanguage)
		})
	}
}

func TestStep_AckNeverAdvances(t *testing.T) {
	e, c := newEngine()

	for _, ack := range []string{"ok", "sim", "certo", "entendi", "👍", "valeu", "ok obrigado", "yes"} {
		t.Run(ack, func(t *testing.T) {
			rec := learningRecord(student.LanguageEnglish, 1, 0, "I work as a")
			before := *rec.Awaiting()

			res := e.Step(rec, c.Classify(ack), now)

			assert.Equal(t, OutcomeAckRejected, res.Outcome)
			assert.Equal(t, before, *rec.Awaiting())
			assert.Equal(t, 1, rec.LessonIndex)
			assert.Equal(t, 0, rec.PartIndex)
			assert.Contains(t, res.Text, "I work as a")
		})
	}
}

func TestStep_ScoreBelowThresholdRetries(t *testing.T) {
	e, c := newEngine()
	rec := learningRecord(student.LanguageEnglish, 1, 1, "I work from home")

	res := e.Step(rec, c.Classify("casa"), now)

	assert.Equal(t, OutcomeRetry, res.Outcome)
	assert.Equal(t, "I work from home", rec.Awaiting().Text)
	assert.Equal(t, 1, rec.PartIndex)
	assert.Less(t, res.Score, DefaultMinScore)
}

func TestStep_CorrectAnswerAdvances(t *testing.T) {
	e, c := newEngine()
	rec := learningRecord(student.LanguageEnglish, 1, 0, "I work as a")

	res := e.Step(rec, c.Classify("I work as a"), now)

	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, 1, rec.LessonIndex)
	assert.Equal(t, 1, rec.PartIndex)
	require.NotNil(t, rec.Awaiting())
	assert.Equal(t, "I work from home", rec.Awaiting().Text)
	assert.Contains(t, res.Text, "Muito bem")
	assert.Contains(t, res.Text, "I work from home")
	assert.GreaterOrEqual(t, res.Score, DefaultMinScore)
}

func TestStep_WrapsToNextLesson(t *testing.T) {
	e, c := newEngine()
	lessons := e.Curriculum().Lessons(student.LanguageFrench)
	lastPart := len(lessons[0].Parts) - 1
	expected := lessons[0].Parts[lastPart].Text
	rec := learningRecord(student.LanguageFrench, 0, lastPart, expected)

	e.Step(rec, c.Classify(expected), now)

	assert.Equal(t, 1, rec.LessonIndex)
	assert.Equal(t, 0, rec.PartIndex)
	assert.Equal(t, lessons[1].Parts[0].Text, rec.Awaiting().Text)
}

func TestStep_CourseCompletionClamps(t *testing.T) {
	e, c := newEngine()
	lessons := e.Curriculum().Lessons(student.LanguageEnglish)
	last := len(lessons) - 1
	lastPart := len(lessons[last].Parts) - 1
	expected := lessons[last].Parts[lastPart].Text
	rec := learningRecord(student.LanguageEnglish, last, lastPart, expected)

	res := e.Step(rec, c.Classify(expected), now)

	assert.Equal(t, OutcomeCourseComplete, res.Outcome)
	assert.Equal(t, last, rec.LessonIndex)
	assert.Equal(t, 0, rec.PartIndex)
	assert.Equal(t, lessons[last].Parts[0].Text, rec.Awaiting().Text)
}

func TestStep_LearningWithoutAwaitingPrompts(t *testing.T) {
	e, c := newEngine()
	rec := learningRecord(student.LanguageEnglish, 99, 99, "")
	rec.Stage = student.Learning{}

	res := e.Step(rec, c.Classify("bom dia"), now)

	lessons := e.Curriculum().Lessons(student.LanguageEnglish)
	last := len(lessons) - 1
	assert.Equal(t, OutcomePrompted, res.Outcome)
	assert.Equal(t, last, rec.LessonIndex)
	assert.Equal(t, len(lessons[last].Parts)-1, rec.PartIndex)
	assert.Equal(t, lessons[last].Parts[rec.PartIndex].Text, rec.Awaiting().Text)
}

func TestStep_LearningWithoutLanguageIsUnhandled(t *testing.T) {
	e, c := newEngine()
	rec := learningRecord(student.LanguageNone, 0, 0, "Hello")

	res := e.Step(rec, c.Classify("Hello"), now)

	assert.Equal(t, OutcomeUnhandled, res.Outcome)
	assert.Empty(t, res.Text)
}

func TestCurrentPrompt_DoesNotMutate(t *testing.T) {
	e, _ := newEngine()
	rec := learningRecord(student.LanguageEnglish, 1, 0, "I work as a")
	before := *rec.Awaiting()

	text, ok := e.CurrentPrompt(rec)

	require.True(t, ok)
	assert.Contains(t, text, "I work as a")
	assert.Equal(t, before, *rec.Awaiting())
}

func TestWithMinScore(t *testing.T) {
	e := NewEngine(curriculum.Default(), WithMinScore(0.9))
	c := NewRuleClassifier()
	rec := learningRecord(student.LanguageEnglish, 1, 1, "I work from home")

	res := e.Step(rec, c.Classify("i work at home"), now)
	assert.Equal(t, OutcomeRetry, res.Outcome)

	assert.Equal(t, DefaultMinScore, NewEngine(curriculum.Default(), WithMinScore(3)).minScore)
}
