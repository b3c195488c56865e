// Package curriculum holds the static lesson content for every target language.
// A Curriculum is loaded once and never mutated afterwards.
package curriculum

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

//go:embed curriculum.yaml
var defaultDocument []byte

// Part is the smallest unit of repetition content.
type Part struct {
	Text         string `yaml:"text"`
	PhoneticHint string `yaml:"phonetic_hint"`
}

// Lesson is an ordered list of parts under a title.
type Lesson struct {
	Title string `yaml:"title"`
	Parts []Part `yaml:"parts"`
}

// Position addresses a part inside a language's lessons.
type Position struct {
	Lesson int
	Part   int
}

// Curriculum maps each language to its ordered lessons.
type Curriculum struct {
	lessons map[student.Language][]Lesson
}

type document struct {
	Languages map[string][]Lesson `yaml:"languages"`
}

var (
	defaultOnce sync.Once
	defaultCurr *Curriculum
)

// Default returns the curriculum embedded in the binary.
// It panics if the embedded document is invalid, which is a build defect.
func Default() *Curriculum {
	defaultOnce.Do(func() {
		c, err := Parse(defaultDocument)
		if err != nil {
			panic(fmt.Sprintf("curriculum: embedded document: %v", err))
		}
		defaultCurr = c
	})
	return defaultCurr
}

// Parse decodes a YAML curriculum document.
// Every supported language must have at least one lesson and every lesson at least one part.
func Parse(data []byte) (*Curriculum, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat, "decode yaml", err)
	}

	c := &Curriculum{lessons: make(map[student.Language][]Lesson, len(doc.Languages))}
	for code, lessons := range doc.Languages {
		lang := student.Language(strings.ToLower(strings.TrimSpace(code)))
		if !lang.IsValid() {
			return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat,
				fmt.Sprintf("unsupported language %q", code), nil)
		}
		if len(lessons) == 0 {
			return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat,
				fmt.Sprintf("language %q has no lessons", code), nil)
		}
		for i, l := range lessons {
			if len(l.Parts) == 0 {
				return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat,
					fmt.Sprintf("lesson %d of %q has no parts", i, code), nil)
			}
			for j, p := range l.Parts {
				if strings.TrimSpace(p.Text) == "" {
					return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat,
						fmt.Sprintf("part %d of lesson %d of %q is empty", j, i, code), nil)
				}
			}
		}
		c.lessons[lang] = lessons
	}

	for _, lang := range []student.Language{student.LanguageEnglish, student.LanguageFrench} {
		if _, ok := c.lessons[lang]; !ok {
			return nil, shared.WrapError("curriculum", "Parse", shared.ErrInvalidFormat,
				fmt.Sprintf("missing language %q", lang), nil)
		}
	}
	return c, nil
}

// Lessons returns the lessons of lang, or nil when the language is unknown.
func (c *Curriculum) Lessons(lang student.Language) []Lesson {
	return c.lessons[lang]
}

// Clamp coerces a position into the bounds of lang.
// Out-of-range indexes become the last valid index; negative ones become zero.
func (c *Curriculum) Clamp(lang student.Language, pos Position) Position {
	lessons := c.lessons[lang]
	if len(lessons) == 0 {
		return Position{}
	}
	pos.Lesson = clampIndex(pos.Lesson, len(lessons))
	pos.Part = clampIndex(pos.Part, len(lessons[pos.Lesson].Parts))
	return pos
}

// Part returns the part at the clamped position.
func (c *Curriculum) Part(lang student.Language, pos Position) (Part, Position, error) {
	lessons := c.lessons[lang]
	if len(lessons) == 0 {
		return Part{}, Position{}, shared.ErrUnknownLanguage
	}
	pos = c.Clamp(lang, pos)
	return lessons[pos.Lesson].Parts[pos.Part], pos, nil
}

// Next returns the position after pos. It moves to the next part, then to the
// first part of the next lesson. Past the final part it stays on the last
// lesson, restarting its parts, and reports completed.
func (c *Curriculum) Next(lang student.Language, pos Position) (next Position, completed bool) {
	lessons := c.lessons[lang]
	if len(lessons) == 0 {
		return Position{}, false
	}
	pos = c.Clamp(lang, pos)

	if pos.Part+1 < len(lessons[pos.Lesson].Parts) {
		return Position{Lesson: pos.Lesson, Part: pos.Part + 1}, false
	}
	if pos.Lesson+1 < len(lessons) {
		return Position{Lesson: pos.Lesson + 1, Part: 0}, false
	}
	return Position{Lesson: len(lessons) - 1, Part: 0}, true
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
