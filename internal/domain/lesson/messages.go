package lesson

import (
	"fmt"
	"strings"

	"github.com/falaja/tutor-bot/internal/domain/curriculum"
	"github.com/falaja/tutor-bot/internal/domain/student"
)

// Student-facing copy. Students are Brazilian, so everything is in Portuguese.

const (
	msgAskName        = "Olá! 👋 Eu sou sua tutora de idiomas. Como você se chama?"
	msgAskNameRetry   = "Não consegui entender seu nome 🙂 Como posso te chamar?"
	msgLanguageRetry  = "Qual idioma você quer praticar? Responda *1* para inglês ou *2* para francês."
	msgSuccess        = "Muito bem! ✅"
	msgCourseComplete = "🎉 Você concluiu todas as lições! Vamos continuar praticando a última lição."
)

// AskNamePrompt is the first message a new student receives.
func AskNamePrompt() string { return msgAskName }

func askLanguage(name string) string {
	return fmt.Sprintf("Prazer, %s! Qual idioma você quer praticar?\n1️⃣ Inglês\n2️⃣ Francês", name)
}

func languageSelected(lang student.Language) string {
	return fmt.Sprintf("Ótimo! Vamos praticar %s. Repita cada frase comigo, do seu jeito.", lang.DisplayName())
}

// PromptText renders the repetition prompt for one part.
func PromptText(lessonIndex int, l curriculum.Lesson, p curriculum.Part) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📘 Lição %d · %s\n", lessonIndex+1, l.Title)
	fmt.Fprintf(&b, "Repita: *%s*", p.Text)
	if p.PhoneticHint != "" {
		fmt.Fprintf(&b, "\n🗣️ Pronúncia: %s", p.PhoneticHint)
	}
	return b.String()
}

func ackReprompt(expected string) string {
	return fmt.Sprintf("Quando estiver pronto, escreva a frase: *%s*", expected)
}

func retry(expected string) string {
	return fmt.Sprintf("Quase! Tente de novo: *%s*", expected)
}
