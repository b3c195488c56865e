package lesson

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/falaja/tutor-bot/internal/domain/student"
)

func TestIsAck(t *testing.T) {
	for _, s := range []string{
		"ok", "OK!", "Okay", "sim", "Certo.", "entendi", "beleza", "blz", "tá", "show",
		"valeu", "obrigada", "uhum", "s", "yes", "👍", "👌", "✅", "🙏", "ok obrigado", "sim, entendi",
	} {
		assert.True(t, IsAck(s), "%q should be an acknowledgement", s)
	}

	for _, s := range []string{
		"", "   ", "I work as a", "ok I work as a", "oi", "Ana", "sim sim sim sim",
	} {
		assert.False(t, IsAck(s), "%q should not be an acknowledgement", s)
	}
}

func TestExtractName(t *testing.T) {
	tests := map[string]string{
		"sou a Ana":                     "Ana",
		"Sou o pedro":                   "Pedro",
		"meu nome é joão silva":         "João Silva",
		"Meu nome e Carla, e o seu?":    "Carla",
		"me chamo Maria, prazer":        "Maria",
		"pode me chamar de Bia":         "Bia",
		"sou a Ana e quero aprender":    "Ana",
		"My name is Peter":              "Peter",
		"I'm Lucas":                     "Lucas",
		"oi! Fernanda aqui":             "Fernanda",
		"Carlos":                        "Carlos",
		"oi, tudo bem?":                 DefaultName,
		"👍":                             DefaultName,
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractName(in), in)
	}
}

func TestClassify_Language(t *testing.T) {
	c := NewRuleClassifier()

	tests := []struct {
		text      string
		want      student.Language
		ambiguous bool
	}{
		{"quero inglês", student.LanguageEnglish, false},
		{"English please", student.LanguageEnglish, false},
		{"1", student.LanguageEnglish, false},
		{"Francês", student.LanguageFrench, false},
		{"língua francesa", student.LanguageFrench, false},
		{"2", student.LanguageFrench, false},
		{"inglês ou francês?", student.LanguageNone, true},
		{"alemão", student.LanguageNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in := c.Classify(tt.text)
			assert.Equal(t, tt.want, in.Language)
			assert.Equal(t, tt.ambiguous, in.LanguageAmbiguous)
		})
	}
}

func TestClassify_Audio(t *testing.T) {
	c := NewRuleClassifier()

	tests := []struct {
		text   string
		phrase string
	}{
		{"áudio: Hello, my name is", "Hello, my name is"},
		{"Audio - Merci beaucoup", "Merci beaucoup"},
		{"pronúncia de bonjour", "bonjour"},
		{`como se pronuncia "Thank you"?`, "Thank you"},
		{"como se fala obrigado em inglês?", "obrigado em inglês"},
		{"me manda um áudio", ""},
		{"quero ouvir", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in := c.Classify(tt.text)
			assert.True(t, in.AudioRequest)
			assert.Equal(t, tt.phrase, in.AudioPhrase)
		})
	}

	assert.False(t, c.Classify("I work as a").AudioRequest)
}

func TestClassify_SalesAndMode(t *testing.T) {
	c := NewRuleClassifier()

	assert.True(t, c.Classify("quanto custa?").SalesIntent)
	assert.True(t, c.Classify("quero assinar o Premium").SalesIntent)
	assert.True(t, c.Classify("me manda o link").SalesIntent)
	assert.False(t, c.Classify("oi").SalesIntent)

	assert.Equal(t, student.ChatModeConversation, c.Classify("modo conversa").Mode)
	assert.Equal(t, student.ChatModeConversation, c.Classify("Conversar!").Mode)
	assert.Equal(t, student.ChatModeLesson, c.Classify("quero voltar para aula").Mode)
	assert.Equal(t, student.ChatModeLesson, c.Classify("Modo aula").Mode)
	assert.Empty(t, c.Classify("vamos conversar sobre viagens").Mode)
}

func TestClassify_KeepsRawAndNormalized(t *testing.T) {
	in := NewRuleClassifier().Classify("  Olá, TUDO bem? ")
	assert.Equal(t, "  Olá, TUDO bem? ", in.Text)
	assert.Equal(t, "ola tudo bem", in.Normalized)
	assert.False(t, in.AckOnly)
	assert.True(t, in.Greeting)
}

func TestClassify_Greeting(t *testing.T) {
	c := NewRuleClassifier()
	assert.True(t, c.Classify("oi").Greeting)
	assert.True(t, c.Classify("Bom dia!").Greeting)
	assert.False(t, c.Classify("oi, sou a Ana").Greeting)
	assert.False(t, c.Classify("👍").Greeting)
}
