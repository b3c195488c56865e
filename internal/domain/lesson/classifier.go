package lesson

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/falaja/tutor-bot/internal/domain/student"
)

// DefaultName is used when no name can be extracted from the student's reply.
const DefaultName = "Estudante"

// Intent is everything the rule-based classifier reads from one inbound text.
type Intent struct {
	// Text is the raw inbound text.
	Text string
	// Normalized is Normalize(Text).
	Normalized string

	// AckOnly is true for bare acknowledgements like "ok" or a thumbs-up.
	AckOnly bool
	// Greeting is true when the text is only a salutation like "oi, tudo bem?".
	Greeting bool

	// Language is set when exactly one target language is mentioned.
	Language student.Language
	// LanguageAmbiguous is true when both languages are mentioned.
	LanguageAmbiguous bool

	// Name is the extracted display name, DefaultName when nothing usable was found.
	Name string

	AudioRequest bool
	// AudioPhrase is the explicit phrase to synthesize, empty when none was given.
	AudioPhrase string

	SalesIntent bool

	// Mode is the requested chat mode, empty when the text does not ask to switch.
	Mode student.ChatMode
}

// Classifier turns inbound text into an Intent.
type Classifier interface {
	Classify(text string) Intent
}

// RuleClassifier is a keyword and pattern based Classifier for Portuguese speakers.
type RuleClassifier struct{}

// NewRuleClassifier creates a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lexicons
// ─────────────────────────────────────────────────────────────────────────────

var ackTokens = setOf(
	"ok", "okay", "okk", "sim", "certo", "entendi", "beleza", "blz", "ta", "show",
	"legal", "joia", "valeu", "obrigado", "obrigada", "uhum", "aham", "s", "yes", "yep",
)

const maxAckTokens = 3

var englishTokens = setOf("ingles", "english", "1")
var frenchTokens = setOf("frances", "francesa", "french", "francais", "2")

var audioTokens = setOf("audio", "pronuncia", "pronunciar", "ouvir", "escutar")
var audioPhrases = []string{"como se fala", "como se pronuncia", "como se diz"}

var salesTokens = setOf(
	"premium", "assinar", "assinatura", "pagar", "pagamento", "preco", "plano", "comprar", "link",
)
var salesPhrases = []string{"quanto custa", "quanto e"}

var conversationPhrases = []string{"modo conversa", "modo conversacao"}
var lessonPhrases = []string{"modo aula", "voltar para aula", "voltar pra aula", "voltar para a aula"}

var greetingTokens = setOf(
	"oi", "ola", "opa", "e", "ai", "bom", "boa", "dia", "tarde", "noite", "tudo", "bem",
	"como", "vai", "hi", "hello", "hey",
)

var nameStopwords = setOf(
	"oi", "ola", "opa", "e", "ai", "bom", "boa", "dia", "tarde", "noite", "tudo", "bem",
	"eu", "sou", "me", "chamo", "meu", "nome", "aqui", "quem", "fala", "a", "o",
	"hi", "hello", "hey", "my", "name", "is", "i", "am", "im", "call",
)

// nameTerminators end a captured name: "sou a Ana e quero aprender" yields "Ana".
var nameTerminators = setOf("e", "quero", "tenho", "prazer", "aqui", "and", "from", "i")

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)meu\s+nome\s+(?:é|e|eh)\s+(.+)`),
	regexp.MustCompile(`(?i)my\s+name\s+is\s+(.+)`),
	regexp.MustCompile(`(?i)me\s+chamo\s+(.+)`),
	regexp.MustCompile(`(?i)pode\s+me\s+chamar\s+de\s+(.+)`),
	regexp.MustCompile(`(?i)\bsou\s+(?:a|o)\s+(.+)`),
	regexp.MustCompile(`(?i)\bsou\s+(.+)`),
	regexp.MustCompile(`(?i)\bi(?:'m|\s+am)\s+(.+)`),
	regexp.MustCompile(`(?i)call\s+me\s+(.+)`),
}

var audioPhrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[áa]udio\s*[:\-]\s*(.+)`),
	regexp.MustCompile(`(?i)pron[úu]ncia\s+(?:de|do|da)\s+(.+)`),
	regexp.MustCompile(`(?i)como\s+se\s+(?:fala|pronuncia|diz)\s+(.+)`),
	regexp.MustCompile(`["“]([^"”]+)["”]`),
}

const maxNameWords = 3

// ─────────────────────────────────────────────────────────────────────────────
// Classification
// ─────────────────────────────────────────────────────────────────────────────

// Classify implements Classifier.
func (c *RuleClassifier) Classify(text string) Intent {
	normalized := Normalize(text)
	tokens := strings.Fields(normalized)

	in := Intent{
		Text:       text,
		Normalized: normalized,
		AckOnly:    isAck(text, tokens),
		Greeting:   isGreeting(tokens),
		Name:       ExtractName(text),
	}

	en, fr := containsAny(tokens, englishTokens), containsAny(tokens, frenchTokens)
	switch {
	case en && fr:
		in.LanguageAmbiguous = true
	case en:
		in.Language = student.LanguageEnglish
	case fr:
		in.Language = student.LanguageFrench
	}

	in.AudioRequest = containsAny(tokens, audioTokens) || containsPhrase(normalized, audioPhrases)
	if in.AudioRequest {
		in.AudioPhrase = extractAudioPhrase(text)
	}

	in.SalesIntent = containsAny(tokens, salesTokens) || containsPhrase(normalized, salesPhrases)

	switch {
	case containsPhrase(normalized, lessonPhrases):
		in.Mode = student.ChatModeLesson
	case containsPhrase(normalized, conversationPhrases) || normalized == "conversar":
		in.Mode = student.ChatModeConversation
	}

	return in
}

// IsAck reports whether text is a bare acknowledgement.
func IsAck(text string) bool {
	return isAck(text, strings.Fields(Normalize(text)))
}

func isAck(raw string, tokens []string) bool {
	if len(tokens) == 0 {
		// Emoji-only messages normalize to nothing.
		return strings.TrimSpace(raw) != ""
	}
	if len(tokens) > maxAckTokens {
		return false
	}
	for _, tok := range tokens {
		if _, ok := ackTokens[tok]; !ok {
			return false
		}
	}
	return true
}

func isGreeting(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if _, ok := greetingTokens[tok]; !ok {
			return false
		}
	}
	return true
}

// ExtractName pulls a display name out of an onboarding reply.
func ExtractName(text string) string {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if name := cleanName(m[1]); name != "" {
				return name
			}
		}
	}

	for _, word := range strings.FieldsFunc(text, isNameBreak) {
		if _, stop := nameStopwords[Normalize(word)]; stop {
			continue
		}
		if _, ack := ackTokens[Normalize(word)]; ack {
			continue
		}
		if len([]rune(word)) >= 2 && startsWithLetter(word) {
			return titleCase(word)
		}
	}
	return DefaultName
}

func cleanName(s string) string {
	if i := strings.IndexAny(s, ",.!?;:\n"); i >= 0 {
		s = s[:i]
	}
	words := strings.FieldsFunc(s, isNameBreak)
	out := make([]string, 0, maxNameWords)
	for _, w := range words {
		if len(out) == maxNameWords || !startsWithLetter(w) {
			break
		}
		if _, stop := nameTerminators[Normalize(w)]; stop {
			break
		}
		out = append(out, titleCase(w))
	}
	return strings.Join(out, " ")
}

func isNameBreak(r rune) bool {
	return !(unicode.IsLetter(r) || r == '\'' || r == '-')
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return unicode.IsLetter(r)
	}
	return false
}

func titleCase(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func extractAudioPhrase(text string) string {
	for _, re := range audioPhrasePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			phrase := strings.Trim(strings.TrimSpace(m[1]), `"“”'?!.,;:`)
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				return phrase
			}
		}
	}
	return ""
}

func containsAny(tokens []string, set map[string]struct{}) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

func containsPhrase(normalized string, phrases []string) bool {
	padded := " " + normalized + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func setOf(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
