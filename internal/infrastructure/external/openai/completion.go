package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"

	"github.com/falaja/tutor-bot/internal/application/session"
	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/pkg/logger"
)

const systemPrompt = `Você é uma tutora de idiomas simpática que conversa pelo WhatsApp com alunos brasileiros.
Responda sempre em português do Brasil, com frases curtas, no máximo 4 linhas.
Quando fizer sentido, inclua uma frase de exemplo no idioma que o aluno estuda, entre asteriscos.
Não invente preços nem links de pagamento.`

// Completer answers open-ended messages. It implements session.Completer.
type Completer struct {
	client sdk.Client
	cfg    Config
	guard  guard
	log    *logger.Logger
}

// NewCompleter creates a Completer, or returns shared.ErrCompletionDisabled
// when no API key is configured.
func NewCompleter(cfg Config, log *logger.Logger, opts ...Option) (*Completer, error) {
	if !cfg.Enabled() {
		return nil, shared.ErrCompletionDisabled
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("openai_completion"))
	return &Completer{
		client: newSDKClient(cfg),
		cfg:    cfg,
		guard:  newGuard("openai_completion", log, applyOptions(opts)),
		log:    log,
	}, nil
}

// Complete implements session.Completer.
func (c *Completer) Complete(ctx context.Context, sc session.StudentContext, userText string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.cfg.ChatModel),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.SystemMessage(studentBrief(sc)),
			sdk.UserMessage(userText),
		},
		MaxTokens:   sdk.Int(c.cfg.MaxTokens),
		Temperature: sdk.Float(0.6),
	}

	start := time.Now()
	var completion *sdk.ChatCompletion
	err := c.guard.do(ctx, func(ctx context.Context) error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		return err
	})
	if err != nil {
		return "", shared.WrapError("openai", "Complete", shared.ErrExternalService, "completion request failed", err)
	}
	if len(completion.Choices) == 0 {
		return "", shared.ErrEmptyCompletion
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", shared.ErrEmptyCompletion
	}

	c.log.Debug("completion received",
		logger.String("model", c.cfg.ChatModel),
		logger.Int64("total_tokens", completion.Usage.TotalTokens),
		logger.Latency(time.Since(start)),
	)
	return text, nil
}

// studentBrief describes the learner to the model.
func studentBrief(sc session.StudentContext) string {
	var b strings.Builder
	b.WriteString("Contexto do aluno:")
	if sc.Name != "" {
		fmt.Fprintf(&b, "\n- Nome: %s", sc.Name)
	}
	if sc.TargetLanguage.IsValid() {
		fmt.Fprintf(&b, "\n- Estuda: %s", sc.TargetLanguage.DisplayName())
	}
	if sc.LessonTitle != "" {
		fmt.Fprintf(&b, "\n- Lição atual: %s", sc.LessonTitle)
	}
	if sc.CurrentPhrase != "" {
		fmt.Fprintf(&b, "\n- Frase que está praticando: %s", sc.CurrentPhrase)
	}
	if sc.Premium {
		b.WriteString("\n- Plano: Premium")
	}
	return b.String()
}

// DisabledCompleter stands in when no API key is configured.
type DisabledCompleter struct{}

// Complete implements session.Completer.
func (DisabledCompleter) Complete(context.Context, session.StudentContext, string) (string, error) {
	return "", shared.ErrCompletionDisabled
}
