// Package openai implements the conversational completion and speech
// synthesis collaborators over the OpenAI API.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
	"github.com/falaja/tutor-bot/pkg/logger"
	"github.com/falaja/tutor-bot/pkg/retry"
)

// Config holds the OpenAI settings shared by both collaborators.
type Config struct {
	APIKey  string
	BaseURL string

	// ChatModel answers open-ended messages.
	ChatModel string
	// MaxTokens caps a completion; replies are WhatsApp-sized.
	MaxTokens int64

	// SpeechModel and Voice drive pronunciation audio.
	SpeechModel string
	Voice       string

	// Timeout bounds one request. The SDK retries transport errors
	// MaxRetries times on its own.
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns the production models.
func DefaultConfig() Config {
	return Config{
		ChatModel:   string(sdk.ChatModelGPT4oMini),
		MaxTokens:   300,
		SpeechModel: string(sdk.SpeechModelTTS1),
		Voice:       string(sdk.AudioSpeechNewParamsVoiceNova),
		Timeout:     20 * time.Second,
		MaxRetries:  1,
	}
}

// Enabled reports whether an API key is set.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChatModel == "" {
		c.ChatModel = def.ChatModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.SpeechModel == "" {
		c.SpeechModel = def.SpeechModel
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

func newSDKClient(cfg Config) sdk.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	return sdk.NewClient(opts...)
}

// Option configures a Completer or Synthesizer.
type Option func(*options)

type options struct {
	onBreakerChange func(name string, from, to circuitbreaker.State)
}

// WithBreakerHook observes circuit breaker transitions in addition to logging them.
func WithBreakerHook(fn func(name string, from, to circuitbreaker.State)) Option {
	return func(o *options) {
		o.onBreakerChange = fn
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// guard is the retry and breaker pair wrapped around every API call.
type guard struct {
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
}

func newGuard(name string, log *logger.Logger, o options) guard {
	return guard{
		retrier: retry.OpenAIRetrier(),
		breaker: circuitbreaker.OpenAIBreaker(name, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			if o.onBreakerChange != nil {
				o.onBreakerChange(name, from, to)
			}
		}),
	}
}

// do runs fn through the breaker, retrying only on rate limiting.
func (g guard) do(ctx context.Context, fn func(context.Context) error) error {
	return g.retrier.Do(ctx, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			err := fn(ctx)
			if isRateLimited(err) {
				return retry.Retryable(err)
			}
			return err
		})
	})
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
