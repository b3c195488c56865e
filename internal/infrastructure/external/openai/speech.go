package openai

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// maxAudioBytes caps a synthesized clip; a short phrase is a few KB.
const maxAudioBytes = 4 << 20

// Synthesizer renders pronunciation audio. It implements session.Synthesizer.
type Synthesizer struct {
	client sdk.Client
	cfg    Config
	guard  guard
	log    *logger.Logger
}

// NewSynthesizer creates a Synthesizer, or returns shared.ErrSpeechDisabled
// when no API key is configured.
func NewSynthesizer(cfg Config, log *logger.Logger, opts ...Option) (*Synthesizer, error) {
	if !cfg.Enabled() {
		return nil, shared.ErrSpeechDisabled
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("openai_speech"))
	return &Synthesizer{
		client: newSDKClient(cfg),
		cfg:    cfg,
		guard:  newGuard("openai_speech", log, applyOptions(opts)),
		log:    log,
	}, nil
}

// Synthesize returns MP3 audio of text spoken slowly.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, lang student.Language) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, shared.NewDomainError("openai", "Synthesize", shared.ErrEmptyValue, "nothing to synthesize")
	}

	params := sdk.AudioSpeechNewParams{
		Input:          text,
		Model:          sdk.SpeechModel(s.cfg.SpeechModel),
		Voice:          sdk.AudioSpeechNewParamsVoice(s.cfg.Voice),
		ResponseFormat: sdk.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          sdk.Float(0.85),
	}

	start := time.Now()
	var audio []byte
	err := s.guard.do(ctx, func(ctx context.Context) error {
		res, err := s.client.Audio.Speech.New(ctx, params)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		audio, err = io.ReadAll(io.LimitReader(res.Body, maxAudioBytes))
		if err != nil {
			return fmt.Errorf("read speech body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, shared.WrapError("openai", "Synthesize", shared.ErrExternalService, "speech request failed", err)
	}
	if len(audio) == 0 {
		return nil, shared.NewDomainError("openai", "Synthesize", shared.ErrExternalService, "speech returned no audio")
	}

	s.log.Debug("speech synthesized",
		logger.String("language", string(lang)),
		logger.Int("bytes", len(audio)),
		logger.Latency(time.Since(start)),
	)
	return audio, nil
}

// DisabledSynthesizer stands in when no API key is configured.
type DisabledSynthesizer struct{}

// Synthesize implements session.Synthesizer.
func (DisabledSynthesizer) Synthesize(context.Context, string, student.Language) ([]byte, error) {
	return nil, shared.ErrSpeechDisabled
}
