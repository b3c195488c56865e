package session

import (
	"context"
	"strings"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/lesson"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// DefaultTurnTimeout bounds one inbound turn including every collaborator call.
const DefaultTurnTimeout = 45 * time.Second

// Inbound is one message received from the messaging gateway.
type Inbound struct {
	MessageID  string
	Phone      string
	Text       string
	SenderName string
}

// Turn outcome kinds that are not lesson outcomes.
const (
	KindIgnored           = "ignored"
	KindDuplicate         = "duplicate"
	KindAudio             = "audio"
	KindAudioFallback     = "audio_fallback"
	KindAudioAskPhrase    = "audio_ask_phrase"
	KindModeConversation  = "mode_conversation"
	KindModeLesson        = "mode_lesson"
	KindModeUnavailable   = "mode_unavailable"
	KindOpenEnded         = "open_ended"
	KindOpenEndedAck      = "open_ended_ack"
	KindCompletionFailure = "completion_failure"
	kindPaywallPrefix     = "paywall_"
)

// Outcome describes what a turn did.
type Outcome struct {
	Kind string
	// Reply is the text sent, empty when nothing or audio was sent.
	Reply string
	// Audio is true when the reply was an audio message.
	Audio bool
}

// Replied reports whether the turn sent a message.
func (o Outcome) Replied() bool {
	return o.Reply != "" || o.Audio
}

// Dependencies groups the collaborators of an Orchestrator.
type Dependencies struct {
	Guard       Guard
	Store       *Store
	Classifier  lesson.Classifier
	Engine      *lesson.Engine
	Paywall     *Paywall
	Transport   Transport
	Synthesizer Synthesizer
	Completer   Completer
	Flags       Flags
	Metrics     Metrics
	Logger      *logger.Logger
}

// Orchestrator runs inbound turns.
type Orchestrator struct {
	guard       Guard
	store       *Store
	classifier  lesson.Classifier
	engine      *lesson.Engine
	paywall     *Paywall
	transport   Transport
	synthesizer Synthesizer
	completer   Completer
	flags       Flags
	metrics     Metrics
	log         *logger.Logger

	now         func() time.Time
	turnTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTurnTimeout bounds each turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.turnTimeout = d
		}
	}
}

// NewOrchestrator wires an Orchestrator. Store, Classifier, Engine, Paywall
// and Transport are required; the rest have harmless defaults.
func NewOrchestrator(deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		guard:       deps.Guard,
		store:       deps.Store,
		classifier:  deps.Classifier,
		engine:      deps.Engine,
		paywall:     deps.Paywall,
		transport:   deps.Transport,
		synthesizer: deps.Synthesizer,
		completer:   deps.Completer,
		flags:       deps.Flags,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		now:         time.Now,
		turnTimeout: DefaultTurnTimeout,
	}
	if o.guard == nil {
		o.guard = NewMemoryGuard(DefaultDedupeMaxEntries)
	}
	if o.flags == nil {
		o.flags = StaticFlags{Audio: true, Conversation: true}
	}
	if o.metrics == nil {
		o.metrics = NopMetrics{}
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	o.log = o.log.With(logger.Component("orchestrator"))
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// reply is what a dispatch branch wants to send.
type reply struct {
	text  string
	audio []byte
	kind  string
}

// Handle runs one inbound turn. It never fails: every collaborator failure
// degrades to a defined reply and is logged.
func (o *Orchestrator) Handle(ctx context.Context, msg Inbound) Outcome {
	o.metrics.MessageReceived()

	phone := strings.TrimSpace(msg.Phone)
	text := strings.TrimSpace(msg.Text)
	if phone == "" || text == "" {
		o.metrics.TurnCompleted(KindIgnored)
		return Outcome{Kind: KindIgnored}
	}

	if !o.guard.ShouldProcess(ctx, msg.MessageID) {
		o.metrics.DuplicateDropped()
		o.log.Debug("duplicate message dropped", logger.Phone(phone), logger.MessageID(msg.MessageID))
		return Outcome{Kind: KindDuplicate}
	}

	// Once accepted, a turn runs to completion even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.turnTimeout)
	defer cancel()

	unlock := o.store.Lock(phone)
	defer unlock()

	start := o.now()
	now := start
	log := o.log.With(logger.Phone(phone), logger.MessageID(msg.MessageID))

	rec := o.store.Load(ctx, phone, now)
	if rec == nil {
		rec = student.New(phone, now)
		log.Info("new student")
	}
	rec.LastMessageAt = now

	in := o.classifier.Classify(text)

	if o.flags.HardPaywall(phone) {
		if d := o.paywall.Evaluate(rec, in, now); d.Stop {
			o.metrics.PaywallNotice(string(d.Kind))
			o.store.Persist(ctx, rec, now)

			out := Outcome{Kind: kindPaywallPrefix + string(d.Kind)}
			if d.Notice != "" {
				o.deliver(ctx, log, phone, reply{text: d.Notice})
				out.Reply = d.Notice
			}
			o.metrics.TurnCompleted(out.Kind)
			log.Info("turn stopped by paywall", logger.String("notice", string(d.Kind)))
			return out
		}
	}

	r := o.dispatch(ctx, log, rec, in, now)

	o.store.Persist(ctx, rec, now)
	o.deliver(ctx, log, phone, r)
	o.metrics.TurnCompleted(r.kind)

	log.Info("turn completed",
		logger.Stage(stageName(rec.Stage)),
		logger.String("outcome", r.kind),
		logger.Latency(o.now().Sub(start)),
	)

	out := Outcome{Kind: r.kind, Audio: len(r.audio) > 0}
	if !out.Audio {
		out.Reply = r.text
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, log *logger.Logger, rec *student.Record, in lesson.Intent, now time.Time) reply {
	switch rec.Stage.(type) {
	case student.AskingName, student.AskingLanguage:
		return o.lessonStep(ctx, log, rec, in, now)

	case student.Learning:
		if in.Mode != "" {
			return o.switchMode(rec, in.Mode, now)
		}
		if in.AudioRequest {
			return o.audio(ctx, log, rec, in)
		}
		if rec.ChatMode == student.ChatModeConversation {
			return o.openEnded(ctx, log, rec, in)
		}
		return o.lessonStep(ctx, log, rec, in, now)

	default:
		return o.openEnded(ctx, log, rec, in)
	}
}

func (o *Orchestrator) lessonStep(ctx context.Context, log *logger.Logger, rec *student.Record, in lesson.Intent, now time.Time) reply {
	res := o.engine.Step(rec, in, now)
	if res.Outcome == lesson.OutcomeUnhandled {
		log.Warn("lesson engine could not handle record, using open-ended fallback",
			logger.Stage(stageName(rec.Stage)),
			logger.String("language", string(rec.TargetLanguage)),
		)
		return o.openEnded(ctx, log, rec, in)
	}
	return reply{text: res.Text, kind: string(res.Outcome)}
}

func (o *Orchestrator) switchMode(rec *student.Record, mode student.ChatMode, now time.Time) reply {
	if mode == student.ChatModeConversation {
		if !o.flags.OpenConversation(rec.Phone) {
			return reply{text: msgConversationDisabled, kind: KindModeUnavailable}
		}
		rec.ChatMode = student.ChatModeConversation
		return reply{text: msgConversationOn, kind: KindModeConversation}
	}

	rec.ChatMode = student.ChatModeLesson
	var prompt string
	var ok bool
	if rec.Awaiting() == nil {
		prompt, ok = o.engine.Prompt(rec, now)
	} else {
		prompt, ok = o.engine.CurrentPrompt(rec)
	}
	if !ok {
		return reply{text: msgLessonOn, kind: KindModeLesson}
	}
	return reply{text: msgLessonOn + "\n\n" + prompt, kind: KindModeLesson}
}

// audio answers a pronunciation request. It never changes lesson state.
func (o *Orchestrator) audio(ctx context.Context, log *logger.Logger, rec *student.Record, in lesson.Intent) reply {
	phrase := in.AudioPhrase
	if phrase == "" {
		if o.flags.RequireExplicitAudioText(rec.Phone) {
			return reply{text: msgAudioAskPhrase, kind: KindAudioAskPhrase}
		}
		if exp := rec.Awaiting(); exp != nil {
			phrase = exp.Text
		} else if part, ok := o.engine.CurrentPart(rec); ok {
			phrase = part.Text
		}
	}
	if phrase == "" {
		return reply{text: msgAudioAskPhrase, kind: KindAudioAskPhrase}
	}

	var hint string
	if part, ok := o.engine.CurrentPart(rec); ok && lesson.Normalize(part.Text) == lesson.Normalize(phrase) {
		hint = part.PhoneticHint
	}

	if o.synthesizer == nil || !o.flags.AudioEnabled(rec.Phone) {
		return reply{text: audioFallback(phrase, hint), kind: KindAudioFallback}
	}

	audio, err := o.synthesizer.Synthesize(ctx, phrase, rec.TargetLanguage)
	if err != nil || len(audio) == 0 {
		o.metrics.CollaboratorFailed("speech")
		log.Warn("speech synthesis unavailable, sending text", logger.Err(err))
		return reply{text: audioFallback(phrase, hint), kind: KindAudioFallback}
	}
	return reply{audio: audio, kind: KindAudio}
}

func (o *Orchestrator) openEnded(ctx context.Context, log *logger.Logger, rec *student.Record, in lesson.Intent) reply {
	if in.AckOnly {
		return reply{text: msgGenericReprompt, kind: KindOpenEndedAck}
	}
	if o.completer == nil {
		return reply{text: msgApology, kind: KindCompletionFailure}
	}

	sc := StudentContext{
		Name:           rec.Name,
		TargetLanguage: rec.TargetLanguage,
		Premium:        rec.IsPremium(o.now()),
	}
	if lessons := o.engine.Curriculum().Lessons(rec.TargetLanguage); len(lessons) > 0 {
		if part, ok := o.engine.CurrentPart(rec); ok {
			sc.CurrentPhrase = part.Text
		}
		idx := rec.LessonIndex
		if idx >= len(lessons) {
			idx = len(lessons) - 1
		}
		if idx >= 0 {
			sc.LessonTitle = lessons[idx].Title
		}
	}

	text, err := o.completer.Complete(ctx, sc, in.Text)
	if err != nil || strings.TrimSpace(text) == "" {
		o.metrics.CollaboratorFailed("completion")
		log.Warn("completion failed, sending apology", logger.Err(err))
		return reply{text: msgApology, kind: KindCompletionFailure}
	}
	return reply{text: strings.TrimSpace(text), kind: KindOpenEnded}
}

// deliver sends exactly one message. Transport errors are logged, never returned.
func (o *Orchestrator) deliver(ctx context.Context, log *logger.Logger, phone string, r reply) {
	var err error
	switch {
	case len(r.audio) > 0:
		err = o.transport.SendAudio(ctx, phone, r.audio)
	case r.text != "":
		err = o.transport.SendText(ctx, phone, r.text)
	default:
		return
	}
	if err != nil {
		o.metrics.CollaboratorFailed("transport")
		log.Error("reply delivery failed", logger.Err(err))
	}
}

func stageName(s student.Stage) string {
	if s == nil {
		return "unknown"
	}
	return s.Name()
}
