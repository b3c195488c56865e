// Package logger is the bot's structured logger: a thin layer over zap that
// fixes the encoder, carries a logger through context and masks phones.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level and Field are zap's own types, so zap constructors work anywhere a
// logger.Field is expected.
type (
	Level = zapcore.Level
	Field = zap.Field
)

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
	LevelFatal = zapcore.FatalLevel
)

// ParseLevel is forgiving: case and surrounding space are ignored, "warning"
// means warn, and anything unknown is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return LevelInfo
}

var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Any     = zap.Any
	F       = zap.Any
)

// Err logs err under "error"; a nil err adds nothing.
func Err(err error) Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}

// Duration renders as "1.5s" rather than a float of seconds.
func Duration(key string, d time.Duration) Field { return zap.Stringer(key, d) }

func Time(key string, t time.Time) Field { return zap.String(key, t.Format(time.RFC3339)) }

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger is a *zap.Logger whose With keeps the wrapper type.
type Logger struct {
	*zap.Logger
}

// Options for New. Format is "json" (default) or "console"/"text".
type Options struct {
	Output     io.Writer
	Level      Level
	Format     string
	AddCaller  bool
	CallerSkip int
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "console", "text":
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	default:
		encoder = zapcore.NewJSONEncoder(enc)
	}

	var zopts []zap.Option
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(opts.CallerSkip))
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), opts.Level)
	return &Logger{zap.New(core, zopts...)}
}

// Default logs JSON at info to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo, AddCaller: true})
}

func Nop() *Logger { return &Logger{zap.NewNop()} }

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

const RequestIDKey = "request_id"

func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, or Default when none was
// attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn fields
// ─────────────────────────────────────────────────────────────────────────────

func MessageID(id string) Field     { return String("message_id", id) }
func Stage(name string) Field       { return String("stage", name) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// Phone never logs more than the last four digits.
func Phone(phone string) Field { return String("phone", MaskPhone(phone)) }

func MaskPhone(phone string) string {
	keep := min(4, len(phone))
	if len(phone) <= 4 {
		keep = 0
	}
	return strings.Repeat("*", len(phone)-keep) + phone[len(phone)-keep:]
}
