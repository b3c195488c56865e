// Package gateway is the WhatsApp messaging gateway client. It speaks the
// Z-API style REST surface: one instance URL, send-text and send-audio.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
	"github.com/falaja/tutor-bot/pkg/logger"
	"github.com/falaja/tutor-bot/pkg/retry"
)

// Config holds the gateway credentials.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.z-api.io".
	BaseURL string
	// InstanceID and Token identify the connected WhatsApp number.
	InstanceID string
	Token      string
	// ClientToken is the account security token sent as a header.
	ClientToken string
	// Timeout bounds one HTTP attempt.
	Timeout time.Duration
}

// Enabled reports whether the credentials are complete.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.InstanceID) != "" && strings.TrimSpace(c.Token) != ""
}

// Client sends outbound messages. It implements session.Transport.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetrier replaces the retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) {
		if r != nil {
			c.retrier = r
		}
	}
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// New creates a Client. It fails when the credentials are incomplete; callers
// fall back to Disabled.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, shared.ErrGatewayDisabled
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.z-api.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("gateway"))

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retrier:    retry.GatewayRetrier(),
		log:        log,
	}
	c.breaker = circuitbreaker.GatewayBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendAudioRequest struct {
	Phone string `json:"phone"`
	Audio string `json:"audio"`
}

type sendResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// SendText sends a text message.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	if strings.TrimSpace(text) == "" {
		return shared.NewDomainError("gateway", "SendText", shared.ErrEmptyValue, "message text is empty")
	}
	return c.send(ctx, "send-text", phone, sendTextRequest{Phone: phone, Message: text})
}

// SendAudio sends an MP3 voice message.
func (c *Client) SendAudio(ctx context.Context, phone string, audio []byte) error {
	if len(audio) == 0 {
		return shared.NewDomainError("gateway", "SendAudio", shared.ErrEmptyValue, "audio is empty")
	}
	uri := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)
	return c.send(ctx, "send-audio", phone, sendAudioRequest{Phone: phone, Audio: uri})
}

func (c *Client) send(ctx context.Context, path, phone string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", path, err)
	}
	endpoint := fmt.Sprintf("%s/instances/%s/token/%s/%s", c.cfg.BaseURL, c.cfg.InstanceID, c.cfg.Token, path)

	start := time.Now()
	var resp sendResponse
	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.post(ctx, endpoint, payload, &resp)
		})
	})
	if err != nil {
		return c.classify(path, err)
	}

	c.log.Debug("message sent",
		logger.Phone(phone),
		logger.Operation(path),
		logger.String("gateway_id", firstNonEmpty(resp.MessageID, resp.ZaapID, resp.ID)),
		logger.Latency(time.Since(start)),
	)
	return nil
}

// post makes one attempt. Sends are not idempotent on the gateway side, so
// only failures where the message cannot have been accepted are retried: a
// connection that was never made, a 429 and a 503. Anything after the request
// left the process is returned as is.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte, out *sendResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.ClientToken != "" {
		req.Header.Set("Client-Token", c.cfg.ClientToken)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && notSent(err) {
			return retry.Retryable(err)
		}
		return err
	}
	// The status decides; a truncated body only loses the gateway id.
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	_ = res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		herr := &HTTPError{StatusCode: res.StatusCode, Body: string(raw)}
		if herr.Temporary() {
			return retry.Retryable(herr)
		}
		return herr
	}

	if len(raw) > 0 {
		_ = json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) classify(op string, err error) error {
	var herr *HTTPError
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("gateway", op, shared.ErrServiceUnavailable, "circuit open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("gateway", op, shared.ErrTimeout, "request timed out", err)
	case errors.As(err, &herr) && herr.StatusCode < 500 && !herr.Temporary():
		return shared.WrapError("gateway", op, shared.ErrExternalService, "gateway rejected the request", err)
	default:
		return shared.WrapError("gateway", op, shared.ErrServiceUnavailable, "gateway unavailable", err)
	}
}

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return fmt.Sprintf("gateway http %d: %s", e.StatusCode, msg)
}

// Temporary reports whether the gateway refused the request before acting on
// it, so repeating it cannot deliver the message twice.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// notSent reports whether err happened before any byte of the request reached
// the gateway.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// DISABLED
// ══════════════════════════════════════════════════════════════════════════════

// Disabled stands in when no gateway is configured. Every send fails with
// shared.ErrGatewayDisabled and is logged once per call.
type Disabled struct {
	Log *logger.Logger
}

// SendText implements session.Transport.
func (d Disabled) SendText(_ context.Context, phone, _ string) error {
	d.warn(phone, "send-text")
	return shared.ErrGatewayDisabled
}

// SendAudio implements session.Transport.
func (d Disabled) SendAudio(_ context.Context, phone string, _ []byte) error {
	d.warn(phone, "send-audio")
	return shared.ErrGatewayDisabled
}

func (d Disabled) warn(phone, op string) {
	if d.Log != nil {
		d.Log.Warn("gateway disabled, reply dropped", logger.Phone(phone), logger.Operation(op))
	}
}
