package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("1.2.3")
	c.AddCheck("postgres", NewPingCheck(pingFunc(func(context.Context) error { return nil })))
	c.AddCheck("redis", NewPingCheck(pingFunc(func(context.Context) error { return errors.New("i/o timeout") })))

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Equal(t, "1.2.3", status.Version)
	require.Len(t, status.Checks, 2)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.False(t, status.Checks["redis"].Healthy)
	assert.Contains(t, status.Checks["redis"].Message, "i/o timeout")
	assert.Contains(t, status.Message, "redis")
}

func TestCompositeHealthChecker_TimesOutSlowChecks(t *testing.T) {
	c := NewCompositeHealthChecker("test")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.False(t, status.Checks["slow"].Healthy)
}

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("test").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Checks)
}

// ─────────────────────────────────────────────────────────────────────────────
// Token auth
// ─────────────────────────────────────────────────────────────────────────────

func TestNewTokenAuth(t *testing.T) {
	_, err := NewTokenAuth("", "", "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = NewTokenAuth("", "", "not-a-bcrypt-hash")
	assert.Error(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := NewTokenAuth("X-Admin-Token", "ignored", string(hash))
	require.NoError(t, err)
	assert.True(t, auth.Verify("s3cret"))
	assert.False(t, auth.Verify("ignored"))
	assert.False(t, auth.Verify(""))
}

func TestTokenAuth_Token(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	require.NoError(t, err)

	bearer, err := NewTokenAuth("", "", string(hash))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tok")
	assert.Equal(t, "tok", bearer.Token(r))

	r.Header.Set("Authorization", "Basic dG9r")
	assert.Empty(t, bearer.Token(r))

	custom, err := NewTokenAuth("X-Admin-Token", "", string(hash))
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", " tok ")
	assert.Equal(t, "tok", custom.Token(r))
}

func TestTokenAuth_Middleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := NewTokenAuth("X-Admin-Token", "", string(hash))
	require.NoError(t, err)

	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing_token"},
		{"wrong", "nope", http.StatusUnauthorized, "invalid_token"},
		{"valid", "tok", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				r.Header.Set("X-Admin-Token", tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				var body struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.code, body.Error.Code)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Z-API payload
// ─────────────────────────────────────────────────────────────────────────────

func decodeZAPI(t *testing.T, raw string) ZAPIMessage {
	t.Helper()
	var m ZAPIMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestZAPIMessage_ToInbound(t *testing.T) {
	m := decodeZAPI(t, `{
		"type": "ReceivedCallback",
		"messageId": "3EB0C431C26A1916E07A",
		"phone": "5511987654321",
		"fromMe": false,
		"momment": 1718200000000,
		"senderName": "Ana",
		"text": {"message": "  quero aprender inglês  "}
	}`)

	in, skip := m.ToInbound()

	assert.Empty(t, skip)
	assert.Equal(t, "3EB0C431C26A1916E07A", in.MessageID)
	assert.Equal(t, "5511987654321", in.Phone)
	assert.Equal(t, "quero aprender inglês", in.Text)
	assert.Equal(t, "Ana", in.SenderName)
}

func TestZAPIMessage_Body(t *testing.T) {
	assert.Equal(t, "Sim", decodeZAPI(t, `{"buttonsResponseMessage":{"buttonId":"1","message":"Sim"}}`).Body())
	assert.Equal(t, "olha isso", decodeZAPI(t, `{"image":{"caption":"olha isso"}}`).Body())
	assert.Empty(t, decodeZAPI(t, `{"phone":"5511987654321"}`).Body())
}

func TestZAPIMessage_Skips(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"delivery status", `{"type":"MessageStatusCallback","phone":"5511987654321","text":{"message":"x"}}`, SkipNotMessage},
		{"own message", `{"type":"ReceivedCallback","fromMe":true,"phone":"5511987654321","text":{"message":"x"}}`, SkipFromMe},
		{"group flag", `{"type":"ReceivedCallback","isGroup":true,"phone":"5511987654321","text":{"message":"x"}}`, SkipGroup},
		{"group phone", `{"type":"ReceivedCallback","phone":"120363019502650977-group","text":{"message":"x"}}`, SkipGroup},
		{"newsletter", `{"type":"ReceivedCallback","isNewsletter":true,"phone":"5511987654321","text":{"message":"x"}}`, SkipGroup},
		{"blank text", `{"type":"ReceivedCallback","phone":"5511987654321","text":{"message":"   "}}`, SkipNoText},
		{"bad phone", `{"type":"ReceivedCallback","phone":"123","text":{"message":"oi"}}`, SkipBadPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, skip := decodeZAPI(t, tt.raw).ToInbound()
			assert.Equal(t, tt.want, skip)
		})
	}
}
