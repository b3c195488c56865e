package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/falaja/tutor-bot/internal/application/command"
	"github.com/falaja/tutor-bot/internal/application/query"
	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/interface/http/handlers"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic service information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"service": "tutor-bot",
		"version": s.config.Version,
		"status":  "running",
	})
}

// handleHealth returns the detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy":   true,
			"timestamp": time.Now().UTC(),
			"version":   s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady reports whether the service can take traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Healthy {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive answers liveness checks.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// handleMessageWebhook runs one turn per received message. The gateway always
// gets 200 so that it does not redeliver; duplicates are filtered by the
// orchestrator.
func (s *Server) handleMessageWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var msg handlers.ZAPIMessage
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		log.Warn("malformed gateway callback", logger.Err(err))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed"})
		return
	}

	in, skip := msg.ToInbound()
	if skip != "" {
		log.Debug("gateway callback skipped",
			logger.MessageID(msg.MessageID),
			logger.String("reason", skip),
		)
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored", "reason": skip})
		return
	}

	out := s.deps.Turns.Handle(r.Context(), in)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "processed", "outcome": out.Kind})
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// PaymentEvent is the body accepted by /webhook/payment.
type PaymentEvent struct {
	Reference string `json:"reference"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Days      int    `json:"days"`
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var ev PaymentEvent
	if !s.decode(w, r, &ev) {
		return
	}

	res, err := s.deps.ApplyPayment.Handle(r.Context(), command.ApplyPaymentCommand{
		Reference:     ev.Reference,
		Provider:      ev.Provider,
		Status:        ev.Status,
		Days:          ev.Days,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]any{"applied": res.Applied}
	if res.Entitlement != nil {
		body["entitlement"] = entitlementResponse(res.Entitlement)
	}
	writeJSON(w, r, http.StatusOK, body)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ENTITLEMENT API
// ══════════════════════════════════════════════════════════════════════════════

// GrantRequest is the body of POST /admin/students/{phone}/premium.
type GrantRequest struct {
	Days     int    `json:"days"`
	Provider string `json:"provider"`
}

// EntitlementResponse is the JSON view of a command result.
type EntitlementResponse struct {
	Phone           string     `json:"phone"`
	Plan            string     `json:"plan"`
	Premium         bool       `json:"premium"`
	PremiumUntil    *time.Time `json:"premium_until,omitempty"`
	PaymentProvider string     `json:"payment_provider,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func entitlementResponse(res *command.EntitlementResult) EntitlementResponse {
	return EntitlementResponse{
		Phone:           res.Phone,
		Plan:            string(res.Plan),
		Premium:         res.Premium,
		PremiumUntil:    res.PremiumUntil,
		PaymentProvider: res.PaymentProvider,
		UpdatedAt:       res.UpdatedAt,
	}
}

func (s *Server) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetEntitlement.Handle(r.Context(), query.GetEntitlementQuery{
		Phone: chi.URLParam(r, "phone"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.GrantPremium.Handle(r.Context(), command.GrantPremiumCommand{
		Phone:         chi.URLParam(r, "phone"),
		Days:          req.Days,
		Provider:      req.Provider,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entitlementResponse(res))
}

func (s *Server) handleRevokePremium(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.RevokePremium.Handle(r.Context(), command.RevokePremiumCommand{
		Phone:         chi.URLParam(r, "phone"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entitlementResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body into dst, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return false
	}
	return true
}

// writeError maps application errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Student not found")
	case errors.Is(err, shared.ErrUnauthorized):
		writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
	case shared.IsExternalService(err):
		logger.FromContext(r.Context()).Error("durable store unavailable", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "Storage is temporarily unavailable")
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
