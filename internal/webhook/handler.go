package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// DefaultMaxBodyBytes bounds a single delivery.
const DefaultMaxBodyBytes = 64 << 10

// Sink accepts verified, normalized events. Publish must not return until the event
// is durably queued; an error makes the provider redeliver.
type Sink interface {
	Publish(ctx context.Context, event domain.CanonicalEvent) error
}

// Handler serves the provider-facing webhook endpoint.
type Handler struct {
	verifier *Verifier
	sink     Sink
	logger   *slog.Logger
	maxBody  int64
	now      func() time.Time
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodyBytes overrides the delivery size limit.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(verifier *Verifier, sink Sink, opts ...HandlerOption) *Handler {
	h := &Handler{
		verifier: verifier,
		sink:     sink,
		logger:   slog.Default(),
		maxBody:  DefaultMaxBodyBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires the handshake and delivery endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.handshake)
	r.Post("/webhook", h.receive)
}

func (h *Handler) handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.verifier.VerifySubscriptionHandshake(HandshakeRequest{
		Mode:        q.Get("hub.mode"),
		Challenge:   q.Get("hub.challenge"),
		VerifyToken: q.Get("hub.verify_token"),
	})
	if err != nil {
		observability.RecordWebhookDelivery("handshake_rejected")
		h.logger.Warn("webhook handshake rejected", slog.String("error", err.Error()))
		writeJSON(w, http.StatusForbidden, map[string]string{"type": "forbidden", "detail": "handshake rejected"})
		return
	}
	observability.RecordWebhookDelivery("handshake_accepted")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			observability.RecordWebhookDelivery("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"type": "too_large", "detail": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"type": "invalid_request", "detail": "unable to read body"})
		return
	}

	if _, err := h.verifier.VerifyEvent(raw, r.Header); err != nil {
		if errors.Is(err, domain.ErrAuthenticity) {
			observability.RecordWebhookDelivery("rejected")
			h.logger.Warn("webhook delivery rejected", slog.String("error", err.Error()))
			writeJSON(w, http.StatusForbidden, map[string]string{"type": "forbidden", "detail": "delivery not authentic"})
			return
		}
		h.ack(w, "malformed", err)
		return
	}

	event, err := Normalize(raw)
	switch {
	case errors.Is(err, domain.ErrUnsupportedEvent):
		h.ack(w, "unsupported", err)
		return
	case err != nil:
		h.ack(w, "malformed", err)
		return
	}
	event.ReceivedAt = h.now().UTC()

	if err := h.sink.Publish(r.Context(), event); err != nil {
		observability.RecordWebhookDelivery("sink_failed")
		h.logger.Error("webhook sink publish failed",
			slog.String("provider_event_id", event.ProviderEventID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"type": "server_error", "detail": "event not accepted"})
		return
	}

	observability.RecordWebhookDelivery("accepted")
	h.logger.Debug("webhook delivery accepted",
		slog.String("provider_event_id", event.ProviderEventID),
		slog.String("kind", string(event.Kind)),
		slog.Int64("athlete_id", event.AthleteID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// ack acknowledges deliveries that will never be processed so the provider stops
// redelivering them.
func (h *Handler) ack(w http.ResponseWriter, result string, err error) {
	observability.RecordWebhookDelivery(result)
	h.logger.Info("webhook delivery ignored", slog.String("result", result), slog.String("error", err.Error()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
