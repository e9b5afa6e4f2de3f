package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/webhook"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MaxWebhookBody caps a delivery at 1 MiB.
const MaxWebhookBody = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, raw []byte, header string) (webhook.Outcome, error)
}

type WebhookConfig interface {
	HasWebhookSecret() bool
}

type WebhookHandler struct {
	Service WebhookProcessor
	Config  WebhookConfig
	Log     *zap.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/paymongo", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Paymongo-Signature")
	if header == "" {
		// beberapa proxy mengganti '-' jadi '_'
		header = r.Header.Get("Paymongo_Signature")
	}
	if header == "" {
		writeMessage(w, http.StatusBadRequest, "Missing signature header")
		return
	}
	if !h.Config.HasWebhookSecret() {
		writeMessage(w, http.StatusForbidden, "Webhook secret is not configured")
		return
	}
	if r.ContentLength > MaxWebhookBody {
		writeMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	if len(raw) == 0 {
		writeMessage(w, http.StatusBadRequest, "Empty body")
		return
	}

	out, err := h.Service.Process(r.Context(), raw, header)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, out.Message)
	case errors.Is(err, webhook.ErrInvalidPayload):
		writeMessage(w, http.StatusBadRequest, "Invalid payload")
	case errors.Is(err, webhook.ErrSignature):
		writeMessage(w, http.StatusBadRequest, "Signature verification failed")
	default:
		h.log().Error("webhook answered with retry", zap.String("error", logger.Redact(err.Error())))
		writeMessage(w, http.StatusInternalServerError, "Internal error (retry)")
	}
}

func (h *WebhookHandler) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
