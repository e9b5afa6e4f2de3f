package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-paymongo-checkout/internal/webhook"
	"github.com/go-chi/chi/v5"
)

type StatusLoader interface {
	Load(ctx context.Context) (webhook.StatusRecord, error)
}

// AdminHandler exposes the last-webhook diagnostics behind a static bearer
// token. With no token configured the route answers 404.
type AdminHandler struct {
	Token  string
	Status StatusLoader
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin/webhook-status", h.webhookStatus)
}

func (h *AdminHandler) webhookStatus(w http.ResponseWriter, r *http.Request) {
	if h.Token == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rec, err := h.Status.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
