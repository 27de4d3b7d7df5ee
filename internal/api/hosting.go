package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"imagetovideo/internal/ledger"
	"imagetovideo/internal/metrics"
	"imagetovideo/internal/storage"
)

// UploadPresigner is satisfied by *storage.Client.
type UploadPresigner interface {
	PresignUpload(ctx context.Context) (*storage.Upload, error)
}

type HostingHandler struct {
	ledger    *ledger.Ledger
	presigner UploadPresigner
}

func NewHostingHandler(l *ledger.Ledger, presigner UploadPresigner) *HostingHandler {
	return &HostingHandler{ledger: l, presigner: presigner}
}

type HostingRequest struct {
	Intent string `json:"intent" validate:"required,hosting_intent"`
}

type HostingResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
	Credits   int64  `json:"credits"`
}

// POST /hosting
func (h *HostingHandler) Request(w http.ResponseWriter, r *http.Request) {
	email := GetEmail(r)
	if email == "" {
		unauthorized(w, "Authentication required")
		return
	}

	var req HostingRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	cost, _ := ledger.PlanCost(req.Intent)

	// Reject early so no URL is presigned for a balance that cannot pay.
	if !h.ledger.HasSufficient(r.Context(), email, cost) {
		paymentRequired(w, "Not enough credits for this hosting plan")
		return
	}

	upload, err := h.presigner.PresignUpload(r.Context())
	if err != nil {
		slog.Error("error presigning hosting upload", "component", "api", "error", err, "email", email)
		badGateway(w, "Could not reserve storage for the video")
		return
	}

	balance, err := h.ledger.PurchaseHosting(r.Context(), email, upload.PublicURL, cost)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) || errors.Is(err, ledger.ErrUserNotFound) {
			paymentRequired(w, "Not enough credits for this hosting plan")
			return
		}
		slog.Error("error purchasing hosting", "component", "api", "error", err, "email", email)
		internalError(w)
		return
	}
	metrics.RecordCredits("hosting", cost)

	writeJSON(w, http.StatusOK, HostingResponse{
		Success:   true,
		URL:       upload.URL,
		Key:       upload.Key,
		PublicURL: upload.PublicURL,
		Credits:   balance,
	})
}
