package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"imagetovideo/internal/ledger"
	"imagetovideo/internal/metrics"
	"imagetovideo/internal/payment"
)

type PaymentHandler struct {
	ledger   *ledger.Ledger
	payments *payment.Service
}

func NewPaymentHandler(l *ledger.Ledger, payments *payment.Service) *PaymentHandler {
	return &PaymentHandler{ledger: l, payments: payments}
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// GET /checkout
func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	urls, err := h.payments.CheckoutURLs(r.Context(), GetEmail(r))
	if err != nil {
		slog.Error("error creating checkout sessions", "component", "api", "error", err)
		badGateway(w, "Could not create checkout sessions")
		return
	}
	writeJSON(w, http.StatusOK, urls)
}

// POST /webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, payment.WebhookBodyLimit))
	if err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "Webhook payload too large")
			return
		}
		badRequest(w, "Could not read webhook payload")
		return
	}

	event, err := h.payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		slog.Warn("webhook signature rejected", "component", "api", "error", err)
		writeError(w, http.StatusBadRequest, ErrCodeInvalidSignature, "Invalid webhook signature")
		return
	}

	purchase, ok, err := payment.PurchaseFromEvent(event)
	if err != nil {
		// A malformed event will not improve on retry, so it is acknowledged.
		if errors.Is(err, payment.ErrInvalidPurchase) {
			slog.Warn("ignoring invalid purchase event", "component", "api", "event_id", event.ID, "error", err)
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
			return
		}
		slog.Error("error reading purchase event", "component", "api", "event_id", event.ID, "error", err)
		internalError(w)
		return
	}
	if !ok {
		slog.Debug("webhook event ignored", "component", "api", "event_id", event.ID, "type", event.Type)
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	_, duplicate, err := h.ledger.GrantPurchase(r.Context(), purchase.SessionID, purchase.Email, purchase.Credits)
	if err != nil {
		slog.Error("error granting purchase", "component", "api", "event_id", purchase.EventID, "session_id", purchase.SessionID, "email", purchase.Email, "error", err)
		internalError(w)
		return
	}
	if !duplicate {
		metrics.RecordCredits("purchase", purchase.Credits)
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
