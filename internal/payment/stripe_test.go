package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type fakeSessions struct {
	params []*stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.params = append(f.params, params)
	return &stripe.CheckoutSession{URL: fmt.Sprintf("https://checkout.stripe.test/%d", len(f.params))}, nil
}

func newTestService(sessions SessionCreator) *Service {
	return NewService(sessions, Options{
		WebhookSecret: testWebhookSecret,
		Currency:      "MXN",
		SuccessURL:    "https://app.example.com/?s=success",
		CancelURL:     "https://app.example.com/?s=cancel",
		Packs: []Pack{
			{Credits: 10, UnitAmount: 15000},
			{Credits: 20, UnitAmount: 28000},
			{Credits: 100, UnitAmount: 99900},
		},
	})
}

func TestCheckoutURLsCreatesOneSessionPerPack(t *testing.T) {
	fake := &fakeSessions{}
	svc := newTestService(fake)

	urls, err := svc.CheckoutURLs(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("CheckoutURLs() error = %v", err)
	}
	if len(urls) != 3 || urls[0] != "https://checkout.stripe.test/1" {
		t.Fatalf("CheckoutURLs() = %v, want three session URLs", urls)
	}

	wantAmounts := []int64{15000, 28000, 99900}
	wantCredits := []string{"10", "20", "100"}
	for i, p := range fake.params {
		if got := p.Metadata["credits"]; got != wantCredits[i] {
			t.Fatalf("session %d credits metadata = %q, want %q", i, got, wantCredits[i])
		}
		price := p.LineItems[0].PriceData
		if *price.UnitAmount != wantAmounts[i] || *price.Currency != "mxn" {
			t.Fatalf("session %d price = %d %s, want %d mxn", i, *price.UnitAmount, *price.Currency, wantAmounts[i])
		}
		if p.CustomerEmail == nil || *p.CustomerEmail != "buyer@example.com" {
			t.Fatalf("session %d customer email = %v, want buyer@example.com", i, p.CustomerEmail)
		}
		if *p.Mode != string(stripe.CheckoutSessionModePayment) {
			t.Fatalf("session %d mode = %q, want payment", i, *p.Mode)
		}
	}
}

func TestCheckoutURLsWithoutEmailAndOnError(t *testing.T) {
	fake := &fakeSessions{}
	if _, err := newTestService(fake).CheckoutURLs(context.Background(), ""); err != nil {
		t.Fatalf("CheckoutURLs() error = %v", err)
	}
	if fake.params[0].CustomerEmail != nil {
		t.Fatalf("customer email = %q, want unset", *fake.params[0].CustomerEmail)
	}

	boom := errors.New("stripe down")
	if _, err := newTestService(&fakeSessions{err: boom}).CheckoutURLs(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("CheckoutURLs() error = %v, want %v", err, boom)
	}
}

func signedEvent(t *testing.T, payload string) (string, []byte) {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func checkoutEvent(id, paymentStatus, email, credits string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":%q,"customer_details":{"email":%q},"metadata":{"credits":%q}}}}`,
		id, paymentStatus, email, credits)
}

func TestVerifyWebhook(t *testing.T) {
	svc := newTestService(&fakeSessions{})
	header, payload := signedEvent(t, checkoutEvent("evt_1", "paid", "buyer@example.com", "10"))

	event, err := svc.VerifyWebhook(payload, header)
	if err != nil {
		t.Fatalf("VerifyWebhook() error = %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("event.ID = %q, want evt_1", event.ID)
	}

	if _, err := svc.VerifyWebhook(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifyWebhook() without header error = %v, want %v", err, ErrInvalidSignature)
	}
	if _, err := svc.VerifyWebhook(append(payload, ' '), header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifyWebhook() with altered body error = %v, want %v", err, ErrInvalidSignature)
	}
}

func TestPurchaseFromEvent(t *testing.T) {
	svc := newTestService(&fakeSessions{})
	verify := func(t *testing.T, payload string) *stripe.Event {
		t.Helper()
		header, body := signedEvent(t, payload)
		event, err := svc.VerifyWebhook(body, header)
		if err != nil {
			t.Fatalf("VerifyWebhook() error = %v", err)
		}
		return event
	}

	t.Run("paid checkout", func(t *testing.T) {
		purchase, ok, err := PurchaseFromEvent(verify(t, checkoutEvent("evt_1", "paid", "buyer@example.com", "10")))
		if err != nil || !ok {
			t.Fatalf("PurchaseFromEvent() = (%v, %v), want ok", ok, err)
		}
		if purchase.EventID != "evt_1" || purchase.Email != "buyer@example.com" || purchase.Credits != 10 {
			t.Fatalf("purchase = %+v", purchase)
		}
	})

	t.Run("falls back to customer_email", func(t *testing.T) {
		payload := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","payment_status":"paid","customer_email":"legacy@example.com","metadata":{"credits":"20"}}}}`
		purchase, ok, err := PurchaseFromEvent(verify(t, payload))
		if err != nil || !ok || purchase.Email != "legacy@example.com" {
			t.Fatalf("PurchaseFromEvent() = (%+v, %v, %v), want legacy@example.com", purchase, ok, err)
		}
	})

	t.Run("async payment success", func(t *testing.T) {
		payload := `{"id":"evt_6","object":"event","type":"checkout.session.async_payment_succeeded","data":{"object":{"id":"cs_6","payment_status":"paid","customer_details":{"email":"oxxo@example.com"},"metadata":{"credits":"20"}}}}`
		purchase, ok, err := PurchaseFromEvent(verify(t, payload))
		if err != nil || !ok {
			t.Fatalf("PurchaseFromEvent() = (%v, %v), want ok", ok, err)
		}
		if purchase.SessionID != "cs_6" || purchase.Email != "oxxo@example.com" || purchase.Credits != 20 {
			t.Fatalf("purchase = %+v, want cs_6 oxxo@example.com 20", purchase)
		}
	})

	t.Run("async payment failure is ignored", func(t *testing.T) {
		payload := `{"id":"evt_7","object":"event","type":"checkout.session.async_payment_failed","data":{"object":{"id":"cs_7","payment_status":"unpaid","customer_details":{"email":"oxxo@example.com"},"metadata":{"credits":"20"}}}}`
		if _, ok, err := PurchaseFromEvent(verify(t, payload)); ok || err != nil {
			t.Fatalf("PurchaseFromEvent() = (%v, %v), want ignored", ok, err)
		}
	})

	t.Run("paid session without id", func(t *testing.T) {
		payload := `{"id":"evt_8","object":"event","type":"checkout.session.completed","data":{"object":{"payment_status":"paid","customer_details":{"email":"buyer@example.com"},"metadata":{"credits":"10"}}}}`
		if _, _, err := PurchaseFromEvent(verify(t, payload)); !errors.Is(err, ErrInvalidPurchase) {
			t.Fatalf("PurchaseFromEvent() error = %v, want %v", err, ErrInvalidPurchase)
		}
	})

	t.Run("unpaid is ignored", func(t *testing.T) {
		if _, ok, err := PurchaseFromEvent(verify(t, checkoutEvent("evt_3", "unpaid", "buyer@example.com", "10"))); ok || err != nil {
			t.Fatalf("PurchaseFromEvent() = (%v, %v), want ignored", ok, err)
		}
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		payload := `{"id":"evt_4","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
		if _, ok, err := PurchaseFromEvent(verify(t, payload)); ok || err != nil {
			t.Fatalf("PurchaseFromEvent() = (%v, %v), want ignored", ok, err)
		}
	})

	t.Run("bad credits metadata", func(t *testing.T) {
		if _, _, err := PurchaseFromEvent(verify(t, checkoutEvent("evt_5", "paid", "buyer@example.com", "lots"))); !errors.Is(err, ErrInvalidPurchase) {
			t.Fatalf("PurchaseFromEvent() error = %v, want %v", err, ErrInvalidPurchase)
		}
	})
}
