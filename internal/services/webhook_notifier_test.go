package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/queue"
	"github.com/example/settle/internal/repository"
)

func deliveryLogs(t *testing.T, h *harness) []models.WebhookLog {
	t.Helper()
	logs, _, err := h.notifier.Logs(context.Background(), h.merchant, repository.Page{Limit: 50})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	return logs
}

func countOutcomes(logs []models.WebhookLog) map[string]int {
	out := map[string]int{}
	for _, l := range logs {
		out[l.Outcome]++
	}
	return out
}

func TestWebhookNotifier_Deliver(t *testing.T) {
	t.Run("Given an endpoint that always returns 500 When a payment succeeds Then three attempts are logged and the last is failed", func(t *testing.T) {
		// Given
		h := newHarness(t)
		h.sender.statuses = []int{500}

		// When
		h.succeeded(t, "100.00")
		h.drainAll(t)

		// Then
		if n := len(h.sender.sent()); n != 3 {
			t.Fatalf("attempts = %d, want 3", n)
		}
		logs := deliveryLogs(t, h)
		if len(logs) != 3 {
			t.Fatalf("logs = %d, want 3", len(logs))
		}
		outcomes := countOutcomes(logs)
		if outcomes[models.DeliveryRetrying] != 2 || outcomes[models.DeliveryFailed] != 1 {
			t.Errorf("outcomes = %v, want 2 retrying and 1 failed", outcomes)
		}
		for _, l := range logs {
			if l.StatusCode != 500 {
				t.Errorf("status = %d, want 500", l.StatusCode)
			}
			if l.Outcome == models.DeliveryFailed && l.Attempts != 3 {
				t.Errorf("failed log attempt = %d, want 3", l.Attempts)
			}
		}
		if len(h.alerts.deliveries) != 1 || h.alerts.deliveries[0].Attempts != 3 {
			t.Errorf("delivery alerts = %+v", h.alerts.deliveries)
		}

		// the attempts all carried the same body
		sent := h.sender.sent()
		if string(sent[0].Body) != string(sent[2].Body) {
			t.Error("retry body differs from the first attempt")
		}
	})

	t.Run("Given an endpoint that recovers When retried Then it ends delivered under one delivery id", func(t *testing.T) {
		h := newHarness(t)
		h.sender.statuses = []int{503, 200}

		h.succeeded(t, "100.00")
		h.drainAll(t)

		outcomes := countOutcomes(deliveryLogs(t, h))
		if outcomes[models.DeliveryRetrying] != 1 || outcomes[models.DeliveryDelivered] != 1 {
			t.Errorf("outcomes = %v", outcomes)
		}
		if len(h.alerts.deliveries) != 0 {
			t.Error("alert sent for a delivered webhook")
		}

		sent := h.sender.sentFor(EventPaymentSucceeded)
		if len(sent) != 2 {
			t.Fatalf("attempts = %d, want 2", len(sent))
		}
		first, second := sent[0], sent[1]
		if first.Headers[HeaderDeliveryID] == "" || first.Headers[HeaderDeliveryID] != second.Headers[HeaderDeliveryID] {
			t.Errorf("delivery ids = %q, %q; want one stable id", first.Headers[HeaderDeliveryID], second.Headers[HeaderDeliveryID])
		}
		if !bytes.Equal(first.Body, second.Body) {
			t.Error("retry changed the envelope, so created_at is not stable")
		}
		for _, l := range deliveryLogs(t, h) {
			if l.DeliveryID != first.Headers[HeaderDeliveryID] {
				t.Errorf("log delivery id = %q, want %q", l.DeliveryID, first.Headers[HeaderDeliveryID])
			}
		}
	})

	t.Run("Given a transport error When delivering Then status code 0 is logged", func(t *testing.T) {
		h := newHarness(t)
		h.sender.err = io.ErrUnexpectedEOF

		h.succeeded(t, "10.00")
		h.drain(t)

		logs := deliveryLogs(t, h)
		if len(logs) != 1 || logs[0].StatusCode != 0 || logs[0].Outcome != models.DeliveryRetrying {
			t.Fatalf("logs = %+v", logs)
		}
		if logs[0].Response == "" {
			t.Error("transport error not recorded")
		}
	})

	t.Run("Given a failed first attempt When less than 20s pass Then the retry is not yet due", func(t *testing.T) {
		h := newHarness(t)
		h.sender.statuses = []int{500, 200}
		h.succeeded(t, "10.00")
		h.drain(t)

		h.clock.Advance(19 * time.Second)
		h.drain(t)
		if n := len(h.sender.sent()); n != 1 {
			t.Fatalf("attempts before backoff = %d, want 1", n)
		}

		h.clock.Advance(time.Second)
		h.drain(t)
		if n := len(h.sender.sent()); n != 2 {
			t.Fatalf("attempts after backoff = %d, want 2", n)
		}
	})
}

func TestWebhookNotifier_OnDeliveryExhausted(t *testing.T) {
	ctx := context.Background()

	t.Run("Given an undecodable task When exhausted Then no alert with empty fields is sent", func(t *testing.T) {
		h := newHarness(t)
		task := &queue.Task{ID: "task-1", Kind: TaskWebhookDeliver, Payload: []byte(`{"delivery_id":`), Attempt: 3}

		h.notifier.OnDeliveryExhausted(ctx, task, errors.New("endpoint returned status 500"))

		if n := len(h.alerts.deliveries); n != 0 {
			t.Errorf("alerts = %d, want 0", n)
		}
	})

	t.Run("Given a valid task When exhausted Then the alert names the endpoint", func(t *testing.T) {
		h := newHarness(t)
		task, err := queue.NewTask(TaskWebhookDeliver, DeliveryTask{
			DeliveryID: "dlv-1",
			MerchantID: h.merchant.ID,
			URL:        "https://merchant.example/hooks",
			Event:      EventPaymentFailed,
			Body:       []byte(`{}`),
		})
		if err != nil {
			t.Fatal(err)
		}
		task.Attempt = 3

		h.notifier.OnDeliveryExhausted(ctx, task, errors.New("endpoint returned status 500"))

		if len(h.alerts.deliveries) != 1 {
			t.Fatalf("alerts = %d, want 1", len(h.alerts.deliveries))
		}
		a := h.alerts.deliveries[0]
		if a.URL != "https://merchant.example/hooks" || a.Event != EventPaymentFailed || a.Attempts != 3 {
			t.Errorf("alert = %+v", a)
		}
	})
}

func TestWebhookNotifier_Destinations(t *testing.T) {
	ctx := context.Background()

	t.Run("Given no subscriptions When resolving Then the legacy URL is used", func(t *testing.T) {
		h := newHarness(t)

		urls, err := h.notifier.Destinations(ctx, h.merchant, EventPaymentSucceeded)

		if err != nil || len(urls) != 1 || urls[0] != "https://merchant.test/hooks" {
			t.Fatalf("Destinations = %v, %v", urls, err)
		}
	})

	t.Run("Given subscriptions When resolving Then only matching ones are used and duplicates collapse", func(t *testing.T) {
		h := newHarness(t)
		for _, w := range []models.Webhook{
			{MerchantID: h.merchant.ID, URL: "https://a.test/hook", Events: datatypes.JSON(`["payment.failed"]`), IsActive: true},
			{MerchantID: h.merchant.ID, URL: "https://b.test/hook", IsActive: true},
			{MerchantID: h.merchant.ID, URL: "https://b.test/hook", Events: datatypes.JSON(`["payment.succeeded"]`), IsActive: true},
		} {
			w := w
			if err := h.store.Webhooks().Create(ctx, &w); err != nil {
				t.Fatal(err)
			}
		}

		succeeded, err := h.notifier.Destinations(ctx, h.merchant, EventPaymentSucceeded)
		if err != nil {
			t.Fatal(err)
		}
		failed, err := h.notifier.Destinations(ctx, h.merchant, EventPaymentFailed)
		if err != nil {
			t.Fatal(err)
		}

		if len(succeeded) != 1 || succeeded[0] != "https://b.test/hook" {
			t.Errorf("payment.succeeded -> %v", succeeded)
		}
		if len(failed) != 2 {
			t.Errorf("payment.failed -> %v", failed)
		}
	})

	t.Run("Given no URL at all When dispatching Then nothing is scheduled", func(t *testing.T) {
		h := newHarness(t)
		h.merchant.WebhookURL = ""

		h.notifier.Dispatch(ctx, h.merchant, EventPaymentSucceeded, map[string]string{"reference": "pay_x"})

		if n, _ := h.queue.Len(ctx); n != 0 {
			t.Errorf("queued = %d, want 0", n)
		}
	})
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"payment.succeeded"}`)
	sig := Sign("whsec_test", "1700000000", body)

	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !VerifySignature("whsec_test", "1700000000", body, sig) {
		t.Error("signature does not verify")
	}
	if VerifySignature("whsec_test", "1700000001", body, sig) {
		t.Error("signature verified with a different timestamp")
	}
	if VerifySignature("whsec_other", "1700000000", body, sig) {
		t.Error("signature verified with a different secret")
	}
}

func TestWebhookNotifier_UpdateSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a new URL and rotation When updated Then both change and the secret is returned once", func(t *testing.T) {
		h := newHarness(t)
		u := "https://new.test/hooks"

		m, secret, err := h.notifier.UpdateSettings(ctx, h.merchant, WebhookSettingsInput{URL: &u, RegenerateSecret: true})

		if err != nil {
			t.Fatal(err)
		}
		if m.WebhookURL != u || m.WebhookSecret != secret || len(secret) != len("whsec_")+64 {
			t.Errorf("merchant url=%s secret=%q", m.WebhookURL, secret)
		}
	})

	t.Run("Given a relative URL When updated Then ValidationError", func(t *testing.T) {
		h := newHarness(t)
		u := "/hooks"

		_, _, err := h.notifier.UpdateSettings(ctx, h.merchant, WebhookSettingsInput{URL: &u})

		se, ok := err.(*ServiceError)
		if !ok || se.Code() != "invalid_webhook_url" {
			t.Fatalf("err = %v, want invalid_webhook_url", err)
		}
	})
}

func TestFastHTTPSender_Send(t *testing.T) {
	var gotHeader, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(HeaderSignature)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sender := NewFastHTTPSender()
	resp, err := sender.Send(context.Background(), WebhookRequest{
		URL:     srv.URL,
		Body:    []byte(`{"a":1}`),
		Headers: map[string]string{HeaderSignature: "abc"},
		Timeout: 2 * time.Second,
	})

	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != "ok" {
		t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if gotHeader != "abc" || gotBody != `{"a":1}` {
		t.Errorf("server saw header=%q body=%q", gotHeader, gotBody)
	}

	srv.Close()
	if _, err := sender.Send(context.Background(), WebhookRequest{URL: srv.URL, Timeout: time.Second}); err == nil {
		t.Error("expected transport error against a closed server")
	}
}
