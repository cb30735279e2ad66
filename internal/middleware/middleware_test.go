package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/models"
	"github.com/example/settle/internal/services"
)

type fakeAuth struct {
	merchant *models.Merchant
}

func (f *fakeAuth) MerchantFromToken(_ context.Context, token string) (*models.Merchant, error) {
	if token != "good-token" {
		return nil, &services.ServiceError{Info: services.InfoUnauthorized, Detail: "Invalid token"}
	}
	return f.merchant, nil
}

func (f *fakeAuth) Authenticate(_ context.Context, key string) (*models.Merchant, error) {
	if key != "pk_test_good" {
		return nil, &services.ServiceError{Info: services.InfoUnauthorized, Detail: "Invalid API key"}
	}
	return f.merchant, nil
}

func newMerchant() *models.Merchant {
	m := &models.Merchant{Name: "Acme", Status: models.MerchantStatusActive}
	m.ID = uuid.New()
	return m
}

func readBody(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestAuthMiddleware(t *testing.T) {
	merchant := newMerchant()
	app := fiber.New()
	app.Get("/me", AuthMiddleware(&fakeAuth{merchant: merchant}), func(c *fiber.Ctx) error {
		m, ok := GetCurrentMerchant(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(m.ID.String())
	})

	cases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"bearer token", map[string]string{"Authorization": "Bearer good-token"}, 200},
		{"api key", map[string]string{HeaderAPIKey: "pk_test_good"}, 200},
		{"bad token", map[string]string{"Authorization": "Bearer nope"}, 401},
		{"bad scheme", map[string]string{"Authorization": "Basic abc"}, 401},
		{"bad key", map[string]string{HeaderAPIKey: "pk_test_bad"}, 401},
		{"no credentials", nil, 401},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			for k, v := range c.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != c.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, c.status)
			}
			body := readBody(t, resp.Body)
			if c.status == 200 && body != merchant.ID.String() {
				t.Errorf("body = %s", body)
			}
			if c.status == 401 && !strings.Contains(body, `"error"`) {
				t.Errorf("body = %s, want error envelope", body)
			}
		})
	}
}

func newIdempotentApp(store idempotency.Store, calls *int32, status int) *fiber.App {
	merchant := newMerchant()
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(merchantContextKey, merchant)
		return c.Next()
	})
	app.Use(Idempotency(IdempotencyConfig{Store: store}))
	app.All("/payments", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(calls, 1)
		return c.Status(status).JSON(fiber.Map{"call": n, "id": uuid.NewString()})
	})
	return app
}

func post(t *testing.T, app *fiber.App, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/payments", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, readBody(t, resp.Body), resp.Header.Get(idempotency.HeaderReplayed)
}

func TestIdempotency(t *testing.T) {
	t.Run("Given a successful request When repeated with the same key Then the first response is replayed byte for byte", func(t *testing.T) {
		// Given
		var calls int32
		app := newIdempotentApp(idempotency.NewMemoryStore(), &calls, fiber.StatusCreated)
		status1, body1, replayed1 := post(t, app, "order-1")

		// When
		status2, body2, replayed2 := post(t, app, "order-1")

		// Then
		if calls != 1 {
			t.Errorf("handler ran %d times, want 1", calls)
		}
		if status1 != 201 || status2 != 201 || body1 != body2 {
			t.Errorf("first %d %s, second %d %s", status1, body1, status2, body2)
		}
		if replayed1 != "" || replayed2 != "true" {
			t.Errorf("replay headers = %q, %q", replayed1, replayed2)
		}
	})

	t.Run("Given different keys When posted Then both execute", func(t *testing.T) {
		var calls int32
		app := newIdempotentApp(idempotency.NewMemoryStore(), &calls, fiber.StatusCreated)

		post(t, app, "a")
		post(t, app, "b")
		post(t, app, "")

		if calls != 3 {
			t.Errorf("handler ran %d times, want 3", calls)
		}
	})

	t.Run("Given a failing response When repeated Then it is not cached", func(t *testing.T) {
		var calls int32
		app := newIdempotentApp(idempotency.NewMemoryStore(), &calls, fiber.StatusUnprocessableEntity)

		post(t, app, "k1")
		status, _, replayed := post(t, app, "k1")

		if calls != 2 || status != 422 || replayed != "" {
			t.Errorf("calls=%d status=%d replayed=%q", calls, status, replayed)
		}
	})

	t.Run("Given a malformed key When posted Then 400 before the handler runs", func(t *testing.T) {
		var calls int32
		app := newIdempotentApp(idempotency.NewMemoryStore(), &calls, fiber.StatusCreated)

		status, body, _ := post(t, app, "bad key!")

		if status != 400 || calls != 0 || !strings.Contains(body, "invalid_idempotency_key") {
			t.Errorf("status=%d calls=%d body=%s", status, calls, body)
		}
	})

	t.Run("Given the key is in flight When a duplicate arrives Then 409 request_in_progress", func(t *testing.T) {
		var calls int32
		app := newIdempotentApp(&lockedStore{Store: idempotency.NewMemoryStore()}, &calls, fiber.StatusCreated)

		status, body, _ := post(t, app, "busy")

		if status != 409 || calls != 0 || !strings.Contains(body, "request_in_progress") {
			t.Errorf("status=%d calls=%d body=%s", status, calls, body)
		}
	})

	t.Run("Given a GET When it carries a key Then it is not cached", func(t *testing.T) {
		var calls int32
		app := newIdempotentApp(idempotency.NewMemoryStore(), &calls, fiber.StatusOK)
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/payments", nil)
			req.Header.Set(idempotency.HeaderKey, "same")
			if _, err := app.Test(req); err != nil {
				t.Fatal(err)
			}
		}
		if calls != 2 {
			t.Errorf("handler ran %d times, want 2", calls)
		}
	})
}

// lockedStore reports every key as already locked.
type lockedStore struct {
	idempotency.Store
}

func (s *lockedStore) Lock(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}
