package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/example/settle/internal/testutil"
)

func TestLencoService(t *testing.T) {
	ctx := context.Background()

	t.Run("Given an accepting provider When a collection is initiated Then the request is authenticated and the id returned", func(t *testing.T) {
		var body map[string]any
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/collections/mobile-money" {
				http.NotFound(w, r)
				return
			}
			auth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"id":"col_9","reference":"pay_1","status":"pay-offline"}}`))
		}))
		defer srv.Close()
		svc := NewLencoService(LencoConfig{BaseURL: srv.URL + "/", APIKey: "sk_test"}, zap.NewNop())

		init, err := svc.Initiate(ctx, SettlementRequest{
			Amount:    testutil.Dec(t, "25"),
			Currency:  "ZMW",
			Phone:     "260971234567",
			Operator:  "mtn",
			Reference: "pay_1",
		})

		if err != nil {
			t.Fatal(err)
		}
		if init.ProviderID != "col_9" || init.Status != "pay-offline" {
			t.Errorf("init = %+v", init)
		}
		if auth != "Bearer sk_test" {
			t.Errorf("auth = %q", auth)
		}
		if body["amount"] != 25.0 || body["operator"] != "mtn" || body["reference"] != "pay_1" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("Given a settled collection When verified Then status and raw data are returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/collections/status/pay_2" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"status":true,"data":{"id":"col_2","status":"failed","reasonForFailure":"Insufficient balance"}}`))
		}))
		defer srv.Close()
		svc := NewLencoService(LencoConfig{BaseURL: srv.URL}, zap.NewNop())

		status, err := svc.Verify(ctx, "pay_2")

		if err != nil {
			t.Fatal(err)
		}
		if status.Status != SettlementFailed || status.ReasonForFailure != "Insufficient balance" || status.ProviderID != "col_2" {
			t.Errorf("status = %+v", status)
		}
		if status.Raw["id"] != "col_2" {
			t.Errorf("raw = %v", status.Raw)
		}
	})

	t.Run("Given provider errors When called Then SettlementAdapterError", func(t *testing.T) {
		for name, handler := range map[string]http.HandlerFunc{
			"http 500": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			"rejected": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":false,"message":"invalid phone"}`))
			},
			"garbage": func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`<html>`)) },
		} {
			t.Run(name, func(t *testing.T) {
				srv := httptest.NewServer(handler)
				defer srv.Close()
				svc := NewLencoService(LencoConfig{BaseURL: srv.URL}, zap.NewNop())

				_, err := svc.Initiate(ctx, SettlementRequest{Amount: testutil.Dec(t, "1"), Reference: "pay_3"})

				if !errors.Is(err, ErrSettlementAdapter) {
					t.Errorf("err = %v, want SettlementAdapterError", err)
				}
			})
		}
	})
}
