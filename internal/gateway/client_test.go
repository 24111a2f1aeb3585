package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCreateInvoice_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/v1/invoices/new" {
			t.Fatalf("path = %s, want /api/v1/invoices/new", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("api_key") != "key" {
			t.Fatalf("api_key = %q, want key", q.Get("api_key"))
		}
		if q.Get("order_number") != "o-1" {
			t.Fatalf("order_number = %q, want o-1", q.Get("order_number"))
		}
		if q.Get("source_amount") != "40.00" {
			t.Fatalf("source_amount = %q, want 40.00", q.Get("source_amount"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"txn_id":      "inv-1",
				"invoice_url": "https://pay.example/inv-1",
				"amount":      "40.1",
				"currency":    "USDT_TRX",
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "key", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inv, err := client.CreateInvoice(ctx, InvoiceRequest{
		OrderID:     "o-1",
		OrderName:   "Order o-1",
		AmountCents: 4000,
		Currency:    "USDT_TRX",
	})
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
	if inv.ID != "inv-1" || inv.URL != "https://pay.example/inv-1" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestCreateInvoice_GatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","data":{"message":"Invalid api key"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "bad", zap.NewNop())

	_, err := client.CreateInvoice(context.Background(), InvoiceRequest{OrderID: "o-1", AmountCents: 100})
	if err == nil {
		t.Fatalf("expected error for gateway error response")
	}
}

func TestInvoiceStatus_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/operations/inv-1" {
			t.Fatalf("path = %s, want /api/v1/operations/inv-1", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":"inv-1","status":"completed","order_number":"o-1"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "key", zap.NewNop())

	st, err := client.InvoiceStatus(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("InvoiceStatus error: %v", err)
	}
	if st.Status != "completed" || st.OrderID != "o-1" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestInvoiceStatus_NonOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "key", zap.NewNop())

	if _, err := client.InvoiceStatus(context.Background(), "inv-1"); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("", "", zap.NewNop())

	_, err := client.CreateInvoice(context.Background(), InvoiceRequest{OrderID: "o-1"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
