// Package gateway предоставляет клиент криптовалютного платёжного шлюза (выставление и проверка счетов).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/httpclient"
	"github.com/kayicom/marketplace/internal/model"
)

// ErrNotConfigured возвращается, если адрес или ключ шлюза не заданы.
var ErrNotConfigured = errors.New("gateway client not configured")

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// InvoiceRequest описывает параметры нового счёта.
type InvoiceRequest struct {
	OrderID     string
	OrderName   string
	AmountCents int64
	Currency    string
	CallbackURL string
	Email       string
}

// Invoice описывает выставленный счёт.
type Invoice struct {
	ID            string
	URL           string
	WalletAddress string
	AmountCrypto  string
	Currency      string
}

// InvoiceStatus описывает текущее состояние счёта в шлюзе.
type InvoiceStatus struct {
	ID      string
	OrderID string
	Status  string
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type invoiceData struct {
	TxnID      string `json:"txn_id"`
	InvoiceURL string `json:"invoice_url"`
	WalletHash string `json:"wallet_hash"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

type operationData struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	OrderNumber string `json:"order_number"`
}

type errorData struct {
	Message string `json:"message"`
}

// NewClient создаёт клиент шлюза по указанному адресу и ключу API.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpclient.New(5*time.Second, 2, logger),
	}
}

// CreateInvoice выставляет счёт на сумму заказа.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	params := url.Values{}
	params.Set("order_number", req.OrderID)
	params.Set("order_name", req.OrderName)
	params.Set("source_currency", "USD")
	params.Set("source_amount", model.CentsToDecimal(req.AmountCents).StringFixed(2))
	params.Set("currency", req.Currency)
	if req.CallbackURL != "" {
		params.Set("callback_url", req.CallbackURL)
	}
	if req.Email != "" {
		params.Set("email", req.Email)
	}

	var data invoiceData
	if err := c.get(ctx, "/api/v1/invoices/new", params, &data); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	return &Invoice{
		ID:            data.TxnID,
		URL:           data.InvoiceURL,
		WalletAddress: data.WalletHash,
		AmountCrypto:  data.Amount,
		Currency:      data.Currency,
	}, nil
}

// InvoiceStatus запрашивает статус счёта по его идентификатору.
func (c *Client) InvoiceStatus(ctx context.Context, invoiceID string) (*InvoiceStatus, error) {
	var data operationData
	if err := c.get(ctx, "/api/v1/operations/"+url.PathEscape(invoiceID), url.Values{}, &data); err != nil {
		return nil, fmt.Errorf("invoice status: %w", err)
	}

	id := data.ID
	if id == "" {
		id = invoiceID
	}
	return &InvoiceStatus{ID: id, OrderID: data.OrderNumber, Status: data.Status}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	params.Set("api_key", c.apiKey)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Status != "success" {
		var e errorData
		_ = json.Unmarshal(env.Data, &e)
		if e.Message == "" {
			e.Message = "unknown error"
		}
		return fmt.Errorf("gateway error: %s", e.Message)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
