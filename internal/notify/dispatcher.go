// Package notify отправляет письма покупателям. Отправка выполняется по принципу
// «лучшее усилие»: ошибка доставки не откатывает изменения заказа.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/httpclient"
)

// ErrEmptyRecipient возвращается при попытке отправить письмо без адреса.
var ErrEmptyRecipient = errors.New("empty recipient")

// Dispatcher описывает канал доставки писем.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MailDispatcher отправляет письма через HTTP API почтового сервиса.
type MailDispatcher struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *retryablehttp.Client
}

type mailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// NewMailDispatcher создаёт отправителя писем через почтовый API.
func NewMailDispatcher(baseURL, apiKey, from string, logger *zap.Logger) *MailDispatcher {
	return &MailDispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: httpclient.New(5*time.Second, 2, logger),
	}
}

// Send отправляет одно письмо.
func (d *MailDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(to) == "" {
		return ErrEmptyRecipient
	}

	body, err := json.Marshal(mailRequest{
		From:    d.from,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send mail: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher только пишет письма в журнал. Используется, когда почтовый API не настроен.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher создаёт отправителя, пишущего письма в журнал.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send записывает письмо в журнал.
func (d *LogDispatcher) Send(_ context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(to) == "" {
		return ErrEmptyRecipient
	}
	d.logger.Info("email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("size", len(htmlBody)),
	)
	return nil
}
