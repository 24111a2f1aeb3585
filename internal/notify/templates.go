package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kayicom/marketplace/internal/model"
)

// Message содержит тему и HTML-тело письма.
type Message struct {
	Subject string
	HTML    string
}

var policy = bluemonday.UGCPolicy()

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif">
<h2>{{.Site}}</h2>
{{.Body}}
<p style="color:#888">{{.Site}} &middot; {{.Support}}</p>
</body></html>`))

var bodies = template.Must(template.New("bodies").Parse(`
{{define "completed"}}<p>Your order <b>{{.OrderID}}</b> is complete.</p>
<p>Total: {{.Total}}</p>{{if .Credits}}<p>You earned {{.Credits}} loyalty credits.</p>{{end}}{{end}}
{{define "delivered"}}<p>Your order <b>{{.OrderID}}</b> has been delivered.</p>
<div>{{.Details}}</div>{{end}}
{{define "reminder"}}<p>Your subscription from order <b>{{.OrderID}}</b> expires on {{.EndDate}}.</p>
<p>Renew it to keep your access.</p>{{end}}
{{define "expired"}}<p>Your subscription from order <b>{{.OrderID}}</b> expired on {{.EndDate}}.</p>{{end}}
`))

type bodyData struct {
	OrderID string
	Total   string
	Credits int64
	Details template.HTML
	EndDate string
}

func render(settings model.Settings, name, subject string, data bodyData) (Message, error) {
	var body bytes.Buffer
	if err := bodies.ExecuteTemplate(&body, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}

	var page bytes.Buffer
	err := layout.Execute(&page, struct {
		Site    string
		Support string
		Body    template.HTML
	}{
		Site:    settings.SiteName,
		Support: settings.SupportEmail,
		Body:    template.HTML(body.String()),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render layout: %w", err)
	}

	return Message{Subject: fmt.Sprintf("%s - %s", settings.SiteName, subject), HTML: page.String()}, nil
}

// OrderCompleted формирует письмо о завершении заказа.
func OrderCompleted(settings model.Settings, o *model.Order) (Message, error) {
	return render(settings, "completed", "Order completed", bodyData{
		OrderID: o.ID,
		Total:   model.CentsToDecimal(o.TotalCents).StringFixed(2) + " " + o.Currency,
		Credits: o.CreditsAwarded,
	})
}

// OrderDelivered формирует письмо с данными выдачи. Текст выдачи вводится вручную
// и пропускается через bluemonday.
func OrderDelivered(settings model.Settings, o *model.Order, details string) (Message, error) {
	return render(settings, "delivered", "Order delivered", bodyData{
		OrderID: o.ID,
		Details: template.HTML(policy.Sanitize(details)),
	})
}

// SubscriptionReminder формирует напоминание о скором окончании подписки.
func SubscriptionReminder(settings model.Settings, o *model.Order) (Message, error) {
	return render(settings, "reminder", "Subscription expiring soon", bodyData{
		OrderID: o.ID,
		EndDate: formatDate(o.SubscriptionEndAt),
	})
}

// SubscriptionExpired формирует уведомление об окончании подписки.
func SubscriptionExpired(settings model.Settings, o *model.Order) (Message, error) {
	return render(settings, "expired", "Subscription expired", bodyData{
		OrderID: o.ID,
		EndDate: formatDate(o.SubscriptionEndAt),
	})
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
