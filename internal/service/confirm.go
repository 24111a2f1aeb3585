package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/model"
)

// PaymentConfirmation описывает сообщение о статусе оплаты от внешнего источника.
// Доставляется не менее одного раза.
type PaymentConfirmation struct {
	OrderID string `json:"order_number"`
	Status  string `json:"status"`
	TxnID   string `json:"txn_id,omitempty"`
}

// ConfirmPayment переводит внешний статус оплаты в вызов Transition.
// Неизвестные статусы и сообщения по возвращённым заказам игнорируются.
func (s *Service) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (*model.Order, error) {
	orderID := strings.TrimSpace(c.OrderID)
	if orderID == "" {
		return nil, invalid(ErrMissingRequiredField, "order reference is required")
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.RefundedAt != nil {
		return o, nil
	}

	var (
		payment model.PaymentStatus
		status  *model.OrderStatus
	)

	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "completed", "paid":
		payment = model.PaymentStatusPaid
		if o.OrderStatus == model.OrderStatusPending {
			processing := model.OrderStatusProcessing
			status = &processing
		}
	case "expired", "error", "failed":
		if o.PaymentStatus == model.PaymentStatusPaid {
			return o, nil
		}
		payment = model.PaymentStatusFailed
	case "cancelled", "canceled":
		if o.PaymentStatus == model.PaymentStatusPaid {
			return o, nil
		}
		payment = model.PaymentStatusCancelled
		cancelled := model.OrderStatusCancelled
		status = &cancelled
	default:
		s.logger.Debug("payment confirmation ignored",
			zap.String("order", orderID), zap.String("status", c.Status))
		return o, nil
	}

	updated, err := s.Transition(ctx, orderID, &payment, status)
	if errors.Is(err, ErrAlreadyRefunded) {
		return s.repo.GetOrder(ctx, orderID)
	}
	return updated, err
}

// StartInvoiceSync периодически опрашивает шлюз о неоплаченных счетах и передаёт
// полученные статусы в ConfirmPayment. Блокируется до отмены контекста.
func (s *Service) StartInvoiceSync(ctx context.Context, interval time.Duration) {
	if s.gateway == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncInvoices(ctx)
		}
	}
}

func (s *Service) syncInvoices(ctx context.Context) {
	orders, err := s.repo.ListPendingInvoices(ctx, 100)
	if err != nil {
		s.logger.Warn("list pending invoices", zap.Error(err))
		return
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}

		st, err := s.gateway.InvoiceStatus(ctx, o.InvoiceID)
		if err != nil {
			s.logger.Debug("invoice status", zap.String("order", o.ID), zap.Error(err))
			continue
		}

		if _, err := s.ConfirmPayment(ctx, PaymentConfirmation{OrderID: o.ID, Status: st.Status, TxnID: st.ID}); err != nil {
			s.logger.Warn("apply invoice status", zap.String("order", o.ID), zap.Error(err))
		}
	}
}
