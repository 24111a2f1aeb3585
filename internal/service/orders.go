package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/gateway"
	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/notify"
	"github.com/kayicom/marketplace/internal/repository"
	"github.com/kayicom/marketplace/internal/validation"
)

// ItemInput описывает позицию заказа от клиента. Цена берётся из каталога.
type ItemInput struct {
	ProductID   string
	Quantity    int
	PlayerID    string
	Credentials string
}

// CreateOrderInput содержит данные для оформления заказа.
type CreateOrderInput struct {
	UserID        string
	Items         []ItemInput
	PaymentMethod model.PaymentMethod
	CouponCode    string
}

// CreateOrder оформляет заказ: пересчитывает цены по каталогу, применяет купон и,
// при оплате с кошелька, сразу списывает средства и переводит заказ в (paid, processing).
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if !in.PaymentMethod.Valid() {
		return nil, invalid(ErrValidation, "unknown payment method %q", in.PaymentMethod)
	}
	if len(in.Items) == 0 {
		return nil, invalid(ErrValidation, "order has no items")
	}

	user, err := s.repo.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := s.priceItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &model.Order{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		UserEmail:     user.Email,
		Items:         items,
		SubtotalCents: subtotal,
		Currency:      "USD",
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: model.PaymentStatusPending,
		OrderStatus:   model.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if code := validation.NormalizeCouponCode(in.CouponCode); code != "" {
		c, err := s.ValidateCoupon(ctx, code, subtotal)
		if err != nil {
			return nil, err
		}
		o.CouponCode = c.Code
		o.DiscountCents = CalculateDiscount(c, subtotal)
	}
	o.TotalCents = max(0, o.SubtotalCents-o.DiscountCents)

	if o.PaymentMethod == model.PaymentMethodWallet {
		return s.settleWithWallet(ctx, o)
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if o.PaymentMethod == model.PaymentMethodCrypto {
		s.requestInvoice(ctx, o)
	}

	return o, nil
}

// maxItemQuantity ограничивает количество единиц товара в одной позиции.
const maxItemQuantity = 1000

func (s *Service) priceItems(ctx context.Context, in []ItemInput) ([]model.OrderItem, int64, error) {
	items := make([]model.OrderItem, 0, len(in))
	var subtotal int64

	for _, it := range in {
		if it.Quantity < 1 || it.Quantity > maxItemQuantity {
			return nil, 0, invalid(ErrValidation, "quantity for %s must be within [1, %d]", it.ProductID, maxItemQuantity)
		}

		p, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, 0, invalid(ErrInvalidProduct, "product %s not found", it.ProductID)
			}
			return nil, 0, err
		}

		if p.PriceCents < 0 {
			return nil, 0, invalid(ErrInvalidProduct, "product %s has a negative price", p.ID)
		}
		qty := int64(it.Quantity)
		if p.PriceCents > 0 && qty > (math.MaxInt64-subtotal)/p.PriceCents {
			return nil, 0, invalid(ErrInvalidAmount, "order subtotal is too large")
		}

		playerID := strings.TrimSpace(it.PlayerID)
		credentials := strings.TrimSpace(it.Credentials)
		if p.RequiresPlayerID && playerID == "" {
			return nil, 0, invalid(ErrMissingRequiredField, "player id required for %s", p.Name)
		}
		if p.RequiresCredentials && credentials == "" {
			return nil, 0, invalid(ErrMissingRequiredField, "credentials required for %s", p.Name)
		}

		items = append(items, model.OrderItem{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       it.Quantity,
			UnitPriceCents: p.PriceCents,
			PlayerID:       playerID,
			Credentials:    credentials,
		})
		subtotal += p.PriceCents * qty
	}

	return items, subtotal, nil
}

// settleWithWallet списывает сумму заказа с кошелька и сохраняет заказ оплаченным.
// Если заказ сохранить не удалось, списание компенсируется возвратом.
func (s *Service) settleWithWallet(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.TotalCents > 0 {
		_, err := s.Debit(ctx, WalletEntry{
			UserID:      o.UserID,
			OrderID:     o.ID,
			AmountCents: o.TotalCents,
			Type:        model.WalletPurchase,
			Reason:      "order " + o.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	o.PaymentStatus = model.PaymentStatusPaid
	o.OrderStatus = model.OrderStatusProcessing

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		if o.TotalCents > 0 {
			_, cerr := s.Credit(ctx, WalletEntry{
				UserID:      o.UserID,
				OrderID:     o.ID,
				AmountCents: o.TotalCents,
				Type:        model.WalletRefund,
				Reason:      "order " + o.ID + " was not saved",
			})
			if cerr != nil {
				s.logger.Error("wallet compensation failed",
					zap.String("order", o.ID), zap.String("user", o.UserID), zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.applyPaidEffects(ctx, o.ID); err != nil {
		return nil, err
	}
	return s.repo.GetOrder(ctx, o.ID)
}

// requestInvoice выставляет счёт в шлюзе. Ошибка шлюза не отменяет заказ.
func (s *Service) requestInvoice(ctx context.Context, o *model.Order) {
	if s.gateway == nil {
		return
	}

	inv, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		OrderID:     o.ID,
		OrderName:   "Order " + o.ID,
		AmountCents: o.TotalCents,
		Currency:    "USDT_TRX",
		CallbackURL: s.callbackURL,
		Email:       o.UserEmail,
	})
	if err != nil {
		s.logger.Warn("create invoice failed", zap.String("order", o.ID), zap.Error(err))
		return
	}

	if err := s.repo.SetOrderInvoice(ctx, o.ID, inv.ID); err != nil {
		s.logger.Warn("store invoice id failed", zap.String("order", o.ID), zap.Error(err))
		return
	}
	o.InvoiceID = inv.ID
}

// Transition применяет переданные статусы (каждый необязателен) и запускает побочные эффекты
// по итоговому состоянию: оплата → учёт купона; завершение → даты подписки, реферальный
// бонус, бонусные кредиты. Повторный вызов с тем же состоянием эффектов не повторяет.
// Возвращённый заказ не меняется: ErrAlreadyRefunded.
func (s *Service) Transition(ctx context.Context, orderID string, payment *model.PaymentStatus, status *model.OrderStatus) (*model.Order, error) {
	if payment == nil && status == nil {
		return nil, invalid(ErrInvalidStatus, "no status supplied")
	}
	if payment != nil && !payment.Valid() {
		return nil, invalid(ErrInvalidStatus, "unknown payment status %q", *payment)
	}
	if status != nil && !status.Valid() {
		return nil, invalid(ErrInvalidStatus, "unknown order status %q", *status)
	}

	o, err := s.repo.UpdateOrderStatus(ctx, orderID, payment, status, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.applyEffects(ctx, o); err != nil {
		return nil, err
	}
	return s.repo.GetOrder(ctx, orderID)
}

func (s *Service) applyEffects(ctx context.Context, o *model.Order) error {
	if o.PaymentStatus == model.PaymentStatusPaid {
		if err := s.applyPaidEffects(ctx, o.ID); err != nil {
			return err
		}
	}
	if o.OrderStatus == model.OrderStatusCompleted {
		if err := s.applyCompletedEffects(ctx, o.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyPaidEffects(ctx context.Context, orderID string) error {
	if _, err := s.RecordCouponUsageIfNeeded(ctx, orderID); err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	return nil
}

// applyCompletedEffects запускает эффекты завершения в фиксированном порядке.
func (s *Service) applyCompletedEffects(ctx context.Context, orderID string) error {
	if _, err := s.AssignSubscriptionDatesIfNeeded(ctx, orderID); err != nil {
		return fmt.Errorf("assign subscription dates: %w", err)
	}
	if _, err := s.CheckAndCreditReferral(ctx, orderID); err != nil {
		return fmt.Errorf("referral payout: %w", err)
	}

	awarded, err := s.AwardCreditsIfNeeded(ctx, orderID)
	if err != nil {
		return fmt.Errorf("award credits: %w", err)
	}
	if awarded {
		s.notifyCompleted(ctx, orderID)
	}
	return nil
}

func (s *Service) notifyCompleted(ctx context.Context, orderID string) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("read order for notification", zap.String("order", orderID), zap.Error(err))
		return
	}

	msg, err := notify.OrderCompleted(s.settings(ctx), o)
	if err != nil {
		s.logger.Error("render order completed", zap.String("order", orderID), zap.Error(err))
		return
	}
	s.dispatch(ctx, o.UserEmail, msg, zap.String("order", orderID))
}

// Deliver сохраняет данные ручной выдачи, переводит заказ в (paid, completed)
// и запускает те же эффекты, что и Transition.
func (s *Service) Deliver(ctx context.Context, orderID, details string) (*model.Order, error) {
	details = strings.TrimSpace(details)
	if details == "" {
		return nil, invalid(ErrMissingRequiredField, "delivery details are required")
	}

	o, err := s.repo.MarkDelivered(ctx, orderID, model.Delivery{Details: details, DeliveredAt: s.now()})
	if err != nil {
		return nil, err
	}

	if err := s.applyEffects(ctx, o); err != nil {
		return nil, err
	}

	msg, err := notify.OrderDelivered(s.settings(ctx), o, details)
	if err != nil {
		s.logger.Error("render delivery", zap.String("order", orderID), zap.Error(err))
	} else {
		s.dispatch(ctx, o.UserEmail, msg, zap.String("order", orderID))
	}

	return s.repo.GetOrder(ctx, orderID)
}

// Refund однократно возвращает сумму оплаченного заказа на кошелёк владельца и переводит заказ
// в (cancelled, cancelled). Нулевая сумма означает полный возврат. Начисленные
// кредиты и реферальные бонусы не отзываются.
func (s *Service) Refund(ctx context.Context, orderID string, amountCents int64, reason string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.RefundedAt != nil {
		return nil, ErrAlreadyRefunded
	}
	if o.PaymentStatus != model.PaymentStatusPaid {
		return nil, invalid(ErrInvalidStatus, "order %s is not paid", o.ID)
	}

	if amountCents == 0 {
		amountCents = o.TotalCents
	}
	if amountCents <= 0 || amountCents > o.TotalCents {
		return nil, invalid(ErrInvalidAmount, "refund amount must be within (0, %d]", o.TotalCents)
	}
	if reason == "" {
		reason = "refund for order " + o.ID
	}

	refunded, err := s.repo.RefundOrder(ctx, orderID, amountCents, reason, s.now())
	if errors.Is(err, repository.ErrAlreadyRefunded) {
		s.effects.RecordEffect(EffectRefund, false)
		return nil, ErrAlreadyRefunded
	}
	if errors.Is(err, repository.ErrOrderNotPaid) {
		return nil, invalid(ErrInvalidStatus, "order %s is not paid", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("refund order: %w", err)
	}
	s.effects.RecordEffect(EffectRefund, true)

	s.logger.Info("order refunded",
		zap.String("order", orderID), zap.String("user", refunded.UserID), zap.Int64("amount_cents", amountCents))
	return refunded, nil
}

// SubmitPaymentProof сохраняет подтверждение ручной оплаты и переводит оплату
// в pending_verification. Побочных эффектов не запускает.
func (s *Service) SubmitPaymentProof(ctx context.Context, userID, orderID, transactionID, proofURL string) (*model.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	proofURL = strings.TrimSpace(proofURL)
	if transactionID == "" && proofURL == "" {
		return nil, invalid(ErrMissingRequiredField, "transaction id or proof url is required")
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}

	return s.repo.SetPaymentProof(ctx, orderID, transactionID, proofURL, s.now())
}

// GetOrder возвращает заказ. Если userID задан, заказ должен принадлежать пользователю.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}
