package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/repository"
	"github.com/kayicom/marketplace/internal/validation"
)

// ValidateCoupon проверяет купон для суммы заказа: активность, срок действия,
// минимальную сумму и лимит использований.
func (s *Service) ValidateCoupon(ctx context.Context, code string, amountCents int64) (*model.Coupon, error) {
	code = validation.NormalizeCouponCode(code)
	if code == "" {
		return nil, invalid(ErrInvalidCoupon, "empty code")
	}

	c, err := s.repo.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			return nil, invalid(ErrInvalidCoupon, "coupon %s not found", code)
		}
		return nil, err
	}

	switch {
	case !c.Active:
		return nil, invalid(ErrInvalidCoupon, "coupon %s is inactive", code)
	case c.ExpiresAt != nil && !s.now().Before(*c.ExpiresAt):
		return nil, invalid(ErrInvalidCoupon, "coupon %s has expired", code)
	case amountCents < c.MinOrderCents:
		return nil, invalid(ErrInvalidCoupon, "order amount below coupon minimum")
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return nil, invalid(ErrInvalidCoupon, "coupon %s usage limit reached", code)
	}

	return c, nil
}

// CalculateDiscount возвращает скидку в центах, ограниченную диапазоном [0, subtotal].
// Процентная скидка округляется до цента.
func CalculateDiscount(c *model.Coupon, subtotalCents int64) int64 {
	if c == nil || subtotalCents <= 0 {
		return 0
	}

	var discount int64
	switch c.DiscountType {
	case model.DiscountPercent:
		discount = c.DiscountValue.
			Mul(decimal.NewFromInt(subtotalCents)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case model.DiscountFixed:
		discount = model.CentsFromDecimal(c.DiscountValue)
	}

	return min(max(discount, 0), subtotalCents)
}

// RecordCouponUsageIfNeeded однократно учитывает использование купона оплаченным заказом.
// Это единственное место, где меняется счётчик использований купона.
func (s *Service) RecordCouponUsageIfNeeded(ctx context.Context, orderID string) (bool, error) {
	recorded, incremented, err := s.repo.RecordCouponUsage(ctx, orderID)
	if err != nil {
		return false, err
	}
	s.effects.RecordEffect(EffectCouponUsage, recorded)

	if recorded && !incremented {
		s.logger.Warn("coupon usage limit exhausted at record time", zap.String("order", orderID))
	}
	return recorded, nil
}
