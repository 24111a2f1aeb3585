package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/repository"
)

// CheckAndCreditReferral однократно начисляет бонус пригласившему пользователю, когда
// приглашённый впервые завершает заказ с подпиской. Решающей является проверка по
// приглашённому пользователю: второй такой заказ бонуса не даёт.
func (s *Service) CheckAndCreditReferral(ctx context.Context, orderID string) (bool, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !o.IsTerminal() {
		return false, nil
	}

	u, err := s.repo.GetUser(ctx, o.UserID)
	if err != nil {
		return false, err
	}
	if u.ReferredBy == "" {
		return false, nil
	}

	subs, err := s.subscriptionItems(ctx, o)
	if err != nil {
		return false, err
	}
	if len(subs) == 0 {
		return false, nil
	}

	paid, err := s.repo.HasReferralPayout(ctx, o.ID, u.ID)
	if err != nil {
		return false, err
	}
	if paid {
		s.effects.RecordEffect(EffectReferralPayout, false)
		return false, nil
	}

	referrer, err := s.repo.GetUserByReferralCode(ctx, u.ReferredBy)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Warn("referral code has no owner",
				zap.String("order", o.ID), zap.String("code", u.ReferredBy))
			return false, nil
		}
		return false, err
	}
	if referrer.ID == u.ID {
		return false, nil
	}

	applied, err := s.repo.CreditReferral(ctx, model.ReferralPayout{
		ID:             uuid.NewString(),
		ReferrerID:     referrer.ID,
		ReferredUserID: u.ID,
		OrderID:        o.ID,
		AmountCents:    s.incentives.ReferralBonusCents,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return false, err
	}
	s.effects.RecordEffect(EffectReferralPayout, applied)

	if applied {
		s.logger.Info("referral bonus credited",
			zap.String("order", o.ID),
			zap.String("referrer", referrer.ID),
			zap.String("referred", u.ID),
		)
	}
	return applied, nil
}
