package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/validation"
)

// AwardCreditsIfNeeded однократно начисляет бонусные кредиты за завершённый оплаченный заказ.
// Заказ на сумму ниже порога отмечается как учтённый с нулём кредитов.
func (s *Service) AwardCreditsIfNeeded(ctx context.Context, orderID string) (bool, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.CreditsRecorded || !o.IsTerminal() {
		return false, nil
	}

	var credits int64
	if o.TotalCents >= s.incentives.LoyaltyMinOrderCents {
		credits = s.incentives.LoyaltyCreditsPerOrder
	}

	applied, err := s.repo.AwardOrderCredits(ctx, o.ID, credits, s.now())
	if err != nil {
		return false, err
	}
	s.effects.RecordEffect(EffectLoyaltyCredits, applied)

	if applied && credits > 0 {
		s.logger.Info("loyalty credits awarded",
			zap.String("order", o.ID), zap.String("user", o.UserID), zap.Int64("credits", credits))
	}
	return applied, nil
}

// ConversionResult содержит балансы после операции с кредитами.
type ConversionResult struct {
	Credits      int64
	BalanceCents int64
}

// ConvertCredits переводит бонусные кредиты в средства кошелька (100 кредитов = 1.00).
func (s *Service) ConvertCredits(ctx context.Context, userID string, credits int64) (*ConversionResult, error) {
	if credits <= 0 || credits%model.CreditsPerCurrencyUnit != 0 {
		return nil, invalid(ErrInvalidConversion, "credits must be a positive multiple of %d", model.CreditsPerCurrencyUnit)
	}

	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if credits > u.Credits {
		return nil, fmt.Errorf("convert %d credits: %w", credits, ErrInsufficientFunds)
	}

	wallet, left, err := s.repo.ConvertCredits(ctx, userID, credits, s.now())
	if err != nil {
		return nil, fmt.Errorf("convert credits: %w", err)
	}

	return &ConversionResult{Credits: left, BalanceCents: wallet}, nil
}

// AdminAdjustCredits вручную начисляет (положительное значение) или списывает бонусные кредиты.
func (s *Service) AdminAdjustCredits(ctx context.Context, identifier string, credits int64, reason string) (*ConversionResult, error) {
	if credits == 0 {
		return nil, invalid(ErrInvalidAmount, "credits must be non-zero")
	}
	if reason == "" {
		reason = "admin adjustment"
	}

	u, err := s.repo.ResolveUser(ctx, validation.NormalizeIdentifier(identifier))
	if err != nil {
		return nil, err
	}

	left, err := s.repo.ApplyCreditsTransaction(ctx, model.CreditsTransaction{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Credits:   credits,
		Type:      model.CreditsAdminAdjust,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("adjust credits: %w", err)
	}

	return &ConversionResult{Credits: left, BalanceCents: u.WalletCents}, nil
}
