package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/validation"
)

// AdjustAction описывает направление ручной корректировки кошелька.
type AdjustAction string

const (
	AdjustCredit AdjustAction = "credit"
	AdjustDebit  AdjustAction = "debit"
)

// WalletEntry описывает одну операцию по кошельку.
type WalletEntry struct {
	UserID      string
	OrderID     string
	AmountCents int64
	Type        model.WalletTransactionType
	Reason      string
}

// Debit списывает сумму с кошелька. Проверка баланса и списание выполняются в одной
// критической секции пользователя.
func (s *Service) Debit(ctx context.Context, e WalletEntry) (int64, error) {
	if e.AmountCents <= 0 {
		return 0, invalid(ErrInvalidAmount, "debit amount must be positive")
	}
	e.AmountCents = -e.AmountCents
	return s.applyWallet(ctx, e)
}

// Credit зачисляет сумму на кошелёк.
func (s *Service) Credit(ctx context.Context, e WalletEntry) (int64, error) {
	if e.AmountCents <= 0 {
		return 0, invalid(ErrInvalidAmount, "credit amount must be positive")
	}
	return s.applyWallet(ctx, e)
}

func (s *Service) applyWallet(ctx context.Context, e WalletEntry) (int64, error) {
	balance, err := s.repo.ApplyWalletTransaction(ctx, model.WalletTransaction{
		ID:          uuid.NewString(),
		UserID:      e.UserID,
		OrderID:     e.OrderID,
		AmountCents: e.AmountCents,
		Type:        e.Type,
		Reason:      e.Reason,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("apply wallet transaction: %w", err)
	}
	return balance, nil
}

// AdjustResult содержит результат ручной корректировки.
type AdjustResult struct {
	UserID       string
	BalanceCents int64
}

// AdminAdjust находит пользователя по идентификатору, номеру клиента или email
// и зачисляет либо списывает сумму.
func (s *Service) AdminAdjust(ctx context.Context, identifier string, amountCents int64, action AdjustAction, reason string) (*AdjustResult, error) {
	identifier = validation.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, invalid(ErrValidation, "identifier is required")
	}
	if amountCents <= 0 {
		return nil, invalid(ErrInvalidAmount, "amount must be positive")
	}
	if reason == "" {
		reason = "admin adjustment"
	}

	u, err := s.repo.ResolveUser(ctx, identifier)
	if err != nil {
		return nil, err
	}

	entry := WalletEntry{UserID: u.ID, AmountCents: amountCents, Type: model.WalletAdminAdjust, Reason: reason}

	var balance int64
	switch action {
	case AdjustCredit:
		balance, err = s.Credit(ctx, entry)
	case AdjustDebit:
		balance, err = s.Debit(ctx, entry)
	default:
		return nil, invalid(ErrValidation, "unknown action %q", action)
	}
	if err != nil {
		return nil, err
	}

	return &AdjustResult{UserID: u.ID, BalanceCents: balance}, nil
}

// WalletHistory возвращает баланс кошелька, бонусные кредиты и журнал операций.
func (s *Service) WalletHistory(ctx context.Context, userID string) (*model.WalletHistory, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := s.repo.ListWalletTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.WalletHistory{
		BalanceCents: u.WalletCents,
		Credits:      u.Credits,
		Transactions: txs,
	}, nil
}
