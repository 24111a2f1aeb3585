package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kayicom/marketplace/internal/model"
)

func newID() string {
	return uuid.NewString()
}

// applyWallet изменяет кэшированный баланс и добавляет запись журнала внутри tx.
func applyWallet(ctx context.Context, tx pgx.Tx, entry model.WalletTransaction) (int64, error) {
	balance, _, err := lockUser(ctx, tx, entry.UserID)
	if err != nil {
		return 0, err
	}

	next := balance + entry.AmountCents
	if next < 0 {
		return 0, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET wallet_cents = $2 WHERE id = $1`, entry.UserID, next); err != nil {
		return 0, fmt.Errorf("update wallet balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, order_id, amount_cents, type, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.OrderID, entry.AmountCents, string(entry.Type), entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert wallet transaction: %w", err)
	}

	return next, nil
}

func applyCredits(ctx context.Context, tx pgx.Tx, entry model.CreditsTransaction) (int64, error) {
	_, credits, err := lockUser(ctx, tx, entry.UserID)
	if err != nil {
		return 0, err
	}

	next := credits + entry.Credits
	if next < 0 {
		return 0, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET credits = $2 WHERE id = $1`, entry.UserID, next); err != nil {
		return 0, fmt.Errorf("update credits balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credits_transactions (id, user_id, order_id, credits, type, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.OrderID, entry.Credits, string(entry.Type), entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert credits transaction: %w", err)
	}

	return next, nil
}

// ApplyWalletTransaction атомарно применяет операцию к кошельку пользователя и возвращает новый баланс.
func (r *PostgresRepository) ApplyWalletTransaction(ctx context.Context, entry model.WalletTransaction) (int64, error) {
	var balance int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		balance, err = applyWallet(ctx, tx, entry)
		return err
	})
	return balance, err
}

// ApplyCreditsTransaction атомарно применяет операцию к бонусным кредитам пользователя.
func (r *PostgresRepository) ApplyCreditsTransaction(ctx context.Context, entry model.CreditsTransaction) (int64, error) {
	var balance int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		balance, err = applyCredits(ctx, tx, entry)
		return err
	})
	return balance, err
}

// ConvertCredits списывает кредиты и зачисляет их стоимость на кошелёк в одной транзакции.
func (r *PostgresRepository) ConvertCredits(ctx context.Context, userID string, credits int64, now time.Time) (int64, int64, error) {
	var walletBalance, creditsBalance int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		creditsBalance, err = applyCredits(ctx, tx, model.CreditsTransaction{
			ID:        newID(),
			UserID:    userID,
			Credits:   -credits,
			Type:      model.CreditsConvert,
			Reason:    "converted to wallet",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		walletBalance, err = applyWallet(ctx, tx, model.WalletTransaction{
			ID:          newID(),
			UserID:      userID,
			AmountCents: model.CreditsToCents(credits),
			Type:        model.WalletCreditsConvert,
			Reason:      fmt.Sprintf("converted %d credits", credits),
			CreatedAt:   now,
		})
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	return walletBalance, creditsBalance, nil
}

// AwardOrderCredits однократно отмечает начисление кредитов по завершённому оплаченному заказу.
// Флаг credits_recorded и зачисление пишутся в одной транзакции.
func (r *PostgresRepository) AwardOrderCredits(ctx context.Context, orderID string, credits int64, now time.Time) (bool, error) {
	applied := false

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx,
			`UPDATE orders SET credits_recorded = TRUE, credits_awarded = $2, updated_at = $3
			 WHERE id = $1 AND NOT credits_recorded AND payment_status = $4 AND order_status = $5
			 RETURNING user_id`,
			orderID, credits, now, string(model.PaymentStatusPaid), string(model.OrderStatusCompleted),
		).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("mark credits recorded: %w", err)
		}
		applied = true

		if credits <= 0 {
			return nil
		}

		_, err = applyCredits(ctx, tx, model.CreditsTransaction{
			ID:        newID(),
			UserID:    userID,
			OrderID:   orderID,
			Credits:   credits,
			Type:      model.CreditsEarn,
			Reason:    "order completed",
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// ListWalletTransactions возвращает журнал кошелька пользователя, новые записи первыми.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, order_id, amount_cents, type, reason, created_at
		 FROM wallet_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		var (
			t   model.WalletTransaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.AmountCents, &typ, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		t.Type = model.WalletTransactionType(typ)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
