package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kayicom/marketplace/internal/model"
)

// GetCoupon возвращает купон по нормализованному коду.
func (r *PostgresRepository) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var (
		c     model.Coupon
		typ   string
		value string
	)

	err := r.pool.QueryRow(ctx,
		`SELECT code, discount_type, discount_value::text, active, min_order_cents, usage_limit, used_count, expires_at
		 FROM coupons WHERE code = $1`,
		code,
	).Scan(&c.Code, &typ, &value, &c.Active, &c.MinOrderCents, &c.UsageLimit, &c.UsedCount, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	c.DiscountType = model.DiscountType(typ)
	c.DiscountValue, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse discount value: %w", err)
	}

	return &c, nil
}

// RecordCouponUsage однократно фиксирует использование купона оплаченным заказом.
// recorded: флаг заказа выставлен этим вызовом; incremented: счётчик купона увеличен
// (не увеличивается, если лимит уже исчерпан).
func (r *PostgresRepository) RecordCouponUsage(ctx context.Context, orderID string) (recorded bool, incremented bool, err error) {
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		recorded, incremented = false, false

		var code string
		err := tx.QueryRow(ctx,
			`UPDATE orders SET coupon_usage_recorded = TRUE
			 WHERE id = $1 AND NOT coupon_usage_recorded AND payment_status = $2 AND coupon_code <> ''
			 RETURNING coupon_code`,
			orderID, string(model.PaymentStatusPaid),
		).Scan(&code)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("mark coupon usage: %w", err)
		}
		recorded = true

		tag, err := tx.Exec(ctx,
			`UPDATE coupons SET used_count = used_count + 1
			 WHERE code = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
			code,
		)
		if err != nil {
			return fmt.Errorf("increment coupon usage: %w", err)
		}
		incremented = tag.RowsAffected() == 1
		return nil
	})
	return recorded, incremented, err
}

// HasReferralPayout сообщает, есть ли выплата по заказу или по приглашённому пользователю.
func (r *PostgresRepository) HasReferralPayout(ctx context.Context, orderID, referredUserID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM referral_payouts WHERE order_id = $1 OR referred_user_id = $2)`,
		orderID, referredUserID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check referral payout: %w", err)
	}
	return exists, nil
}

// CreditReferral зачисляет бонус пригласившему и записывает выплату.
// Проверка наличия выплаты повторяется по журналу под блокировкой приглашённого пользователя.
func (r *PostgresRepository) CreditReferral(ctx context.Context, p model.ReferralPayout) (bool, error) {
	applied := false

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		applied = false

		if _, _, err := lockUser(ctx, tx, p.ReferredUserID); err != nil {
			return err
		}

		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM referral_payouts WHERE order_id = $1 OR referred_user_id = $2)`,
			p.OrderID, p.ReferredUserID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check referral payout: %w", err)
		}
		if exists {
			return nil
		}

		tag, err := tx.Exec(ctx,
			`UPDATE users SET referral_cents = referral_cents + $2 WHERE id = $1`,
			p.ReferrerID, p.AmountCents,
		)
		if err != nil {
			return fmt.Errorf("credit referrer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO referral_payouts (id, referrer_id, referred_user_id, order_id, amount_cents, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.ReferrerID, p.ReferredUserID, p.OrderID, p.AmountCents, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert referral payout: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// SetSubscriptionDates устанавливает даты подписки, если они ещё не заданы.
func (r *PostgresRepository) SetSubscriptionDates(ctx context.Context, orderID string, start, end time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET subscription_start_at = $2, subscription_end_at = $3, updated_at = $2
		 WHERE id = $1 AND subscription_end_at IS NULL`,
		orderID, start, end,
	)
	if err != nil {
		return false, fmt.Errorf("set subscription dates: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimSubscriptionNotification вставляет запись об уведомлении, если её ещё нет.
// Возвращает true только для вызова, который действительно создал запись.
func (r *PostgresRepository) ClaimSubscriptionNotification(ctx context.Context, n model.SubscriptionNotification) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO subscription_notifications (id, order_id, kind, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (order_id, kind) DO NOTHING`,
		n.ID, n.OrderID, string(n.Kind), n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
