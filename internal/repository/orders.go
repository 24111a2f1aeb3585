package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kayicom/marketplace/internal/model"
)

const orderColumns = `id, user_id, user_email, items, subtotal_cents, discount_cents, coupon_code,
	total_cents, currency, payment_method, payment_status, order_status, coupon_usage_recorded,
	credits_recorded, credits_awarded, subscription_start_at, subscription_end_at, refunded_at,
	refunded_cents, invoice_id, transaction_id, payment_proof_url, delivery, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		items         []byte
		delivery      []byte
		paymentMethod string
		paymentStatus string
		orderStatus   string
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.UserEmail, &items, &o.SubtotalCents, &o.DiscountCents, &o.CouponCode,
		&o.TotalCents, &o.Currency, &paymentMethod, &paymentStatus, &orderStatus, &o.CouponUsageRecorded,
		&o.CreditsRecorded, &o.CreditsAwarded, &o.SubscriptionStartAt, &o.SubscriptionEndAt, &o.RefundedAt,
		&o.RefundedCents, &o.InvoiceID, &o.TransactionID, &o.PaymentProofURL, &delivery, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.PaymentMethod = model.PaymentMethod(paymentMethod)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	o.OrderStatus = model.OrderStatus(orderStatus)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if len(delivery) > 0 {
		var d model.Delivery
		if err := json.Unmarshal(delivery, &d); err != nil {
			return nil, fmt.Errorf("decode delivery: %w", err)
		}
		o.Delivery = &d
	}

	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, user_email, items, subtotal_cents, discount_cents, coupon_code,
			total_cents, currency, payment_method, payment_status, order_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		o.ID, o.UserID, o.UserEmail, items, o.SubtotalCents, o.DiscountCents, o.CouponCode,
		o.TotalCents, o.Currency, string(o.PaymentMethod), string(o.PaymentStatus), string(o.OrderStatus), o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// UpdateOrderStatus применяет переданные статусы (nil означает «не менять»).
// Возвращённый заказ не меняется: ErrAlreadyRefunded.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, payment *model.PaymentStatus, status *model.OrderStatus, now time.Time) (*model.Order, error) {
	var paymentArg, statusArg *string
	if payment != nil {
		v := string(*payment)
		paymentArg = &v
	}
	if status != nil {
		v := string(*status)
		statusArg = &v
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE orders
		 SET payment_status = COALESCE($2, payment_status),
		     order_status = COALESCE($3, order_status),
		     updated_at = $4
		 WHERE id = $1 AND refunded_at IS NULL
		 RETURNING `+orderColumns,
		id, paymentArg, statusArg, now,
	)
	o, err := scanOrder(row)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, r.orderGuardError(ctx, r.pool, id, false)
	}
	return o, err
}

// SetOrderInvoice сохраняет идентификатор счёта платёжного шлюза.
func (r *PostgresRepository) SetOrderInvoice(ctx context.Context, id, invoiceID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET invoice_id = $2 WHERE id = $1`, id, invoiceID)
	if err != nil {
		return fmt.Errorf("update order invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetPaymentProof сохраняет подтверждение ручной оплаты и переводит оплату в pending_verification.
// Статус уже оплаченного заказа не меняется, возвращённый заказ не меняется вовсе.
func (r *PostgresRepository) SetPaymentProof(ctx context.Context, id, transactionID, proofURL string, now time.Time) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE orders
		 SET transaction_id = $2, payment_proof_url = $3, updated_at = $4,
		     payment_status = CASE WHEN payment_status = $5 THEN payment_status ELSE $6 END
		 WHERE id = $1 AND refunded_at IS NULL
		 RETURNING `+orderColumns,
		id, transactionID, proofURL, now,
		string(model.PaymentStatusPaid), string(model.PaymentStatusPendingVerification),
	)
	o, err := scanOrder(row)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, r.orderGuardError(ctx, r.pool, id, false)
	}
	return o, err
}

// MarkDelivered сохраняет данные выдачи и переводит заказ в (paid, completed).
// Возвращённый заказ выдать нельзя.
func (r *PostgresRepository) MarkDelivered(ctx context.Context, id string, d model.Delivery) (*model.Order, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode delivery: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE orders
		 SET delivery = $2, payment_status = $3, order_status = $4, updated_at = $5
		 WHERE id = $1 AND refunded_at IS NULL
		 RETURNING `+orderColumns,
		id, payload, string(model.PaymentStatusPaid), string(model.OrderStatusCompleted), d.DeliveredAt,
	)
	o, err := scanOrder(row)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, r.orderGuardError(ctx, r.pool, id, false)
	}
	return o, err
}

// ListPendingInvoices возвращает неоплаченные заказы с выставленным счётом.
func (r *PostgresRepository) ListPendingInvoices(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE invoice_id <> '' AND payment_status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.PaymentStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending invoices: %w", err)
	}
	return collectOrders(rows)
}

// ListSubscriptionOrders возвращает заказы с датой окончания подписки,
// по которым ещё не отправлено уведомление об истечении.
func (r *PostgresRepository) ListSubscriptionOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.subscription_end_at IS NOT NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM subscription_notifications n
		     WHERE n.order_id = o.id AND n.kind = $1
		   )
		 ORDER BY o.subscription_end_at
		 LIMIT $2`,
		string(model.NotificationExpired), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select subscription orders: %w", err)
	}
	return collectOrders(rows)
}

// RefundOrder однократно возвращает сумму на кошелёк владельца и отменяет заказ.
// Возврат возможен только по оплаченному заказу.
// Отметка о возврате, зачисление и запись журнала выполняются в одной транзакции.
func (r *PostgresRepository) RefundOrder(ctx context.Context, orderID string, amountCents int64, reason string, now time.Time) (*model.Order, error) {
	var refunded *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx,
			`UPDATE orders
			 SET refunded_at = $2, refunded_cents = $3, payment_status = $4, order_status = $5, updated_at = $2
			 WHERE id = $1 AND refunded_at IS NULL AND payment_status = $6
			 RETURNING user_id`,
			orderID, now, amountCents, string(model.PaymentStatusCancelled), string(model.OrderStatusCancelled),
			string(model.PaymentStatusPaid),
		).Scan(&userID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("mark order refunded: %w", err)
			}
			return r.orderGuardError(ctx, tx, orderID, true)
		}

		if _, err := applyWallet(ctx, tx, model.WalletTransaction{
			ID:          newID(),
			UserID:      userID,
			OrderID:     orderID,
			AmountCents: amountCents,
			Type:        model.WalletRefund,
			Reason:      reason,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		refunded, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return refunded, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// orderGuardError объясняет, почему условное обновление заказа не затронуло ни одной строки.
func (r *PostgresRepository) orderGuardError(ctx context.Context, q rowQuerier, id string, requirePaid bool) error {
	var (
		refunded bool
		payment  string
	)
	err := q.QueryRow(ctx, `SELECT refunded_at IS NOT NULL, payment_status FROM orders WHERE id = $1`, id).
		Scan(&refunded, &payment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("check order: %w", err)
	}
	if refunded {
		return ErrAlreadyRefunded
	}
	if requirePaid && payment != string(model.PaymentStatusPaid) {
		return ErrOrderNotPaid
	}
	return ErrOrderNotFound
}
