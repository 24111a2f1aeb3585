package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayicom/marketplace/internal/model"
)

// Тесты этого файла выполняются на настоящей базе: DATABASE_URI=postgres://... go test ./internal/repository/
func newPostgresTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	r, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func seedPgUser(t *testing.T, r *PostgresRepository, referredBy string) *model.User {
	t.Helper()

	id := uuid.NewString()
	u := &model.User{
		ID:           id,
		Email:        id + "@example.com",
		ReferralCode: "R" + id[:8],
		ReferredBy:   referredBy,
	}
	_, err := r.pool.Exec(context.Background(),
		`INSERT INTO users (id, email, referral_code, referred_by) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.ReferralCode, u.ReferredBy,
	)
	require.NoError(t, err)
	return u
}

func seedPgCoupon(t *testing.T, r *PostgresRepository, limit int64) string {
	t.Helper()

	code := "PG" + uuid.NewString()[:8]
	_, err := r.pool.Exec(context.Background(),
		`INSERT INTO coupons (code, discount_type, discount_value, usage_limit) VALUES ($1, 'fixed', 1, $2)`,
		code, limit,
	)
	require.NoError(t, err)
	return code
}

func seedPgOrder(t *testing.T, r *PostgresRepository, u *model.User, coupon string, payment model.PaymentStatus, status model.OrderStatus) string {
	t.Helper()

	o := &model.Order{
		ID:            uuid.NewString(),
		UserID:        u.ID,
		UserEmail:     u.Email,
		Items:         []model.OrderItem{{ProductID: "p-card", ProductName: "Gift Card 5", Quantity: 1, UnitPriceCents: 500}},
		SubtotalCents: 500,
		TotalCents:    500,
		CouponCode:    coupon,
		Currency:      "USD",
		PaymentMethod: model.PaymentMethodPayPal,
		PaymentStatus: payment,
		OrderStatus:   status,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, r.CreateOrder(context.Background(), o))
	return o.ID
}

// concurrently запускает fn n раз одновременно и возвращает число успешных применений.
func concurrently(n int, fn func() (bool, error)) (applied int, errs []error) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for rangeIdx := 0; rangeIdx < n; rangeIdx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := fn()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				applied++
			}
		}()
	}
	wg.Wait()
	return applied, errs
}

func TestPostgres_RecordCouponUsageOnce(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	u := seedPgUser(t, r, "")
	code := seedPgCoupon(t, r, 10)
	orderID := seedPgOrder(t, r, u, code, model.PaymentStatusPaid, model.OrderStatusProcessing)

	applied, errs := concurrently(8, func() (bool, error) {
		recorded, _, err := r.RecordCouponUsage(ctx, orderID)
		return recorded, err
	})
	require.Empty(t, errs)
	assert.Equal(t, 1, applied)

	c, err := r.GetCoupon(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsedCount)

	o, err := r.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, o.CouponUsageRecorded)
}

func TestPostgres_AwardOrderCreditsOnce(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	u := seedPgUser(t, r, "")
	processing := seedPgOrder(t, r, u, "", model.PaymentStatusPaid, model.OrderStatusProcessing)
	completed := seedPgOrder(t, r, u, "", model.PaymentStatusPaid, model.OrderStatusCompleted)

	ok, err := r.AwardOrderCredits(ctx, processing, 5, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "credits are awarded only for completed orders")

	applied, errs := concurrently(8, func() (bool, error) {
		return r.AwardOrderCredits(ctx, completed, 5, time.Now())
	})
	require.Empty(t, errs)
	assert.Equal(t, 1, applied)

	got, err := r.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Credits)
}

func TestPostgres_CreditReferralOncePerReferredUser(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	referrer := seedPgUser(t, r, "")
	invited := seedPgUser(t, r, referrer.ReferralCode)
	first := seedPgOrder(t, r, invited, "", model.PaymentStatusPaid, model.OrderStatusCompleted)
	second := seedPgOrder(t, r, invited, "", model.PaymentStatusPaid, model.OrderStatusCompleted)

	var n int
	var mu sync.Mutex
	applied, errs := concurrently(6, func() (bool, error) {
		mu.Lock()
		orderID := first
		if n%2 == 1 {
			orderID = second
		}
		n++
		mu.Unlock()

		return r.CreditReferral(ctx, model.ReferralPayout{
			ID:             uuid.NewString(),
			ReferrerID:     referrer.ID,
			ReferredUserID: invited.ID,
			OrderID:        orderID,
			AmountCents:    500,
			CreatedAt:      time.Now(),
		})
	})
	require.Empty(t, errs)
	assert.Equal(t, 1, applied)

	got, err := r.GetUser(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.ReferralCents)

	exists, err := r.HasReferralPayout(ctx, "unrelated", invited.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgres_RefundOrderOnceAndOnlyWhenPaid(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	u := seedPgUser(t, r, "")
	unpaid := seedPgOrder(t, r, u, "", model.PaymentStatusPending, model.OrderStatusPending)
	paid := seedPgOrder(t, r, u, "", model.PaymentStatusPaid, model.OrderStatusCompleted)

	_, err := r.RefundOrder(ctx, unpaid, 500, "", time.Now())
	require.ErrorIs(t, err, ErrOrderNotPaid)

	_, err = r.RefundOrder(ctx, uuid.NewString(), 500, "", time.Now())
	require.ErrorIs(t, err, ErrOrderNotFound)

	applied, errs := concurrently(4, func() (bool, error) {
		_, err := r.RefundOrder(ctx, paid, 500, "broken code", time.Now())
		return err == nil, err
	})
	assert.Equal(t, 1, applied)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrAlreadyRefunded)
	}

	got, err := r.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.WalletCents)

	completed, paidStatus := model.OrderStatusCompleted, model.PaymentStatusPaid
	_, err = r.UpdateOrderStatus(ctx, paid, &paidStatus, &completed, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = r.MarkDelivered(ctx, paid, model.Delivery{Details: "code", DeliveredAt: time.Now()})
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	o, err := r.GetOrder(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, o.PaymentStatus)
	assert.Equal(t, model.OrderStatusCancelled, o.OrderStatus)
	assert.Nil(t, o.Delivery)
}

func TestPostgres_ClaimSubscriptionNotificationOnce(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	u := seedPgUser(t, r, "")
	orderID := seedPgOrder(t, r, u, "", model.PaymentStatusPaid, model.OrderStatusCompleted)

	for _, kind := range []model.NotificationKind{model.NotificationReminder5d, model.NotificationExpired} {
		applied, errs := concurrently(5, func() (bool, error) {
			return r.ClaimSubscriptionNotification(ctx, model.SubscriptionNotification{
				ID:        uuid.NewString(),
				OrderID:   orderID,
				Kind:      kind,
				CreatedAt: time.Now(),
			})
		})
		require.Empty(t, errs)
		assert.Equal(t, 1, applied, kind)
	}
}

func TestPostgres_WalletNeverNegative(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	u := seedPgUser(t, r, "")
	_, err := r.ApplyWalletTransaction(ctx, model.WalletTransaction{
		ID: uuid.NewString(), UserID: u.ID, AmountCents: 1000, Type: model.WalletTopup, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	applied, errs := concurrently(5, func() (bool, error) {
		_, err := r.ApplyWalletTransaction(ctx, model.WalletTransaction{
			ID: uuid.NewString(), UserID: u.ID, AmountCents: -300, Type: model.WalletPurchase, CreatedAt: time.Now(),
		})
		return err == nil, err
	})
	assert.Equal(t, 3, applied)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	}

	got, err := r.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.WalletCents)

	txs, err := r.ListWalletTransactions(ctx, u.ID)
	require.NoError(t, err)
	var sum int64
	for _, tx := range txs {
		sum += tx.AmountCents
	}
	assert.Equal(t, got.WalletCents, sum)
}
