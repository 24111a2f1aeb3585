package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayicom/marketplace/internal/model"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()

	r := NewMemoryRepository()
	r.AddUser(model.User{ID: "u-1", CustomerID: "KC-00000001", Email: "Buyer@Example.com", WalletCents: 1000})
	r.AddUser(model.User{ID: "u-2", Email: "friend@example.com", ReferralCode: "FRIEND"})
	return r
}

func addOrder(t *testing.T, r *MemoryRepository, id string, payment model.PaymentStatus, status model.OrderStatus) {
	t.Helper()
	require.NoError(t, r.CreateOrder(context.Background(), &model.Order{
		ID:            id,
		UserID:        "u-1",
		TotalCents:    500,
		CouponCode:    "ONE",
		PaymentStatus: payment,
		OrderStatus:   status,
		CreatedAt:     testNow,
	}))
}

func TestMemory_OpeningBalanceIsJournaled(t *testing.T) {
	r := newTestRepo(t)

	u, err := r.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u.WalletCents)

	txs, err := r.ListWalletTransactions(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.WalletTopup, txs[0].Type)
}

func TestMemory_ResolveUser(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for _, identifier := range []string{"u-1", "kc-00000001", "buyer@example.com"} {
		u, err := r.ResolveUser(ctx, identifier)
		require.NoError(t, err, identifier)
		assert.Equal(t, "u-1", u.ID)
	}

	_, err := r.ResolveUser(ctx, " ")
	assert.ErrorIs(t, err, ErrUserNotFound)

	u, err := r.GetUserByReferralCode(ctx, "friend")
	require.NoError(t, err)
	assert.Equal(t, "u-2", u.ID)
}

func TestMemory_CreateOrderDuplicate(t *testing.T) {
	r := newTestRepo(t)
	addOrder(t, r, "o-1", model.PaymentStatusPending, model.OrderStatusPending)

	err := r.CreateOrder(context.Background(), &model.Order{ID: "o-1", UserID: "u-1"})
	assert.ErrorIs(t, err, ErrOrderExists)
}

func TestMemory_ReturnedOrdersAreCopies(t *testing.T) {
	r := newTestRepo(t)
	addOrder(t, r, "o-1", model.PaymentStatusPending, model.OrderStatusPending)

	o, err := r.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	o.PaymentStatus = model.PaymentStatusPaid

	again, err := r.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, again.PaymentStatus)
}

func TestMemory_WalletNeverNegative(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.ApplyWalletTransaction(ctx, model.WalletTransaction{UserID: "u-1", AmountCents: -1001})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := r.ApplyWalletTransaction(ctx, model.WalletTransaction{UserID: "u-1", AmountCents: -1000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestMemory_RecordCouponUsage(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	limit := int64(1)
	r.AddCoupon(model.Coupon{Code: "ONE", Active: true, UsageLimit: &limit})

	addOrder(t, r, "o-pending", model.PaymentStatusPending, model.OrderStatusPending)
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusProcessing)
	addOrder(t, r, "o-2", model.PaymentStatusPaid, model.OrderStatusProcessing)

	recorded, _, err := r.RecordCouponUsage(ctx, "o-pending")
	require.NoError(t, err)
	assert.False(t, recorded)

	recorded, incremented, err := r.RecordCouponUsage(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.True(t, incremented)

	recorded, _, err = r.RecordCouponUsage(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, recorded)

	recorded, incremented, err = r.RecordCouponUsage(ctx, "o-2")
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.False(t, incremented)

	c, err := r.GetCoupon(ctx, "ONE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsedCount)
}

func TestMemory_AwardOrderCreditsOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusCompleted)
	addOrder(t, r, "o-2", model.PaymentStatusPaid, model.OrderStatusProcessing)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for rangeIdx := 0; rangeIdx < 10; rangeIdx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.AwardOrderCredits(ctx, "o-1", 5, testNow)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	u, err := r.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), u.Credits)

	ok, err := r.AwardOrderCredits(ctx, "o-2", 5, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "non-terminal orders are not awarded")
}

func TestMemory_CreditReferralOncePerReferredUser(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	p := model.ReferralPayout{ID: "p-1", ReferrerID: "u-2", ReferredUserID: "u-1", OrderID: "o-1", AmountCents: 100}
	ok, err := r.CreditReferral(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	p.ID, p.OrderID = "p-2", "o-2"
	ok, err = r.CreditReferral(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	referrer, err := r.GetUser(ctx, "u-2")
	require.NoError(t, err)
	assert.Equal(t, int64(100), referrer.ReferralCents)

	has, err := r.HasReferralPayout(ctx, "o-3", "u-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemory_SubscriptionDatesSetOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusCompleted)

	ok, err := r.SetSubscriptionDates(ctx, "o-1", testNow, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetSubscriptionDates(ctx, "o-1", testNow, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := r.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, o.SubscriptionEndAt.Equal(testNow.Add(time.Hour)))
}

func TestMemory_ListSubscriptionOrdersSkipsExpired(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusCompleted)
	addOrder(t, r, "o-2", model.PaymentStatusPaid, model.OrderStatusCompleted)
	addOrder(t, r, "o-3", model.PaymentStatusPaid, model.OrderStatusCompleted)

	_, _ = r.SetSubscriptionDates(ctx, "o-1", testNow, testNow.Add(48*time.Hour))
	_, _ = r.SetSubscriptionDates(ctx, "o-2", testNow, testNow.Add(24*time.Hour))

	claimed, err := r.ClaimSubscriptionNotification(ctx, model.SubscriptionNotification{OrderID: "o-1", Kind: model.NotificationExpired})
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = r.ClaimSubscriptionNotification(ctx, model.SubscriptionNotification{OrderID: "o-1", Kind: model.NotificationExpired})
	require.NoError(t, err)
	assert.False(t, claimed)

	orders, err := r.ListSubscriptionOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-2", orders[0].ID)
}

func TestMemory_RefundOrderOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusCompleted)

	o, err := r.RefundOrder(ctx, "o-1", 500, "broken code", testNow)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, o.PaymentStatus)
	assert.Equal(t, model.OrderStatusCancelled, o.OrderStatus)
	assert.Equal(t, int64(500), o.RefundedCents)

	_, err = r.RefundOrder(ctx, "o-1", 500, "again", testNow)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = r.RefundOrder(ctx, "missing", 500, "", testNow)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	u, err := r.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), u.WalletCents)
}

func TestMemory_RefundRequiresPaidOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPending, model.OrderStatusPending)

	_, err := r.RefundOrder(ctx, "o-1", 500, "", testNow)
	assert.ErrorIs(t, err, ErrOrderNotPaid)

	u, err := r.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u.WalletCents)
}

func TestMemory_RefundedOrderRejectsUpdates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	addOrder(t, r, "o-1", model.PaymentStatusPaid, model.OrderStatusProcessing)

	_, err := r.RefundOrder(ctx, "o-1", 500, "", testNow)
	require.NoError(t, err)

	paid, completed := model.PaymentStatusPaid, model.OrderStatusCompleted
	_, err = r.UpdateOrderStatus(ctx, "o-1", &paid, &completed, testNow)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = r.MarkDelivered(ctx, "o-1", model.Delivery{Details: "code", DeliveredAt: testNow})
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = r.SetPaymentProof(ctx, "o-1", "tx-1", "", testNow)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	o, err := r.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, o.PaymentStatus)
	assert.Equal(t, model.OrderStatusCancelled, o.OrderStatus)
	assert.Nil(t, o.Delivery)
}

func TestMemory_ConvertCredits(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.ApplyCreditsTransaction(ctx, model.CreditsTransaction{UserID: "u-1", Credits: 250})
	require.NoError(t, err)

	_, _, err = r.ConvertCredits(ctx, "u-1", 300, testNow)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	wallet, credits, err := r.ConvertCredits(ctx, "u-1", 200, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), wallet)
	assert.Equal(t, int64(50), credits)
}
