package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayicom/marketplace/internal/lock"
	"github.com/kayicom/marketplace/internal/model"
)

func TestParseSubscriptionDuration(t *testing.T) {
	tests := []struct {
		months int
		label  string
		want   time.Duration
		ok     bool
	}{
		{label: "3 Months", want: 90 * day, ok: true},
		{label: "1 month", want: 30 * day, ok: true},
		{label: "12mois", want: 360 * day, ok: true},
		{label: "6 Meses", want: 180 * day, ok: true},
		{label: "1 mês", want: 30 * day, ok: true},
		{label: "2 mwa", want: 60 * day, ok: true},
		{label: "1 Year", want: 365 * day, ok: true},
		{label: "2 años", want: 730 * day, ok: true},
		{label: "1 année", want: 365 * day, ok: true},
		{label: "7 jours", want: 7 * day, ok: true},
		{label: "15 días", want: 15 * day, ok: true},
		{label: "2 semaines", want: 14 * day, ok: true},
		{label: "Premium 4K - 1 month", want: 30 * day, ok: true},
		{label: "Monthly plan", want: 30 * day, ok: true},
		{label: "Abonnement annuel", want: 365 * day, ok: true},
		{months: 6, label: "1 Year", want: 180 * day, ok: true},
		{label: "Premium 4K", ok: false},
		{label: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseSubscriptionDuration(tt.months, tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssignSubscriptionDates_ThreeMonths(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))

	o = f.complete(t, o.ID)

	require.NotNil(t, o.SubscriptionStartAt)
	require.NotNil(t, o.SubscriptionEndAt)
	assert.Equal(t, baseTime, *o.SubscriptionStartAt)
	assert.Equal(t, baseTime.Add(90*day), *o.SubscriptionEndAt)
}

func TestAssignSubscriptionDates_NeverOverwritten(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))
	f.complete(t, o.ID)

	f.clock.Set(baseTime.Add(10 * day))
	o = f.complete(t, o.ID)

	applied, err := f.svc.AssignSubscriptionDatesIfNeeded(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, baseTime.Add(90*day), *o.SubscriptionEndAt)
}

func TestAssignSubscriptionDates_Rules(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemInput
		want  time.Duration
	}{
		{name: "longest item wins", items: []ItemInput{item("p-sub"), item("p-sub-year")}, want: 360 * day},
		{name: "fallback when label has no duration", items: []ItemInput{item("p-sub-plain")}, want: 30 * day},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.order(t, "u-1", model.PaymentMethodPayPal, "", tt.items...)
			o = f.complete(t, o.ID)

			require.NotNil(t, o.SubscriptionEndAt)
			assert.Equal(t, baseTime.Add(tt.want), *o.SubscriptionEndAt)
		})
	}
}

func TestAssignSubscriptionDates_Skipped(t *testing.T) {
	f := newFixture(t)

	plain := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-card"))
	plain = f.complete(t, plain.ID)
	assert.Nil(t, plain.SubscriptionEndAt, "orders without subscription items get no dates")

	pending := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))
	applied, err := f.svc.AssignSubscriptionDatesIfNeeded(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.False(t, applied, "unpaid orders get no dates")
}

func TestNotifyIfDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))
	o = f.complete(t, o.ID)

	f.clock.Set(baseTime.Add(80 * day))
	sent, err := f.svc.NotifyIfDue(ctx, o)
	require.NoError(t, err)
	assert.False(t, sent, "too early for a reminder")

	f.clock.Set(baseTime.Add(86 * day))
	sent, err = f.svc.NotifyIfDue(ctx, o)
	require.NoError(t, err)
	assert.True(t, sent)

	f.clock.Set(baseTime.Add(86*day + 6*time.Hour))
	sent, err = f.svc.NotifyIfDue(ctx, o)
	require.NoError(t, err)
	assert.False(t, sent, "same-day second call sends nothing")

	assert.Equal(t, 1, f.notifier.count("Subscription expiring soon"))
	assert.Equal(t, 1, f.repo.Notifications(o.ID, model.NotificationReminder5d))

	f.clock.Set(baseTime.Add(90 * day))
	for rangeIdx := 0; rangeIdx < 2; rangeIdx++ {
		_, err = f.svc.NotifyIfDue(ctx, o)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.notifier.count("Subscription expired"))
	assert.Equal(t, 1, f.notifier.count("Subscription expiring soon"))
}

func TestNotifyIfDue_DispatchFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))
	o = f.complete(t, o.ID)

	f.notifier.err = assert.AnError
	f.clock.Set(baseTime.Add(87 * day))

	sent, err := f.svc.NotifyIfDue(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, f.repo.Notifications(o.ID, model.NotificationReminder5d))
}

func TestSweepSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub"))
	f.complete(t, due.ID)
	later := f.order(t, "u-1", model.PaymentMethodPayPal, "", item("p-sub-year"))
	f.complete(t, later.ID)

	f.clock.Set(baseTime.Add(88 * day))
	res, err := f.svc.SweepSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Sent)

	res, err = f.svc.SweepSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)

	f.clock.Set(baseTime.Add(91 * day))
	res, err = f.svc.SweepSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = f.svc.SweepSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned, "expired subscriptions leave the sweep")
}

func TestSweepSubscriptions_SkippedWhenLocked(t *testing.T) {
	f := newFixture(t)
	locker := lock.NewLocalLocker()
	f.svc.locker = locker

	release, ok, err := locker.TryLock(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	res, err := f.svc.SweepSubscriptions(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}
