package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	sweepLockKey   = "subscription-sweep"
	sweepLockTTL   = 10 * time.Minute
	sweepBatchSize = 500
)

// SweepResult содержит итог одного прохода по подпискам.
type SweepResult struct {
	Scanned int
	Sent    int
	Skipped bool
}

// SweepSubscriptions проверяет заказы с датой окончания подписки и отправляет
// причитающиеся уведомления. Одновременно выполняется не более одного прохода.
func (s *Service) SweepSubscriptions(ctx context.Context) (*SweepResult, error) {
	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SweepResult{Skipped: true}, nil
	}
	defer release()

	orders, err := s.repo.ListSubscriptionOrders(ctx, sweepBatchSize)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Scanned: len(orders)}
	for i := range orders {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		sent, err := s.NotifyIfDue(ctx, &orders[i])
		if err != nil {
			s.logger.Warn("subscription notification", zap.String("order", orders[i].ID), zap.Error(err))
			continue
		}
		if sent {
			res.Sent++
		}
	}

	return res, nil
}

// StartSubscriptionSweep запускает SweepSubscriptions с заданным интервалом.
// Блокируется до отмены контекста.
func (s *Service) StartSubscriptionSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepSubscriptions(ctx)
			if err != nil {
				s.logger.Warn("subscription sweep failed", zap.Error(err))
				continue
			}
			if res.Sent > 0 {
				s.logger.Info("subscription sweep",
					zap.Int("scanned", res.Scanned), zap.Int("sent", res.Sent))
			}
		}
	}
}
