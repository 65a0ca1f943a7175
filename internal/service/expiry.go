package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/brewclub/internal/model"
)

var systemActor = model.Actor{Kind: model.ActorAdmin, ID: "expiry-sweep"}

// StartExpirySweep запускает фоновую отмену заказов, зависших в статусе pending.
// Возвращает управление после отмены контекста.
func (s *Service) StartExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStaleOrders(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired stale orders", zap.Int("count", n))
			}
		}
	}
}

// ExpireStaleOrders отменяет заказы в статусе pending, последний статус которых старше таймаута.
// Ошибка по одному заказу не останавливает обход: заказ будет повторно обработан на следующем тике.
func (s *Service) ExpireStaleOrders(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "service.ExpireStaleOrders")
	defer span.End()

	cutoff := s.now().Add(-s.opts.ExpiryTimeout)

	orders, err := s.store.ListPendingOrders(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	expired := 0
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		_, err := s.transition(ctx, o.ID, transition{
			actor:  systemActor,
			target: model.OrderStatusCancelled,
			guard: func(o *model.Order, u *model.User, p *model.Partner) error {
				if o.Status != model.OrderStatusPending || !o.LastStatusAt().Before(cutoff) {
					return errSkip
				}
				if !slices.Contains(u.Orders, o.ID) || !slices.Contains(p.Orders, o.ID) {
					return errSkip
				}
				return nil
			},
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, errSkip):
		default:
			s.logger.Warn("expire order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return expired, nil
}
