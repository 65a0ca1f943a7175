package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/repository"
)

var orderTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:   {model.OrderStatusPreparing, model.OrderStatusDelivered, model.OrderStatusCancelled},
	model.OrderStatusPreparing: {model.OrderStatusDelivered, model.OrderStatusCancelled},
}

func canTransition(from, to model.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	return slices.Contains(orderTransitions[from], to)
}

// errSkip прерывает транзакцию без ошибки для вызывающего: заказ уже обработан.
var errSkip = errors.New("order already settled")

// StatusUpdate это запрос на смену статуса заказа.
type StatusUpdate struct {
	Status        model.OrderStatus `json:"status"`
	PreparingTime *int              `json:"preparingTime,omitempty"`
}

type transition struct {
	actor         model.Actor
	target        model.OrderStatus
	preparingTime *int
	// guard дополнительно проверяет живое состояние заказа внутри транзакции.
	guard func(o *model.Order, u *model.User, p *model.Partner) error
}

// UpdateStatus переводит заказ в новый статус и применяет все побочные эффекты перехода.
// Партнёр управляет только своими заказами, администратор любыми.
// Пользователь может лишь отменить свой заказ, пока он в статусе pending.
func (s *Service) UpdateStatus(ctx context.Context, actor model.Actor, orderID string, upd StatusUpdate) (*model.Order, error) {
	upd.Status = model.OrderStatus(strings.ToLower(string(upd.Status)))
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, upd.Status)
	}
	if upd.PreparingTime != nil && *upd.PreparingTime <= 0 {
		return nil, fmt.Errorf("%w: preparing time must be positive", model.ErrInvalidInput)
	}

	tr := transition{actor: actor, target: upd.Status}
	if upd.Status == model.OrderStatusPreparing {
		tr.preparingTime = upd.PreparingTime
	}

	if actor.Kind == model.ActorUser {
		if upd.Status != model.OrderStatusCancelled {
			return nil, fmt.Errorf("%w: users may only cancel orders", model.ErrForbidden)
		}
		tr.guard = func(o *model.Order, _ *model.User, _ *model.Partner) error {
			if o.Status != model.OrderStatusPending {
				return fmt.Errorf("%w: only pending orders can be cancelled by the user", model.ErrInvalidStatusTransition)
			}
			return nil
		}
	}

	return s.transition(ctx, orderID, tr)
}

// CancelOrder отменяет заказ пользователя, пока он в статусе pending.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return s.UpdateStatus(ctx, model.Actor{Kind: model.ActorUser, ID: userID}, orderID, StatusUpdate{Status: model.OrderStatusCancelled})
}

func (s *Service) transition(ctx context.Context, orderID string, tr transition) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "service.transition", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(tr.target)),
		attribute.String("actor.kind", string(tr.actor.Kind)),
	))
	defer span.End()

	unlockOrder := s.locks.Lock(orderKey(orderID))
	defer unlockOrder()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canManage(tr.actor, o) {
		return nil, fmt.Errorf("%w: order %s", model.ErrForbidden, orderID)
	}

	// Реферер неизменен, поэтому его можно прочитать до захвата блокировок.
	u, err := s.store.GetUser(ctx, o.UserID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userKey(o.UserID), userKey(u.ReferredBy), partnerKey(o.PartnerID))
	defer unlock()

	var result *model.Order
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, o.UserID)
		if err != nil {
			return err
		}
		p, err := tx.GetPartner(ctx, o.PartnerID)
		if err != nil {
			return err
		}

		if tr.guard != nil {
			if err := tr.guard(o, u, p); err != nil {
				return err
			}
		}
		if !canTransition(o.Status, tr.target) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidStatusTransition, o.Status, tr.target)
		}

		now := s.now()
		if last := o.LastStatusAt(); now.Before(last) {
			now = last
		}
		o.Status = tr.target
		o.StatusHistory = append(o.StatusHistory, model.StatusChange{Status: tr.target, At: now})

		switch tr.target {
		case model.OrderStatusPreparing:
			if tr.preparingTime != nil {
				t := *tr.preparingTime
				o.PreparingTime = &t
			}
		case model.OrderStatusDelivered:
			if err := s.applyDelivery(ctx, tx, o, u, p, now); err != nil {
				return err
			}
		case model.OrderStatusCancelled:
			if err := applyCancellation(ctx, tx, o, u, p, now); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.SavePartner(ctx, p); err != nil {
			return err
		}

		result = o
		return nil
	})
	if err != nil {
		if isInternal(err) && !errors.Is(err, errSkip) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transition failed")
		}
		return nil, err
	}

	s.notifyTransition(result)
	s.publish(ctx, events.TypeOrderStatusChanged, result)

	return result, nil
}

func canManage(actor model.Actor, o *model.Order) bool {
	switch actor.Kind {
	case model.ActorAdmin:
		return true
	case model.ActorPartner:
		return o.PartnerID == actor.ID
	case model.ActorUser:
		return o.UserID == actor.ID
	}
	return false
}

// applyDelivery применяет эффекты доставки к загруженным в транзакцию сущностям.
func (s *Service) applyDelivery(ctx context.Context, tx repository.Tx, o *model.Order, u *model.User, p *model.Partner, now time.Time) error {
	if err := settleReferral(ctx, tx, u, now); err != nil {
		return err
	}

	u.Orders, u.History = moveToHistory(u.Orders, u.History, o.ID)
	p.Orders, p.History = moveToHistory(p.Orders, p.History, o.ID)

	addCustomer(p, u.ID)

	revenue := model.Round2(o.TotalPrice.Sub(o.TotalPrice.Mul(p.DiscountPercentage).Div(hundred)))
	p.TotalRevenue = model.Round2(p.TotalRevenue.Add(revenue))
	p.Balance = model.Round2(p.Balance.Add(revenue))

	if err := recordSales(ctx, tx, o); err != nil {
		return err
	}

	recordVisit(u, o)
	deriveFavorites(u)
	applyLoyalty(u, o, now)

	return s.updateDailyReport(ctx, tx, p, now)
}

// settleReferral начисляет бонус приглашённому и пригласившему ровно один раз.
func settleReferral(ctx context.Context, tx repository.Tx, u *model.User, now time.Time) error {
	if u.ReferredBy == "" || u.ReferralRewarded || u.ReferredBy == u.ID {
		return nil
	}

	referrer, err := tx.GetUser(ctx, u.ReferredBy)
	if err != nil {
		return err
	}

	if _, err := credit(ctx, tx, u, referralBonus, model.ActivityRefer, "Referral bonus", now); err != nil {
		return err
	}
	if _, err := credit(ctx, tx, referrer, referralBonus, model.ActivityRefer, "Referral bonus for inviting "+u.Name, now); err != nil {
		return err
	}
	u.ReferralRewarded = true

	return tx.SaveUser(ctx, referrer)
}

// applyCancellation закрывает заказ и возвращает оплату: баллы для бесплатного заказа, деньги для обычного.
func applyCancellation(ctx context.Context, tx repository.Tx, o *model.Order, u *model.User, p *model.Partner, now time.Time) error {
	u.Orders, u.History = moveToHistory(u.Orders, u.History, o.ID)
	p.Orders, p.History = moveToHistory(p.Orders, p.History, o.ID)

	if o.Loyalty {
		u.Loyalty = MaxLoyalty
		return nil
	}

	refund := o.TotalDiscountedPrice
	if refund.IsZero() {
		refund = o.TotalPrice
	}
	if !refund.IsPositive() {
		return nil
	}
	_, err := credit(ctx, tx, u, refund, model.ActivityRefund, "Refund for cancelled order "+o.ID, now)
	return err
}

// recordSales увеличивает счётчики продаж продуктов заказа.
func recordSales(ctx context.Context, tx repository.Tx, o *model.Order) error {
	var ids []string
	qty := make(map[string]int)
	for _, it := range o.Items {
		if _, ok := qty[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}

	for _, id := range ids {
		prod, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		prod.Sales += qty[id]
		if err := tx.SaveProduct(ctx, prod); err != nil {
			return err
		}
	}
	return nil
}

func addCustomer(p *model.Partner, userID string) {
	for i := range p.Customers {
		if p.Customers[i].UserID == userID {
			p.Customers[i].Count++
			return
		}
	}
	p.Customers = append(p.Customers, model.Customer{UserID: userID, Count: 1})
}

// moveToHistory переносит идентификатор из открытых в историю, не допуская дублей.
func moveToHistory(open, history []string, id string) ([]string, []string) {
	open = slices.DeleteFunc(open, func(v string) bool { return v == id })
	if !slices.Contains(history, id) {
		history = append(history, id)
	}
	return open, history
}

func (s *Service) notifyTransition(o *model.Order) {
	status := string(o.Status)

	s.notifier.SendTo(model.ActorPartner, o.PartnerID, push.Message{
		Type:   push.TypeOrderStatus,
		Status: strings.ToUpper(status),
		Order:  o,
	})

	if o.Status == model.OrderStatusPreparing {
		return
	}
	if n := s.notifier.SendTo(model.ActorUser, o.UserID, push.Message{
		Type:   push.TypeOrderStatus,
		Status: status,
		Order:  o,
	}); n == 0 {
		s.logger.Debug("user not connected, push skipped", zap.String("order_id", o.ID))
	}
}
