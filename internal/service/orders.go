package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/pricing"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/repository"
	"github.com/mmeshcher/brewclub/internal/validation"
)

// OrderRequest это корзина, присланная пользователем.
type OrderRequest struct {
	ShopID  string                `json:"shopId"`
	Items   []validation.CartItem `json:"items"`
	Loyalty bool                  `json:"loyalty"`
}

// OrderList содержит открытые и закрытые заказы участника.
type OrderList struct {
	Open    []*model.Order `json:"orders"`
	History []*model.Order `json:"history"`
}

// Checkout проверяет корзину и рассчитывает её стоимость без оформления заказа.
func (s *Service) Checkout(ctx context.Context, userID string, req OrderRequest) (*pricing.Quote, error) {
	if err := validation.ValidateCart(req.ShopID, req.Items); err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPartner(ctx, req.ShopID); err != nil {
		return nil, err
	}

	engine := pricing.NewEngine(s.store)
	if req.Loyalty {
		return engine.PriceLoyalty(ctx, req.ShopID, req.Items)
	}
	return engine.Price(ctx, req.ShopID, u.Category, req.Items)
}

// CreateOrder оформляет заказ: проверяет корзину, лимит открытых заказов и баланс,
// списывает оплату и сохраняет заказ одной транзакцией.
func (s *Service) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "service.CreateOrder", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("shop.id", req.ShopID),
		attribute.Bool("order.loyalty", req.Loyalty),
	))
	defer span.End()

	if err := validation.ValidateCart(req.ShopID, req.Items); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userKey(userID), partnerKey(req.ShopID))
	defer unlock()

	var order *model.Order
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		p, err := tx.GetPartner(ctx, req.ShopID)
		if err != nil {
			return err
		}

		engine := pricing.NewEngine(tx)
		var quote *pricing.Quote
		if req.Loyalty {
			quote, err = engine.PriceLoyalty(ctx, p.ID, req.Items)
		} else {
			quote, err = engine.Price(ctx, p.ID, u.Category, req.Items)
		}
		if err != nil {
			return err
		}

		if len(u.Orders) >= MaxOpenOrders {
			return fmt.Errorf("%w: %d open orders", model.ErrOrderLimitExceeded, len(u.Orders))
		}

		now := s.now()
		o := &model.Order{
			ID:                   newID(),
			UserID:               u.ID,
			PartnerID:            p.ID,
			Items:                quote.Items,
			TotalPrice:           quote.TotalPrice,
			TotalDiscountedPrice: quote.TotalDiscountedPrice,
			Status:               model.OrderStatusPending,
			StatusHistory:        []model.StatusChange{{Status: model.OrderStatusPending, At: now}},
			Loyalty:              req.Loyalty,
			CreatedAt:            now,
		}

		if req.Loyalty {
			if u.Loyalty < MaxLoyalty {
				return fmt.Errorf("%w: have %d, need %d", model.ErrInsufficientLoyalty, u.Loyalty, MaxLoyalty)
			}
			u.Loyalty = 0
		} else {
			if err := debit(ctx, tx, u, o.TotalDiscountedPrice, "Order at "+p.Name, now); err != nil {
				return err
			}
		}

		u.Orders = append(u.Orders, o.ID)
		p.Orders = append(p.Orders, o.ID)

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.SavePartner(ctx, p); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		if isInternal(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create order failed")
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))

	s.notifier.SendTo(model.ActorPartner, order.PartnerID, push.Message{Type: push.TypeNewOrder, Order: order})
	s.publish(ctx, events.TypeOrderCreated, order)

	return order, nil
}

// GetOrder возвращает заказ, если он принадлежит участнику или участник является администратором.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, fmt.Errorf("%w: order %s", model.ErrForbidden, orderID)
	}
	return o, nil
}

// ListUserOrders возвращает открытые и закрытые заказы пользователя.
func (s *Service) ListUserOrders(ctx context.Context, userID string) (*OrderList, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.listOrders(ctx, u.Orders, u.History)
}

// ListPartnerOrders возвращает открытые и закрытые заказы кофейни.
func (s *Service) ListPartnerOrders(ctx context.Context, partnerID string) (*OrderList, error) {
	p, err := s.store.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return s.listOrders(ctx, p.Orders, p.History)
}

func (s *Service) listOrders(ctx context.Context, open, history []string) (*OrderList, error) {
	openOrders, err := s.store.GetOrders(ctx, open)
	if err != nil {
		return nil, err
	}

	// Свежие закрытые заказы первыми.
	history = slices.Clone(history)
	slices.Reverse(history)
	closed, err := s.store.GetOrders(ctx, history)
	if err != nil {
		return nil, err
	}

	if openOrders == nil {
		openOrders = []*model.Order{}
	}
	if closed == nil {
		closed = []*model.Order{}
	}
	return &OrderList{Open: openOrders, History: closed}, nil
}

func canView(actor model.Actor, o *model.Order) bool {
	switch actor.Kind {
	case model.ActorAdmin:
		return true
	case model.ActorUser:
		return o.UserID == actor.ID
	case model.ActorPartner:
		return o.PartnerID == actor.ID
	}
	return false
}

func isInternal(err error) bool {
	return model.KindOf(err) == model.KindInternal && !errors.Is(err, context.Canceled)
}
