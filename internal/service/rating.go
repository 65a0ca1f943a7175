package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/repository"
	"github.com/mmeshcher/brewclub/internal/validation"
)

// RateOrder сохраняет оценку доставленного заказа и обновляет средние рейтинги кофейни,
// продуктов заказа и пользователя. Оценка ставится один раз: повторные вызовы ничего не меняют.
func (s *Service) RateOrder(ctx context.Context, userID, orderID string, productRating, shopRating *int) (*model.Order, error) {
	if err := validation.ValidateRating(productRating, shopRating); err != nil {
		return nil, err
	}

	unlockOrder := s.locks.Lock(orderKey(orderID))
	defer unlockOrder()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", model.ErrForbidden, orderID)
	}

	unlock := s.locks.Lock(userKey(o.UserID), partnerKey(o.PartnerID))
	defer unlock()

	var result *model.Order
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusDelivered {
			return fmt.Errorf("%w: only delivered orders can be rated", model.ErrInvalidStatusTransition)
		}
		if o.Rating != nil {
			result = o
			return nil
		}

		u, err := tx.GetUser(ctx, o.UserID)
		if err != nil {
			return err
		}
		p, err := tx.GetPartner(ctx, o.PartnerID)
		if err != nil {
			return err
		}

		o.Rating = &model.Rating{
			ProductRating: productRating,
			ShopRating:    shopRating,
			RatedAt:       s.now(),
		}

		if shopRating != nil {
			p.Rating = p.Rating.Add(float64(*shopRating))
		}
		if productRating != nil {
			if err := rateProducts(ctx, tx, o, *productRating); err != nil {
				return err
			}
		}

		overall := shopRating
		if overall == nil {
			overall = productRating
		}
		u.OverallRating = u.OverallRating.Add(float64(*overall))

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
		return nil, err
	}
	return result, nil
}

func rateProducts(ctx context.Context, tx repository.Tx, o *model.Order, rating int) error {
	seen := make(map[string]bool, len(o.Items))
	for _, it := range o.Items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true

		prod, err := tx.GetProduct(ctx, it.ProductID)
		if err != nil {
			return err
		}
		prod.Rating = prod.Rating.Add(float64(rating))
		if err := tx.SaveProduct(ctx, prod); err != nil {
			return err
		}
	}
	return nil
}
