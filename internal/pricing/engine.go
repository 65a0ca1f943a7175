// Package pricing проверяет корзину и рассчитывает стоимость заказа.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/validation"
)

// Catalog предоставляет продукты для проверки корзины.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

// Quote содержит рассчитанную стоимость корзины.
type Quote struct {
	Items                []model.OrderItem `json:"items"`
	TotalPrice           decimal.Decimal   `json:"totalPrice"`
	TotalDiscountedPrice decimal.Decimal   `json:"totalDiscountedPrice"`
}

// Engine проверяет корзину и рассчитывает цены.
type Engine struct {
	catalog Catalog
}

// NewEngine создаёт движок ценообразования поверх каталога.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Price проверяет корзину для кофейни partnerID и рассчитывает цены для категории пользователя.
// Скидочная цена размера применяется ко всем категориям, кроме standard.
func (e *Engine) Price(ctx context.Context, partnerID string, category model.Category, items []validation.CartItem) (*Quote, error) {
	lines, err := e.resolve(ctx, partnerID, items)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Items:                make([]model.OrderItem, 0, len(lines)),
		TotalPrice:           decimal.Zero,
		TotalDiscountedPrice: decimal.Zero,
	}

	for _, l := range lines {
		unit := l.size.Price
		discounted := unit
		discountPct := decimal.Zero
		if category.Discounted() {
			discounted = l.size.DiscountedPrice()
			discountPct = l.size.DiscountPercentage
		}

		qty := decimal.NewFromInt(int64(l.item.Quantity))
		q.TotalPrice = model.Round2(q.TotalPrice.Add(model.Round2(unit.Mul(qty))))
		q.TotalDiscountedPrice = model.Round2(q.TotalDiscountedPrice.Add(model.Round2(discounted.Mul(qty))))

		q.Items = append(q.Items, model.OrderItem{
			ProductID:           l.product.ID,
			ProductName:         l.product.Name,
			Size:                l.size.Name,
			Quantity:            l.item.Quantity,
			UnitPrice:           unit,
			DiscountPercentage:  discountPct,
			DiscountedUnitPrice: discounted,
			Additions:           l.item.Additions,
		})
	}

	return q, nil
}

// PriceLoyalty проверяет корзину бесплатного заказа за баллы: ровно одна позиция в одном экземпляре.
// Стоимость такого заказа нулевая.
func (e *Engine) PriceLoyalty(ctx context.Context, partnerID string, items []validation.CartItem) (*Quote, error) {
	if len(items) != 1 || items[0].Quantity != 1 {
		return nil, fmt.Errorf("%w: loyalty order must contain exactly one item", model.ErrInvalidItem)
	}

	lines, err := e.resolve(ctx, partnerID, items)
	if err != nil {
		return nil, err
	}

	l := lines[0]
	return &Quote{
		Items: []model.OrderItem{{
			ProductID:           l.product.ID,
			ProductName:         l.product.Name,
			Size:                l.size.Name,
			Quantity:            1,
			UnitPrice:           decimal.Zero,
			DiscountPercentage:  decimal.NewFromInt(100),
			DiscountedUnitPrice: decimal.Zero,
			Additions:           l.item.Additions,
		}},
		TotalPrice:           decimal.Zero,
		TotalDiscountedPrice: decimal.Zero,
	}, nil
}

type line struct {
	item    validation.CartItem
	product *model.Product
	size    model.Size
}

// resolve выполняет проверки по порядку: продукты, затем размеры, затем добавки.
func (e *Engine) resolve(ctx context.Context, partnerID string, items []validation.CartItem) ([]line, error) {
	lines := make([]line, len(items))

	for i, it := range items {
		p, err := e.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("%w: product %s does not exist", model.ErrInvalidItem, it.ProductID)
			}
			return nil, fmt.Errorf("get product %s: %w", it.ProductID, err)
		}
		if p.PartnerID != partnerID {
			return nil, fmt.Errorf("%w: product %s does not belong to shop %s", model.ErrInvalidItem, it.ProductID, partnerID)
		}
		if it.Additions != nil && it.Additions.Empty() {
			it.Additions = nil
		}
		lines[i] = line{item: it, product: p}
	}

	for i := range lines {
		s, ok := lines[i].product.FindSize(lines[i].item.Size)
		if !ok {
			return nil, fmt.Errorf("%w: product %s has no size %q", model.ErrInvalidSize, lines[i].product.ID, lines[i].item.Size)
		}
		lines[i].size = s
	}

	for _, l := range lines {
		if l.item.Additions == nil {
			continue
		}
		for _, id := range l.item.Additions.Extras {
			if !slices.Contains(l.product.Additions.Extras, id) {
				return nil, fmt.Errorf("%w: extra %s is not offered for product %s", model.ErrInvalidAddition, id, l.product.ID)
			}
		}
		for _, id := range l.item.Additions.Syrups {
			if !slices.Contains(l.product.Additions.Syrups, id) {
				return nil, fmt.Errorf("%w: syrup %s is not offered for product %s", model.ErrInvalidAddition, id, l.product.ID)
			}
		}
	}

	return lines, nil
}
