// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/brewclub/internal/model"
)

// MaxQuantity ограничивает количество одной позиции в корзине.
const MaxQuantity = 50

// CartItem описывает позицию корзины в том виде, в каком её прислал клиент.
type CartItem struct {
	ProductID string           `json:"productId"`
	Size      string           `json:"size"`
	Quantity  int              `json:"quantity"`
	Additions *model.Additions `json:"additions,omitempty"`
}

// ValidateCart проверяет форму корзины: непустые идентификаторы и положительное количество.
// Принадлежность продуктов и размеров проверяет движок ценообразования.
func ValidateCart(shopID string, items []CartItem) error {
	if strings.TrimSpace(shopID) == "" {
		return fmt.Errorf("%w: shop id is required", model.ErrInvalidInput)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: cart is empty", model.ErrInvalidInput)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d: product id is required", model.ErrInvalidInput, i)
		}
		if strings.TrimSpace(it.Size) == "" {
			return fmt.Errorf("%w: item %d: size is required", model.ErrInvalidInput, i)
		}
		if it.Quantity <= 0 || it.Quantity > MaxQuantity {
			return fmt.Errorf("%w: item %d: quantity must be between 1 and %d", model.ErrInvalidInput, i, MaxQuantity)
		}
	}
	return nil
}

// ValidateRating проверяет, что хотя бы одна оценка передана и все оценки лежат в диапазоне 1..5.
func ValidateRating(productRating, shopRating *int) error {
	if productRating == nil && shopRating == nil {
		return fmt.Errorf("%w: rating is empty", model.ErrInvalidInput)
	}
	for _, r := range []*int{productRating, shopRating} {
		if r != nil && (*r < 1 || *r > 5) {
			return fmt.Errorf("%w: rating must be between 1 and 5", model.ErrInvalidInput)
		}
	}
	return nil
}
