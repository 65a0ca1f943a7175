package service

import (
	"time"

	"github.com/mmeshcher/brewclub/internal/model"
)

// applyLoyalty обновляет счётчик лояльности и серию пользователя после доставки заказа.
// Пользователи категории premium не накапливают ни баллы, ни серию.
// Бесплатный заказ за баллы не продлевает серию и не начисляет балл.
func applyLoyalty(u *model.User, o *model.Order, now time.Time) {
	if u.Category == model.CategoryPremium || o.Loyalty {
		return
	}

	if earnsLoyalty(u) {
		u.Loyalty = min(u.Loyalty+1, MaxLoyalty)
	}

	today := startOfDay(now)
	if u.Streak.LastOrderDate != nil && startOfDay(u.Streak.LastOrderDate.In(now.Location())).Equal(today.AddDate(0, 0, -1)) {
		u.Streak.Count++
	} else {
		u.Streak.Count = 1
	}
	last := now
	u.Streak.LastOrderDate = &last
}

func earnsLoyalty(u *model.User) bool {
	switch u.Category {
	case model.CategoryStandard:
		return true
	case model.CategoryStreakPremium:
		return u.Loyalty != 0
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// recordVisit увеличивает счётчики заказанных продуктов и посещённых кофеен.
func recordVisit(u *model.User, o *model.Order) {
	if u.OrderedProducts == nil {
		u.OrderedProducts = make(map[string]int)
	}
	if u.VisitedShops == nil {
		u.VisitedShops = make(map[string]int)
	}
	for _, it := range o.Items {
		u.OrderedProducts[it.ProductID] += it.Quantity
	}
	u.VisitedShops[o.PartnerID]++
}

// deriveFavorites пересчитывает любимый продукт и кофейню по сырым счётчикам.
// При равенстве побеждает меньший идентификатор.
func deriveFavorites(u *model.User) {
	u.MostOrderedProduct = argmax(u.OrderedProducts)
	u.MostVisitedShop = argmax(u.VisitedShops)
}

func argmax(counts map[string]int) string {
	best, bestCount := "", 0
	for id, c := range counts {
		if c > bestCount || (c == bestCount && c > 0 && id < best) {
			best, bestCount = id, c
		}
	}
	return best
}
