package model

import (
	"maps"
	"slices"
	"time"
)

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		if it.Additions != nil {
			a := it.Additions.clone()
			it.Additions = &a
		}
		c.Items[i] = it
	}
	c.StatusHistory = slices.Clone(o.StatusHistory)
	if o.PreparingTime != nil {
		v := *o.PreparingTime
		c.PreparingTime = &v
	}
	if o.Rating != nil {
		r := *o.Rating
		r.ProductRating = cloneInt(o.Rating.ProductRating)
		r.ShopRating = cloneInt(o.Rating.ShopRating)
		c.Rating = &r
	}
	return &c
}

// Clone возвращает глубокую копию пользователя.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.BirthDate = cloneTime(u.BirthDate)
	c.Streak.LastOrderDate = cloneTime(u.Streak.LastOrderDate)
	c.Orders = slices.Clone(u.Orders)
	c.History = slices.Clone(u.History)
	c.OrderedProducts = maps.Clone(u.OrderedProducts)
	c.VisitedShops = maps.Clone(u.VisitedShops)
	return &c
}

// Clone возвращает глубокую копию партнёра.
func (p *Partner) Clone() *Partner {
	if p == nil {
		return nil
	}
	c := *p
	c.Orders = slices.Clone(p.Orders)
	c.History = slices.Clone(p.History)
	c.Customers = slices.Clone(p.Customers)
	c.DailyReports = slices.Clone(p.DailyReports)
	return &c
}

// Clone возвращает глубокую копию продукта.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Sizes = slices.Clone(p.Sizes)
	c.Additions = p.Additions.clone()
	return &c
}

// Clone возвращает глубокую копию отчёта.
func (r *DailyReport) Clone() *DailyReport {
	if r == nil {
		return nil
	}
	c := *r
	c.BestPerformingMembers = slices.Clone(r.BestPerformingMembers)
	c.BestSellerProducts = slices.Clone(r.BestSellerProducts)
	c.Demographics = Demographics{
		Gender:    maps.Clone(r.Demographics.Gender),
		AgeGroups: maps.Clone(r.Demographics.AgeGroups),
	}
	return &c
}

func (a Additions) clone() Additions {
	return Additions{Extras: slices.Clone(a.Extras), Syrups: slices.Clone(a.Syrups)}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
