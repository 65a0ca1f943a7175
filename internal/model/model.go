// Package model содержит доменные сущности сервиса brewclub.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category описывает тарифную категорию пользователя.
type Category string

const (
	CategoryStandard      Category = "standard"
	CategoryPremium       Category = "premium"
	CategoryStreakPremium Category = "streakPremium"
)

// Discounted сообщает, получает ли категория скидочные цены.
func (c Category) Discounted() bool {
	return c != CategoryStandard
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// StatusChange описывает смену статуса заказа.
type StatusChange struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
}

// Additions перечисляет добавки к напитку.
type Additions struct {
	Extras []string `json:"extras,omitempty" yaml:"extras"`
	Syrups []string `json:"syrups,omitempty" yaml:"syrups"`
}

// Empty сообщает, что добавок нет.
func (a Additions) Empty() bool {
	return len(a.Extras) == 0 && len(a.Syrups) == 0
}

// OrderItem хранит позицию заказа, зафиксированную на момент оформления.
type OrderItem struct {
	ProductID           string          `json:"productId"`
	ProductName         string          `json:"productName"`
	Size                string          `json:"size"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	DiscountPercentage  decimal.Decimal `json:"discountPercentage"`
	DiscountedUnitPrice decimal.Decimal `json:"discountedUnitPrice"`
	Additions           *Additions      `json:"additions,omitempty"`
}

// Rating это оценка доставленного заказа.
type Rating struct {
	ProductRating *int      `json:"productRating,omitempty"`
	ShopRating    *int      `json:"shopRating,omitempty"`
	RatedAt       time.Time `json:"ratedAt"`
}

// Order описывает оформленный заказ.
type Order struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"userId"`
	PartnerID            string          `json:"shopId"`
	Items                []OrderItem     `json:"items"`
	TotalPrice           decimal.Decimal `json:"totalPrice"`
	TotalDiscountedPrice decimal.Decimal `json:"totalDiscountedPrice"`
	Status               OrderStatus     `json:"status"`
	StatusHistory        []StatusChange  `json:"statusHistory"`
	PreparingTime        *int            `json:"preparingTime,omitempty"`
	Loyalty              bool            `json:"loyalty"`
	Rating               *Rating         `json:"rating,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// LastStatusAt возвращает время последней смены статуса.
func (o *Order) LastStatusAt() time.Time {
	if len(o.StatusHistory) == 0 {
		return o.CreatedAt
	}
	return o.StatusHistory[len(o.StatusHistory)-1].At
}

// RunningRating хранит скользящее среднее оценок.
type RunningRating struct {
	Rating float64 `json:"rating"`
	Count  int     `json:"count"`
}

// Add учитывает новую оценку: (old*count + v) / (count + 1), округляя до сотых.
func (r RunningRating) Add(v float64) RunningRating {
	sum := decimal.NewFromFloat(r.Rating).Mul(decimal.NewFromInt(int64(r.Count))).Add(decimal.NewFromFloat(v))
	avg := sum.Div(decimal.NewFromInt(int64(r.Count + 1))).Round(2)
	return RunningRating{Rating: avg.InexactFloat64(), Count: r.Count + 1}
}

// Streak хранит серию ежедневных заказов.
type Streak struct {
	Count         int        `json:"count"`
	LastOrderDate *time.Time `json:"lastOrderDate,omitempty"`
}

// Gender это пол клиента для демографии отчётов.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// User описывает клиента кофеен.
type User struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Gender             Gender          `json:"gender,omitempty"`
	BirthDate          *time.Time      `json:"birthDate,omitempty"`
	Category           Category        `json:"category"`
	Balance            decimal.Decimal `json:"balance"`
	Loyalty            int             `json:"loyalty"`
	Streak             Streak          `json:"streak"`
	Orders             []string        `json:"orders"`
	History            []string        `json:"history"`
	ReferredBy         string          `json:"referredBy,omitempty"`
	ReferralRewarded   bool            `json:"referralRewarded"`
	OrderedProducts    map[string]int  `json:"orderedProducts,omitempty"`
	VisitedShops       map[string]int  `json:"visitedShops,omitempty"`
	MostOrderedProduct string          `json:"mostOrderedProduct,omitempty"`
	MostVisitedShop    string          `json:"mostVisitedShop,omitempty"`
	OverallRating      RunningRating   `json:"overAllRating"`
}

// ActivityCategory это тип записи в журнале баланса.
type ActivityCategory string

const (
	ActivityOrder  ActivityCategory = "order"
	ActivityRefund ActivityCategory = "refund"
	ActivityRefer  ActivityCategory = "refer"
	ActivityTopUp  ActivityCategory = "topup"
)

// BalanceActivity описывает неизменяемую запись журнала баланса.
type BalanceActivity struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Amount    decimal.Decimal  `json:"amount"`
	Category  ActivityCategory `json:"category"`
	Title     string           `json:"title"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Customer считает визиты клиента в кофейню.
type Customer struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// Partner описывает кофейню-партнёра.
type Partner struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Balance            decimal.Decimal `json:"balance"`
	TotalRevenue       decimal.Decimal `json:"totalRevenue"`
	Orders             []string        `json:"orders"`
	History            []string        `json:"history"`
	Customers          []Customer      `json:"customers"`
	DailyReports       []string        `json:"dailyReports"`
	Rating             RunningRating   `json:"rating"`
}

// Size это вариант размера продукта.
type Size struct {
	Name               string          `json:"name" yaml:"name"`
	Price              decimal.Decimal `json:"price" yaml:"price"`
	DiscountPercentage decimal.Decimal `json:"discount" yaml:"discount"`
}

// DiscountedPrice возвращает цену размера со скидкой.
func (s Size) DiscountedPrice() decimal.Decimal {
	off := s.Price.Mul(s.DiscountPercentage).Div(decimal.NewFromInt(100))
	return Round2(s.Price.Sub(off))
}

// Product описывает позицию меню кофейни.
type Product struct {
	ID        string        `json:"id"`
	PartnerID string        `json:"shopId"`
	Name      string        `json:"name"`
	Sizes     []Size        `json:"sizes"`
	Additions Additions     `json:"additions"`
	Sales     int           `json:"sales"`
	Rating    RunningRating `json:"rating"`
}

// FindSize ищет вариант размера по имени.
func (p *Product) FindSize(name string) (Size, bool) {
	for _, s := range p.Sizes {
		if s.Name == name {
			return s, true
		}
	}
	return Size{}, false
}

// MemberStat это клиент в рейтинге лучших посетителей.
type MemberStat struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// ProductStat это продукт в рейтинге продаж.
type ProductStat struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Sales     int    `json:"sales"`
}

// Demographics описывает разбивку клиентов по полу и возрасту.
type Demographics struct {
	Gender    map[Gender]int `json:"gender"`
	AgeGroups map[string]int `json:"ageGroups"`
}

// DailyReport описывает дневной агрегированный отчёт партнёра.
type DailyReport struct {
	ID                    string          `json:"id"`
	PartnerID             string          `json:"shopId"`
	Day                   string          `json:"day"`
	TotalUsers            int             `json:"totalUsers"`
	TotalOrders           int             `json:"totalOrders"`
	TotalRevenue          decimal.Decimal `json:"totalRevenue"`
	PrevUsers             int             `json:"-"`
	PrevOrders            int             `json:"-"`
	PrevRevenue           decimal.Decimal `json:"-"`
	UsersDelta            int             `json:"usersDelta"`
	OrdersDelta           int             `json:"ordersDelta"`
	RevenueDelta          decimal.Decimal `json:"revenueDelta"`
	BestPerformingMembers []MemberStat    `json:"bestPerformingMembers"`
	BestSellerProducts    []ProductStat   `json:"bestSellerProducts"`
	Demographics          Demographics    `json:"demographics"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// DayLayout это формат календарного дня отчётов.
const DayLayout = "2006-01-02"
