package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/validation"
)

var (
	shopActor  = model.Actor{Kind: model.ActorPartner, ID: "shop-1"}
	adminActor = model.Actor{Kind: model.ActorAdmin, ID: "root"}
)

func deliver(t *testing.T, f *fixture, orderID string) *model.Order {
	t.Helper()
	o, err := f.svc.UpdateStatus(context.Background(), shopActor, orderID, StatusUpdate{Status: model.OrderStatusDelivered})
	require.NoError(t, err)
	return o
}

func intPtr(v int) *int { return &v }

func TestTransition_ScenarioC_FirstDelivery(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(2))
	require.NoError(t, err)

	prep, err := f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusPreparing, PreparingTime: intPtr(7)})
	require.NoError(t, err)
	require.NotNil(t, prep.PreparingTime)
	assert.Equal(t, 7, *prep.PreparingTime)

	f.clock.Advance(3 * time.Minute)
	done := deliver(t, f, o.ID)

	assert.Equal(t, model.OrderStatusDelivered, done.Status)
	require.Len(t, done.StatusHistory, 3)
	assert.Equal(t, model.OrderStatusDelivered, done.StatusHistory[2].Status)

	p := f.partner(t, "shop-1")
	assert.Equal(t, []model.Customer{{UserID: "u1", Count: 1}}, p.Customers)
	// 10.00 - 10.00 * 10 / 100
	assert.True(t, dec("9.00").Equal(p.TotalRevenue), "revenue = %s", p.TotalRevenue)
	assert.True(t, dec("9.00").Equal(p.Balance))
	assert.Empty(t, p.Orders)
	assert.Equal(t, []string{o.ID}, p.History)

	u := f.user(t, "u1")
	assert.Empty(t, u.Orders)
	assert.Equal(t, []string{o.ID}, u.History)
	assert.Equal(t, 1, u.Loyalty)
	assert.Equal(t, 1, u.Streak.Count)
	require.NotNil(t, u.Streak.LastOrderDate)
	assert.Equal(t, 2, u.OrderedProducts["latte"])
	assert.Equal(t, 1, u.VisitedShops["shop-1"])
	assert.Equal(t, "latte", u.MostOrderedProduct)
	assert.Equal(t, "shop-1", u.MostVisitedShop)

	prod, err := f.store.GetProduct(ctx, "latte")
	require.NoError(t, err)
	assert.Equal(t, 2, prod.Sales)

	rep, err := f.svc.TodayReport(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalUsers)
	assert.Equal(t, 1, rep.TotalOrders)
	assert.True(t, dec("9.00").Equal(rep.TotalRevenue))
	assert.Equal(t, []string{rep.ID}, p.DailyReports)
}

func TestTransition_DeliveryIsAppliedOnce(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(2))
	require.NoError(t, err)
	deliver(t, f, o.ID)

	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusDelivered})
	require.ErrorIs(t, err, model.ErrInvalidStatusTransition)

	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusCancelled})
	require.ErrorIs(t, err, model.ErrInvalidStatusTransition)

	p := f.partner(t, "shop-1")
	assert.True(t, dec("9.00").Equal(p.TotalRevenue))
	assert.Equal(t, 1, p.Customers[0].Count)
	assert.Equal(t, []string{o.ID}, p.History)

	u := f.user(t, "u1")
	assert.Equal(t, 1, u.Loyalty)
	assert.True(t, dec("990.00").Equal(u.Balance))

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.StatusHistory, 2)
}

func TestTransition_CancelRefundsRoundTrip(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryPremium, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(3))
	require.NoError(t, err)
	assert.True(t, dec("986.50").Equal(f.user(t, "u1").Balance))

	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusCancelled})
	require.NoError(t, err)

	u := f.user(t, "u1")
	assert.True(t, dec("1000").Equal(u.Balance), "balance = %s", u.Balance)
	assert.Empty(t, u.Orders)
	assert.Equal(t, []string{o.ID}, u.History)

	p := f.partner(t, "shop-1")
	assert.Empty(t, p.Orders)
	assert.Equal(t, []string{o.ID}, p.History)
	assert.True(t, p.TotalRevenue.IsZero())

	acts, err := f.svc.ListActivities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, model.ActivityRefund, acts[0].Category)
	assert.True(t, dec("13.50").Equal(acts[0].Amount))
}

func TestTransition_Permissions(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"), newUser("u2", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, model.Actor{Kind: model.ActorPartner, ID: "shop-2"}, o.ID, StatusUpdate{Status: model.OrderStatusPreparing})
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.UpdateStatus(ctx, model.Actor{Kind: model.ActorUser, ID: "u1"}, o.ID, StatusUpdate{Status: model.OrderStatusDelivered})
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.CancelOrder(ctx, "u2", o.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: "shipped"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusPending})
	assert.ErrorIs(t, err, model.ErrInvalidStatusTransition)

	_, err = f.svc.UpdateStatus(ctx, adminActor, o.ID, StatusUpdate{Status: "PREPARING"})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, "u1", o.ID)
	assert.ErrorIs(t, err, model.ErrInvalidStatusTransition, "user may cancel only pending orders")

	_, err = f.svc.UpdateStatus(ctx, shopActor, "missing", StatusUpdate{Status: model.OrderStatusDelivered})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransition_EachStepAppendsOneHistoryEntry(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)

	steps := []model.OrderStatus{model.OrderStatusPreparing, model.OrderStatusDelivered}
	for i, st := range steps {
		f.clock.Advance(time.Minute)
		got, err := f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: st})
		require.NoError(t, err)
		require.Len(t, got.StatusHistory, i+2)
		last := got.StatusHistory[len(got.StatusHistory)-1]
		assert.Equal(t, st, last.Status)
		assert.Equal(t, got.Status, last.Status)
		assert.False(t, last.At.Before(got.StatusHistory[len(got.StatusHistory)-2].At))
	}
}

func TestTransition_Notifications(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)
	deliver(t, f, o.ID)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, model.ActorPartner, msgs[1].kind)
	assert.Equal(t, push.TypeOrderStatus, msgs[1].msg.Type)
	assert.Equal(t, "DELIVERED", msgs[1].msg.Status)

	assert.Equal(t, model.ActorUser, msgs[2].kind)
	assert.Equal(t, "u1", msgs[2].id)
	assert.Equal(t, "delivered", msgs[2].msg.Status)
	require.NotNil(t, msgs[2].msg.Order)
	assert.Equal(t, o.ID, msgs[2].msg.Order.ID)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, events.TypeOrderStatusChanged, f.publisher.events[1].Type)
	assert.Equal(t, model.OrderStatusDelivered, f.publisher.events[1].Status)
}

func TestTransition_PreparingNotifiesPartnerOnly(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusPreparing})
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.ActorPartner, msgs[1].kind)
	assert.Equal(t, "PREPARING", msgs[1].msg.Status)
}

func TestTransition_ConcurrentDeliverAndCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, newUser("u1", model.CategoryStandard, "100"))
		ctx := context.Background()

		o, err := f.svc.CreateOrder(ctx, "u1", latteCart(2))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, st := range []model.OrderStatus{model.OrderStatusDelivered, model.OrderStatusCancelled} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[j] = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: st})
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, model.ErrInvalidStatusTransition)
			}
		}
		require.Equal(t, 1, succeeded)

		got, err := f.store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, got.StatusHistory, 2)

		u := f.user(t, "u1")
		assert.Equal(t, []string{o.ID}, u.History)
		assert.Empty(t, u.Orders)

		switch got.Status {
		case model.OrderStatusDelivered:
			assert.True(t, dec("90.00").Equal(u.Balance))
		case model.OrderStatusCancelled:
			assert.True(t, dec("100.00").Equal(u.Balance))
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
}

func TestTransition_ReferralSettledOnce(t *testing.T) {
	referred := newUser("u2", model.CategoryStandard, "100")
	referred.ReferredBy = "u1"
	f := newFixture(t, newUser("u1", model.CategoryStandard, "0"), referred)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		o, err := f.svc.CreateOrder(ctx, "u2", latteCart(1))
		require.NoError(t, err)
		deliver(t, f, o.ID)
	}

	referrer := f.user(t, "u1")
	assert.True(t, dec("1").Equal(referrer.Balance), "referrer balance = %s", referrer.Balance)

	u := f.user(t, "u2")
	assert.True(t, u.ReferralRewarded)
	// 100 - 5 - 5 + 1
	assert.True(t, dec("91").Equal(u.Balance), "balance = %s", u.Balance)

	acts, err := f.svc.ListActivities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityRefer, acts[0].Category)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.OrderStatus
		want     bool
	}{
		{model.OrderStatusPending, model.OrderStatusPreparing, true},
		{model.OrderStatusPending, model.OrderStatusDelivered, true},
		{model.OrderStatusPreparing, model.OrderStatusCancelled, true},
		{model.OrderStatusPreparing, model.OrderStatusPending, false},
		{model.OrderStatusDelivered, model.OrderStatusCancelled, false},
		{model.OrderStatusCancelled, model.OrderStatusDelivered, false},
		{model.OrderStatusCancelled, model.OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_FreeOrderKeepsStreak(t *testing.T) {
	f := newFixture(t, &model.User{ID: "u1", Category: model.CategoryStandard, Balance: dec("50"), Loyalty: MaxLoyalty})
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", OrderRequest{ShopID: "shop-1", Items: latteCart(1).Items, Loyalty: true})
	require.NoError(t, err)
	deliver(t, f, o.ID)

	u := f.user(t, "u1")
	assert.Equal(t, 0, u.Loyalty)
	assert.Zero(t, u.Streak.Count)
	assert.Nil(t, u.Streak.LastOrderDate)
	assert.Equal(t, []string{o.ID}, u.History)
}

func TestTransition_MissingReferrerLeavesStateUntouched(t *testing.T) {
	referred := newUser("u1", model.CategoryStandard, "1000")
	referred.ReferredBy = "ghost"
	f := newFixture(t, referred)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(2))
	require.NoError(t, err)
	before := f.user(t, "u1")

	f.clock.Advance(time.Minute)
	_, err = f.svc.UpdateStatus(ctx, shopActor, o.ID, StatusUpdate{Status: model.OrderStatusDelivered})
	require.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, got.Status)
	assert.Len(t, got.StatusHistory, 1)

	u := f.user(t, "u1")
	assert.Equal(t, []string{o.ID}, u.Orders)
	assert.Empty(t, u.History)
	assert.True(t, before.Balance.Equal(u.Balance), "balance = %s", u.Balance)
	assert.False(t, u.ReferralRewarded)
	assert.Zero(t, u.Loyalty)
	assert.Zero(t, u.Streak.Count)
	assert.Empty(t, u.OrderedProducts)

	acts, err := f.svc.ListActivities(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, acts, 1, "only the order payment is recorded")

	p := f.partner(t, "shop-1")
	assert.True(t, p.TotalRevenue.IsZero())
	assert.True(t, p.Balance.IsZero())
	assert.Empty(t, p.Customers)
	assert.Empty(t, p.History)
	assert.Equal(t, []string{o.ID}, p.Orders)
	assert.Empty(t, p.DailyReports)

	prod, err := f.store.GetProduct(ctx, "latte")
	require.NoError(t, err)
	assert.Zero(t, prod.Sales)

	reports, err := f.store.ListDailyReports(ctx, "shop-1")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestRateOrder(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", OrderRequest{ShopID: "shop-1", Items: []validation.CartItem{
		{ProductID: "latte", Size: "M", Quantity: 1},
		{ProductID: "latte", Size: "M", Quantity: 1},
		{ProductID: "mocha", Size: "L", Quantity: 1},
	}})
	require.NoError(t, err)

	_, err = f.svc.RateOrder(ctx, "u1", o.ID, intPtr(5), intPtr(4))
	require.ErrorIs(t, err, model.ErrInvalidStatusTransition)

	deliver(t, f, o.ID)

	_, err = f.svc.RateOrder(ctx, "u1", o.ID, nil, nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.RateOrder(ctx, "u2", o.ID, intPtr(5), nil)
	require.ErrorIs(t, err, model.ErrForbidden)

	rated, err := f.svc.RateOrder(ctx, "u1", o.ID, intPtr(5), intPtr(4))
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)

	p := f.partner(t, "shop-1")
	assert.Equal(t, model.RunningRating{Rating: 4, Count: 1}, p.Rating)

	latte, err := f.store.GetProduct(ctx, "latte")
	require.NoError(t, err)
	assert.Equal(t, model.RunningRating{Rating: 5, Count: 1}, latte.Rating, "product rated once per order")

	mocha, err := f.store.GetProduct(ctx, "mocha")
	require.NoError(t, err)
	assert.Equal(t, 1, mocha.Rating.Count)

	assert.Equal(t, model.RunningRating{Rating: 4, Count: 1}, f.user(t, "u1").OverallRating)

	again, err := f.svc.RateOrder(ctx, "u1", o.ID, intPtr(1), intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, 5, *again.Rating.ProductRating)
	assert.Equal(t, model.RunningRating{Rating: 4, Count: 1}, f.partner(t, "shop-1").Rating)
}
