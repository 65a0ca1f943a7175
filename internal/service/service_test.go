package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/repository"
	"github.com/mmeshcher/brewclub/internal/validation"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	kind model.ActorKind
	id   string
	msg  push.Message
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *stubNotifier) SendTo(kind model.ActorKind, id string, msg push.Message) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{kind: kind, id: id, msg: msg})
	return 1
}

func (n *stubNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type stubPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *stubPublisher) Publish(_ context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type fixture struct {
	svc       *Service
	store     *repository.MemoryStore
	clock     *testClock
	notifier  *stubNotifier
	publisher *stubPublisher
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, users ...*model.User) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		for _, p := range []*model.Partner{
			{ID: "shop-1", Name: "Corner Coffee", DiscountPercentage: dec("10")},
			{ID: "shop-2", Name: "Bean There", DiscountPercentage: decimal.Zero},
		} {
			if err := tx.SavePartner(ctx, p); err != nil {
				return err
			}
		}
		for _, p := range []*model.Product{
			{
				ID:        "latte",
				PartnerID: "shop-1",
				Name:      "Latte",
				Sizes:     []model.Size{{Name: "M", Price: dec("5.00"), DiscountPercentage: dec("10")}},
				Additions: model.Additions{Extras: []string{"shot"}, Syrups: []string{"vanilla"}},
			},
			{
				ID:        "mocha",
				PartnerID: "shop-1",
				Name:      "Mocha",
				Sizes:     []model.Size{{Name: "L", Price: dec("6.00"), DiscountPercentage: decimal.Zero}},
			},
			{
				ID:        "tea",
				PartnerID: "shop-2",
				Name:      "Tea",
				Sizes:     []model.Size{{Name: "M", Price: dec("3.00"), DiscountPercentage: decimal.Zero}},
			},
		} {
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}
		for _, u := range users {
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
	notifier := &stubNotifier{}
	publisher := &stubPublisher{}

	svc := NewService(store, notifier, publisher, zaptest.NewLogger(t), Options{Now: clock.Now})

	return &fixture{svc: svc, store: store, clock: clock, notifier: notifier, publisher: publisher}
}

func newUser(id string, category model.Category, balance string) *model.User {
	return &model.User{ID: id, Name: "User " + id, Category: category, Balance: dec(balance)}
}

func latteCart(qty int) OrderRequest {
	return OrderRequest{
		ShopID: "shop-1",
		Items:  []validation.CartItem{{ProductID: "latte", Size: "M", Quantity: qty}},
	}
}

func (f *fixture) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) partner(t *testing.T, id string) *model.Partner {
	t.Helper()
	p, err := f.store.GetPartner(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestCreateOrder_ScenarioA_StandardPaysListPrice(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))

	o, err := f.svc.CreateOrder(context.Background(), "u1", latteCart(2))
	require.NoError(t, err)

	assert.True(t, dec("10.00").Equal(o.TotalPrice))
	assert.True(t, dec("10.00").Equal(o.TotalDiscountedPrice))
	assert.Equal(t, model.OrderStatusPending, o.Status)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, model.OrderStatusPending, o.StatusHistory[0].Status)

	u := f.user(t, "u1")
	assert.True(t, dec("990.00").Equal(u.Balance), "balance = %s", u.Balance)
	assert.Equal(t, []string{o.ID}, u.Orders)
	assert.Equal(t, []string{o.ID}, f.partner(t, "shop-1").Orders)

	acts, err := f.svc.ListActivities(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityOrder, acts[0].Category)
	assert.True(t, dec("-10.00").Equal(acts[0].Amount))
}

func TestCreateOrder_ScenarioB_PremiumGetsDiscount(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryPremium, "1000"))

	o, err := f.svc.CreateOrder(context.Background(), "u1", latteCart(2))
	require.NoError(t, err)

	assert.True(t, dec("10.00").Equal(o.TotalPrice))
	assert.True(t, dec("9.00").Equal(o.TotalDiscountedPrice))
	assert.True(t, dec("991.00").Equal(f.user(t, "u1").Balance))
}

func TestCreateOrder_NotifiesAndPublishes(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "100"))

	o, err := f.svc.CreateOrder(context.Background(), "u1", latteCart(1))
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ActorPartner, msgs[0].kind)
	assert.Equal(t, "shop-1", msgs[0].id)
	assert.Equal(t, push.TypeNewOrder, msgs[0].msg.Type)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.TypeOrderCreated, f.publisher.events[0].Type)
	assert.Equal(t, o.ID, f.publisher.events[0].OrderID)
}

func TestCreateOrder_Gates(t *testing.T) {
	tests := []struct {
		name    string
		user    *model.User
		req     OrderRequest
		wantErr error
	}{
		{
			name:    "insufficient balance",
			user:    newUser("u1", model.CategoryStandard, "9.99"),
			req:     latteCart(2),
			wantErr: model.ErrInsufficientBalance,
		},
		{
			name: "product from another shop",
			user: newUser("u1", model.CategoryStandard, "100"),
			req: OrderRequest{ShopID: "shop-1", Items: []validation.CartItem{
				{ProductID: "tea", Size: "M", Quantity: 1},
			}},
			wantErr: model.ErrInvalidItem,
		},
		{
			name: "unknown size",
			user: newUser("u1", model.CategoryStandard, "100"),
			req: OrderRequest{ShopID: "shop-1", Items: []validation.CartItem{
				{ProductID: "latte", Size: "XXL", Quantity: 1},
			}},
			wantErr: model.ErrInvalidSize,
		},
		{
			name: "unknown addition",
			user: newUser("u1", model.CategoryStandard, "100"),
			req: OrderRequest{ShopID: "shop-1", Items: []validation.CartItem{
				{ProductID: "latte", Size: "M", Quantity: 1, Additions: &model.Additions{Syrups: []string{"maple"}}},
			}},
			wantErr: model.ErrInvalidAddition,
		},
		{
			name:    "empty cart",
			user:    newUser("u1", model.CategoryStandard, "100"),
			req:     OrderRequest{ShopID: "shop-1"},
			wantErr: model.ErrInvalidInput,
		},
		{
			name:    "unknown shop",
			user:    newUser("u1", model.CategoryStandard, "100"),
			req:     OrderRequest{ShopID: "nope", Items: latteCart(1).Items},
			wantErr: model.ErrNotFound,
		},
		{
			name:    "loyalty below threshold",
			user:    &model.User{ID: "u1", Category: model.CategoryStandard, Loyalty: 9},
			req:     OrderRequest{ShopID: "shop-1", Items: latteCart(1).Items, Loyalty: true},
			wantErr: model.ErrInsufficientLoyalty,
		},
		{
			name:    "loyalty with two items",
			user:    &model.User{ID: "u1", Category: model.CategoryStandard, Loyalty: 10},
			req:     OrderRequest{ShopID: "shop-1", Items: latteCart(2).Items, Loyalty: true},
			wantErr: model.ErrInvalidItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.user)
			before := f.user(t, "u1")

			_, err := f.svc.CreateOrder(context.Background(), "u1", tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			after := f.user(t, "u1")
			assert.True(t, before.Balance.Equal(after.Balance), "balance must not change")
			assert.Equal(t, before.Loyalty, after.Loyalty)
			assert.Empty(t, after.Orders)
			assert.Empty(t, f.partner(t, "shop-1").Orders)
		})
	}
}

func TestCreateOrder_OrderLimit(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	for i := 0; i < MaxOpenOrders; i++ {
		_, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
		require.NoError(t, err)
	}

	_, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.ErrorIs(t, err, model.ErrOrderLimitExceeded)

	u := f.user(t, "u1")
	assert.Len(t, u.Orders, MaxOpenOrders)
	assert.True(t, dec("985.00").Equal(u.Balance))
}

func TestCreateOrder_ConcurrentRespectsLimit(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, model.ErrOrderLimitExceeded)
	}
	assert.Equal(t, MaxOpenOrders, ok)

	u := f.user(t, "u1")
	assert.Len(t, u.Orders, MaxOpenOrders)
	assert.True(t, dec("985.00").Equal(u.Balance))
}

func TestCheckout_DoesNotPersist(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryPremium, "1"))

	q, err := f.svc.Checkout(context.Background(), "u1", latteCart(2))
	require.NoError(t, err)
	assert.True(t, dec("10.00").Equal(q.TotalPrice))
	assert.True(t, dec("9.00").Equal(q.TotalDiscountedPrice))

	u := f.user(t, "u1")
	assert.True(t, dec("1").Equal(u.Balance))
	assert.Empty(t, u.Orders)
}

func TestLoyaltyOrder_ScenarioD_CancelRestoresCounter(t *testing.T) {
	f := newFixture(t, &model.User{ID: "u1", Category: model.CategoryStandard, Balance: dec("50"), Loyalty: 10})
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", OrderRequest{ShopID: "shop-1", Items: latteCart(1).Items, Loyalty: true})
	require.NoError(t, err)
	assert.True(t, o.Loyalty)
	assert.True(t, o.TotalPrice.IsZero())

	u := f.user(t, "u1")
	assert.Equal(t, 0, u.Loyalty)
	assert.True(t, dec("50").Equal(u.Balance))

	_, err = f.svc.CancelOrder(ctx, "u1", o.ID)
	require.NoError(t, err)

	u = f.user(t, "u1")
	assert.Equal(t, 10, u.Loyalty)
	assert.True(t, dec("50").Equal(u.Balance), "balance must not change")

	acts, err := f.svc.ListActivities(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1"))
	ctx := context.Background()

	a, err := f.svc.TopUp(ctx, "u1", dec("25.505"), "")
	require.NoError(t, err)
	assert.Equal(t, model.ActivityTopUp, a.Category)
	assert.True(t, dec("25.51").Equal(a.Amount))

	b, err := f.svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, dec("26.51").Equal(b.Balance))

	_, err = f.svc.TopUp(ctx, "u1", dec("-1"), "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.TopUp(ctx, "missing", dec("1"), "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetOrder_Visibility(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "100"), newUser("u2", model.CategoryStandard, "100"))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)

	tests := []struct {
		actor   model.Actor
		wantErr error
	}{
		{model.Actor{Kind: model.ActorUser, ID: "u1"}, nil},
		{model.Actor{Kind: model.ActorPartner, ID: "shop-1"}, nil},
		{model.Actor{Kind: model.ActorAdmin, ID: "root"}, nil},
		{model.Actor{Kind: model.ActorUser, ID: "u2"}, model.ErrForbidden},
		{model.Actor{Kind: model.ActorPartner, ID: "shop-2"}, model.ErrForbidden},
	}
	for _, tt := range tests {
		_, err := f.svc.GetOrder(ctx, tt.actor, o.ID)
		if tt.wantErr == nil {
			assert.NoError(t, err, "%+v", tt.actor)
		} else {
			assert.ErrorIs(t, err, tt.wantErr, "%+v", tt.actor)
		}
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "100"))
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, "u1", latteCart(1))
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, "u1", first.ID)
	require.NoError(t, err)

	list, err := f.svc.ListUserOrders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list.Open, 1)
	assert.Equal(t, second.ID, list.Open[0].ID)
	require.Len(t, list.History, 1)
	assert.Equal(t, first.ID, list.History[0].ID)

	plist, err := f.svc.ListPartnerOrders(ctx, "shop-1")
	require.NoError(t, err)
	assert.Len(t, plist.Open, 1)
	assert.Len(t, plist.History, 1)
}
