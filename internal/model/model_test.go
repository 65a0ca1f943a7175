package model

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeDiscountedPrice(t *testing.T) {
	s := Size{Name: "M", Price: decimal.RequireFromString("5.00"), DiscountPercentage: decimal.NewFromInt(10)}
	assert.True(t, decimal.RequireFromString("4.50").Equal(s.DiscountedPrice()))

	s.DiscountPercentage = decimal.Zero
	assert.True(t, s.Price.Equal(s.DiscountedPrice()))
}

func TestRunningRatingAdd(t *testing.T) {
	r := RunningRating{}
	r = r.Add(5)
	assert.Equal(t, RunningRating{Rating: 5, Count: 1}, r)

	r = r.Add(4)
	assert.Equal(t, RunningRating{Rating: 4.5, Count: 2}, r)

	r = r.Add(4)
	assert.Equal(t, 4.33, r.Rating)
	assert.Equal(t, 3, r.Count)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("order 1: %w", ErrNotFound), KindNotFound},
		{fmt.Errorf("wrapped: %w", ErrInsufficientBalance), KindInsufficientBalance},
		{ErrInvalidStatusTransition, KindInvalidStatusTransition},
		{fmt.Errorf("%w: DELETE /healthz", ErrMethodNotAllowed), KindMethodNotAllowed},
		{fmt.Errorf("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}

func TestCentsRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("991.005")
	assert.Equal(t, int64(99101), ToCents(d))
	assert.True(t, decimal.RequireFromString("991.01").Equal(FromCents(99101)))
}

func TestCloneIsDeep(t *testing.T) {
	u := &User{ID: "u1", Orders: []string{"o1"}, OrderedProducts: map[string]int{"p1": 1}}
	c := u.Clone()
	c.Orders[0] = "o2"
	c.OrderedProducts["p1"] = 5
	require.Equal(t, "o1", u.Orders[0])
	require.Equal(t, 1, u.OrderedProducts["p1"])

	pt := 5
	o := &Order{ID: "o1", PreparingTime: &pt, StatusHistory: []StatusChange{{Status: OrderStatusPending}}}
	oc := o.Clone()
	*oc.PreparingTime = 10
	oc.StatusHistory[0].Status = OrderStatusCancelled
	require.Equal(t, 5, *o.PreparingTime)
	require.Equal(t, OrderStatusPending, o.StatusHistory[0].Status)
}
