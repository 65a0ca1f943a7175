package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/brewclub/internal/model"
)

func orderAndDeliver(t *testing.T, f *fixture, userID string) {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), userID, latteCart(1))
	require.NoError(t, err)
	deliver(t, f, o.ID)
}

func TestDailyReports_DeltasAndRetention(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"))
	f.svc.opts.ReportRetention = 2
	ctx := context.Background()

	var days []string
	for i := 0; i < 3; i++ {
		orderAndDeliver(t, f, "u1")
		days = append(days, f.clock.Now().Format(model.DayLayout))
		f.clock.Advance(24 * time.Hour)
	}

	reports, err := f.store.ListDailyReports(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, days[1], reports[0].Day)
	assert.Equal(t, days[2], reports[1].Day)

	last := reports[1]
	assert.Equal(t, 3, last.TotalOrders)
	assert.Equal(t, 1, last.OrdersDelta)
	assert.Equal(t, 0, last.UsersDelta)
	// три заказа по 4.50 после скидки кофейни
	assert.True(t, dec("13.50").Equal(last.TotalRevenue), "revenue = %s", last.TotalRevenue)
	assert.True(t, dec("4.50").Equal(last.RevenueDelta))

	p := f.partner(t, "shop-1")
	assert.Equal(t, []string{reports[0].ID, reports[1].ID}, p.DailyReports)
}

func TestDailyReport_SameDayIsRecomputed(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"), newUser("u2", model.CategoryStandard, "1000"))
	ctx := context.Background()

	orderAndDeliver(t, f, "u1")
	orderAndDeliver(t, f, "u1")
	orderAndDeliver(t, f, "u2")

	rep, err := f.svc.TodayReport(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TotalUsers)
	assert.Equal(t, 3, rep.TotalOrders)
	assert.Equal(t, 2, rep.UsersDelta)
	assert.Equal(t, []model.MemberStat{
		{UserID: "u1", Name: "User u1", Count: 2},
		{UserID: "u2", Name: "User u2", Count: 1},
	}, rep.BestPerformingMembers)
	assert.Equal(t, []model.ProductStat{{ProductID: "latte", Name: "Latte", Sales: 3}}, rep.BestSellerProducts)

	reports, err := f.store.ListDailyReports(ctx, "shop-1")
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestDailyReport_Demographics(t *testing.T) {
	born := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	teen := time.Date(2010, 6, 1, 0, 0, 0, 0, time.UTC)

	u1 := newUser("u1", model.CategoryStandard, "100")
	u1.Gender = model.GenderMale
	u1.BirthDate = &born
	u2 := newUser("u2", model.CategoryStandard, "100")
	u2.Gender = model.GenderFemale
	u2.BirthDate = &teen
	u3 := newUser("u3", model.CategoryStandard, "100")

	f := newFixture(t, u1, u2, u3)
	for _, id := range []string{"u1", "u2", "u3"} {
		orderAndDeliver(t, f, id)
	}

	rep, err := f.svc.TodayReport(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, map[model.Gender]int{model.GenderMale: 1, model.GenderFemale: 1, "unknown": 1}, rep.Demographics.Gender)
	assert.Equal(t, map[string]int{"25-34": 1, "<18": 1, "unknown": 1}, rep.Demographics.AgeGroups)
}

func TestAgeGroup(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	birth := func(y, m, d int) *time.Time {
		v := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		birth *time.Time
		want  string
	}{
		{nil, "unknown"},
		{birth(2006, 5, 11), "<18"},
		{birth(2006, 5, 10), "18-24"},
		{birth(1999, 5, 10), "25-34"},
		{birth(1980, 1, 1), "35-44"},
		{birth(1970, 1, 1), "45-54"},
		{birth(1969, 5, 10), "55+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ageGroup(tt.birth, now))
	}
}

func TestTodayReport_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TodayReport(context.Background(), "shop-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.TodayReport(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetRangeReport(t *testing.T) {
	f := newFixture(t, newUser("u1", model.CategoryStandard, "1000"), newUser("u2", model.CategoryStandard, "1000"))
	ctx := context.Background()

	orderAndDeliver(t, f, "u1")
	f.clock.Advance(24 * time.Hour)
	orderAndDeliver(t, f, "u2")
	f.clock.Advance(24 * time.Hour)
	orderAndDeliver(t, f, "u2")

	r, err := f.svc.GetRangeReport(ctx, "shop-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-11", r.From)
	assert.Equal(t, "2024-05-12", r.To)
	assert.Equal(t, 1, r.TotalOrders)
	assert.Equal(t, 0, r.TotalUsers)
	assert.True(t, dec("4.50").Equal(r.TotalRevenue))
	assert.Equal(t, []model.MemberStat{
		{UserID: "u2", Name: "User u2", Count: 2},
		{UserID: "u1", Name: "User u1", Count: 1},
	}, r.BestPerformingMembers)

	r, err = f.svc.GetRangeReport(ctx, "shop-1", 30)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10", r.From)
	assert.Equal(t, 2, r.TotalOrders)
	assert.Equal(t, 1, r.TotalUsers)

	_, err = f.svc.GetRangeReport(ctx, "shop-1", 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.GetRangeReport(ctx, "shop-2", 7)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
