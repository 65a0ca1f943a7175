package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/repository"
)

const unknownBucket = "unknown"

var ageBuckets = []struct {
	maxAge int
	name   string
}{
	{17, "<18"},
	{24, "18-24"},
	{34, "25-34"},
	{44, "35-44"},
	{54, "45-54"},
}

// updateDailyReport пересчитывает отчёт партнёра за текущий день по живым счётчикам.
// Повторный вызов в тот же день даёт тот же результат при неизменных счётчиках.
func (s *Service) updateDailyReport(ctx context.Context, tx repository.Tx, p *model.Partner, now time.Time) error {
	day := now.Format(model.DayLayout)

	rep, err := tx.GetDailyReport(ctx, p.ID, day)
	if errors.Is(err, model.ErrNotFound) {
		rep, err = newDailyReport(ctx, tx, p.ID, day, now)
		if err != nil {
			return err
		}
		p.DailyReports = append(p.DailyReports, rep.ID)
	} else if err != nil {
		return err
	}

	rep.TotalUsers = len(p.Customers)
	rep.TotalOrders = len(p.History)
	rep.TotalRevenue = p.TotalRevenue
	rep.UsersDelta = rep.TotalUsers - rep.PrevUsers
	rep.OrdersDelta = rep.TotalOrders - rep.PrevOrders
	rep.RevenueDelta = model.Round2(rep.TotalRevenue.Sub(rep.PrevRevenue))

	customers, err := customerUsers(ctx, tx, p.Customers)
	if err != nil {
		return err
	}
	rep.BestPerformingMembers = bestMembers(p.Customers, customers)
	rep.Demographics = demographics(customers, now)

	products, err := tx.ListProductsByPartner(ctx, p.ID)
	if err != nil {
		return err
	}
	rep.BestSellerProducts = bestSellers(products)
	rep.UpdatedAt = now

	if err := tx.SaveDailyReport(ctx, rep); err != nil {
		return err
	}
	return s.retainReports(ctx, tx, p)
}

// newDailyReport создаёт отчёт дня с базой для дельт из последнего отчёта до этого дня.
func newDailyReport(ctx context.Context, tx repository.Tx, partnerID, day string, now time.Time) (*model.DailyReport, error) {
	rep := &model.DailyReport{
		ID:           newID(),
		PartnerID:    partnerID,
		Day:          day,
		PrevRevenue:  decimal.Zero,
		TotalRevenue: decimal.Zero,
		CreatedAt:    now,
	}

	reports, err := tx.ListDailyReports(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	for i := len(reports) - 1; i >= 0; i-- {
		if prev := reports[i]; prev.Day < day {
			rep.PrevUsers = prev.TotalUsers
			rep.PrevOrders = prev.TotalOrders
			rep.PrevRevenue = prev.TotalRevenue
			break
		}
	}
	return rep, nil
}

// retainReports удаляет самые старые отчёты сверх лимита хранения.
func (s *Service) retainReports(ctx context.Context, tx repository.Tx, p *model.Partner) error {
	reports, err := tx.ListDailyReports(ctx, p.ID)
	if err != nil {
		return err
	}
	excess := len(reports) - s.opts.ReportRetention
	if excess <= 0 {
		return nil
	}

	ids := make([]string, 0, excess)
	for _, r := range reports[:excess] {
		ids = append(ids, r.ID)
	}
	if err := tx.DeleteDailyReports(ctx, ids); err != nil {
		return err
	}
	p.DailyReports = slices.DeleteFunc(p.DailyReports, func(id string) bool { return slices.Contains(ids, id) })
	return nil
}

func customerUsers(ctx context.Context, tx repository.Tx, customers []model.Customer) (map[string]*model.User, error) {
	ids := make([]string, 0, len(customers))
	for _, c := range customers {
		ids = append(ids, c.UserID)
	}
	users, err := tx.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	res := make(map[string]*model.User, len(users))
	for _, u := range users {
		res[u.ID] = u
	}
	return res, nil
}

func bestMembers(customers []model.Customer, users map[string]*model.User) []model.MemberStat {
	stats := make([]model.MemberStat, 0, len(customers))
	for _, c := range customers {
		st := model.MemberStat{UserID: c.UserID, Count: c.Count}
		if u, ok := users[c.UserID]; ok {
			st.Name = u.Name
		}
		stats = append(stats, st)
	}
	return topMembers(stats)
}

func bestSellers(products []*model.Product) []model.ProductStat {
	stats := make([]model.ProductStat, 0, len(products))
	for _, p := range products {
		if p.Sales == 0 {
			continue
		}
		stats = append(stats, model.ProductStat{ProductID: p.ID, Name: p.Name, Sales: p.Sales})
	}
	return topProducts(stats)
}

func topMembers(stats []model.MemberStat) []model.MemberStat {
	slices.SortFunc(stats, func(a, b model.MemberStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if len(stats) > TopListSize {
		stats = stats[:TopListSize]
	}
	return stats
}

func topProducts(stats []model.ProductStat) []model.ProductStat {
	slices.SortFunc(stats, func(a, b model.ProductStat) int {
		if c := cmp.Compare(b.Sales, a.Sales); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(stats) > TopListSize {
		stats = stats[:TopListSize]
	}
	return stats
}

func demographics(users map[string]*model.User, now time.Time) model.Demographics {
	d := model.Demographics{
		Gender:    make(map[model.Gender]int),
		AgeGroups: make(map[string]int),
	}
	for _, u := range users {
		g := u.Gender
		if g == "" {
			g = unknownBucket
		}
		d.Gender[g]++
		d.AgeGroups[ageGroup(u.BirthDate, now)]++
	}
	return d
}

func ageGroup(birth *time.Time, now time.Time) string {
	if birth == nil {
		return unknownBucket
	}
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	for _, b := range ageBuckets {
		if age <= b.maxAge {
			return b.name
		}
	}
	return "55+"
}

// TodayReport возвращает отчёт партнёра за текущий день.
func (s *Service) TodayReport(ctx context.Context, partnerID string) (*model.DailyReport, error) {
	if _, err := s.store.GetPartner(ctx, partnerID); err != nil {
		return nil, err
	}
	return s.store.GetDailyReport(ctx, partnerID, s.now().Format(model.DayLayout))
}

// RangeReport это разница между последним отчётом и отчётом N дней назад.
type RangeReport struct {
	Days                  int                 `json:"days"`
	From                  string              `json:"from"`
	To                    string              `json:"to"`
	TotalUsers            int                 `json:"totalUsers"`
	TotalOrders           int                 `json:"totalOrders"`
	TotalRevenue          decimal.Decimal     `json:"totalRevenue"`
	BestPerformingMembers []model.MemberStat  `json:"bestPerformingMembers"`
	BestSellerProducts    []model.ProductStat `json:"bestSellerProducts"`
}

// GetRangeReport считает разницу счётчиков между последним отчётом и отчётом за days дней до него.
// Это разность двух точек, а не сумма за окно. Рейтинги двух крайних дней объединяются.
// Если отчёта за начальный день нет, берётся ближайший более поздний.
func (s *Service) GetRangeReport(ctx context.Context, partnerID string, days int) (*RangeReport, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be positive", model.ErrInvalidInput)
	}
	if _, err := s.store.GetPartner(ctx, partnerID); err != nil {
		return nil, err
	}

	reports, err := s.store.ListDailyReports(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("reports of %s: %w", partnerID, model.ErrNotFound)
	}

	latest := reports[len(reports)-1]
	latestDay, err := time.Parse(model.DayLayout, latest.Day)
	if err != nil {
		return nil, fmt.Errorf("parse report day: %w", err)
	}
	baseDay := latestDay.AddDate(0, 0, -days).Format(model.DayLayout)

	base := latest
	for _, r := range reports {
		if r.Day >= baseDay {
			base = r
			break
		}
	}

	return &RangeReport{
		Days:                  days,
		From:                  base.Day,
		To:                    latest.Day,
		TotalUsers:            latest.TotalUsers - base.TotalUsers,
		TotalOrders:           latest.TotalOrders - base.TotalOrders,
		TotalRevenue:          model.Round2(latest.TotalRevenue.Sub(base.TotalRevenue)),
		BestPerformingMembers: mergeMembers(base.BestPerformingMembers, latest.BestPerformingMembers),
		BestSellerProducts:    mergeProducts(base.BestSellerProducts, latest.BestSellerProducts),
	}, nil
}

func mergeMembers(a, b []model.MemberStat) []model.MemberStat {
	byID := make(map[string]model.MemberStat)
	for _, st := range slices.Concat(a, b) {
		if cur, ok := byID[st.UserID]; !ok || st.Count > cur.Count {
			byID[st.UserID] = st
		}
	}
	res := make([]model.MemberStat, 0, len(byID))
	for _, st := range byID {
		res = append(res, st)
	}
	return topMembers(res)
}

func mergeProducts(a, b []model.ProductStat) []model.ProductStat {
	byID := make(map[string]model.ProductStat)
	for _, st := range slices.Concat(a, b) {
		if cur, ok := byID[st.ProductID]; !ok || st.Sales > cur.Sales {
			byID[st.ProductID] = st
		}
	}
	res := make([]model.ProductStat, 0, len(byID))
	for _, st := range byID {
		res = append(res, st)
	}
	return topProducts(res)
}
