package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/brewclub/internal/model"
)

// MemoryStore хранит данные в памяти процесса. Используется в тестах и при запуске без БД.
// Транзакция копирует читаемые сущности и применяет изменения целиком при фиксации.
type MemoryStore struct {
	mu         sync.RWMutex
	orders     map[string]*model.Order
	users      map[string]*model.User
	partners   map[string]*model.Partner
	products   map[string]*model.Product
	reports    map[string]*model.DailyReport
	activities []*model.BalanceActivity
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*model.Order),
		users:    make(map[string]*model.User),
		partners: make(map[string]*model.Partner),
		products: make(map[string]*model.Product),
		reports:  make(map[string]*model.DailyReport),
	}
}

// Close ничего не освобождает.
func (s *MemoryStore) Close() error {
	return nil
}

// WithinTx выполняет fn и атомарно применяет накопленные изменения.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		store:    s,
		orders:   make(map[string]*model.Order),
		users:    make(map[string]*model.User),
		partners: make(map[string]*model.Partner),
		products: make(map[string]*model.Product),
		reports:  make(map[string]*model.DailyReport),
		deleted:  make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	for id, p := range tx.partners {
		s.partners[id] = p
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	for id := range tx.deleted {
		delete(s.reports, id)
	}
	for id, r := range tx.reports {
		s.reports[id] = r
	}
	s.activities = append(s.activities, tx.activities...)

	return nil
}

// GetOrder возвращает копию заказа.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return o.Clone(), nil
}

// GetOrders возвращает найденные заказы в порядке идентификаторов.
func (s *MemoryStore) GetOrders(_ context.Context, ids []string) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			res = append(res, o.Clone())
		}
	}
	return res, nil
}

// ListPendingOrders возвращает заказы в статусе pending, последний статус которых старше changedBefore.
func (s *MemoryStore) ListPendingOrders(_ context.Context, changedBefore time.Time, limit int) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusPending && o.LastStatusAt().Before(changedBefore) {
			res = append(res, o.Clone())
		}
	}
	slices.SortFunc(res, func(a, b *model.Order) int {
		return a.LastStatusAt().Compare(b.LastStatusAt())
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// GetUser возвращает копию пользователя.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return u.Clone(), nil
}

// GetUsers возвращает найденных пользователей в порядке идентификаторов.
func (s *MemoryStore) GetUsers(_ context.Context, ids []string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			res = append(res, u.Clone())
		}
	}
	return res, nil
}

// GetPartner возвращает копию партнёра.
func (s *MemoryStore) GetPartner(_ context.Context, id string) (*model.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partners[id]
	if !ok {
		return nil, fmt.Errorf("partner %s: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

// GetProduct возвращает копию продукта.
func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProductsByPartner возвращает меню партнёра.
func (s *MemoryStore) ListProductsByPartner(_ context.Context, partnerID string) ([]*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*model.Product
	for _, p := range s.products {
		if p.PartnerID == partnerID {
			res = append(res, p.Clone())
		}
	}
	slices.SortFunc(res, func(a, b *model.Product) int { return strings.Compare(a.ID, b.ID) })
	return res, nil
}

// GetDailyReport возвращает отчёт партнёра за день.
func (s *MemoryStore) GetDailyReport(_ context.Context, partnerID, day string) (*model.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reports {
		if r.PartnerID == partnerID && r.Day == day {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("report %s/%s: %w", partnerID, day, model.ErrNotFound)
}

// ListDailyReports возвращает отчёты партнёра по возрастанию дня.
func (s *MemoryStore) ListDailyReports(_ context.Context, partnerID string) ([]*model.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*model.DailyReport
	for _, r := range s.reports {
		if r.PartnerID == partnerID {
			res = append(res, r.Clone())
		}
	}
	slices.SortFunc(res, func(a, b *model.DailyReport) int { return strings.Compare(a.Day, b.Day) })
	return res, nil
}

// ListActivities возвращает журнал баланса пользователя, новые записи первыми.
func (s *MemoryStore) ListActivities(_ context.Context, userID string) ([]*model.BalanceActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*model.BalanceActivity
	for i := len(s.activities) - 1; i >= 0; i-- {
		if a := s.activities[i]; a.UserID == userID {
			c := *a
			res = append(res, &c)
		}
	}
	return res, nil
}

type memTx struct {
	store      *MemoryStore
	orders     map[string]*model.Order
	users      map[string]*model.User
	partners   map[string]*model.Partner
	products   map[string]*model.Product
	reports    map[string]*model.DailyReport
	deleted    map[string]bool
	activities []*model.BalanceActivity
}

func (t *memTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if o, ok := t.orders[id]; ok {
		return o.Clone(), nil
	}
	return t.store.GetOrder(ctx, id)
}

func (t *memTx) GetOrders(ctx context.Context, ids []string) ([]*model.Order, error) {
	res := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := t.GetOrder(ctx, id)
		if err != nil {
			continue
		}
		res = append(res, o)
	}
	return res, nil
}

func (t *memTx) ListPendingOrders(ctx context.Context, changedBefore time.Time, limit int) ([]*model.Order, error) {
	return t.store.ListPendingOrders(ctx, changedBefore, limit)
}

func (t *memTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	if u, ok := t.users[id]; ok {
		return u.Clone(), nil
	}
	return t.store.GetUser(ctx, id)
}

func (t *memTx) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	res := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		u, err := t.GetUser(ctx, id)
		if err != nil {
			continue
		}
		res = append(res, u)
	}
	return res, nil
}

func (t *memTx) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	if p, ok := t.partners[id]; ok {
		return p.Clone(), nil
	}
	return t.store.GetPartner(ctx, id)
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	if p, ok := t.products[id]; ok {
		return p.Clone(), nil
	}
	return t.store.GetProduct(ctx, id)
}

func (t *memTx) ListProductsByPartner(ctx context.Context, partnerID string) ([]*model.Product, error) {
	res, err := t.store.ListProductsByPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	for i, p := range res {
		if staged, ok := t.products[p.ID]; ok {
			res[i] = staged.Clone()
		}
	}
	return res, nil
}

func (t *memTx) GetDailyReport(ctx context.Context, partnerID, day string) (*model.DailyReport, error) {
	for _, r := range t.reports {
		if r.PartnerID == partnerID && r.Day == day {
			return r.Clone(), nil
		}
	}
	r, err := t.store.GetDailyReport(ctx, partnerID, day)
	if err != nil {
		return nil, err
	}
	if t.deleted[r.ID] {
		return nil, fmt.Errorf("report %s/%s: %w", partnerID, day, model.ErrNotFound)
	}
	return r, nil
}

func (t *memTx) ListDailyReports(ctx context.Context, partnerID string) ([]*model.DailyReport, error) {
	stored, err := t.store.ListDailyReports(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	res := make([]*model.DailyReport, 0, len(stored)+len(t.reports))
	for _, r := range stored {
		if t.deleted[r.ID] {
			continue
		}
		if _, ok := t.reports[r.ID]; ok {
			continue
		}
		res = append(res, r)
	}
	for _, r := range t.reports {
		if r.PartnerID == partnerID {
			res = append(res, r.Clone())
		}
	}
	slices.SortFunc(res, func(a, b *model.DailyReport) int { return strings.Compare(a.Day, b.Day) })
	return res, nil
}

func (t *memTx) ListActivities(ctx context.Context, userID string) ([]*model.BalanceActivity, error) {
	return t.store.ListActivities(ctx, userID)
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if _, err := t.GetOrder(ctx, o.ID); err == nil {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if _, err := t.GetOrder(ctx, o.ID); err != nil {
		return err
	}
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) SaveUser(_ context.Context, u *model.User) error {
	t.users[u.ID] = u.Clone()
	return nil
}

func (t *memTx) SavePartner(_ context.Context, p *model.Partner) error {
	t.partners[p.ID] = p.Clone()
	return nil
}

func (t *memTx) SaveProduct(_ context.Context, p *model.Product) error {
	t.products[p.ID] = p.Clone()
	return nil
}

func (t *memTx) SaveDailyReport(_ context.Context, r *model.DailyReport) error {
	delete(t.deleted, r.ID)
	t.reports[r.ID] = r.Clone()
	return nil
}

func (t *memTx) DeleteDailyReports(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.reports, id)
		t.deleted[id] = true
	}
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, a *model.BalanceActivity) error {
	c := *a
	t.activities = append(t.activities, &c)
	return nil
}
