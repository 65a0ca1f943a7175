// Package repository содержит реализации хранилища сервиса brewclub: PostgreSQL и память процесса.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/brewclub/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	orderColumns = `id, user_id, partner_id, items, total_price, total_discounted_price, status,
		status_history, preparing_time, loyalty, rating, created_at`
	userColumns = `id, name, gender, birth_date, category, balance, loyalty, streak_count, streak_last_order,
		open_orders, history, referred_by, referral_rewarded, ordered_products, visited_shops,
		most_ordered_product, most_visited_shop, rating, rating_count`
	partnerColumns = `id, name, discount_bp, balance, total_revenue, open_orders, history, customers,
		daily_reports, rating, rating_count`
	productColumns = `id, partner_id, name, sizes, additions, sales, rating, rating_count`
	reportColumns  = `id, partner_id, day, total_users, total_orders, total_revenue, prev_users, prev_orders,
		prev_revenue, users_delta, orders_delta, revenue_delta, best_members, best_products, demographics,
		created_at, updated_at`
	activityColumns = `id, user_id, amount, category, title, created_at`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pgReader: pgReader{q: pool}, pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции. Строки сущностей, прочитанные внутри, блокируются до фиксации.
// Конфликты сериализации и взаимоблокировки повторяются.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{pgReader: pgReader{q: tx, forUpdate: true}}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Повторяем только конфликты сериализации и взаимоблокировки.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

type pgReader struct {
	q         querier
	forUpdate bool
}

func (r pgReader) lock(sql string) string {
	if r.forUpdate {
		return sql + " FOR UPDATE"
	}
	return sql
}

// GetOrder возвращает заказ по идентификатору.
func (r pgReader) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.q.QueryRow(ctx, r.lock(`SELECT `+orderColumns+` FROM orders WHERE id = $1`), id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrders возвращает найденные заказы в порядке идентификаторов.
func (r pgReader) GetOrders(ctx context.Context, ids []string) ([]*model.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(orders, func(a, b *model.Order) int {
		return slices.Index(ids, a.ID) - slices.Index(ids, b.ID)
	})
	return orders, nil
}

// ListPendingOrders возвращает заказы в статусе pending, последний статус которых старше changedBefore.
func (r pgReader) ListPendingOrders(ctx context.Context, changedBefore time.Time, limit int) ([]*model.Order, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND status_changed_at < $2
		 ORDER BY status_changed_at
		 LIMIT $3`,
		string(model.OrderStatusPending), changedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	return collectOrders(rows)
}

// GetUser возвращает пользователя по идентификатору.
func (r pgReader) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := r.q.QueryRow(ctx, r.lock(`SELECT `+userColumns+` FROM users WHERE id = $1`), id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUsers возвращает найденных пользователей. Строки не блокируются.
func (r pgReader) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.q.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var res []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetPartner возвращает партнёра по идентификатору.
func (r pgReader) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	row := r.q.QueryRow(ctx, r.lock(`SELECT `+partnerColumns+` FROM partners WHERE id = $1`), id)

	var (
		p                        model.Partner
		discountBP, bal, revenue int64
	)
	err := row.Scan(&p.ID, &p.Name, &discountBP, &bal, &revenue, &p.Orders, &p.History, &p.Customers,
		&p.DailyReports, &p.Rating.Rating, &p.Rating.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("partner %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}

	p.DiscountPercentage = model.FromCents(discountBP)
	p.Balance = model.FromCents(bal)
	p.TotalRevenue = model.FromCents(revenue)
	return &p, nil
}

// GetProduct возвращает продукт по идентификатору.
func (r pgReader) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := r.q.QueryRow(ctx, r.lock(`SELECT `+productColumns+` FROM products WHERE id = $1`), id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProductsByPartner возвращает меню партнёра.
func (r pgReader) ListProductsByPartner(ctx context.Context, partnerID string) ([]*model.Product, error) {
	rows, err := r.q.Query(ctx, `SELECT `+productColumns+` FROM products WHERE partner_id = $1 ORDER BY id`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetDailyReport возвращает отчёт партнёра за день.
func (r pgReader) GetDailyReport(ctx context.Context, partnerID, day string) (*model.DailyReport, error) {
	row := r.q.QueryRow(ctx,
		r.lock(`SELECT `+reportColumns+` FROM daily_reports WHERE partner_id = $1 AND day = $2`),
		partnerID, day,
	)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("report %s/%s: %w", partnerID, day, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

// ListDailyReports возвращает отчёты партнёра по возрастанию дня.
func (r pgReader) ListDailyReports(ctx context.Context, partnerID string) ([]*model.DailyReport, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+reportColumns+` FROM daily_reports WHERE partner_id = $1 ORDER BY day`,
		partnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	defer rows.Close()

	var res []*model.DailyReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		res = append(res, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListActivities возвращает журнал баланса пользователя, новые записи первыми.
func (r pgReader) ListActivities(ctx context.Context, userID string) ([]*model.BalanceActivity, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+activityColumns+`
		 FROM balance_activities
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select activities: %w", err)
	}
	defer rows.Close()

	var res []*model.BalanceActivity
	for rows.Next() {
		var (
			a        model.BalanceActivity
			amount   int64
			category string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &amount, &category, &a.Title, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Amount = model.FromCents(amount)
		a.Category = model.ActivityCategory(category)
		res = append(res, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

type pgTx struct {
	pgReader
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`, status_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, o.PartnerID, o.Items, model.ToCents(o.TotalPrice), model.ToCents(o.TotalDiscountedPrice),
		string(o.Status), o.StatusHistory, o.PreparingTime, o.Loyalty, o.Rating, o.CreatedAt, o.LastStatusAt(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE orders
		 SET status = $2, status_history = $3, preparing_time = $4, rating = $5, status_changed_at = $6
		 WHERE id = $1`,
		o.ID, string(o.Status), o.StatusHistory, o.PreparingTime, o.Rating, o.LastStatusAt(),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, gender = EXCLUDED.gender, birth_date = EXCLUDED.birth_date,
			category = EXCLUDED.category, balance = EXCLUDED.balance, loyalty = EXCLUDED.loyalty,
			streak_count = EXCLUDED.streak_count, streak_last_order = EXCLUDED.streak_last_order,
			open_orders = EXCLUDED.open_orders, history = EXCLUDED.history, referred_by = EXCLUDED.referred_by,
			referral_rewarded = EXCLUDED.referral_rewarded, ordered_products = EXCLUDED.ordered_products,
			visited_shops = EXCLUDED.visited_shops, most_ordered_product = EXCLUDED.most_ordered_product,
			most_visited_shop = EXCLUDED.most_visited_shop, rating = EXCLUDED.rating,
			rating_count = EXCLUDED.rating_count`,
		u.ID, u.Name, string(u.Gender), u.BirthDate, string(u.Category), model.ToCents(u.Balance), u.Loyalty,
		u.Streak.Count, u.Streak.LastOrderDate, nonNil(u.Orders), nonNil(u.History), u.ReferredBy,
		u.ReferralRewarded, nonNilMap(u.OrderedProducts), nonNilMap(u.VisitedShops), u.MostOrderedProduct,
		u.MostVisitedShop, u.OverallRating.Rating, u.OverallRating.Count,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (t *pgTx) SavePartner(ctx context.Context, p *model.Partner) error {
	customers := p.Customers
	if customers == nil {
		customers = []model.Customer{}
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO partners (`+partnerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, discount_bp = EXCLUDED.discount_bp, balance = EXCLUDED.balance,
			total_revenue = EXCLUDED.total_revenue, open_orders = EXCLUDED.open_orders,
			history = EXCLUDED.history, customers = EXCLUDED.customers,
			daily_reports = EXCLUDED.daily_reports, rating = EXCLUDED.rating,
			rating_count = EXCLUDED.rating_count`,
		p.ID, p.Name, model.ToCents(p.DiscountPercentage), model.ToCents(p.Balance), model.ToCents(p.TotalRevenue),
		nonNil(p.Orders), nonNil(p.History), customers, nonNil(p.DailyReports), p.Rating.Rating, p.Rating.Count,
	)
	if err != nil {
		return fmt.Errorf("save partner: %w", err)
	}
	return nil
}

func (t *pgTx) SaveProduct(ctx context.Context, p *model.Product) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			partner_id = EXCLUDED.partner_id, name = EXCLUDED.name, sizes = EXCLUDED.sizes,
			additions = EXCLUDED.additions, sales = EXCLUDED.sales, rating = EXCLUDED.rating,
			rating_count = EXCLUDED.rating_count`,
		p.ID, p.PartnerID, p.Name, p.Sizes, p.Additions, p.Sales, p.Rating.Rating, p.Rating.Count,
	)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (t *pgTx) SaveDailyReport(ctx context.Context, r *model.DailyReport) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO daily_reports (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
			total_users = EXCLUDED.total_users, total_orders = EXCLUDED.total_orders,
			total_revenue = EXCLUDED.total_revenue, prev_users = EXCLUDED.prev_users,
			prev_orders = EXCLUDED.prev_orders, prev_revenue = EXCLUDED.prev_revenue,
			users_delta = EXCLUDED.users_delta, orders_delta = EXCLUDED.orders_delta,
			revenue_delta = EXCLUDED.revenue_delta, best_members = EXCLUDED.best_members,
			best_products = EXCLUDED.best_products, demographics = EXCLUDED.demographics,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.PartnerID, r.Day, r.TotalUsers, r.TotalOrders, model.ToCents(r.TotalRevenue),
		r.PrevUsers, r.PrevOrders, model.ToCents(r.PrevRevenue), r.UsersDelta, r.OrdersDelta,
		model.ToCents(r.RevenueDelta), nonNil(r.BestPerformingMembers), nonNil(r.BestSellerProducts),
		r.Demographics, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteDailyReports(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM daily_reports WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete reports: %w", err)
	}
	return nil
}

func (t *pgTx) AppendActivity(ctx context.Context, a *model.BalanceActivity) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO balance_activities (`+activityColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, model.ToCents(a.Amount), string(a.Category), a.Title, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                 model.Order
		total, discounted int64
		status            string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.PartnerID, &o.Items, &total, &discounted, &status,
		&o.StatusHistory, &o.PreparingTime, &o.Loyalty, &o.Rating, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.TotalPrice = model.FromCents(total)
	o.TotalDiscountedPrice = model.FromCents(discounted)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]*model.Order, error) {
	defer rows.Close()

	var res []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                        model.User
		gender, category         string
		balance                  int64
		mostOrdered, mostVisited string
	)
	err := row.Scan(&u.ID, &u.Name, &gender, &u.BirthDate, &category, &balance, &u.Loyalty,
		&u.Streak.Count, &u.Streak.LastOrderDate, &u.Orders, &u.History, &u.ReferredBy, &u.ReferralRewarded,
		&u.OrderedProducts, &u.VisitedShops, &mostOrdered, &mostVisited,
		&u.OverallRating.Rating, &u.OverallRating.Count)
	if err != nil {
		return nil, err
	}
	u.Gender = model.Gender(gender)
	u.Category = model.Category(category)
	u.Balance = model.FromCents(balance)
	u.MostOrderedProduct = mostOrdered
	u.MostVisitedShop = mostVisited
	return &u, nil
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.PartnerID, &p.Name, &p.Sizes, &p.Additions, &p.Sales, &p.Rating.Rating, &p.Rating.Count)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanReport(row pgx.Row) (*model.DailyReport, error) {
	var (
		r                          model.DailyReport
		revenue, prevRev, revDelta int64
	)
	err := row.Scan(&r.ID, &r.PartnerID, &r.Day, &r.TotalUsers, &r.TotalOrders, &revenue, &r.PrevUsers,
		&r.PrevOrders, &prevRev, &r.UsersDelta, &r.OrdersDelta, &revDelta, &r.BestPerformingMembers,
		&r.BestSellerProducts, &r.Demographics, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.TotalRevenue = model.FromCents(revenue)
	r.PrevRevenue = model.FromCents(prevRev)
	r.RevenueDelta = model.FromCents(revDelta)
	return &r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
