package repository

import (
	"context"
	"time"

	"github.com/mmeshcher/brewclub/internal/model"
)

// Reader описывает операции чтения хранилища.
// Отсутствующая сущность возвращается как ошибка, оборачивающая model.ErrNotFound.
type Reader interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrders(ctx context.Context, ids []string) ([]*model.Order, error)
	ListPendingOrders(ctx context.Context, changedBefore time.Time, limit int) ([]*model.Order, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) ([]*model.User, error)
	GetPartner(ctx context.Context, id string) (*model.Partner, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProductsByPartner(ctx context.Context, partnerID string) ([]*model.Product, error)
	GetDailyReport(ctx context.Context, partnerID, day string) (*model.DailyReport, error)
	ListDailyReports(ctx context.Context, partnerID string) ([]*model.DailyReport, error)
	ListActivities(ctx context.Context, userID string) ([]*model.BalanceActivity, error)
}

// Tx описывает операции, выполняемые атомарно внутри одной транзакции.
type Tx interface {
	Reader
	InsertOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, o *model.Order) error
	SaveUser(ctx context.Context, u *model.User) error
	SavePartner(ctx context.Context, p *model.Partner) error
	SaveProduct(ctx context.Context, p *model.Product) error
	SaveDailyReport(ctx context.Context, r *model.DailyReport) error
	DeleteDailyReports(ctx context.Context, ids []string) error
	AppendActivity(ctx context.Context, a *model.BalanceActivity) error
}

// Store объединяет чтение и транзакционную запись.
// Если fn возвращает ошибку, ни одно изменение не применяется.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
