// Package service реализует бизнес-логику сервиса brewclub: жизненный цикл заказа,
// баланс, лояльность, отчёты партнёров и истечение неподтверждённых заказов.
package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/repository"
)

var tracer = otel.Tracer("github.com/mmeshcher/brewclub/internal/service")

var (
	hundred       = decimal.NewFromInt(100)
	referralBonus = decimal.NewFromInt(1)
)

const (
	// MaxOpenOrders ограничивает число одновременно открытых заказов пользователя.
	MaxOpenOrders = 3
	// MaxLoyalty это потолок счётчика лояльности и порог бесплатного заказа.
	MaxLoyalty = 10
	// TopListSize это длина рейтингов лучших клиентов и продуктов в отчётах.
	TopListSize = 5

	defaultExpiryTimeout   = 5 * time.Minute
	defaultExpiryInterval  = time.Minute
	defaultReportRetention = 90
	expiryBatchSize        = 100
)

// Notifier доставляет push-уведомления. Отсутствие соединения получателя не является ошибкой.
type Notifier interface {
	SendTo(kind model.ActorKind, id string, msg push.Message) int
}

// Options задаёт параметры сервиса. Нулевые значения заменяются значениями по умолчанию.
type Options struct {
	ExpiryTimeout   time.Duration
	ExpiryInterval  time.Duration
	ReportRetention int
	Location        *time.Location
	Now             func() time.Time
}

// Service содержит бизнес-логику сервиса brewclub.
type Service struct {
	store     repository.Store
	notifier  Notifier
	publisher events.Publisher
	logger    *zap.Logger
	locks     *keyedMutex
	opts      Options
}

// NewService создаёт новый сервис поверх хранилища.
// notifier и publisher могут быть nil: уведомления и события тогда не отправляются.
func NewService(store repository.Store, notifier Notifier, publisher events.Publisher, logger *zap.Logger, opts Options) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExpiryTimeout <= 0 {
		opts.ExpiryTimeout = defaultExpiryTimeout
	}
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = defaultExpiryInterval
	}
	if opts.ReportRetention <= 0 {
		opts.ReportRetention = defaultReportRetention
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		locks:     newKeyedMutex(),
		opts:      opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("close event publisher", zap.Error(err))
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

func newID() string {
	return ulid.Make().String()
}

type noopNotifier struct{}

func (noopNotifier) SendTo(model.ActorKind, string, push.Message) int { return 0 }

// publish отправляет событие после фиксации транзакции. Ошибки брокера только логируются.
func (s *Service) publish(ctx context.Context, typ string, o *model.Order) {
	ev := events.OrderEvent{
		ID:         newID(),
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		ShopID:     o.PartnerID,
		Status:     o.Status,
		Order:      o,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish order event",
			zap.String("type", typ),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}
