// Package push доставляет уведомления подключённым сессиям пользователей и партнёров.
package push

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/brewclub/internal/model"
)

// Типы уведомлений.
const (
	TypeNewOrder    = "NEW_ORDER"
	TypeOrderStatus = "ORDER_STATUS"
)

// DefaultMailboxSize это размер очереди исходящих сообщений одного соединения.
const DefaultMailboxSize = 32

// Message это уведомление, отправляемое клиенту.
type Message struct {
	Type   string       `json:"type"`
	Status string       `json:"status,omitempty"`
	Order  *model.Order `json:"order,omitempty"`
}

// Registry хранит активные соединения.
type Registry interface {
	Register(kind model.ActorKind, id string) *Conn
	Unregister(c *Conn)
	SendTo(kind model.ActorKind, id string, msg Message) int
}

// Conn описывает зарегистрированное соединение с собственным почтовым ящиком.
type Conn struct {
	kind    model.ActorKind
	id      string
	mailbox chan Message
}

// Messages возвращает канал входящих для соединения сообщений. Канал закрывается при Unregister.
func (c *Conn) Messages() <-chan Message {
	return c.mailbox
}

type recipient struct {
	kind model.ActorKind
	id   string
}

// Hub реализует Registry в памяти процесса.
// Отправка не блокируется: при переполненном ящике сообщение отбрасывается.
type Hub struct {
	mu          sync.RWMutex
	conns       map[recipient]map[*Conn]struct{}
	mailboxSize int
	logger      *zap.Logger
}

// NewHub создаёт пустой реестр.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:       make(map[recipient]map[*Conn]struct{}),
		mailboxSize: DefaultMailboxSize,
		logger:      logger,
	}
}

// Register добавляет соединение получателя.
func (h *Hub) Register(kind model.ActorKind, id string) *Conn {
	c := &Conn{kind: kind, id: id, mailbox: make(chan Message, h.mailboxSize)}
	key := recipient{kind: kind, id: id}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[key]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[key] = set
	}
	set[c] = struct{}{}
	return c
}

// Unregister удаляет соединение и закрывает его ящик. Повторный вызов безопасен.
func (h *Hub) Unregister(c *Conn) {
	key := recipient{kind: c.kind, id: c.id}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[key]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.mailbox)
	if len(set) == 0 {
		delete(h.conns, key)
	}
}

// SendTo кладёт сообщение во все соединения получателя и возвращает число принявших его.
func (h *Hub) SendTo(kind model.ActorKind, id string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.conns[recipient{kind: kind, id: id}] {
		select {
		case c.mailbox <- msg:
			delivered++
		default:
			h.logger.Warn("push mailbox full, message dropped",
				zap.String("kind", string(kind)),
				zap.String("id", id),
				zap.String("type", msg.Type),
			)
		}
	}
	return delivered
}
