package push

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/mmeshcher/brewclub/internal/middleware"
)

// Handler возвращает websocket-обработчик, подписывающий аутентифицированного участника на его уведомления.
// Ожидает, что участник уже положен в контекст запроса middleware аутентификации.
func Handler(reg Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	ws := websocket.Server{
		// Доступ определяется токеном, а не Origin.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			actor, ok := middleware.PrincipalFromContext(conn.Request().Context())
			if !ok {
				return
			}

			sub := reg.Register(actor.Kind, actor.ID)
			defer reg.Unregister(sub)

			logger.Debug("push session opened", zap.String("kind", string(actor.Kind)), zap.String("id", actor.ID))

			closed := make(chan struct{})
			go func() {
				defer close(closed)
				var discard string
				for {
					if err := websocket.Message.Receive(conn, &discard); err != nil {
						return
					}
				}
			}()

			for {
				select {
				case <-closed:
					return
				case msg, ok := <-sub.Messages():
					if !ok {
						return
					}
					if err := websocket.JSON.Send(conn, msg); err != nil {
						logger.Debug("push send failed", zap.Error(err))
						return
					}
				}
			}
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.PrincipalFromContext(r.Context()); !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ws.ServeHTTP(w, r)
	})
}
