// Package middleware содержит HTTP middleware для сервиса brewclub.
package middleware

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mmeshcher/brewclub/internal/httpx"
	"github.com/mmeshcher/brewclub/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// DefaultTokenTTL это срок действия выдаваемых токенов.
const DefaultTokenTTL = 24 * time.Hour

// Claims это полезная нагрузка токена участника.
type Claims struct {
	Kind model.ActorKind `json:"kind"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токены JWT и кладёт участника в контекст запроса.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом секрете генерируется случайный ключ, действующий до перезапуска процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// IssueToken подписывает токен для участника.
func (a *AuthMiddleware) IssueToken(actor model.Actor, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		Kind: actor.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Middleware проверяет заголовок Authorization и добавляет участника в контекст запроса.
// Для websocket-клиентов токен также принимается в параметре access_token.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.WriteError(r.Context(), w, fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized))
			return
		}

		actor, err := a.parseToken(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, fmt.Errorf("%w: invalid token", model.ErrUnauthorized))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), actor)))
	})
}

func (a *AuthMiddleware) parseToken(raw string) (model.Actor, error) {
	claims := &Claims{}
	parser := jwt.Parser{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return model.Actor{}, err
	}
	if !token.Valid {
		return model.Actor{}, fmt.Errorf("token is not valid")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(a.now()) {
		return model.Actor{}, fmt.Errorf("token is expired")
	}
	if claims.Subject == "" || !claims.Kind.Valid() {
		return model.Actor{}, fmt.Errorf("token has no principal")
	}
	return model.Actor{Kind: claims.Kind, ID: claims.Subject}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

// RequireKind пропускает только участников указанных типов.
func RequireKind(kinds ...model.ActorKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, model.ErrUnauthorized)
				return
			}
			if !slices.Contains(kinds, actor.Kind) {
				httpx.WriteError(r.Context(), w, fmt.Errorf("%w: %s is not allowed here", model.ErrForbidden, actor.Kind))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal кладёт участника в контекст.
func WithPrincipal(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, principalKey, actor)
}

// PrincipalFromContext извлекает участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(principalKey).(model.Actor)
	return actor, ok
}
