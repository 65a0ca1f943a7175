// Package httpx содержит общие для HTTP-слоя функции записи ответов.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/brewclub/internal/model"
)

var statusByKind = map[model.Kind]int{
	model.KindNotFound:                http.StatusNotFound,
	model.KindInvalidInput:            http.StatusUnprocessableEntity,
	model.KindInvalidItem:             http.StatusUnprocessableEntity,
	model.KindInvalidSize:             http.StatusUnprocessableEntity,
	model.KindInvalidAddition:         http.StatusUnprocessableEntity,
	model.KindOrderLimitExceeded:      http.StatusConflict,
	model.KindInsufficientBalance:     http.StatusPaymentRequired,
	model.KindInsufficientLoyalty:     http.StatusPaymentRequired,
	model.KindInvalidStatusTransition: http.StatusConflict,
	model.KindForbidden:               http.StatusForbidden,
	model.KindUnauthorized:            http.StatusUnauthorized,
	model.KindMethodNotAllowed:        http.StatusMethodNotAllowed,
}

// StatusOf возвращает HTTP-статус для типа ошибки.
func StatusOf(kind model.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError пишет ошибку в едином JSON-формате:
// {"error": kind, "message": text, "status": code, "request_id": id}.
// Текст внутренних ошибок клиенту не раскрывается.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	status := StatusOf(kind)

	message := http.StatusText(status)
	if kind != model.KindInternal && err != nil {
		message = sanitize(err.Error(), 512)
	}

	payload := map[string]any{
		"error":   string(kind),
		"message": message,
		"status":  status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = sanitize(id, 80)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSON пишет тело ответа в формате JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// IsInternal сообщает, что ошибка не относится к предметной области.
func IsInternal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && model.KindOf(err) == model.KindInternal
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
