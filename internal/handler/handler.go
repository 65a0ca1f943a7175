// Package handler содержит HTTP-обработчики API сервиса brewclub.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/brewclub/internal/httpx"
	"github.com/mmeshcher/brewclub/internal/middleware"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/pricing"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Checkout(ctx context.Context, userID string, req service.OrderRequest) (*pricing.Quote, error)
	CreateOrder(ctx context.Context, userID string, req service.OrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	ListUserOrders(ctx context.Context, userID string) (*service.OrderList, error)
	ListPartnerOrders(ctx context.Context, partnerID string) (*service.OrderList, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, actor model.Actor, orderID string, upd service.StatusUpdate) (*model.Order, error)
	RateOrder(ctx context.Context, userID, orderID string, productRating, shopRating *int) (*model.Order, error)
	GetBalance(ctx context.Context, userID string) (*service.BalanceView, error)
	ListActivities(ctx context.Context, userID string) ([]*model.BalanceActivity, error)
	TopUp(ctx context.Context, userID string, amount decimal.Decimal, title string) (*model.BalanceActivity, error)
	TodayReport(ctx context.Context, partnerID string) (*model.DailyReport, error)
	GetRangeReport(ctx context.Context, partnerID string, days int) (*service.RangeReport, error)
}

// Handler реализует HTTP-обработчики API сервиса brewclub.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	push           push.Registry
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// registry может быть nil: тогда websocket-канал не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, registry push.Registry) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		push:           registry,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	httpx.WriteError(r.Context(), w, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", model.ErrInvalidInput)
	}
	return nil
}

func principal(r *http.Request) model.Actor {
	actor, _ := middleware.PrincipalFromContext(r.Context())
	return actor
}

// Checkout рассчитывает стоимость корзины без оформления заказа.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	quote, err := h.service.Checkout(r.Context(), principal(r).ID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

// CreateOrder оформляет заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), principal(r).ID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// GetUserOrders возвращает открытые заказы и историю текущего пользователя.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUserOrders(r.Context(), principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// GetPartnerOrders возвращает открытые заказы и историю кофейни.
func (h *Handler) GetPartnerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPartnerOrders(r.Context(), principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// GetOrder возвращает заказ владельцу, его кофейне или администратору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет заказ пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), principal(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// UpdateStatus меняет статус заказа от имени кофейни или администратора.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req service.StatusUpdate
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type ratingRequest struct {
	ProductRating *int `json:"productRating"`
	ShopRating    *int `json:"shopRating"`
}

// RateOrder сохраняет оценку доставленного заказа.
func (h *Handler) RateOrder(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.RateOrder(r.Context(), principal(r).ID, chi.URLParam(r, "id"), req.ProductRating, req.ShopRating)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// GetActivities возвращает журнал операций по балансу текущего пользователя.
func (h *Handler) GetActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.ListActivities(r.Context(), principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(activities) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, activities)
}

// TodayReport возвращает отчёт кофейни за текущий день.
func (h *Handler) TodayReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.TodayReport(r.Context(), principal(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// RangeReport возвращает изменения показателей кофейни за days дней.
func (h *Handler) RangeReport(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: days must be an integer", model.ErrInvalidInput))
		return
	}

	report, err := h.service.GetRangeReport(r.Context(), principal(r).ID, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Title  string          `json:"title"`
}

// TopUp пополняет баланс пользователя.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	activity, err := h.service.TopUp(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, activity)
}

type tokenRequest struct {
	Kind model.ActorKind `json:"kind"`
	ID   string          `json:"id"`
	TTL  string          `json:"ttl"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken выпускает токен доступа для пользователя, кофейни или администратора.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !req.Kind.Valid() || req.ID == "" {
		h.writeError(w, r, fmt.Errorf("%w: kind and id are required", model.ErrInvalidInput))
		return
	}

	ttl := middleware.DefaultTokenTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			h.writeError(w, r, fmt.Errorf("%w: ttl must be a positive duration", model.ErrInvalidInput))
			return
		}
		ttl = d
	}

	token, err := h.authMiddleware.IssueToken(model.Actor{Kind: req.Kind, ID: req.ID}, ttl)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}

// Health сообщает, что процесс жив.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
