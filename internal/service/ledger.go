package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/repository"
)

// debit списывает amount с баланса пользователя и записывает операцию в журнал.
// Баланс никогда не уходит в минус.
func debit(ctx context.Context, tx repository.Tx, u *model.User, amount decimal.Decimal, title string, at time.Time) error {
	amount = model.Round2(amount)
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative debit", model.ErrInvalidInput)
	}
	if u.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, required %s", model.ErrInsufficientBalance, u.Balance.StringFixed(2), amount.StringFixed(2))
	}
	if amount.IsZero() {
		return nil
	}

	u.Balance = model.Round2(u.Balance.Sub(amount))
	return tx.AppendActivity(ctx, &model.BalanceActivity{
		ID:        newID(),
		UserID:    u.ID,
		Amount:    amount.Neg(),
		Category:  model.ActivityOrder,
		Title:     title,
		CreatedAt: at,
	})
}

// credit зачисляет amount на баланс пользователя и записывает операцию в журнал.
func credit(ctx context.Context, tx repository.Tx, u *model.User, amount decimal.Decimal, category model.ActivityCategory, title string, at time.Time) (*model.BalanceActivity, error) {
	amount = model.Round2(amount)
	u.Balance = model.Round2(u.Balance.Add(amount))

	a := &model.BalanceActivity{
		ID:        newID(),
		UserID:    u.ID,
		Amount:    amount,
		Category:  category,
		Title:     title,
		CreatedAt: at,
	}
	if err := tx.AppendActivity(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// BalanceView описывает состояние счёта пользователя.
type BalanceView struct {
	Balance  decimal.Decimal `json:"balance"`
	Loyalty  int             `json:"loyalty"`
	Streak   model.Streak    `json:"streak"`
	Category model.Category  `json:"category"`
}

// GetBalance возвращает баланс, счётчик лояльности и серию пользователя.
func (s *Service) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		Balance:  u.Balance,
		Loyalty:  u.Loyalty,
		Streak:   u.Streak,
		Category: u.Category,
	}, nil
}

// ListActivities возвращает журнал операций по балансу пользователя.
func (s *Service) ListActivities(ctx context.Context, userID string) ([]*model.BalanceActivity, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, userID)
}

// TopUp пополняет баланс пользователя. Вызывается администратором.
func (s *Service) TopUp(ctx context.Context, userID string, amount decimal.Decimal, title string) (*model.BalanceActivity, error) {
	amount = model.Round2(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: top-up amount must be positive", model.ErrInvalidInput)
	}
	if title == "" {
		title = "Balance top-up"
	}

	unlock := s.locks.Lock(userKey(userID))
	defer unlock()

	var activity *model.BalanceActivity
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		activity, err = credit(ctx, tx, u, amount, model.ActivityTopUp, title, s.now())
		if err != nil {
			return err
		}
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return activity, nil
}
