package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/brewclub/internal/model"
)

// Seed описывает начальные данные: кофейни, меню и клиентов.
type Seed struct {
	Partners []SeedPartner `yaml:"partners"`
	Products []SeedProduct `yaml:"products"`
	Users    []SeedUser    `yaml:"users"`
}

// SeedPartner это кофейня в файле начальных данных.
type SeedPartner struct {
	ID                 string          `yaml:"id"`
	Name               string          `yaml:"name"`
	DiscountPercentage decimal.Decimal `yaml:"discountPercentage"`
}

// SeedProduct это позиция меню в файле начальных данных.
type SeedProduct struct {
	ID        string          `yaml:"id"`
	PartnerID string          `yaml:"shopId"`
	Name      string          `yaml:"name"`
	Sizes     []model.Size    `yaml:"sizes"`
	Additions model.Additions `yaml:"additions"`
}

// SeedUser это клиент в файле начальных данных.
type SeedUser struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Gender     string          `yaml:"gender"`
	BirthDate  string          `yaml:"birthDate"`
	Category   string          `yaml:"category"`
	Balance    decimal.Decimal `yaml:"balance"`
	Loyalty    int             `yaml:"loyalty"`
	ReferredBy string          `yaml:"referredBy"`
}

// LoadSeed читает файл начальных данных в формате YAML.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed разбирает начальные данные из YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// Apply записывает начальные данные в хранилище одной транзакцией.
// Записи, которые уже есть в хранилище, не трогаются: повторный запуск с тем же файлом
// не сбрасывает балансы, заказы и счётчики.
func (s *Seed) Apply(ctx context.Context, store Store) error {
	partners := make(map[string]bool, len(s.Partners))
	for _, p := range s.Partners {
		partners[p.ID] = true
	}

	users := make([]*model.User, 0, len(s.Users))
	for _, su := range s.Users {
		u, err := su.toModel()
		if err != nil {
			return err
		}
		users = append(users, u)
	}

	for _, p := range s.Products {
		if !partners[p.PartnerID] {
			return fmt.Errorf("product %s: unknown shop %q", p.ID, p.PartnerID)
		}
	}

	return store.WithinTx(ctx, func(tx Tx) error {
		for _, sp := range s.Partners {
			ok, err := absent(tx.GetPartner(ctx, sp.ID))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			p := &model.Partner{
				ID:                 sp.ID,
				Name:               sp.Name,
				DiscountPercentage: sp.DiscountPercentage,
				Balance:            decimal.Zero,
				TotalRevenue:       decimal.Zero,
			}
			if err := tx.SavePartner(ctx, p); err != nil {
				return err
			}
		}

		for _, sp := range s.Products {
			ok, err := absent(tx.GetProduct(ctx, sp.ID))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			p := &model.Product{
				ID:        sp.ID,
				PartnerID: sp.PartnerID,
				Name:      sp.Name,
				Sizes:     sp.Sizes,
				Additions: sp.Additions,
			}
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}

		for _, u := range users {
			ok, err := absent(tx.GetUser(ctx, u.ID))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// absent сообщает, что записи ещё нет в хранилище.
func absent[T any](_ T, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, model.ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}

func (su SeedUser) toModel() (*model.User, error) {
	u := &model.User{
		ID:         su.ID,
		Name:       su.Name,
		Gender:     model.Gender(su.Gender),
		Category:   model.Category(su.Category),
		Balance:    model.Round2(su.Balance),
		Loyalty:    su.Loyalty,
		ReferredBy: su.ReferredBy,
	}
	if u.Category == "" {
		u.Category = model.CategoryStandard
	}

	switch u.Category {
	case model.CategoryStandard, model.CategoryPremium, model.CategoryStreakPremium:
	default:
		return nil, fmt.Errorf("user %s: unknown category %q", su.ID, su.Category)
	}

	if su.Loyalty < 0 || su.Loyalty > 10 {
		return nil, fmt.Errorf("user %s: loyalty %d out of range", su.ID, su.Loyalty)
	}

	if su.Balance.IsNegative() {
		return nil, fmt.Errorf("user %s: negative balance", su.ID)
	}

	if su.BirthDate != "" {
		d, err := time.Parse(model.DayLayout, su.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("user %s: parse birth date: %w", su.ID, err)
		}
		u.BirthDate = &d
	}
	return u, nil
}
