// Package approvers отвечает на вопрос, кто вправе согласовывать заявки.
package approvers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

var DefaultRanks = []string{"mega", "rookie"}

type Config struct {
	Ranks            []string      `mapstructure:"ranks"`
	AutoApproveRanks []string      `mapstructure:"auto_approve_ranks"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// UserLookup: источник истины по рангам пользователей.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ListByRanks(ctx context.Context, ranks []string) ([]domain.User, error)
}

const defaultApproversKey = "default"

type Authority struct {
	ranks     []string
	autoRanks []string
	users     UserLookup

	userRanks *Cache[string, string]
	defaults  *Cache[string, []domain.User]
	logger    *zap.Logger
}

func NewAuthority(cfg Config, users UserLookup, logger *zap.Logger) *Authority {
	ranks := cfg.Ranks
	if len(ranks) == 0 {
		ranks = DefaultRanks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authority{
		ranks:     ranks,
		autoRanks: cfg.AutoApproveRanks,
		users:     users,
		userRanks: NewCache[string, string](cfg.CacheTTL),
		defaults:  NewCache[string, []domain.User](cfg.CacheTTL),
		logger:    logger.Named("approvers"),
	}
}

// WithClock прокидывает часы в оба кэша.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.userRanks.WithClock(now)
	a.defaults.WithClock(now)
	return a
}

// Rank возвращает ранг пользователя. Неизвестный пользователь получает пустой ранг.
func (a *Authority) Rank(ctx context.Context, userID string) (string, error) {
	return a.userRanks.Get(ctx, userID, func(ctx context.Context) (string, error) {
		u, err := a.users.GetByID(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("load rank of %s: %w", userID, err)
		}
		return u.Rank, nil
	})
}

func (a *Authority) IsApprover(ctx context.Context, userID string) (bool, error) {
	rank, err := a.Rank(ctx, userID)
	if err != nil {
		return false, err
	}
	return rank != "" && slices.Contains(a.ranks, rank), nil
}

// CanAutoApprove: ранг инициатора позволяет пропустить стадию Pending.
func (a *Authority) CanAutoApprove(ctx context.Context, userID string) (bool, error) {
	if len(a.autoRanks) == 0 {
		return false, nil
	}
	rank, err := a.Rank(ctx, userID)
	if err != nil {
		return false, err
	}
	return rank != "" && slices.Contains(a.autoRanks, rank), nil
}

// DefaultApprovers: список пользователей с рангом согласующего, живет в кэше TTL.
func (a *Authority) DefaultApprovers(ctx context.Context) ([]domain.User, error) {
	return a.defaults.Get(ctx, defaultApproversKey, func(ctx context.Context) ([]domain.User, error) {
		list, err := a.users.ListByRanks(ctx, a.ranks)
		if err != nil {
			return nil, fmt.Errorf("load default approvers: %w", err)
		}
		a.logger.Info("default approvers refreshed", zap.Int("count", len(list)))
		return list, nil
	})
}

// Forget сбрасывает кэшированный ранг, например после смены ранга пользователя.
func (a *Authority) Forget(userID string) {
	a.userRanks.Invalidate(userID)
	a.defaults.Invalidate(defaultApproversKey)
}
