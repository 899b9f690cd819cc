// Package service glues infrastructure adapters into the ports the
// application layer asks for.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

// NameStore is the display-name cache.
type NameStore interface {
	DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error)
	RememberName(ctx context.Context, chatID shared.ChatID, userID shared.UserID, name string) error
}

// MemberLookup asks the messaging platform for a member's name.
type MemberLookup interface {
	DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error)
}

// ErrNameUnknown is returned when neither the cache nor the platform knows the user.
var ErrNameUnknown = errors.New("service: display name unknown")

// NameResolver resolves display names cache-first and writes platform
// answers back to the cache. Either side may be nil.
type NameResolver struct {
	cache  NameStore
	lookup MemberLookup
	logger *slog.Logger
}

// NewNameResolver creates a new NameResolver.
func NewNameResolver(cache NameStore, lookup MemberLookup, log *slog.Logger) *NameResolver {
	return &NameResolver{
		cache:  cache,
		lookup: lookup,
		logger: logger.OrDefault(log).With(logger.Component("name_resolver")),
	}
}

// DisplayName returns the member's name, or ErrNameUnknown.
func (r *NameResolver) DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error) {
	// 1. Cache
	if r.cache != nil {
		name, err := r.cache.DisplayName(ctx, chatID, userID)
		if err == nil && name != "" {
			return name, nil
		}
	}

	// 2. Platform
	if r.lookup == nil {
		return "", ErrNameUnknown
	}
	name, err := r.lookup.DisplayName(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrNameUnknown
	}

	if r.cache != nil {
		if err := r.cache.RememberName(ctx, chatID, userID, name); err != nil {
			r.logger.Debug("name write-back failed",
				logger.ChatID(chatID.Int64()),
				logger.UserID(userID.Int64()),
				logger.Err(err),
			)
		}
	}
	return name, nil
}

// RememberName records a name seen on an incoming message. Without a cache
// it is a no-op.
func (r *NameResolver) RememberName(ctx context.Context, chatID shared.ChatID, userID shared.UserID, name string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.RememberName(ctx, chatID, userID, name)
}
