package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/config"
)

var ErrNotFound = errors.New("save state not found")

const defaultListLimit = 100

// Store persists recorded save states.
type Store interface {
	SaveState(ctx context.Context, state *SaveState) error
	GetSaveState(ctx context.Context, id uuid.UUID) (*SaveState, error)
	ListSaveStates(ctx context.Context, filter ListFilter) ([]SaveState, error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.SaveStateConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		logger.Info("Opening save-state store", zap.String("driver", "sqlite"), zap.String("path", cfg.Path))
		store, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		logger.Info("Opening save-state store", zap.String("driver", "postgres"))
		client, err := NewPostgresClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown save-state driver: %s", cfg.Driver)
	}
}

func listLimit(filter ListFilter) int {
	if filter.Limit <= 0 {
		return defaultListLimit
	}
	return filter.Limit
}
