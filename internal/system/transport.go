package system

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/gateway/memory"
	"github.com/KevinKickass/OpenSimModule/internal/gateway/natsbus"
)

// NewTransport builds the transport named by cfg.Transport. The memory
// transport attaches to bus, or to a private bus when bus is nil.
func NewTransport(cfg config.GatewayConfig, logger *zap.Logger, bus *memory.Bus) (gateway.Transport, error) {
	switch cfg.Transport {
	case "", "memory":
		if bus == nil {
			bus = memory.NewBus()
		}
		return bus.Transport(), nil
	case "nats":
		return natsbus.New(cfg.URL, logger,
			natsbus.WithName(cfg.ClientName),
			natsbus.WithTimeout(cfg.ConnectTimeout),
			natsbus.WithReconnectWait(cfg.ReconnectWait),
			natsbus.WithMaxReconnects(cfg.MaxReconnects),
			natsbus.WithDrainTimeout(cfg.HandlerGrace),
		), nil
	default:
		return nil, fmt.Errorf("unknown gateway transport: %s", cfg.Transport)
	}
}

// Connect builds the configured transport and opens a gateway on it.
func Connect(ctx context.Context, cfg config.GatewayConfig, logger *zap.Logger, bus *memory.Bus, opts ...gateway.Option) (*gateway.Manager, error) {
	transport, err := NewTransport(cfg, logger, bus)
	if err != nil {
		return nil, err
	}

	opts = append([]gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithSubjectPrefix(cfg.SubjectPrefix),
	}, opts...)
	return gateway.Connect(ctx, transport, opts...)
}
