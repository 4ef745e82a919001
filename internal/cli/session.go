package cli

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/system"
)

// connect opens a gateway with a source unique to this invocation.
func (o *RootOptions) connect(ctx context.Context) (*gateway.Manager, error) {
	m, err := system.Connect(ctx, o.Config.Gateway, o.Logger.Named("gateway"), o.bus,
		gateway.WithSource("amm://simctl/"+xid.New().String()))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect", err)
	}
	return m, nil
}

// publishers initializes kinds and registers a publisher for each.
func publishers(m *gateway.Manager, kinds ...amm.TopicKind) error {
	for _, kind := range kinds {
		if _, err := m.Initialize(kind); err != nil {
			return err
		}
		if _, err := m.RegisterPublisher(kind); err != nil {
			return err
		}
	}
	return nil
}

// publishOnce connects, writes payload and disconnects.
func (o *RootOptions) publishOnce(ctx context.Context, payload amm.Payload) error {
	m, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.WithoutCancel(ctx))

	if err := publishers(m, payload.TopicKind()); err != nil {
		return WrapExitError(ExitFailure, "failed to register publisher", err)
	}
	if err := m.Write(ctx, payload); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to publish %s", payload.TopicKind()), err)
	}
	return nil
}
