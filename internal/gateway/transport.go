package gateway

import "context"

// Transport carries opaque envelopes between modules. Implementations must
// deliver messages of one subscription in publish order.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (Subscription, error)
	Close(ctx context.Context) error
}

// Subscription is an active transport subscription.
type Subscription interface {
	Unsubscribe() error
}
