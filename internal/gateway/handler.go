package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// Handler receives decoded payloads of a single topic kind. Use the typed
// constructors below; they bind the topic kind to the callback's parameter
// type so a mismatch fails to compile.
type Handler interface {
	Kind() amm.TopicKind
	Handle(ctx context.Context, data []byte) error
}

type typedHandler[T amm.Payload] struct {
	fn func(context.Context, T)
}

func (h typedHandler[T]) Kind() amm.TopicKind {
	var zero T
	return zero.TopicKind()
}

func (h typedHandler[T]) Handle(ctx context.Context, data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", h.Kind(), err)
	}
	h.fn(ctx, v)
	return nil
}

// HandlerFor wraps fn as a Handler for T's topic kind.
func HandlerFor[T amm.Payload](fn func(context.Context, T)) Handler {
	return typedHandler[T]{fn: fn}
}

func OnOperationalDescription(fn func(context.Context, amm.OperationalDescription)) Handler {
	return HandlerFor(fn)
}

func OnModuleConfiguration(fn func(context.Context, amm.ModuleConfiguration)) Handler {
	return HandlerFor(fn)
}

func OnSimulationControl(fn func(context.Context, amm.SimulationControl)) Handler {
	return HandlerFor(fn)
}

func OnStatus(fn func(context.Context, amm.Status)) Handler {
	return HandlerFor(fn)
}

func OnTick(fn func(context.Context, amm.Tick)) Handler {
	return HandlerFor(fn)
}

func OnAssessment(fn func(context.Context, amm.Assessment)) Handler {
	return HandlerFor(fn)
}

type rawHandler struct {
	kind amm.TopicKind
	fn   func(context.Context, json.RawMessage)
}

func (h rawHandler) Kind() amm.TopicKind { return h.kind }

func (h rawHandler) Handle(ctx context.Context, data []byte) error {
	h.fn(ctx, json.RawMessage(data))
	return nil
}

// OnRaw delivers the undecoded JSON payload of any topic kind.
func OnRaw(kind amm.TopicKind, fn func(context.Context, json.RawMessage)) Handler {
	return rawHandler{kind: kind, fn: fn}
}
