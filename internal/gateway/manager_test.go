package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
	"github.com/KevinKickass/OpenSimModule/internal/gateway/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct {
	connectErr error
	publishErr error
}

func (f failingTransport) Connect(context.Context) error { return f.connectErr }

func (f failingTransport) Publish(context.Context, string, []byte) error { return f.publishErr }

func (f failingTransport) Subscribe(context.Context, string, func(context.Context, []byte)) (gateway.Subscription, error) {
	return nil, errors.New("subscribe refused")
}

func (f failingTransport) Close(context.Context) error { return nil }

type countingObserver struct {
	mu       sync.Mutex
	writes   int
	failures int
	received int
	decode   int
}

func (o *countingObserver) ObserveWrite(_ amm.TopicKind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ObserveReceive(amm.TopicKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received++
}

func (o *countingObserver) ObserveDecodeFailure(amm.TopicKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decode++
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	_, err := gateway.Connect(context.Background(), failingTransport{connectErr: errors.New("refused")})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrConnection)
}

func TestInitializeAndRegisterResults(t *testing.T) {
	ctx := context.Background()
	m, err := gateway.Connect(ctx, memory.NewBus().Transport())
	require.NoError(t, err)
	defer m.Disconnect(ctx)

	_, err = m.RegisterPublisher(amm.TopicStatus)
	assert.ErrorIs(t, err, gateway.ErrRegistration)
	assert.ErrorIs(t, err, gateway.ErrTopicNotInitialized)

	res, err := m.Initialize(amm.TopicStatus)
	require.NoError(t, err)
	assert.Equal(t, gateway.ResultOK, res)

	res, err = m.Initialize(amm.TopicStatus)
	require.NoError(t, err)
	assert.Equal(t, gateway.ResultAlreadyInitialized, res)

	res, err = m.RegisterPublisher(amm.TopicStatus)
	require.NoError(t, err)
	assert.Equal(t, gateway.ResultOK, res)

	res, err = m.RegisterPublisher(amm.TopicStatus)
	require.NoError(t, err)
	assert.Equal(t, gateway.ResultAlreadyRegistered, res)

	_, err = m.RegisterSubscriber(gateway.OnTick(func(context.Context, amm.Tick) {}))
	assert.ErrorIs(t, err, gateway.ErrRegistration)
}

func TestWriteRequiresPublisher(t *testing.T) {
	ctx := context.Background()
	m, err := gateway.Connect(ctx, memory.NewBus().Transport())
	require.NoError(t, err)
	defer m.Disconnect(ctx)

	err = m.Write(ctx, amm.Status{Capability: "Foo"})
	assert.ErrorIs(t, err, gateway.ErrWrite)
	assert.ErrorIs(t, err, gateway.ErrPublisherNotRegistered)
}

func TestWriteTransportFailureIsWriteError(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	m, err := gateway.Connect(ctx, failingTransport{publishErr: errors.New("link down")}, gateway.WithObserver(obs))
	require.NoError(t, err)

	_, err = m.Initialize(amm.TopicStatus)
	require.NoError(t, err)
	_, err = m.RegisterPublisher(amm.TopicStatus)
	require.NoError(t, err)

	err = m.Write(ctx, amm.Status{Capability: "Foo"})
	assert.Equal(t, gateway.KindWrite, gateway.KindOf(err))
	assert.Equal(t, 1, obs.failures)

	_, err = m.Initialize(amm.TopicTick)
	require.NoError(t, err)
	_, err = m.RegisterSubscriber(gateway.OnTick(func(context.Context, amm.Tick) {}))
	assert.ErrorIs(t, err, gateway.ErrRegistration)
}

func TestWriteAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	m, err := gateway.Connect(ctx, memory.NewBus().Transport())
	require.NoError(t, err)
	_, _ = m.Initialize(amm.TopicStatus)
	_, _ = m.RegisterPublisher(amm.TopicStatus)

	require.NoError(t, m.Disconnect(ctx))
	require.NoError(t, m.Disconnect(ctx))

	err = m.Write(ctx, amm.Status{})
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
	assert.ErrorIs(t, err, gateway.ErrWrite)
}

func TestPublishSubscribeBetweenManagers(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()
	obs := &countingObserver{}

	sender, err := gateway.Connect(ctx, bus.Transport(), gateway.WithSource("amm://sender"))
	require.NoError(t, err)
	defer sender.Disconnect(ctx)
	receiver, err := gateway.Connect(ctx, bus.Transport(), gateway.WithObserver(obs))
	require.NoError(t, err)
	defer receiver.Disconnect(ctx)

	var mu sync.Mutex
	var frames []uint64
	var infos []gateway.SampleInfo

	_, err = receiver.Initialize(amm.TopicTick)
	require.NoError(t, err)
	_, err = receiver.RegisterSubscriber(gateway.OnTick(func(ctx context.Context, tick amm.Tick) {
		info, _ := gateway.SampleInfoFromContext(ctx)
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, tick.Frame)
		infos = append(infos, info)
	}))
	require.NoError(t, err)

	_, err = sender.Initialize(amm.TopicTick)
	require.NoError(t, err)
	_, err = sender.RegisterPublisher(amm.TopicTick)
	require.NoError(t, err)

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, sender.Write(ctx, amm.Tick{Frame: i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 20
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f, "ticks must arrive in publication order")
	}
	assert.Equal(t, "amm://sender", infos[0].Source)
	assert.Equal(t, amm.TopicTick, infos[0].Topic)
	assert.Equal(t, "amm.tick", infos[0].Subject)
	assert.Equal(t, 20, obs.received)
}

func TestOwnSamplesAreNotEchoed(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()

	m, err := gateway.Connect(ctx, bus.Transport(), gateway.WithSource("amm://self"))
	require.NoError(t, err)
	defer m.Disconnect(ctx)
	echo, err := gateway.Connect(ctx, bus.Transport(), gateway.WithSource("amm://self"), gateway.WithEcho(true))
	require.NoError(t, err)
	defer echo.Disconnect(ctx)

	var mu sync.Mutex
	own, echoed := 0, 0
	for _, mgr := range []*gateway.Manager{m, echo} {
		_, err = mgr.Initialize(amm.TopicStatus)
		require.NoError(t, err)
	}
	_, err = m.RegisterPublisher(amm.TopicStatus)
	require.NoError(t, err)
	_, err = m.RegisterSubscriber(gateway.OnStatus(func(context.Context, amm.Status) {
		mu.Lock()
		own++
		mu.Unlock()
	}))
	require.NoError(t, err)
	_, err = echo.RegisterSubscriber(gateway.OnStatus(func(context.Context, amm.Status) {
		mu.Lock()
		echoed++
		mu.Unlock()
	}))
	require.NoError(t, err)

	require.NoError(t, m.Write(ctx, amm.Status{Capability: "Foo"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return echoed == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, own)
}

func TestUndecodableSamplesAreCounted(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()
	obs := &countingObserver{}

	m, err := gateway.Connect(ctx, bus.Transport(), gateway.WithObserver(obs))
	require.NoError(t, err)
	defer m.Disconnect(ctx)

	_, err = m.Initialize(amm.TopicSimulationControl)
	require.NoError(t, err)
	_, err = m.RegisterSubscriber(gateway.OnSimulationControl(func(context.Context, amm.SimulationControl) {
		t.Error("handler must not run for garbage")
	}))
	require.NoError(t, err)

	raw := bus.Transport()
	require.NoError(t, raw.Connect(ctx))
	require.NoError(t, raw.Publish(ctx, m.Subject(amm.TopicSimulationControl), []byte("garbage")))

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.decode == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubjectPrefix(t *testing.T) {
	m, err := gateway.Connect(context.Background(), memory.NewBus().Transport(), gateway.WithSubjectPrefix("site1"))
	require.NoError(t, err)
	assert.Equal(t, "site1.simulation_control", m.Subject(amm.TopicSimulationControl))
	assert.NotEmpty(t, m.GenerateIdentifier())
	assert.NotEqual(t, m.GenerateIdentifier(), m.GenerateIdentifier())
}
