package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	mu         sync.Mutex
	declareErr error
	qos        []int
	acks       []uint64
	closed     bool
	deliveries chan Delivery
}

func (c *fakeChannel) Qos(n int) error {
	c.qos = append(c.qos, n)
	return nil
}

func (c *fakeChannel) QueueDeclarePassive(string) error {
	if c.declareErr != nil {
		c.closed = true
	}
	return c.declareErr
}

func (c *fakeChannel) Consume(string, string) (<-chan Delivery, error) {
	if c.deliveries == nil {
		c.deliveries = make(chan Delivery, 8)
	}
	return c.deliveries, nil
}

func (c *fakeChannel) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, tag)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }
func (c *fakeChannel) Close() error   { c.closed = true; return nil }

type fakeConn struct {
	channels []*fakeChannel
	opened   int
	closed   bool
}

func (c *fakeConn) Channel() (Channel, error) {
	if c.opened >= len(c.channels) {
		return nil, errors.New("no more channels")
	}
	ch := c.channels[c.opened]
	c.opened++
	return ch, nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }
func (c *fakeConn) Close() error   { c.closed = true; return nil }

// fakeDialer fails the first `fail` dials, then hands out conns in order.
type fakeDialer struct {
	fail  int
	conns []*fakeConn
	dials int
	next  int
}

func (d *fakeDialer) Dial(context.Context) (Connection, error) {
	d.dials++
	if d.dials <= d.fail {
		return nil, errors.New("connection refused")
	}
	if d.next >= len(d.conns) {
		return nil, errors.New("no more conns")
	}
	c := d.conns[d.next]
	d.next++
	return c, nil
}

func healthyConn() *fakeConn {
	return &fakeConn{channels: []*fakeChannel{{}}}
}

func newSupervisor(d Dialer) *Supervisor {
	return NewSupervisor(Config{
		Queue:       "mt5_signals",
		BackoffBase: time.Second,
		BackoffMax:  8 * time.Second,
	}, d, zap.NewNop())
}

func TestBackoffDoublesUpToCapAndResets(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)
	assert.Equal(t, 6, b.Attempts())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffNeverOverflows(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	for i := 0; i < 100; i++ {
		d := b.Next()
		require.Positive(t, d)
		require.LessOrEqual(t, d, time.Minute)
	}
}

func TestConnectSetsQosAndState(t *testing.T) {
	conn := healthyConn()
	s := newSupervisor(&fakeDialer{conns: []*fakeConn{conn}})

	var states []ConnState
	s.OnStateChange(func(st ConnState) { states = append(states, st) })

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, []ConnState{Connecting, Connected}, states)
	assert.Equal(t, []int{1}, conn.channels[0].qos)
	assert.True(t, s.Healthy())
}

func TestConnectAccessRefusedReopensChannel(t *testing.T) {
	refused := &fakeChannel{declareErr: pkgerrors.Wrap(ErrAccessRefused, "ACCESS_REFUSED")}
	fresh := &fakeChannel{}
	conn := &fakeConn{channels: []*fakeChannel{refused, fresh}}
	s := newSupervisor(&fakeDialer{conns: []*fakeConn{conn}})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 2, conn.opened)
	assert.Equal(t, []int{1}, fresh.qos, "qos is reapplied on the new channel")
	assert.True(t, s.Healthy())
}

func TestConnectQueueNotFoundFails(t *testing.T) {
	conn := &fakeConn{channels: []*fakeChannel{{declareErr: pkgerrors.Wrap(ErrQueueNotFound, "NOT_FOUND")}}}
	s := newSupervisor(&fakeDialer{conns: []*fakeConn{conn}})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueNotFound)
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, conn.closed)
	assert.False(t, s.Healthy())
}

func TestEnsureConnectedBacksOffThenResets(t *testing.T) {
	d := &fakeDialer{fail: 4, conns: []*fakeConn{healthyConn(), healthyConn()}}
	s := newSupervisor(d)

	var waits []time.Duration
	s.wait = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}

	require.True(t, s.EnsureConnected(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)
	assert.Equal(t, 0, s.backoff.Attempts())

	// drop the session; the next failure must start from the base delay again
	d.conns[0].closed = true
	d.fail = d.dials + 1
	waits = nil

	require.True(t, s.EnsureConnected(context.Background()))
	assert.Equal(t, []time.Duration{time.Second}, waits)
	assert.Equal(t, Connected, s.State())
}

func TestEnsureConnectedIsNoopWhenHealthy(t *testing.T) {
	d := &fakeDialer{conns: []*fakeConn{healthyConn()}}
	s := newSupervisor(d)
	require.True(t, s.EnsureConnected(context.Background()))
	require.True(t, s.EnsureConnected(context.Background()))
	assert.Equal(t, 1, d.dials)
}

func TestEnsureConnectedTearsDownUnhealthySession(t *testing.T) {
	first, second := healthyConn(), healthyConn()
	s := newSupervisor(&fakeDialer{conns: []*fakeConn{first, second}})
	require.True(t, s.EnsureConnected(context.Background()))

	var states []ConnState
	s.OnStateChange(func(st ConnState) { states = append(states, st) })

	first.channels[0].closed = true
	require.True(t, s.EnsureConnected(context.Background()))

	assert.True(t, first.closed, "old connection is closed before reconnecting")
	assert.Equal(t, []ConnState{Degraded, Disconnected, Connecting, Connected}, states)
}

func TestEnsureConnectedStopsOnShutdown(t *testing.T) {
	s := newSupervisor(&fakeDialer{fail: 1 << 30})
	s.tick = 5 * time.Millisecond
	s.backoff = Backoff{Base: time.Hour, Max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	assert.False(t, s.EnsureConnected(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, s.State())
}

func TestAckWithoutSession(t *testing.T) {
	s := newSupervisor(&fakeDialer{})
	assert.ErrorIs(t, s.Ack(1), ErrNotConnected)
	_, err := s.Consume()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConsumeAndAck(t *testing.T) {
	conn := healthyConn()
	s := newSupervisor(&fakeDialer{conns: []*fakeConn{conn}})
	require.NoError(t, s.Connect(context.Background()))

	msgs, err := s.Consume()
	require.NoError(t, err)
	conn.channels[0].deliveries <- Delivery{Tag: 7, Body: []byte("{}")}
	d := <-msgs
	require.NoError(t, s.Ack(d.Tag))
	assert.Equal(t, []uint64{7}, conn.channels[0].acks)

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, Disconnected, s.State())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}
