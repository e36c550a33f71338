package sender

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mesh-udp-sender/mesh"
	"mesh-udp-sender/message"
	ipv6 "mesh-udp-sender/network/ip/v6"
	"mesh-udp-sender/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

var errRouting = errors.New("routing failure")

type sentDatagram struct {
	at      time.Time
	payload []byte
	dst     mesh.SockAddr
}

// fakeInstance is a stack whose pool counts every ownership event and
// whose failures are scripted per cycle (1-based).
type fakeInstance struct {
	clock clock.Clock
	pool  *message.Pool

	mu         sync.Mutex
	role       mesh.Role
	cycle      int
	allocFail  map[int]bool
	sendFail   map[int]bool
	openErr    error
	opened     bool
	openedAt   time.Time
	openedRole mesh.Role
	closed     bool
	sent       []sentDatagram
	settings   []message.Settings

	starts chan time.Time
}

func newFakeInstance(c clock.Clock) *fakeInstance {
	return &fakeInstance{
		clock:     c,
		pool:      message.NewPool(message.PoolOptions{Size: 2, BufferCap: 64}),
		role:      mesh.RoleChild,
		allocFail: make(map[int]bool),
		sendFail:  make(map[int]bool),
		starts:    make(chan time.Time, 64),
	}
}

func (f *fakeInstance) Role() mesh.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *fakeInstance) setRole(r mesh.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = r
}

func (f *fakeInstance) NewMessage(settings message.Settings) (*message.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cycle++
	f.settings = append(f.settings, settings)
	f.starts <- f.clock.Now()

	if f.allocFail[f.cycle] {
		return nil, message.ErrPoolExhausted
	}
	return f.pool.Allocate(settings)
}

func (f *fakeInstance) OpenUDP(mesh.ReceiveFunc) (mesh.UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = true
	f.openedAt = f.clock.Now()
	f.openedRole = f.role
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeSocket{f: f}, nil
}

type fakeSocket struct{ f *fakeInstance }

func (s *fakeSocket) LocalPort() uint16 { return 49152 }

func (s *fakeSocket) Send(buf *message.Buffer, dst mesh.SockAddr) error {
	f := s.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendFail[f.cycle] {
		return errRouting
	}
	return buf.Handoff(func(data []byte) error {
		f.sent = append(f.sent, sentDatagram{at: f.clock.Now(), payload: bytes.Clone(data), dst: dst})
		return nil
	})
}

func (s *fakeSocket) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.closed = true
	return nil
}

type SenderTestSuite struct {
	suite.Suite

	clock *clock.Mock
	inst  *fakeInstance
	dest  StaticDestination
	opts  Options

	cancel context.CancelFunc
	done   chan error
}

func TestSenderTestSuite(t *testing.T) {
	suite.Run(t, new(SenderTestSuite))
}

func (s *SenderTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.inst = newFakeInstance(s.clock)

	var err error
	s.dest, err = ParseDestination("fdde:ad00:beef::2", 1234)
	s.Require().NoError(err)

	s.opts = DefaultOptions()
}

func (s *SenderTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.wait()
		s.cancel = nil
	}
	goleak.VerifyNone(s.T())
}

func (s *SenderTestSuite) start(provider mesh.InstanceProvider, dest Destination) *Sender {
	sndr := New(provider, dest, slog.New(slog.NewTextHandler(io.Discard, nil)), s.clock, s.opts)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)
	go func() { s.done <- sndr.Run(ctx) }()

	return sndr
}

func (s *SenderTestSuite) wait() error {
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("sender did not stop")
		return nil
	}
}

func (s *SenderTestSuite) stop() error {
	s.cancel()
	s.cancel = nil
	return s.wait()
}

func (s *SenderTestSuite) nextStart() time.Time {
	select {
	case at := <-s.inst.starts:
		return at
	case <-time.After(5 * time.Second):
		s.FailNow("cycle did not start")
		return time.Time{}
	}
}

// runCycles observes n cycle starts, moving the clock one interval between them.
func (s *SenderTestSuite) runCycles(n int) []time.Time {
	starts := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			s.clock.Add(s.opts.Interval)
		}
		starts = append(starts, s.nextStart())
	}
	return starts
}

func (s *SenderTestSuite) assertSpacing(starts []time.Time, origin time.Time) {
	for i, at := range starts {
		s.Equal(origin.Add(time.Duration(i)*s.opts.Interval), at, "cycle %d", i+1)
	}
}

func (s *SenderTestSuite) TestScenario() {
	origin := s.clock.Now()
	s.start(mesh.Static(s.inst), s.dest)

	starts := s.runCycles(3)
	s.ErrorIs(s.stop(), context.Canceled)

	s.assertSpacing(starts, origin)

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	s.Require().Len(s.inst.sent, 3)
	for i, d := range s.inst.sent {
		s.Equal([]byte("Hello from esp_ot_udp_sender"), d.payload)
		s.Equal("[fdde:ad00:beef::2]:1234", d.dst.String())
		s.Equal(origin.Add(time.Duration(i)*10*time.Second), d.at)
	}
	s.True(s.inst.closed)
}

func (s *SenderTestSuite) TestFailuresAreIndependentAndBuffersOwnedOnce() {
	// 1: ok, 2: pool exhausted, 3: append rejected, 4: send rejected, 5: ok
	s.inst.allocFail[2] = true
	s.inst.sendFail[4] = true

	var calls int
	s.opts.Payload = func() []byte {
		calls++
		if calls == 3 {
			return bytes.Repeat([]byte("x"), 65) // over BufferCap
		}
		return []byte(DefaultPayload)
	}

	origin := s.clock.Now()
	sndr := s.start(mesh.Static(s.inst), s.dest)

	starts := s.runCycles(5)
	s.ErrorIs(s.stop(), context.Canceled)

	s.assertSpacing(starts, origin)

	stats := s.inst.pool.Stats()
	s.Equal(uint64(4), stats.Allocated)
	s.Equal(uint64(2), stats.Released, "append and send failures release")
	s.Equal(uint64(2), stats.Transferred, "successful sends transfer")
	s.Zero(stats.InUse())
	s.Equal(uint(2), s.inst.pool.Available())

	s.Equal(Stats{Cycles: 5, Sent: 2, AllocFailed: 1, AppendFailed: 1, SendFailed: 1}, sndr.Stats())

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	s.Require().Len(s.inst.sent, 2)
	s.Equal(origin, s.inst.sent[0].at)
	s.Equal(origin.Add(4*s.opts.Interval), s.inst.sent[1].at)
}

func (s *SenderTestSuite) TestUnresolvableDestinationStops() {
	errMalformed := errors.New("malformed address")

	var calls int
	dest := DestinationFunc(func() (transport.Endpoint, error) {
		calls++
		if calls == 2 {
			return transport.Endpoint{}, errMalformed
		}
		return transport.Endpoint(s.dest), nil
	})

	s.start(mesh.Static(s.inst), dest)
	s.runCycles(2)

	err := s.wait()
	s.cancel = nil
	s.ErrorIs(err, ErrInvalidDestination)
	s.ErrorIs(err, errMalformed)

	var destErr *DestinationError
	s.Require().ErrorAs(err, &destErr)
	s.Equal(errMalformed, destErr.Err)

	stats := s.inst.pool.Stats()
	s.Equal(uint64(2), stats.Allocated)
	s.Equal(uint64(1), stats.Transferred)
	s.Equal(uint64(1), stats.Released, "buffer is released before stopping")
	s.Zero(stats.InUse())

	// No further cycle is attempted.
	s.clock.Add(s.opts.Interval)
	s.Empty(s.inst.starts)
	s.True(s.inst.closed)
}

func (s *SenderTestSuite) TestZeroOptionsUseDefaultMessageSettings() {
	s.opts = Options{Interval: time.Second}

	s.start(mesh.Static(s.inst), s.dest)
	s.runCycles(2)
	s.ErrorIs(s.stop(), context.Canceled)

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	s.Require().Len(s.inst.settings, 2)
	for _, got := range s.inst.settings {
		s.Equal(message.Settings{LinkSecurity: true, Priority: message.PriorityNormal}, got)
	}
	s.Require().NotEmpty(s.inst.sent)
	s.Equal([]byte(DefaultPayload), s.inst.sent[0].payload)
}

func (s *SenderTestSuite) TestExplicitMessageSettings() {
	settings := message.Settings{LinkSecurity: false, Priority: message.PriorityLow}
	s.opts.Settings = &settings

	s.start(mesh.Static(s.inst), s.dest)
	s.nextStart()
	settings.Priority = message.PriorityHigh // changes after New are not seen
	s.clock.Add(s.opts.Interval)
	s.nextStart()
	s.ErrorIs(s.stop(), context.Canceled)

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	s.Require().Len(s.inst.settings, 2)
	for _, got := range s.inst.settings {
		s.Equal(message.Settings{LinkSecurity: false, Priority: message.PriorityLow}, got)
	}
}

func (s *SenderTestSuite) TestOpenFailureStops() {
	s.inst.openErr = errors.New("no sockets left")

	s.start(mesh.Static(s.inst), s.dest)

	err := s.wait()
	s.cancel = nil
	s.ErrorIs(err, transport.ErrOpen)
	s.Zero(s.inst.pool.Stats().Allocated)
	s.Empty(s.inst.starts)
}

func (s *SenderTestSuite) TestWaitsForReadinessBeforeOpening() {
	origin := s.clock.Now()
	s.inst.setRole(mesh.RoleDetached)

	provider := mesh.ProviderFunc(func() mesh.Instance {
		if s.clock.Since(origin) < 300*time.Millisecond {
			return nil
		}
		return s.inst
	})
	s.start(provider, s.dest)

	// Poll the gate forward until the first cycle starts.
	deadline := time.After(5 * time.Second)
	var first time.Time
loop:
	for {
		select {
		case first = <-s.inst.starts:
			break loop
		case <-deadline:
			s.FailNow("sender never started")
		default:
			if s.clock.Since(origin) >= time.Second {
				s.inst.setRole(mesh.RoleChild)
			}
			s.clock.Add(100 * time.Millisecond)
		}
	}
	s.ErrorIs(s.stop(), context.Canceled)

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	s.True(s.inst.opened)
	s.True(s.inst.openedRole.Attached(), "socket opened before attaching")
	s.GreaterOrEqual(s.inst.openedAt.Sub(origin), time.Second)
	s.False(first.Before(s.inst.openedAt))
}

func (s *SenderTestSuite) TestCancelWhileWaitingForInstance() {
	s.start(mesh.ProviderFunc(func() mesh.Instance { return nil }), s.dest)

	s.clock.Add(100 * time.Millisecond)
	s.ErrorIs(s.stop(), context.Canceled)

	s.False(s.inst.opened)
}

func TestParseDestination(t *testing.T) {
	dest, err := ParseDestination("fdde:ad00:beef::2", 1234)
	require.NoError(t, err)

	ep, err := dest.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ipv6.MustParseAddr("fdde:ad00:beef::2"), ep.Addr)
	assert.Equal(t, uint16(1234), ep.Port)

	_, err = ParseDestination("fdde:ad00:beef::2::", 1234)
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.ErrorIs(t, err, transport.ErrInvalidEndpoint, "parse cause stays in the chain")
}

func TestNewRequiresDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Panics(t, func() { New(nil, StaticDestination{}, logger, clock.NewMock(), DefaultOptions()) })
	assert.Panics(t, func() { New(mesh.Static(nil), nil, logger, clock.NewMock(), DefaultOptions()) })
}
