package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/config"
	"mt5-trade-bot-go/internal/terminal"
)

// MockTerminal is a mock implementation of the terminal.Client interface.
type MockTerminal struct {
	mock.Mock
}

func (m *MockTerminal) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTerminal) Login(ctx context.Context, account int64, password, server string) error {
	args := m.Called(ctx, account, password, server)
	return args.Error(0)
}

func (m *MockTerminal) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTerminal) AccountInfo(ctx context.Context) (*terminal.AccountInfo, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*terminal.AccountInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTerminal) SymbolTick(ctx context.Context, symbol string) (*terminal.Tick, error) {
	args := m.Called(ctx, symbol)
	if v := args.Get(0); v != nil {
		return v.(*terminal.Tick), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTerminal) CopyRatesFromPos(ctx context.Context, symbol string, timeframe terminal.Timeframe, start, count int) ([]terminal.Rate, error) {
	args := m.Called(ctx, symbol, timeframe, start, count)
	if v := args.Get(0); v != nil {
		return v.([]terminal.Rate), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(term terminal.Client) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Now()}
	creds := Credentials{Account: 12345, Password: "pw", Server: "Broker-Demo"}
	m := NewManager(term, creds, &config.Connection{}, zap.NewNop())
	m.now = clock.Now
	return m, clock
}

func TestConnectSuccess(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, int64(12345), "pw", "Broker-Demo").Return(nil)
	m, _ := newTestManager(term)

	// Act
	ok := m.Connect(context.Background())

	// Assert
	assert.True(t, ok)
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsConnected())
	term.AssertExpectations(t)
	term.AssertNotCalled(t, "Shutdown", mock.Anything)
}

func TestConnectThrottlesRepeatedAttempts(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, clock := newTestManager(term)

	// Act: two calls 2 seconds apart
	first := m.Connect(context.Background())
	clock.Advance(2 * time.Second)
	second := m.Connect(context.Background())

	// Assert: second call reports the cached state without touching the terminal
	assert.True(t, first)
	assert.True(t, second)
	term.AssertNumberOfCalls(t, "Initialize", 1)

	// Past the interval, Connect performs a real attempt again even with a
	// live session; short-circuiting on existing sessions is
	// EnsureConnection's job.
	clock.Advance(4 * time.Second)
	assert.True(t, m.Connect(context.Background()))
	term.AssertNumberOfCalls(t, "Initialize", 2)
}

func TestConnectThrottleCachesFailure(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(errors.New("terminal offline"))
	term.On("Shutdown", mock.Anything).Return(nil)
	m, clock := newTestManager(term)

	// Act
	first := m.Connect(context.Background())
	clock.Advance(2 * time.Second)
	second := m.Connect(context.Background())

	// Assert
	assert.False(t, first)
	assert.False(t, second)
	term.AssertNumberOfCalls(t, "Initialize", 1)

	// A call after the minimum spacing is allowed through again.
	clock.Advance(4 * time.Second)
	assert.False(t, m.Connect(context.Background()))
	term.AssertNumberOfCalls(t, "Initialize", 2)
}

func TestConnectFailureReleasesSession(t *testing.T) {
	t.Run("InitializeFails", func(t *testing.T) {
		term := new(MockTerminal)
		term.On("Initialize", mock.Anything).Return(errors.New("init failed"))
		term.On("Shutdown", mock.Anything).Return(nil)
		m, _ := newTestManager(term)

		ok := m.Connect(context.Background())

		assert.False(t, ok)
		assert.Equal(t, StateDisconnected, m.State())
		term.AssertCalled(t, "Shutdown", mock.Anything)
	})

	t.Run("LoginFails", func(t *testing.T) {
		term := new(MockTerminal)
		term.On("Initialize", mock.Anything).Return(nil)
		term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bad credentials"))
		term.On("Shutdown", mock.Anything).Return(nil)
		m, _ := newTestManager(term)

		ok := m.Connect(context.Background())

		assert.False(t, ok)
		assert.Equal(t, StateDisconnected, m.State())
		term.AssertNumberOfCalls(t, "Shutdown", 1)
	})
}

func TestConnectRecoversPanickingTerminal(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Run(func(mock.Arguments) {
		panic("bridge exploded")
	}).Return(nil)
	term.On("Shutdown", mock.Anything).Return(nil)
	m, _ := newTestManager(term)

	// Act
	ok := m.Connect(context.Background())

	// Assert: the panic becomes a failed attempt, not a crash
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, m.State())
	term.AssertCalled(t, "Shutdown", mock.Anything)
}

func TestEnsureConnectionShortCircuits(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, clock := newTestManager(term)
	assert.True(t, m.Connect(context.Background()))

	// Act: well past the throttle window, so a short-circuit is the only
	// explanation for the attempt count staying flat
	clock.Advance(time.Minute)
	ok := m.EnsureConnection(context.Background())

	// Assert
	assert.True(t, ok)
	term.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestEnsureConnectionConnectsWhenDown(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, _ := newTestManager(term)

	// Act
	ok := m.EnsureConnection(context.Background())

	// Assert
	assert.True(t, ok)
	term.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestReconnectForcesFreshAttempt(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, clock := newTestManager(term)
	assert.True(t, m.Connect(context.Background()))

	// Act
	clock.Advance(10 * time.Second)
	ok := m.Reconnect(context.Background())

	// Assert
	assert.True(t, ok)
	term.AssertNumberOfCalls(t, "Initialize", 2)
}

func TestReconnectStillThrottled(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, clock := newTestManager(term)
	assert.True(t, m.Connect(context.Background()))

	// Act: forced reconnect right away is throttled and the forced
	// disconnect sticks until the next allowed attempt
	clock.Advance(time.Second)
	ok := m.Reconnect(context.Background())

	// Assert
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, m.State())
	term.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestConcurrentConnectSingleAttempt(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Run(func(mock.Arguments) {
		time.Sleep(20 * time.Millisecond) // hold the critical section
	}).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m, _ := newTestManager(term)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Connect(context.Background())
		}()
	}
	wg.Wait()

	// Assert: one goroutine performed the attempt, the rest observed its result
	term.AssertNumberOfCalls(t, "Initialize", 1)
	assert.True(t, m.IsConnected())
}

func TestCloseReleasesSession(t *testing.T) {
	// Arrange
	term := new(MockTerminal)
	term.On("Initialize", mock.Anything).Return(nil)
	term.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	term.On("Shutdown", mock.Anything).Return(nil)
	m, _ := newTestManager(term)
	assert.True(t, m.Connect(context.Background()))

	// Act
	m.Close(context.Background())

	// Assert
	assert.Equal(t, StateDisconnected, m.State())
	term.AssertNumberOfCalls(t, "Shutdown", 1)

	// Closing again is a no-op.
	m.Close(context.Background())
	term.AssertNumberOfCalls(t, "Shutdown", 1)
}
