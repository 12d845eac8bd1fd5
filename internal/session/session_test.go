package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/resend"
	"github.com/Aidin1998/dropcopy/internal/store"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	mu       sync.Mutex
	app      quickfix.Application
	startErr error
	panicMsg string
	started  bool
	stopped  bool
}

func (c *fakeConn) Start() error {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return c.startErr
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeConn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// fakeEngine hands out one fakeConn per session, keyed by the settings'
// TargetCompID.
type fakeEngine struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{conns: make(map[string]*fakeConn)}
}

func (e *fakeEngine) conn(target string) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[target]
	if !ok {
		c = &fakeConn{}
		e.conns[target] = c
	}
	return c
}

func (e *fakeEngine) app(target string) quickfix.Application {
	c := e.conn(target)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.app
}

func (e *fakeEngine) connect(app quickfix.Application, _ quickfix.MessageStoreFactory, settings *quickfix.Settings, _ quickfix.LogFactory) (Connector, error) {
	for id := range settings.SessionSettings() {
		c := e.conn(id.TargetCompID)
		c.mu.Lock()
		c.app = app
		c.mu.Unlock()
		return c, nil
	}
	return nil, errors.New("no session in settings")
}

func writeSettings(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".cfg")
	body := fmt.Sprintf(`[DEFAULT]
SocketConnectHost=127.0.0.1
SocketConnectPort=5001
HeartBtInt=30
ReconnectInterval=5

[SESSION]
BeginString=FIX.4.4
SenderCompID=DROPCOPY
TargetCompID=%s
`, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testOptions(engine *fakeEngine) Options {
	return Options{
		OpenStore: func(context.Context, string) (store.Store, error) { return store.NewMemoryStore(), nil },
		Connect:   engine.connect,
		Sender:    resend.SenderFunc(func(*quickfix.Message, quickfix.SessionID) error { return nil }),
	}
}

func waitState(t *testing.T, w *Worker, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return w.State() == want }, waitFor, 5*time.Millisecond,
		"worker %s never reached %s", w.Name(), want)
}

func TestSessionName(t *testing.T) {
	assert.Equal(t, "venue_a", SessionName("sessions/venue_a.cfg"))
	assert.Equal(t, "venue", SessionName("/etc/dropcopy/venue"))
}

func TestWorkerLifecycle(t *testing.T) {
	engine := newFakeEngine()
	opts := testOptions(engine)
	opts.Name = "venue_a"
	opts.SettingsPath = writeSettings(t, t.TempDir(), "venue_a")
	w := NewWorker(opts)
	assert.Equal(t, StateStarting, w.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitState(t, w, StateRunning)
	app := engine.app("venue_a")
	require.NotNil(t, app)
	assert.Nil(t, app.FromApp(fixmsgtest.ExecutionReport(3, "C3"), fixmsgtest.SessionID))
	app.OnLogon(fixmsgtest.SessionID)

	msg, ok, err := w.Lookup(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "C3", fixmsg.Field(msg, fixmsg.TagClOrdID))

	st := w.Status()
	assert.Equal(t, "venue_a", st.Name)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 1, st.StoredMessages)
	assert.Equal(t, "logon", st.LastEvent)
	assert.NotNil(t, st.StartedAt)
	assert.NotEmpty(t, st.RunID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, StateStopped, w.State())
	assert.True(t, engine.conn("venue_a").isStopped())
	assert.NoError(t, w.Err())

	_, _, err = w.Lookup(3)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestWorkerStartFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.conn("venue_a").startErr = errors.New("connection refused")
	opts := testOptions(engine)
	opts.Name = "venue_a"
	opts.SettingsPath = writeSettings(t, t.TempDir(), "venue_a")
	w := NewWorker(opts)

	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, err, w.Err())
	assert.Contains(t, w.Status().Error, "connection refused")
}

func TestWorkerMissingSettings(t *testing.T) {
	opts := testOptions(newFakeEngine())
	opts.Name = "ghost"
	opts.SettingsPath = filepath.Join(t.TempDir(), "ghost.cfg")

	err := NewWorker(opts).Run(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkerStoreOpenFailure(t *testing.T) {
	opts := testOptions(newFakeEngine())
	opts.Name = "venue_a"
	opts.SettingsPath = writeSettings(t, t.TempDir(), "venue_a")
	opts.OpenStore = func(context.Context, string) (store.Store, error) { return nil, errors.New("disk full") }

	err := NewWorker(opts).Run(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestWorkerCancelledBeforeStart(t *testing.T) {
	engine := newFakeEngine()
	opts := testOptions(engine)
	opts.Name = "venue_a"
	opts.SettingsPath = writeSettings(t, t.TempDir(), "venue_a")
	w := NewWorker(opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, w.Run(ctx))
	assert.Equal(t, StateStopped, w.State())
	assert.Nil(t, engine.app("venue_a"))
}

func TestWorkerAnswersResendRequest(t *testing.T) {
	engine := newFakeEngine()
	var mu sync.Mutex
	var replayed []uint64
	opts := testOptions(engine)
	opts.Name = "venue_a"
	opts.SettingsPath = writeSettings(t, t.TempDir(), "venue_a")
	opts.Sender = resend.SenderFunc(func(msg *quickfix.Message, _ quickfix.SessionID) error {
		n, err := fixmsg.SeqNum(msg)
		if err != nil {
			return err
		}
		mu.Lock()
		replayed = append(replayed, n)
		mu.Unlock()
		return nil
	})
	var handled int
	opts.Handlers = func(string) handler.Handler {
		return handler.Func(func(*quickfix.Message) { handled++ })
	}
	w := NewWorker(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	waitState(t, w, StateRunning)

	app := engine.app("venue_a")
	for _, n := range []uint64{5, 7} {
		app.FromApp(fixmsgtest.ExecutionReport(n, "C"), fixmsgtest.SessionID)
	}
	app.FromAdmin(fixmsgtest.ResendRequest(9, "5", "8"), fixmsgtest.SessionID)

	mu.Lock()
	assert.Equal(t, []uint64{5, 7}, replayed)
	mu.Unlock()
	assert.Equal(t, 3, handled)
}
