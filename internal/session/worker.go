// Package session runs one drop copy worker per configured FIX session and
// supervises them as a group.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/dispatch"
	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/resend"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrNoSessions       = errors.New("no sessions configured")
	ErrDuplicateSession = errors.New("duplicate session name")
	ErrAlreadyRunning   = errors.New("supervisor already running")
	ErrNotRunning       = errors.New("session not running")
)

// State is a worker lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options configures a Worker. Only Name, SettingsPath and OpenStore are
// required.
type Options struct {
	Name         string
	SettingsPath string
	OpenStore    store.Opener
	Handlers     handler.Factory
	Sender       resend.Sender
	GapFill      bool
	LogFactory   quickfix.LogFactory
	Connect      ConnectorFactory
	Logger       *zap.Logger
}

// Status is a point-in-time view of a worker.
type Status struct {
	Name           string     `json:"name"`
	SettingsPath   string     `json:"settings_path"`
	RunID          string     `json:"run_id"`
	State          State      `json:"state"`
	Error          string     `json:"error,omitempty"`
	StoredMessages int        `json:"stored_messages"`
	LastEvent      string     `json:"last_event,omitempty"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

// Worker owns the message store, dispatcher and resend engine of one
// session and runs the engine connector until its context ends.
type Worker struct {
	opts   Options
	runID  uuid.UUID
	logger *zap.Logger

	mu          sync.RWMutex
	state       State
	err         error
	lastEvent   dispatch.EventKind
	lastEventAt time.Time
	startedAt   time.Time

	// storeMu guards use of st against it being closed.
	storeMu sync.RWMutex
	st      store.Store
}

// NewWorker creates a worker in the Starting state.
func NewWorker(opts Options) *Worker {
	if opts.Handlers == nil {
		opts.Handlers = func(string) handler.Handler { return handler.Nop }
	}
	if opts.Sender == nil {
		opts.Sender = resend.EngineSender{}
	}
	if opts.LogFactory == nil {
		opts.LogFactory = quickfix.NewNullLogFactory()
	}
	if opts.Connect == nil {
		opts.Connect = NewInitiator
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	w := &Worker{
		opts:   opts,
		runID:  uuid.New(),
		logger: opts.Logger.With(zap.String("session", opts.Name)),
	}
	metrics.SessionState.WithLabelValues(opts.Name).Set(float64(StateStarting))
	return w
}

// Name returns the session name.
func (w *Worker) Name() string { return w.opts.Name }

// Run establishes the session and blocks until ctx ends, then stops the
// connector and releases the store. An establishment failure is returned and
// leaves the worker Stopped.
func (w *Worker) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		w.setState(StateStopped)
		return nil
	}

	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()
	w.logger.Info("Starting session", zap.String("settings", w.opts.SettingsPath), zap.Stringer("run_id", w.runID))

	settings, err := LoadSettings(w.opts.SettingsPath)
	if err != nil {
		return w.fail(err)
	}

	st, err := w.opts.OpenStore(ctx, w.opts.Name)
	if err != nil {
		return w.fail(fmt.Errorf("failed to open message store: %w", err))
	}
	w.storeMu.Lock()
	w.st = st
	w.storeMu.Unlock()

	engine := resend.New(st, w.opts.Sender,
		resend.WithGapFill(w.opts.GapFill),
		resend.WithLogger(w.logger),
		resend.WithSession(w.opts.Name))
	app := dispatch.New(ctx, dispatch.Config{
		Session:  w.opts.Name,
		Store:    st,
		Handler:  w.opts.Handlers(w.opts.Name),
		Resender: engine,
		Logger:   w.logger,
		OnEvent:  w.recordEvent,
	})

	conn, err := w.opts.Connect(app, engineStoreFactory(settings), settings, w.opts.LogFactory)
	if err != nil {
		w.closeStore()
		return w.fail(fmt.Errorf("failed to create connector: %w", err))
	}
	if err := conn.Start(); err != nil {
		w.closeStore()
		return w.fail(fmt.Errorf("failed to start connector: %w", err))
	}

	w.setState(StateRunning)
	w.logger.Info("Session running")

	<-ctx.Done()

	w.setState(StateStopping)
	w.logger.Info("Stopping session")
	conn.Stop()
	w.closeStore()
	w.setState(StateStopped)
	w.logger.Info("Session stopped")
	return nil
}

// Lookup reads one stored message of a running worker.
func (w *Worker) Lookup(seqNum uint64) (*quickfix.Message, bool, error) {
	w.storeMu.RLock()
	defer w.storeMu.RUnlock()
	if w.st == nil {
		return nil, false, ErrNotRunning
	}
	msg, ok := w.st.Lookup(seqNum)
	return msg, ok, nil
}

// Status reports the worker's current state.
func (w *Worker) Status() Status {
	stored := -1
	w.storeMu.RLock()
	if w.st != nil {
		stored = store.Len(w.st)
	}
	w.storeMu.RUnlock()

	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Status{
		Name:           w.opts.Name,
		SettingsPath:   w.opts.SettingsPath,
		RunID:          w.runID.String(),
		State:          w.state,
		StoredMessages: stored,
		LastEvent:      string(w.lastEvent),
	}
	if w.err != nil {
		s.Error = w.err.Error()
	}
	if !w.lastEventAt.IsZero() {
		at := w.lastEventAt
		s.LastEventAt = &at
	}
	if !w.startedAt.IsZero() {
		at := w.startedAt
		s.StartedAt = &at
	}
	return s
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err returns the error that stopped the worker, if any.
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	metrics.SessionState.WithLabelValues(w.opts.Name).Set(float64(s))
}

func (w *Worker) fail(err error) error {
	w.mu.Lock()
	w.err = err
	w.state = StateStopped
	w.mu.Unlock()
	metrics.SessionState.WithLabelValues(w.opts.Name).Set(float64(StateStopped))
	metrics.SessionFailures.WithLabelValues(w.opts.Name).Inc()
	return err
}

func (w *Worker) recordEvent(e dispatch.Event) {
	w.mu.Lock()
	w.lastEvent = e.Kind
	w.lastEventAt = e.At
	w.mu.Unlock()
}

func (w *Worker) closeStore() {
	w.storeMu.Lock()
	st := w.st
	w.st = nil
	w.storeMu.Unlock()
	if st == nil {
		return
	}
	if err := store.Close(st); err != nil {
		w.logger.Warn("Failed to close message store", zap.Error(err))
	}
}
