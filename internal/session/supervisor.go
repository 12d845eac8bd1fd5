package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quickfixgo/quickfix"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Supervisor runs one Worker per settings file. Each worker has its own
// cancellation token so it can be stopped alone; StopAll or cancelling the
// context given to Run stops them all.
type Supervisor struct {
	logger  *zap.Logger
	workers []*Worker
	byName  map[string]*Worker
	ctxs    map[string]context.Context
	cancels map[string]context.CancelFunc

	mu      sync.Mutex
	running bool
}

// SessionName derives a worker name from its settings path: the base name
// without extension.
func SessionName(settingsPath string) string {
	base := filepath.Base(settingsPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NewSupervisor prepares a worker per settings path, in order. base supplies
// everything except Name and SettingsPath.
func NewSupervisor(settingsPaths []string, base Options) (*Supervisor, error) {
	if len(settingsPaths) == 0 {
		return nil, ErrNoSessions
	}
	logger := base.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{
		logger:  logger,
		byName:  make(map[string]*Worker, len(settingsPaths)),
		ctxs:    make(map[string]context.Context, len(settingsPaths)),
		cancels: make(map[string]context.CancelFunc, len(settingsPaths)),
	}
	for _, path := range settingsPaths {
		name := SessionName(path)
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, name)
		}
		opts := base
		opts.Name = name
		opts.SettingsPath = path
		w := NewWorker(opts)

		ctx, cancel := context.WithCancel(context.Background())
		s.workers = append(s.workers, w)
		s.byName[name] = w
		s.ctxs[name] = ctx
		s.cancels[name] = cancel
	}
	return s, nil
}

// Run starts every worker concurrently and returns once all of them have
// stopped. Worker failures are logged and recorded in their status; they do
// not stop siblings and are not returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting sessions", zap.Int("count", len(s.workers)))

	var wg conc.WaitGroup
	for _, w := range s.workers {
		w := w
		wctx := s.ctxs[w.Name()]
		unlink := context.AfterFunc(ctx, s.cancels[w.Name()])
		wg.Go(func() {
			defer unlink()
			s.runWorker(wctx, w)
		})
	}
	wg.Wait()

	failed := 0
	for _, w := range s.workers {
		if w.Err() != nil {
			failed++
		}
	}
	s.logger.Info("All sessions stopped", zap.Int("failed", failed))
	return nil
}

func (s *Supervisor) runWorker(ctx context.Context, w *Worker) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = w.Run(ctx) })
	if r := pc.Recovered(); r != nil {
		w.closeStore()
		err = w.fail(fmt.Errorf("session worker panicked: %w", r.AsError()))
	}
	if err != nil {
		s.logger.Error("Session failed", zap.String("session", w.Name()), zap.Error(err))
	}
}

// Stop cancels one worker.
func (s *Supervisor) Stop(name string) error {
	cancel, ok := s.cancels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	s.logger.Info("Stop requested", zap.String("session", name))
	cancel()
	return nil
}

// StopAll cancels every worker.
func (s *Supervisor) StopAll() {
	s.logger.Info("Stop requested for all sessions")
	for _, w := range s.workers {
		s.cancels[w.Name()]()
	}
}

// Worker returns the named worker.
func (s *Supervisor) Worker(name string) (*Worker, bool) {
	w, ok := s.byName[name]
	return w, ok
}

// Sessions returns the status of every worker in configuration order.
func (s *Supervisor) Sessions() []Status {
	out := make([]Status, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Status())
	}
	return out
}

// Status returns the named worker's status.
func (s *Supervisor) Status(name string) (Status, error) {
	w, ok := s.byName[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	return w.Status(), nil
}

// Lookup reads a stored message from the named session.
func (s *Supervisor) Lookup(name string, seqNum uint64) (*quickfix.Message, bool, error) {
	w, ok := s.byName[name]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	return w.Lookup(seqNum)
}
