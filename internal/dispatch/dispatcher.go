// Package dispatch routes every inbound message of one session to the store,
// the user handler and, for ResendRequests, the resend engine.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/resend"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

// Resender fulfils a parsed resend request.
type Resender interface {
	Fulfill(ctx context.Context, req resend.Request, sessionID quickfix.SessionID) (resend.Result, error)
}

// EventKind names an engine lifecycle callback.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventLogon  EventKind = "logon"
	EventLogout EventKind = "logout"
)

// Event is a lifecycle callback observed by the dispatcher.
type Event struct {
	Kind      EventKind
	SessionID quickfix.SessionID
	At        time.Time
}

// Config wires a Dispatcher.
type Config struct {
	Session  string
	Store    store.Store
	Handler  handler.Handler
	Resender Resender
	Logger   *zap.Logger
	// OnEvent, when set, is told about create, logon and logout.
	OnEvent func(Event)
}

// Dispatcher implements quickfix.Application for one session worker.
type Dispatcher struct {
	ctx      context.Context
	session  string
	store    store.Store
	handler  handler.Handler
	resender Resender
	logger   *zap.Logger
	onEvent  func(Event)
}

var _ quickfix.Application = (*Dispatcher)(nil)

// New creates a dispatcher. ctx bounds resend replays and is normally the
// owning worker's run context.
func New(ctx context.Context, cfg Config) *Dispatcher {
	d := &Dispatcher{
		ctx:      ctx,
		session:  cfg.Session,
		store:    cfg.Store,
		handler:  cfg.Handler,
		resender: cfg.Resender,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
	}
	if d.handler == nil {
		d.handler = handler.Nop
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Dispatch stores msg when it carries a usable MsgSeqNum, hands it to the
// user handler exactly once, and answers it when it is a ResendRequest.
// Nothing about a single message is allowed to fail the session.
func (d *Dispatcher) Dispatch(msg *quickfix.Message, sessionID quickfix.SessionID) {
	seq, err := fixmsg.SeqNum(msg)
	if err != nil {
		metrics.MessagesMalformed.WithLabelValues(d.session).Inc()
		d.logger.Warn("Message not stored",
			zap.String("msg_type", fixmsg.MsgType(msg)),
			zap.Error(err))
	} else {
		d.store.Insert(seq, msg)
		metrics.MessagesStored.WithLabelValues(d.session).Inc()
	}

	d.guard("handler", func() { d.handler.OnMessage(msg) })

	if fixmsg.MsgType(msg) == fixmsg.MsgTypeResendRequest {
		d.guard("resend", func() { d.resend(msg, sessionID) })
	}
}

// guard runs fn on the engine's goroutine, where a panic would take down
// every session in the process, and turns a panic into a logged error.
func (d *Dispatcher) guard(stage string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		metrics.HandlerErrors.WithLabelValues(stage).Inc()
		d.logger.Error("Recovered panic while dispatching",
			zap.String("stage", stage),
			zap.Error(r.AsError()))
	}
}

func (d *Dispatcher) resend(msg *quickfix.Message, sessionID quickfix.SessionID) {
	req, err := resend.ParseRequest(msg)
	if err != nil {
		metrics.ResendRequests.WithLabelValues(d.session, "invalid").Inc()
		d.logger.Warn("Dropping resend request", zap.Error(err))
		return
	}
	if d.resender == nil {
		return
	}

	res, err := d.resender.Fulfill(d.ctx, req, sessionID)
	switch {
	case err == nil:
		metrics.ResendRequests.WithLabelValues(d.session, "ok").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ResendRequests.WithLabelValues(d.session, "canceled").Inc()
		d.logger.Info("Resend interrupted by shutdown",
			zap.Stringer("range", req),
			zap.Int("sent", res.Sent))
	default:
		metrics.ResendRequests.WithLabelValues(d.session, "send_failed").Inc()
		d.logger.Error("Resend request failed",
			zap.Stringer("range", req),
			zap.Int("sent", res.Sent),
			zap.Error(err))
	}
}

// FromAdmin implements quickfix.Application. It never rejects.
func (d *Dispatcher) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	metrics.MessagesReceived.WithLabelValues(d.session, "admin").Inc()
	d.Dispatch(msg, sessionID)
	return nil
}

// FromApp implements quickfix.Application. It never rejects.
func (d *Dispatcher) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	metrics.MessagesReceived.WithLabelValues(d.session, "app").Inc()
	d.Dispatch(msg, sessionID)
	return nil
}

// OnCreate implements quickfix.Application.
func (d *Dispatcher) OnCreate(sessionID quickfix.SessionID) {
	d.logger.Info("Session created", zap.Stringer("fix_session", sessionID))
	d.notify(EventCreate, sessionID)
}

// OnLogon implements quickfix.Application.
func (d *Dispatcher) OnLogon(sessionID quickfix.SessionID) {
	d.logger.Info("Logon", zap.Stringer("fix_session", sessionID))
	d.notify(EventLogon, sessionID)
}

// OnLogout implements quickfix.Application.
func (d *Dispatcher) OnLogout(sessionID quickfix.SessionID) {
	d.logger.Info("Logout", zap.Stringer("fix_session", sessionID))
	d.notify(EventLogout, sessionID)
}

// ToAdmin implements quickfix.Application.
func (d *Dispatcher) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {
	d.logger.Debug("Sending admin message", zap.String("msg_type", fixmsg.MsgType(msg)))
}

// ToApp implements quickfix.Application.
func (d *Dispatcher) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	d.logger.Debug("Sending app message", zap.String("msg_type", fixmsg.MsgType(msg)))
	return nil
}

func (d *Dispatcher) notify(kind EventKind, sessionID quickfix.SessionID) {
	if d.onEvent != nil {
		d.onEvent(Event{Kind: kind, SessionID: sessionID, At: time.Now()})
	}
}
