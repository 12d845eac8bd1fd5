// Package resend answers ResendRequests from a session's message store.
package resend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quickfixgo/quickfix"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

const tracerName = "github.com/Aidin1998/dropcopy/internal/resend"

// Result summarises one fulfilled request.
type Result struct {
	Sent     int
	Skipped  uint64
	GapFills int
}

// Engine replays stored messages in response to resend requests.
type Engine struct {
	store   store.Store
	sender  Sender
	gapFill bool
	session string
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithGapFill makes the engine answer every run of missing sequence numbers
// with a SequenceReset-GapFill instead of skipping it.
func WithGapFill(enabled bool) Option {
	return func(e *Engine) { e.gapFill = enabled }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSession labels logs and metrics with the session name.
func WithSession(name string) Option {
	return func(e *Engine) { e.session = name }
}

// New creates an engine reading from st and transmitting through sender.
func New(st store.Store, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		sender: sender,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fulfill replays every stored message in req, ascending, each marked
// PossDupFlag=Y, one synchronous send at a time. Missing sequence numbers are
// skipped, or gap-filled when enabled. The first send failure stops the replay
// and is returned wrapped in ErrSendFailed; messages already sent stay sent.
func (e *Engine) Fulfill(ctx context.Context, req Request, sessionID quickfix.SessionID) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "resend.fulfill", trace.WithAttributes(
		attribute.String("fix.session", sessionID.String()),
		attribute.String("resend.begin", strconv.FormatUint(req.Begin, 10)),
		attribute.String("resend.end", strconv.FormatUint(req.End, 10)),
		attribute.Bool("resend.gap_fill", e.gapFill),
	))
	defer span.End()

	start := time.Now()
	res, err := e.replay(ctx, req, sessionID)
	metrics.ReplayLatency.WithLabelValues(e.session).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("resend.sent", res.Sent),
		attribute.Int("resend.gap_fills", res.GapFills),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) replay(ctx context.Context, req Request, sessionID quickfix.SessionID) (Result, error) {
	var res Result
	if req.Empty() {
		return res, nil
	}

	// Past the highest stored sequence number everything is missing, so the
	// tail of a wide range is settled without probing each number.
	last, bounded := uint64(0), false
	if b, ok := e.store.(store.Bounded); ok {
		highest, nonEmpty, err := b.MaxSeq()
		switch {
		case err != nil:
			e.logger.Warn("Store bound unknown, probing every sequence number", zap.Error(err))
		case nonEmpty:
			last, bounded = highest, true
		default:
			last, bounded = 0, true
		}
	}

	var gapStart uint64
	inGap := false

	for n := req.Begin; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if bounded && n > last {
			if !inGap {
				gapStart, inGap = n, true
			}
			e.noteMissing(&res, req.End-n+1)
			break
		}

		msg, ok := e.store.Lookup(n)
		if !ok {
			if !inGap {
				gapStart, inGap = n, true
			}
			e.noteMissing(&res, 1)
		} else {
			if inGap {
				if err := e.sendGapFill(&res, gapStart, n, sessionID); err != nil {
					return res, err
				}
				inGap = false
			}
			fixmsg.MarkPossDup(msg)
			if err := e.sender.Send(msg, sessionID); err != nil {
				e.logger.Error("Resend aborted",
					zap.String("range", req.String()),
					zap.Uint64("seq_num", n),
					zap.Int("sent", res.Sent),
					zap.Error(err))
				return res, fmt.Errorf("%w: seq %d: %w", ErrSendFailed, n, err)
			}
			res.Sent++
			metrics.MessagesReplayed.WithLabelValues(e.session).Inc()
		}

		if n == req.End {
			break
		}
	}

	if inGap {
		next := req.End + 1
		if next == 0 {
			next = req.End
		}
		if err := e.sendGapFill(&res, gapStart, next, sessionID); err != nil {
			return res, err
		}
	}

	e.logger.Info("Resend request fulfilled",
		zap.String("range", req.String()),
		zap.Int("sent", res.Sent),
		zap.Uint64("skipped", res.Skipped),
		zap.Int("gap_fills", res.GapFills))
	return res, nil
}

func (e *Engine) noteMissing(res *Result, count uint64) {
	res.Skipped += count
	metrics.ReplayGaps.WithLabelValues(e.session).Add(float64(count))
}

// sendGapFill covers [from, next) with one SequenceReset-GapFill. It is a
// no-op unless gap filling is enabled.
func (e *Engine) sendGapFill(res *Result, from, next uint64, sessionID quickfix.SessionID) error {
	if !e.gapFill {
		return nil
	}
	msg := GapFill(sessionID, from, next)
	if err := e.sender.Send(msg, sessionID); err != nil {
		e.logger.Error("Gap fill aborted",
			zap.Uint64("seq_num", from),
			zap.Uint64("new_seq_no", next),
			zap.Error(err))
		return fmt.Errorf("%w: gap fill %d: %w", ErrSendFailed, from, err)
	}
	res.GapFills++
	return nil
}

// GapFill builds a SequenceReset (35=4) with GapFillFlag=Y that carries
// MsgSeqNum from and moves the counterparty on to next.
func GapFill(sessionID quickfix.SessionID, from, next uint64) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetString(fixmsg.TagBeginString, sessionID.BeginString)
	msg.Header.SetString(fixmsg.TagMsgType, fixmsg.MsgTypeSequenceReset)
	msg.Header.SetString(fixmsg.TagMsgSeqNum, strconv.FormatUint(from, 10))
	msg.Header.SetString(fixmsg.TagPossDupFlag, "Y")
	msg.Body.SetString(fixmsg.TagGapFillFlag, "Y")
	msg.Body.SetString(fixmsg.TagNewSeqNo, strconv.FormatUint(next, 10))
	return msg
}
