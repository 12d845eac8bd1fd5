package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/quickfixgo/quickfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/resend"
	"github.com/Aidin1998/dropcopy/internal/store"
)

type recordingHandler struct {
	mu   sync.Mutex
	msgs []*quickfix.Message
}

func (h *recordingHandler) OnMessage(msg *quickfix.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

type fakeResender struct {
	reqs []resend.Request
	err  error
	ctx  context.Context
}

func (f *fakeResender) Fulfill(ctx context.Context, req resend.Request, _ quickfix.SessionID) (resend.Result, error) {
	f.ctx = ctx
	f.reqs = append(f.reqs, req)
	return resend.Result{}, f.err
}

func newTestDispatcher(t *testing.T, r Resender) (*Dispatcher, *store.MemoryStore, *recordingHandler) {
	t.Helper()
	st := store.NewMemoryStore()
	h := &recordingHandler{}
	d := New(context.Background(), Config{Session: "venue_a", Store: st, Handler: h, Resender: r})
	return d, st, h
}

func TestDispatchStoresAndForwards(t *testing.T) {
	d, st, h := newTestDispatcher(t, nil)

	assert.Nil(t, d.FromApp(fixmsgtest.ExecutionReport(4, "C4"), fixmsgtest.SessionID))
	assert.Nil(t, d.FromAdmin(fixmsgtest.New(5, fixmsg.MsgTypeHeartbeat, ""), fixmsgtest.SessionID))

	assert.Len(t, h.msgs, 2)
	got, ok := st.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, "C4", fixmsg.Field(got, fixmsg.TagClOrdID))
	_, ok = st.Lookup(5)
	assert.True(t, ok)
}

func TestDispatchMalformedSeqNumStillReachesHandler(t *testing.T) {
	for _, value := range []string{"", "abc", "-7"} {
		t.Run("seq="+value, func(t *testing.T) {
			d, st, h := newTestDispatcher(t, nil)
			msg := fixmsgtest.WithSeqNumValue(value, fixmsg.MsgTypeExecutionReport, "orphan")

			assert.Nil(t, d.FromApp(msg, fixmsgtest.SessionID))

			require.Len(t, h.msgs, 1)
			assert.Same(t, msg, h.msgs[0])
			assert.Equal(t, 0, st.Len())
		})
	}
}

func TestDispatchRoutesResendRequest(t *testing.T) {
	r := &fakeResender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	h := &recordingHandler{}
	d := New(ctx, Config{Session: "venue_a", Store: st, Handler: h, Resender: r})

	assert.Nil(t, d.FromAdmin(fixmsgtest.ResendRequest(9, "5", "8"), fixmsgtest.SessionID))

	assert.Equal(t, []resend.Request{{Begin: 5, End: 8}}, r.reqs)
	assert.Equal(t, ctx, r.ctx)
	assert.Len(t, h.msgs, 1)
	_, ok := st.Lookup(9)
	assert.True(t, ok, "resend request itself is stored")
}

func TestDispatchDropsInvalidResendRequest(t *testing.T) {
	r := &fakeResender{}
	d, _, h := newTestDispatcher(t, r)

	assert.Nil(t, d.FromAdmin(fixmsgtest.ResendRequest(2, "x", "8"), fixmsgtest.SessionID))
	assert.Nil(t, d.FromApp(fixmsgtest.New(3, "8", ""), fixmsgtest.SessionID))

	assert.Empty(t, r.reqs)
	assert.Len(t, h.msgs, 2)
}

func TestDispatchSurvivesResendFailure(t *testing.T) {
	r := &fakeResender{err: errors.New("send rejected")}
	d, st, _ := newTestDispatcher(t, r)

	assert.Nil(t, d.FromAdmin(fixmsgtest.ResendRequest(2, "1", "1"), fixmsgtest.SessionID))
	assert.Nil(t, d.FromApp(fixmsgtest.New(3, "8", ""), fixmsgtest.SessionID))

	_, ok := st.Lookup(3)
	assert.True(t, ok)
}

type panickingResender struct{}

func (panickingResender) Fulfill(context.Context, resend.Request, quickfix.SessionID) (resend.Result, error) {
	panic("replay bug")
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	st := store.NewMemoryStore()
	r := &fakeResender{}
	d := New(context.Background(), Config{
		Session:  "venue_a",
		Store:    st,
		Handler:  handler.Func(func(*quickfix.Message) { panic("archive driver bug") }),
		Resender: r,
		Logger:   zap.New(core),
	})

	assert.NotPanics(t, func() {
		assert.Nil(t, d.FromApp(fixmsgtest.ExecutionReport(6, "C6"), fixmsgtest.SessionID))
		assert.Nil(t, d.FromAdmin(fixmsgtest.ResendRequest(7, "6", "6"), fixmsgtest.SessionID))
	})

	// The message is kept and the resend still goes out.
	_, ok := st.Lookup(6)
	assert.True(t, ok)
	assert.Equal(t, []resend.Request{{Begin: 6, End: 6}}, r.reqs)

	entries := logs.FilterMessage("Recovered panic while dispatching").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "handler", entries[0].ContextMap()["stage"])
	assert.Contains(t, entries[0].ContextMap()["error"], "archive driver bug")
}

func TestDispatchRecoversResendPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	st := store.NewMemoryStore()
	h := &recordingHandler{}
	d := New(context.Background(), Config{
		Session:  "venue_a",
		Store:    st,
		Handler:  h,
		Resender: panickingResender{},
		Logger:   zap.New(core),
	})

	assert.NotPanics(t, func() {
		assert.Nil(t, d.FromAdmin(fixmsgtest.ResendRequest(2, "1", "1"), fixmsgtest.SessionID))
	})
	assert.Nil(t, d.FromApp(fixmsgtest.New(3, "8", ""), fixmsgtest.SessionID))

	assert.Len(t, h.msgs, 2)
	assert.Equal(t, 1, logs.FilterField(zap.String("stage", "resend")).Len())
}

func TestDispatchReplaysThroughEngine(t *testing.T) {
	st := store.NewMemoryStore()
	var sent []uint64
	sender := resend.SenderFunc(func(msg *quickfix.Message, _ quickfix.SessionID) error {
		n, err := fixmsg.SeqNum(msg)
		require.NoError(t, err)
		assert.True(t, fixmsg.IsPossDup(msg))
		sent = append(sent, n)
		return nil
	})
	d := New(context.Background(), Config{
		Session:  "venue_a",
		Store:    st,
		Resender: resend.New(st, sender),
	})

	for _, n := range []uint64{1, 2, 4} {
		d.FromApp(fixmsgtest.ExecutionReport(n, "C"), fixmsgtest.SessionID)
	}
	d.FromAdmin(fixmsgtest.ResendRequest(5, "2", "4"), fixmsgtest.SessionID)

	assert.Equal(t, []uint64{2, 4}, sent)
}

func TestLifecycleCallbacksOnlyNotify(t *testing.T) {
	var events []EventKind
	st := store.NewMemoryStore()
	d := New(context.Background(), Config{
		Session: "venue_a",
		Store:   st,
		Handler: handler.Nop,
		OnEvent: func(e Event) { events = append(events, e.Kind) },
	})

	d.OnCreate(fixmsgtest.SessionID)
	d.OnLogon(fixmsgtest.SessionID)
	d.ToAdmin(fixmsgtest.New(1, fixmsg.MsgTypeHeartbeat, ""), fixmsgtest.SessionID)
	assert.NoError(t, d.ToApp(fixmsgtest.New(2, "8", ""), fixmsgtest.SessionID))
	d.OnLogout(fixmsgtest.SessionID)

	assert.Equal(t, []EventKind{EventCreate, EventLogon, EventLogout}, events)
	assert.Equal(t, 0, st.Len())
}
