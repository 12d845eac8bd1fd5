package handler

import (
	"testing"

	"github.com/quickfixgo/quickfix"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
)

type recorder struct {
	name string
	log  *[]string
}

func (r recorder) OnMessage(*quickfix.Message) { *r.log = append(*r.log, r.name) }

func TestMultiCallsInOrder(t *testing.T) {
	var calls []string
	m := Multi{recorder{"a", &calls}, recorder{"b", &calls}, recorder{"c", &calls}}

	m.OnMessage(fixmsgtest.New(1, "8", ""))

	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestChain(t *testing.T) {
	var calls []string
	named := func(name string) Factory {
		return func(session string) Handler { return recorder{name + "@" + session, &calls} }
	}
	none := func(string) Handler { return nil }

	assert.Equal(t, Nop, Chain()("venue_a"))
	assert.Equal(t, Nop, Chain(nil, none)("venue_a"))

	single := Chain(none, named("log"))("venue_a")
	assert.IsType(t, recorder{}, single)

	Chain(named("log"), nil, named("kafka"))("venue_b").OnMessage(fixmsgtest.New(1, "8", ""))
	assert.Equal(t, []string{"log@venue_b", "kafka@venue_b"}, calls)
}

func TestLogHandlerWritesHumanReadableBody(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := LogFactory(zap.New(core))("venue_a")

	h.OnMessage(fixmsgtest.New(12, "8", "fill"))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "venue_a", fields["session"])
		assert.Equal(t, "8", fields["msg_type"])
		assert.Equal(t, "12", fields["seq_num"])
		assert.Contains(t, fields["body"], "|58=fill|")
	}
}

func TestLogHandlerSkipsWorkAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	NewLogHandler(zap.New(core)).OnMessage(fixmsgtest.New(1, "8", ""))
	assert.Zero(t, logs.Len())
}
