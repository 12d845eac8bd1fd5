// Package storetest is a conformance suite every store backend must pass.
package storetest

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
	"github.com/Aidin1998/dropcopy/internal/store"
)

// Factory creates a new, empty store for one test.
type Factory func(t *testing.T) store.Store

// Run runs the complete store suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("AbsentLookup", func(t *testing.T) { testAbsentLookup(t, factory) })
	t.Run("OverwriteKeepsLast", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("InsertCopiesCallerMessage", func(t *testing.T) { testInsertCopies(t, factory) })
	t.Run("LookupReturnsIndependentCopy", func(t *testing.T) { testLookupCopies(t, factory) })
	t.Run("ReceivedBytesSurvive", func(t *testing.T) { testReceivedBytes(t, factory) })
	t.Run("ConcurrentInsertAndLookup", func(t *testing.T) { testConcurrent(t, factory) })
}

func testRoundTrip(t *testing.T, factory Factory) {
	s := factory(t)

	for _, n := range []uint64{1, 2, 7, 1 << 40} {
		s.Insert(n, fixmsgtest.ExecutionReport(n, "C"+strconv.FormatUint(n, 10)))
	}

	for _, n := range []uint64{1, 2, 7, 1 << 40} {
		got, ok := s.Lookup(n)
		require.True(t, ok, "seq %d", n)

		seq, err := fixmsg.SeqNum(got)
		require.NoError(t, err)
		assert.Equal(t, n, seq)
		assert.Equal(t, "C"+strconv.FormatUint(n, 10), fixmsg.Field(got, fixmsg.TagClOrdID))
		assert.Equal(t, fixmsg.MsgTypeExecutionReport, fixmsg.MsgType(got))
	}
}

func testAbsentLookup(t *testing.T, factory Factory) {
	s := factory(t)

	got, ok := s.Lookup(3)
	assert.False(t, ok)
	assert.Nil(t, got)

	s.Insert(2, fixmsgtest.New(2, "8", "two"))
	s.Insert(4, fixmsgtest.New(4, "8", "four"))

	_, ok = s.Lookup(3)
	assert.False(t, ok)
	_, ok = s.Lookup(0)
	assert.False(t, ok)
}

func testOverwrite(t *testing.T, factory Factory) {
	s := factory(t)

	s.Insert(5, fixmsgtest.New(5, "8", "first"))
	s.Insert(5, fixmsgtest.New(5, "8", "second"))

	got, ok := s.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, "second", fixmsg.Field(got, fixmsg.TagText))
}

func testInsertCopies(t *testing.T, factory Factory) {
	s := factory(t)

	msg := fixmsgtest.New(9, "8", "before")
	s.Insert(9, msg)
	msg.Body.SetString(fixmsg.TagText, "after")

	got, ok := s.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, "before", fixmsg.Field(got, fixmsg.TagText))
}

func testLookupCopies(t *testing.T, factory Factory) {
	s := factory(t)

	s.Insert(3, fixmsgtest.New(3, "8", "stored"))

	first, ok := s.Lookup(3)
	require.True(t, ok)
	fixmsg.MarkPossDup(first)
	first.Body.SetString(fixmsg.TagText, "edited")

	second, ok := s.Lookup(3)
	require.True(t, ok)
	assert.False(t, fixmsg.IsPossDup(second))
	assert.Equal(t, "stored", fixmsg.Field(second, fixmsg.TagText))
}

func testReceivedBytes(t *testing.T, factory Factory) {
	s := factory(t)

	msg, raw := fixmsgtest.ExecutionReportWithParties(12, "C12")
	s.Insert(12, msg)

	got, ok := s.Lookup(12)
	require.True(t, ok)
	assert.Equal(t, raw, string(fixmsg.Encode(got)))
	assert.Contains(t, string(fixmsg.Encode(got)), "448=ALICE\x01447=D\x01452=1\x01448=BOB\x01")

	// The copy handed out is independent of the one kept.
	fixmsg.MarkPossDup(got)
	again, ok := s.Lookup(12)
	require.True(t, ok)
	assert.False(t, fixmsg.IsPossDup(again))
	assert.Equal(t, raw, string(fixmsg.Encode(again)))
}

func testConcurrent(t *testing.T, factory Factory) {
	s := factory(t)

	const writers, perWriter = 4, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				n := uint64(w*perWriter + i + 1)
				s.Insert(n, fixmsgtest.New(n, "8", "x"))
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if got, ok := s.Lookup(uint64(w*perWriter + i + 1)); ok {
					assert.Equal(t, "x", fixmsg.Field(got, fixmsg.TagText))
				}
			}
		}(w)
	}
	wg.Wait()

	for n := uint64(1); n <= writers*perWriter; n++ {
		_, ok := s.Lookup(n)
		assert.True(t, ok, "seq %d", n)
	}
}
