package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/internal/store/storetest"
)

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := store.NewBadgerStore(t.TempDir(), true, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStoreResetOnReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := store.NewBadgerStore(dir, true, nil)
	require.NoError(t, err)
	s.Insert(1, fixmsgtest.New(1, "8", "kept"))
	s.Insert(2, fixmsgtest.New(2, "8", "kept"))
	require.NoError(t, s.Close())

	kept, err := store.NewBadgerStore(dir, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, kept.Len())
	got, ok := kept.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "kept", fixmsg.Field(got, fixmsg.TagText))
	require.NoError(t, kept.Close())

	fresh, err := store.NewBadgerStore(dir, true, nil)
	require.NoError(t, err)
	defer fresh.Close()
	assert.Equal(t, 0, fresh.Len())
	_, ok = fresh.Lookup(2)
	assert.False(t, ok)
}

func TestBadgerStoreMaxSeqUsesNumericOrder(t *testing.T) {
	s, err := store.NewBadgerStore(t.TempDir(), true, nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.MaxSeq()
	require.NoError(t, err)
	assert.False(t, ok)

	for _, n := range []uint64{9, 10, 256, 255} {
		s.Insert(n, fixmsgtest.New(n, "8", ""))
	}
	max, ok, err := s.MaxSeq()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(256), max)
}

func TestBadgerStoreReportsUnreadableBound(t *testing.T) {
	s, err := store.NewBadgerStore(t.TempDir(), true, nil)
	require.NoError(t, err)
	s.Insert(4, fixmsgtest.New(4, "8", ""))
	require.NoError(t, s.Close())

	_, ok, err := s.MaxSeq()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, -1, s.Len())
}
