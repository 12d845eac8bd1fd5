package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
	"github.com/Aidin1998/dropcopy/internal/store"
)

func TestOpenMemoryByDefault(t *testing.T) {
	s, err := store.Open(context.Background(), store.Config{}, "venue_a", nil)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)
}

func TestOpenBadgerUsesSessionDirectory(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Backend = store.BackendBadger
	cfg.Badger.Dir = t.TempDir()

	open := store.NewOpener(cfg, nil)
	a, err := open(context.Background(), "venue_a")
	require.NoError(t, err)
	defer store.Close(a)
	b, err := open(context.Background(), "venue_b")
	require.NoError(t, err)
	defer store.Close(b)

	a.Insert(1, fixmsgtest.New(1, "8", "a"))
	_, ok := b.Lookup(1)
	assert.False(t, ok)
	assert.DirExists(t, filepath.Join(cfg.Badger.Dir, "venue_a"))
	assert.DirExists(t, filepath.Join(cfg.Badger.Dir, "venue_b"))
}

func TestOpenBoundedMemoryWithSpillDir(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.MaxEntries = 1
	cfg.SpillDir = t.TempDir()

	s, err := store.Open(context.Background(), cfg, "venue_a", nil)
	require.NoError(t, err)
	defer store.Close(s)

	s.Insert(1, fixmsgtest.New(1, "8", ""))
	s.Insert(2, fixmsgtest.New(2, "8", ""))

	assert.Equal(t, 1, store.Len(s))
	_, ok := s.Lookup(1)
	assert.True(t, ok)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := store.Open(context.Background(), store.Config{Backend: "etcd"}, "venue_a", nil)
	assert.Error(t, err)
}
