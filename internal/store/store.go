// Package store keeps the messages a drop copy session has received, indexed
// by MsgSeqNum, so that resend requests can be answered from them.
//
// Every backend honours the same contract: Insert keeps an owned copy and
// overwrites any earlier entry for the sequence number, Lookup hands out a
// copy the caller may mutate freely, and neither operation fails. Backend
// faults are logged and counted; a lookup that cannot be served reads as
// absent.
package store

import (
	"github.com/quickfixgo/quickfix"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Store is a per-session sequence-indexed message cache.
type Store interface {
	Insert(seqNum uint64, msg *quickfix.Message)
	Lookup(seqNum uint64) (*quickfix.Message, bool)
}

// Counter is implemented by stores that can report how many entries they hold.
type Counter interface {
	Len() int
}

// Bounded is implemented by stores that know their highest sequence number.
// MaxSeq reports ok=false for an empty store; a non-nil error means the bound
// is unknown.
type Bounded interface {
	MaxSeq() (seq uint64, ok bool, err error)
}

// Len returns the entry count of s, or -1 when s cannot report it.
func Len(s Store) int {
	if c, ok := s.(Counter); ok {
		return c.Len()
	}
	return -1
}

// Close releases s when it holds external resources.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
