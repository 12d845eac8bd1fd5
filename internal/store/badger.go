package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

// BadgerStore persists messages in a BadgerDB directory, one database per
// session. Keys are big-endian sequence numbers so iteration order matches
// sequence order.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// NewBadgerStore opens (or creates) the database at path. When reset is true
// any entries left from an earlier run are dropped.
func NewBadgerStore(path string, reset bool, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store at %s: %w", path, err)
	}
	if reset {
		if err := db.DropAll(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to reset message store at %s: %w", path, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgerStore{db: db, logger: logger.With(zap.String("backend", BackendBadger))}, nil
}

func seqKey(seqNum uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seqNum)
	return k
}

// Insert implements Store.
func (s *BadgerStore) Insert(seqNum uint64, msg *quickfix.Message) {
	raw := fixmsg.Encode(msg)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(seqNum), raw)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendBadger, "insert").Inc()
		s.logger.Error("Failed to store message", zap.Uint64("seq_num", seqNum), zap.Error(err))
	}
}

// Lookup implements Store.
func (s *BadgerStore) Lookup(seqNum uint64) (*quickfix.Message, bool) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(seqNum))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendBadger, "lookup").Inc()
		s.logger.Error("Failed to read message", zap.Uint64("seq_num", seqNum), zap.Error(err))
		return nil, false
	}
	msg, err := fixmsg.Decode(raw)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendBadger, "decode").Inc()
		s.logger.Error("Stored message is not decodable", zap.Uint64("seq_num", seqNum), zap.Error(err))
		return nil, false
	}
	return msg, true
}

// Len counts the stored entries, or returns -1 when the database cannot be
// read.
func (s *BadgerStore) Len() int {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendBadger, "len").Inc()
		s.logger.Error("Failed to count messages", zap.Error(err))
		return -1
	}
	return n
}

// MaxSeq returns the highest stored sequence number.
func (s *BadgerStore) MaxSeq() (uint64, bool, error) {
	var (
		seq   uint64
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if it.Valid() {
			seq = binary.BigEndian.Uint64(it.Item().Key())
			found = true
		}
		return nil
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendBadger, "max_seq").Inc()
		s.logger.Error("Failed to read highest sequence number", zap.Error(err))
		return 0, false, err
	}
	return seq, found, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
