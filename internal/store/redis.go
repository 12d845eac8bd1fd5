package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

// RedisConfig holds Redis connection settings for the message store.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`

	PoolSize    int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// DefaultRedisConfig returns settings for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		KeyPrefix:   "dropcopy",
		OpTimeout:   500 * time.Millisecond,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

// RedisStore keeps a session's messages in one Redis hash keyed by
// sequence number.
type RedisStore struct {
	client    *redis.Client
	key       string
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection. When reset is
// true the session's hash is removed first.
func NewRedisStore(ctx context.Context, cfg RedisConfig, session string, reset bool, logger *zap.Logger) (*RedisStore, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultRedisConfig().OpTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	s := &RedisStore{
		client:    client,
		key:       fmt.Sprintf("%s:%s:messages", cfg.KeyPrefix, session),
		opTimeout: cfg.OpTimeout,
		logger:    logger.With(zap.String("backend", BackendRedis)),
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	if reset {
		delCtx, cancelDel := context.WithTimeout(ctx, cfg.OpTimeout)
		defer cancelDel()
		if err := client.Del(delCtx, s.key).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reset %s: %w", s.key, err)
		}
	}
	return s, nil
}

// Insert implements Store.
func (s *RedisStore) Insert(seqNum uint64, msg *quickfix.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	field := strconv.FormatUint(seqNum, 10)
	if err := s.client.HSet(ctx, s.key, field, fixmsg.Encode(msg)).Err(); err != nil {
		metrics.StoreErrors.WithLabelValues(BackendRedis, "insert").Inc()
		s.logger.Error("Failed to store message", zap.Uint64("seq_num", seqNum), zap.Error(err))
	}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(seqNum uint64) (*quickfix.Message, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.key, strconv.FormatUint(seqNum, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendRedis, "lookup").Inc()
		s.logger.Error("Failed to read message", zap.Uint64("seq_num", seqNum), zap.Error(err))
		return nil, false
	}
	msg, err := fixmsg.Decode(raw)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendRedis, "decode").Inc()
		s.logger.Error("Stored message is not decodable", zap.Uint64("seq_num", seqNum), zap.Error(err))
		return nil, false
	}
	return msg, true
}

// Len returns the number of entries in the session hash.
func (s *RedisStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		metrics.StoreErrors.WithLabelValues(BackendRedis, "len").Inc()
		return -1
	}
	return int(n)
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
