package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

// KafkaConfig configures the Kafka forwarder.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultKafkaConfig returns a disabled forwarder pointing at a local broker.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "dropcopy.messages",
		WriteTimeout: time.Second,
	}
}

// Record is the JSON document published for each message.
type Record struct {
	Session    string    `json:"session"`
	SeqNum     string    `json:"seq_num"`
	MsgType    string    `json:"msg_type"`
	Sender     string    `json:"sender"`
	Target     string    `json:"target"`
	PossDup    bool      `json:"poss_dup"`
	ReceivedAt time.Time `json:"received_at"`
	Raw        string    `json:"raw"`
}

// NewRecord extracts the published fields from msg.
func NewRecord(session string, msg *quickfix.Message, at time.Time) Record {
	return Record{
		Session:    session,
		SeqNum:     fixmsg.Field(msg, fixmsg.TagMsgSeqNum),
		MsgType:    fixmsg.MsgType(msg),
		Sender:     fixmsg.Field(msg, fixmsg.TagSenderCompID),
		Target:     fixmsg.Field(msg, fixmsg.TagTargetCompID),
		PossDup:    fixmsg.IsPossDup(msg),
		ReceivedAt: at.UTC(),
		Raw:        string(fixmsg.Encode(msg)),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher owns the Kafka writer shared by every session.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewKafkaPublisher creates a writer for cfg.Topic. Messages are keyed by
// session so one session's stream stays on one partition, in order.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultKafkaConfig().WriteTimeout
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(w, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, timeout: timeout, logger: logger, now: time.Now}
}

// Factory returns a handler factory publishing under each session name.
func (p *KafkaPublisher) Factory() Factory {
	return func(session string) Handler {
		return &kafkaHandler{publisher: p, session: session}
	}
}

// Publish writes one record synchronously. Failures are logged and counted,
// never returned to the dispatcher.
func (p *KafkaPublisher) Publish(session string, msg *quickfix.Message) {
	rec := NewRecord(session, msg, p.now())
	value, err := json.Marshal(rec)
	if err != nil {
		metrics.HandlerErrors.WithLabelValues("kafka").Inc()
		p.logger.Error("Failed to marshal drop copy record", zap.String("session", session), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(session),
		Value: value,
		Time:  rec.ReceivedAt,
	})
	if err != nil {
		metrics.HandlerErrors.WithLabelValues("kafka").Inc()
		p.logger.Error("Failed to publish drop copy record",
			zap.String("session", session),
			zap.String("seq_num", rec.SeqNum),
			zap.Error(err))
	}
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type kafkaHandler struct {
	publisher *KafkaPublisher
	session   string
}

func (h *kafkaHandler) OnMessage(msg *quickfix.Message) {
	h.publisher.Publish(h.session, msg)
}
