package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/pkg/metrics"
)

// ArchiveConfig configures the SQL audit archive.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver       string `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Enabled true"`
	AutoMigrate  bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DefaultArchiveConfig returns a disabled postgres archive.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Driver:       "postgres",
		AutoMigrate:  true,
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
}

// ArchivedMessage is one received message kept for audit and reconciliation.
type ArchivedMessage struct {
	ID         uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid"`
	Session    string              `json:"session" gorm:"index:idx_dropcopy_session_seq,priority:1;size:128;not null"`
	SeqNum     *uint64             `json:"seq_num,omitempty" gorm:"index:idx_dropcopy_session_seq,priority:2"`
	MsgType    string              `json:"msg_type" gorm:"size:8;index"`
	PossDup    bool                `json:"poss_dup"`
	ClOrdID    string              `json:"cl_ord_id,omitempty" gorm:"size:64;index"`
	OrderID    string              `json:"order_id,omitempty" gorm:"size:64"`
	ExecID     string              `json:"exec_id,omitempty" gorm:"size:64"`
	Symbol     string              `json:"symbol,omitempty" gorm:"size:32"`
	Side       string              `json:"side,omitempty" gorm:"size:4"`
	LastQty    decimal.NullDecimal `json:"last_qty" gorm:"type:decimal(36,18)"`
	LastPx     decimal.NullDecimal `json:"last_px" gorm:"type:decimal(36,18)"`
	CumQty     decimal.NullDecimal `json:"cum_qty" gorm:"type:decimal(36,18)"`
	AvgPx      decimal.NullDecimal `json:"avg_px" gorm:"type:decimal(36,18)"`
	Raw        string              `json:"raw" gorm:"type:text"`
	ReceivedAt time.Time           `json:"received_at" gorm:"index"`
}

// TableName pins the archive table name.
func (ArchivedMessage) TableName() string { return "dropcopy_messages" }

// BeforeCreate assigns an ID when the row has none.
func (m *ArchivedMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// NewArchivedMessage extracts the archived columns from msg. Price and
// quantity fields that are absent or unparsable are stored as NULL.
func NewArchivedMessage(session string, msg *quickfix.Message, at time.Time) *ArchivedMessage {
	row := &ArchivedMessage{
		ID:         uuid.New(),
		Session:    session,
		MsgType:    fixmsg.MsgType(msg),
		PossDup:    fixmsg.IsPossDup(msg),
		ClOrdID:    fixmsg.Field(msg, fixmsg.TagClOrdID),
		OrderID:    fixmsg.Field(msg, fixmsg.TagOrderID),
		ExecID:     fixmsg.Field(msg, fixmsg.TagExecID),
		Symbol:     fixmsg.Field(msg, fixmsg.TagSymbol),
		Side:       fixmsg.Field(msg, fixmsg.TagSide),
		LastQty:    decimalField(msg, fixmsg.TagLastQty),
		LastPx:     decimalField(msg, fixmsg.TagLastPx),
		CumQty:     decimalField(msg, fixmsg.TagCumQty),
		AvgPx:      decimalField(msg, fixmsg.TagAvgPx),
		Raw:        string(fixmsg.Encode(msg)),
		ReceivedAt: at.UTC(),
	}
	if seq, err := fixmsg.SeqNum(msg); err == nil {
		row.SeqNum = &seq
	}
	return row
}

func decimalField(msg *quickfix.Message, tag quickfix.Tag) decimal.NullDecimal {
	v := fixmsg.Field(msg, tag)
	if v == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Archive writes every received message to a SQL table.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenArchive connects to the configured database and, when asked, migrates
// the archive table.
func OpenArchive(cfg ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get archive database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&ArchivedMessage{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate archive table: %w", err)
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{db: db, logger: logger, now: time.Now}, nil
}

// DB exposes the underlying connection.
func (a *Archive) DB() *gorm.DB { return a.db }

// Factory returns a handler factory archiving under each session name.
func (a *Archive) Factory() Factory {
	return func(session string) Handler {
		return Func(func(msg *quickfix.Message) { a.Record(session, msg) })
	}
}

// Record inserts one row. Failures are logged and counted, never returned.
func (a *Archive) Record(session string, msg *quickfix.Message) {
	row := NewArchivedMessage(session, msg, a.now())
	if err := a.db.Create(row).Error; err != nil {
		metrics.HandlerErrors.WithLabelValues("archive").Inc()
		a.logger.Error("Failed to archive message",
			zap.String("session", session),
			zap.String("seq_num", seqLabel(row.SeqNum)),
			zap.Error(err))
	}
}

// Close closes the database connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func seqLabel(seq *uint64) string {
	if seq == nil {
		return ""
	}
	return strconv.FormatUint(*seq, 10)
}
