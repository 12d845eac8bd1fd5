package handler

import (
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
)

// LogHandler writes each received message to the logger at debug level.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler returns a handler logging through logger.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// LogFactory builds a LogHandler per session.
func LogFactory(logger *zap.Logger) Factory {
	return func(session string) Handler {
		return NewLogHandler(logger.With(zap.String("session", session)))
	}
}

// OnMessage implements Handler.
func (h *LogHandler) OnMessage(msg *quickfix.Message) {
	if ce := h.logger.Check(zap.DebugLevel, "Received message"); ce != nil {
		ce.Write(
			zap.String("msg_type", fixmsg.MsgType(msg)),
			zap.String("seq_num", fixmsg.Field(msg, fixmsg.TagMsgSeqNum)),
			zap.String("body", fixmsg.Human(string(fixmsg.Encode(msg)))),
		)
	}
}
