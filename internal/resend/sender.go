package resend

import (
	"github.com/quickfixgo/quickfix"
)

// Sender is the engine's outbound primitive: transmit msg on a session.
type Sender interface {
	Send(msg *quickfix.Message, sessionID quickfix.SessionID) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg *quickfix.Message, sessionID quickfix.SessionID) error

// Send implements Sender.
func (f SenderFunc) Send(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return f(msg, sessionID)
}

// EngineSender sends through the running quickfix engine.
type EngineSender struct{}

// Send implements Sender.
func (EngineSender) Send(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return quickfix.SendToTarget(msg, sessionID)
}
