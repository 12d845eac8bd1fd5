// Package handler holds the user-side consumers of a drop copy stream. Every
// inbound message is offered to the session's Handler exactly once, after it
// has been stored.
package handler

import (
	"github.com/quickfixgo/quickfix"
)

// Handler receives every inbound admin and application message. It is
// called synchronously on the engine's goroutine and must not retain msg.
type Handler interface {
	OnMessage(msg *quickfix.Message)
}

// Func adapts a function to Handler.
type Func func(msg *quickfix.Message)

// OnMessage implements Handler.
func (f Func) OnMessage(msg *quickfix.Message) { f(msg) }

// Factory builds the handler for one named session.
type Factory func(session string) Handler

// Multi fans a message out to several handlers in order.
type Multi []Handler

// OnMessage implements Handler.
func (m Multi) OnMessage(msg *quickfix.Message) {
	for _, h := range m {
		h.OnMessage(msg)
	}
}

// Nop drops every message.
var Nop Handler = nop{}

type nop struct{}

func (nop) OnMessage(*quickfix.Message) {}

// Chain combines factories into one that builds a Multi per session.
// A factory returning nil is left out.
func Chain(factories ...Factory) Factory {
	return func(session string) Handler {
		var hs Multi
		for _, f := range factories {
			if f == nil {
				continue
			}
			if h := f(session); h != nil {
				hs = append(hs, h)
			}
		}
		switch len(hs) {
		case 0:
			return Nop
		case 1:
			return hs[0]
		default:
			return hs
		}
	}
}
