package resend

import (
	"errors"
	"fmt"

	"github.com/quickfixgo/quickfix"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
)

var (
	// ErrInvalidRequest is returned when BeginSeqNo or EndSeqNo is missing
	// or not an unsigned integer.
	ErrInvalidRequest = errors.New("invalid resend request")
	// ErrSendFailed wraps the engine error that aborted a replay.
	ErrSendFailed = errors.New("resend transmission failed")
)

// Request is the sequence range asked for by a ResendRequest (35=2).
// An End below Begin is an empty range.
type Request struct {
	Begin uint64
	End   uint64
}

// Empty reports whether the range selects no sequence numbers.
func (r Request) Empty() bool {
	return r.End < r.Begin
}

func (r Request) String() string {
	return fmt.Sprintf("%d..%d", r.Begin, r.End)
}

// ParseRequest reads BeginSeqNo (7) and EndSeqNo (16) from msg.
func ParseRequest(msg *quickfix.Message) (Request, error) {
	begin, err := fixmsg.BodyUint(msg, fixmsg.TagBeginSeqNo)
	if err != nil {
		return Request{}, fmt.Errorf("%w: BeginSeqNo: %w", ErrInvalidRequest, err)
	}
	end, err := fixmsg.BodyUint(msg, fixmsg.TagEndSeqNo)
	if err != nil {
		return Request{}, fmt.Errorf("%w: EndSeqNo: %w", ErrInvalidRequest, err)
	}
	return Request{Begin: begin, End: end}, nil
}
