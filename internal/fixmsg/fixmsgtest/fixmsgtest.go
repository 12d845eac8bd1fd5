// Package fixmsgtest builds quickfix messages for tests.
package fixmsgtest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/quickfixgo/quickfix"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
)

const (
	BeginString  = "FIX.4.4"
	SenderCompID = "VENUE"
	TargetCompID = "DROPCOPY"
	SendingTime  = "20261018-09:30:00.000"
)

// SessionID is the session the test messages are addressed on.
var SessionID = quickfix.SessionID{BeginString: BeginString, SenderCompID: TargetCompID, TargetCompID: SenderCompID}

// New returns a message with a full standard header and a Text body field.
func New(seqNum uint64, msgType, text string) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetString(fixmsg.TagBeginString, BeginString)
	msg.Header.SetString(fixmsg.TagMsgType, msgType)
	msg.Header.SetString(fixmsg.TagMsgSeqNum, strconv.FormatUint(seqNum, 10))
	msg.Header.SetString(fixmsg.TagSenderCompID, SenderCompID)
	msg.Header.SetString(fixmsg.TagTargetCompID, TargetCompID)
	msg.Header.SetString(fixmsg.TagSendingTime, SendingTime)
	if text != "" {
		msg.Body.SetString(fixmsg.TagText, text)
	}
	return msg
}

// ExecutionReport returns a 35=8 message carrying the fields the archive reads.
func ExecutionReport(seqNum uint64, clOrdID string) *quickfix.Message {
	msg := New(seqNum, fixmsg.MsgTypeExecutionReport, "")
	msg.Body.SetString(fixmsg.TagClOrdID, clOrdID)
	msg.Body.SetString(fixmsg.TagOrderID, "ORD-"+clOrdID)
	msg.Body.SetString(fixmsg.TagExecID, "EXE-"+clOrdID)
	msg.Body.SetString(fixmsg.TagSymbol, "BTC-USD")
	msg.Body.SetString(fixmsg.TagSide, "1")
	msg.Body.SetString(fixmsg.TagLastQty, "0.5")
	msg.Body.SetString(fixmsg.TagLastPx, "64250.25")
	msg.Body.SetString(fixmsg.TagCumQty, "1.5")
	msg.Body.SetString(fixmsg.TagAvgPx, "64100.75")
	return msg
}

// ResendRequest returns a 35=2 message asking for begin..end.
func ResendRequest(seqNum uint64, begin, end string) *quickfix.Message {
	msg := New(seqNum, fixmsg.MsgTypeResendRequest, "")
	if begin != "" {
		msg.Body.SetString(fixmsg.TagBeginSeqNo, begin)
	}
	if end != "" {
		msg.Body.SetString(fixmsg.TagEndSeqNo, end)
	}
	return msg
}

// WithSeqNumValue returns a message whose MsgSeqNum carries an arbitrary
// string; an empty value leaves the field out entirely.
func WithSeqNumValue(value, msgType, text string) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetString(fixmsg.TagBeginString, BeginString)
	msg.Header.SetString(fixmsg.TagMsgType, msgType)
	if value != "" {
		msg.Header.SetString(fixmsg.TagMsgSeqNum, value)
	}
	msg.Header.SetString(fixmsg.TagSenderCompID, SenderCompID)
	msg.Header.SetString(fixmsg.TagTargetCompID, TargetCompID)
	if text != "" {
		msg.Body.SetString(fixmsg.TagText, text)
	}
	return msg
}

// Wire frames body fields ("35=8", "34=1", ...) with BeginString, BodyLength
// and CheckSum, then parses the result the way the engine parses inbound
// bytes. It returns the message and the exact bytes it was parsed from.
func Wire(fields ...string) (*quickfix.Message, string) {
	body := strings.Join(fields, "\x01") + "\x01"
	head := "8=" + BeginString + "\x01" + "9=" + strconv.Itoa(len(body)) + "\x01"
	sum := 0
	for _, b := range []byte(head + body) {
		sum += int(b)
	}
	raw := head + body + fmt.Sprintf("10=%03d\x01", sum%256)

	msg := quickfix.NewMessage()
	if err := quickfix.ParseMessage(msg, bytes.NewBufferString(raw)); err != nil {
		panic(fmt.Sprintf("fixmsgtest: bad wire message %q: %v", raw, err))
	}
	return msg, raw
}

// ExecutionReportWithParties returns a received 35=8 carrying a two-entry
// Parties group (453) and the bytes it was parsed from.
func ExecutionReportWithParties(seqNum uint64, clOrdID string) (*quickfix.Message, string) {
	return Wire(
		"35="+fixmsg.MsgTypeExecutionReport,
		"34="+strconv.FormatUint(seqNum, 10),
		"49="+SenderCompID,
		"52="+SendingTime,
		"56="+TargetCompID,
		"11="+clOrdID,
		"17=EXE-"+clOrdID,
		"453=2",
		"448=ALICE", "447=D", "452=1",
		"448=BOB", "447=D", "452=3",
	)
}
