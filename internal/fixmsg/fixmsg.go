// Package fixmsg holds the handful of field accessors the drop copy needs on
// top of quickfix messages: sequence numbers, message types, resend ranges,
// duplicate marking and a raw encoding for persistent stores.
package fixmsg

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/quickfixgo/quickfix"
)

// Header tags
const (
	TagBeginString     quickfix.Tag = 8
	TagMsgSeqNum       quickfix.Tag = 34
	TagMsgType         quickfix.Tag = 35
	TagPossDupFlag     quickfix.Tag = 43
	TagSenderCompID    quickfix.Tag = 49
	TagSendingTime     quickfix.Tag = 52
	TagTargetCompID    quickfix.Tag = 56
	TagOrigSendingTime quickfix.Tag = 122
)

// Body tags
const (
	TagAvgPx       quickfix.Tag = 6
	TagBeginSeqNo  quickfix.Tag = 7
	TagClOrdID     quickfix.Tag = 11
	TagCumQty      quickfix.Tag = 14
	TagEndSeqNo    quickfix.Tag = 16
	TagExecID      quickfix.Tag = 17
	TagLastPx      quickfix.Tag = 31
	TagLastQty     quickfix.Tag = 32
	TagNewSeqNo    quickfix.Tag = 36
	TagOrderID     quickfix.Tag = 37
	TagSide        quickfix.Tag = 54
	TagSymbol      quickfix.Tag = 55
	TagText        quickfix.Tag = 58
	TagGapFillFlag quickfix.Tag = 123
)

const (
	MsgTypeHeartbeat       = "0"
	MsgTypeResendRequest   = "2"
	MsgTypeSequenceReset   = "4"
	MsgTypeExecutionReport = "8"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

const soh = "\x01"

// SeqNum returns the MsgSeqNum header field as an unsigned integer.
func SeqNum(msg *quickfix.Message) (uint64, error) {
	v, rej := msg.Header.GetString(TagMsgSeqNum)
	if rej != nil {
		return 0, fmt.Errorf("%w: tag %d", ErrMissingField, TagMsgSeqNum)
	}
	return parseUint(TagMsgSeqNum, v)
}

// MsgType returns the MsgType header field, or "" when absent.
func MsgType(msg *quickfix.Message) string {
	v, _ := msg.Header.GetString(TagMsgType)
	return v
}

// BodyUint reads an unsigned integer body field.
func BodyUint(msg *quickfix.Message, tag quickfix.Tag) (uint64, error) {
	v, rej := msg.Body.GetString(tag)
	if rej != nil {
		return 0, fmt.Errorf("%w: tag %d", ErrMissingField, tag)
	}
	return parseUint(tag, v)
}

func parseUint(tag quickfix.Tag, v string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: tag %d value %q", ErrInvalidField, tag, v)
	}
	return n, nil
}

// Field looks a tag up in the body first, then in the header. Absent fields
// read as "".
func Field(msg *quickfix.Message, tag quickfix.Tag) string {
	if v, rej := msg.Body.GetString(tag); rej == nil {
		return v
	}
	if v, rej := msg.Header.GetString(tag); rej == nil {
		return v
	}
	return ""
}

// Clone returns a deep copy that shares no field storage with msg. A message
// parsed from the wire is copied by re-parsing its bytes, so the copy still
// encodes to exactly what was received, repeating groups included.
func Clone(msg *quickfix.Message) *quickfix.Message {
	if raw, ok := wireBytes(msg); ok {
		if c, err := parse(raw); err == nil {
			c.ReceiveTime = msg.ReceiveTime
			return c
		}
	}
	return Detach(msg)
}

// Detach copies msg field by field and drops any wire bytes, so Encode
// renders edits made to the copy. quickfix keeps one instance per tag in its
// field maps, so repeating groups of a parsed message collapse to the last
// instance.
func Detach(msg *quickfix.Message) *quickfix.Message {
	c := quickfix.NewMessage()
	msg.CopyInto(c)
	return c
}

// wireBytes returns the bytes msg was parsed from, if it carries them.
// quickfix keeps them unexported and renders built messages in place from
// Bytes, so presence is checked through reflect to leave msg untouched.
func wireBytes(msg *quickfix.Message) ([]byte, bool) {
	f := reflect.ValueOf(msg).Elem().FieldByName("rawMessage")
	if !f.IsValid() || f.IsNil() {
		return nil, false
	}
	return msg.Bytes(), true
}

// MarkPossDup flags msg as a possible duplicate. OrigSendingTime is carried
// over from SendingTime when the message has one.
func MarkPossDup(msg *quickfix.Message) {
	msg.Header.SetString(TagPossDupFlag, "Y")
	if st, rej := msg.Header.GetString(TagSendingTime); rej == nil && st != "" {
		msg.Header.SetString(TagOrigSendingTime, st)
	}
}

// IsPossDup reports whether PossDupFlag is set to Y.
func IsPossDup(msg *quickfix.Message) bool {
	v, rej := msg.Header.GetString(TagPossDupFlag)
	return rej == nil && v == "Y"
}

// Encode renders msg in FIX tag=value form. A message parsed from the wire
// encodes to the bytes received; edits to it are not reflected, use Detach
// for that. Built messages are rendered from a copy, leaving msg untouched.
func Encode(msg *quickfix.Message) []byte {
	if raw, ok := wireBytes(msg); ok {
		return append([]byte(nil), raw...)
	}
	return Detach(msg).Bytes()
}

// Decode parses raw tag=value bytes produced by Encode. The result keeps its
// own copy of raw as its wire bytes.
func Decode(raw []byte) (*quickfix.Message, error) {
	msg, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored message: %w", err)
	}
	return msg, nil
}

func parse(raw []byte) (*quickfix.Message, error) {
	msg := quickfix.NewMessage()
	if err := quickfix.ParseMessage(msg, bytes.NewBuffer(append([]byte(nil), raw...))); err != nil {
		return nil, err
	}
	return msg, nil
}

// Human renders a wire message with SOH separators shown as '|'.
func Human(raw string) string {
	return strings.ReplaceAll(raw, soh, "|")
}
