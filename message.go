package spsock

import (
	"encoding/binary"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

// Message is an owned buffer with two regions: the body carries payload, the
// header carries protocol metadata. A successful send consumes the Message;
// every operation on a consumed Message fails with InvalidArgument. Receive
// operations hand the caller a fresh Message it then owns.
//
// A Message is not safe for concurrent use.
type Message struct {
	m *core.Msg
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{m: &core.Msg{}}
}

// NewMessageSize returns a message whose body is n zero bytes.
func NewMessageSize(n int) *Message {
	return &Message{m: &core.Msg{Body: make([]byte, n)}}
}

func wrapMsg(m *core.Msg) *Message { return &Message{m: m} }

// ref guards every operation against use after the message was consumed.
func (m *Message) ref(op string) (*core.Msg, error) {
	if m == nil || m.m == nil {
		return nil, errcode.Newf(errcode.InvalidArgument, op, "message was consumed by a send")
	}
	return m.m, nil
}

// detach hands the underlying buffer to the engine and poisons the handle.
func (m *Message) detach() *core.Msg {
	raw := m.m
	m.m = nil
	return raw
}

// Body returns the body region. The slice aliases the message; it is valid
// until the next mutating operation.
func (m *Message) Body() []byte {
	if m == nil || m.m == nil {
		return nil
	}
	return m.m.Body
}

// Header returns the header region under the same aliasing rules as Body.
func (m *Message) Header() []byte {
	if m == nil || m.m == nil {
		return nil
	}
	return m.m.Header
}

// Len reports the body length.
func (m *Message) Len() int { return len(m.Body()) }

// HeaderLen reports the header length.
func (m *Message) HeaderLen() int { return len(m.Header()) }

// Cap reports the body capacity.
func (m *Message) Cap() int {
	if m == nil || m.m == nil {
		return 0
	}
	return cap(m.m.Body)
}

// Append adds b to the end of the body.
func (m *Message) Append(b []byte) error {
	raw, err := m.ref("msg-append")
	if err != nil {
		return err
	}
	raw.Body = append(raw.Body, b...)
	return nil
}

// Insert places b at the front of the body.
func (m *Message) Insert(b []byte) error {
	raw, err := m.ref("msg-insert")
	if err != nil {
		return err
	}
	raw.Body = insert(raw.Body, b)
	return nil
}

// Trim removes n bytes from the front of the body.
func (m *Message) Trim(n int) error {
	raw, err := m.ref("msg-trim")
	if err != nil {
		return err
	}
	if n < 0 || n > len(raw.Body) {
		return errcode.Newf(errcode.InvalidArgument, "msg-trim", "trim %d of %d bytes", n, len(raw.Body))
	}
	raw.Body = raw.Body[n:]
	return nil
}

// Chop removes n bytes from the end of the body.
func (m *Message) Chop(n int) error {
	raw, err := m.ref("msg-chop")
	if err != nil {
		return err
	}
	if n < 0 || n > len(raw.Body) {
		return errcode.Newf(errcode.InvalidArgument, "msg-chop", "chop %d of %d bytes", n, len(raw.Body))
	}
	raw.Body = raw.Body[:len(raw.Body)-n]
	return nil
}

// Clear empties the body, keeping its capacity.
func (m *Message) Clear() {
	if m == nil || m.m == nil {
		return
	}
	m.m.Body = m.m.Body[:0]
}

// Reserve grows the body capacity to at least n bytes.
func (m *Message) Reserve(n int) error {
	raw, err := m.ref("msg-reserve")
	if err != nil {
		return err
	}
	if cap(raw.Body) < n {
		grown := make([]byte, len(raw.Body), n)
		copy(grown, raw.Body)
		raw.Body = grown
	}
	return nil
}

// HeaderAppend adds b to the end of the header.
func (m *Message) HeaderAppend(b []byte) error {
	raw, err := m.ref("msg-header-append")
	if err != nil {
		return err
	}
	raw.Header = append(raw.Header, b...)
	return nil
}

// HeaderInsert places b at the front of the header.
func (m *Message) HeaderInsert(b []byte) error {
	raw, err := m.ref("msg-header-insert")
	if err != nil {
		return err
	}
	raw.Header = insert(raw.Header, b)
	return nil
}

// HeaderTrim removes n bytes from the front of the header.
func (m *Message) HeaderTrim(n int) error {
	raw, err := m.ref("msg-header-trim")
	if err != nil {
		return err
	}
	if n < 0 || n > len(raw.Header) {
		return errcode.Newf(errcode.InvalidArgument, "msg-header-trim", "trim %d of %d bytes", n, len(raw.Header))
	}
	raw.Header = raw.Header[n:]
	return nil
}

// HeaderChop removes n bytes from the end of the header.
func (m *Message) HeaderChop(n int) error {
	raw, err := m.ref("msg-header-chop")
	if err != nil {
		return err
	}
	if n < 0 || n > len(raw.Header) {
		return errcode.Newf(errcode.InvalidArgument, "msg-header-chop", "chop %d of %d bytes", n, len(raw.Header))
	}
	raw.Header = raw.Header[:len(raw.Header)-n]
	return nil
}

// HeaderClear empties the header, keeping its capacity.
func (m *Message) HeaderClear() {
	if m == nil || m.m == nil {
		return
	}
	m.m.Header = m.m.Header[:0]
}

// Dup returns a deep copy of the message, independently owned.
func (m *Message) Dup() (*Message, error) {
	raw, err := m.ref("msg-dup")
	if err != nil {
		return nil, err
	}
	return wrapMsg(raw.Dup()), nil
}

// Integer helpers operate on the body in network byte order.

// AppendUint16 adds v to the end of the body.
func (m *Message) AppendUint16(v uint16) error {
	return m.Append(binary.BigEndian.AppendUint16(nil, v))
}

// AppendUint32 adds v to the end of the body.
func (m *Message) AppendUint32(v uint32) error {
	return m.Append(binary.BigEndian.AppendUint32(nil, v))
}

// AppendUint64 adds v to the end of the body.
func (m *Message) AppendUint64(v uint64) error {
	return m.Append(binary.BigEndian.AppendUint64(nil, v))
}

// InsertUint16 places v at the front of the body.
func (m *Message) InsertUint16(v uint16) error {
	return m.Insert(binary.BigEndian.AppendUint16(nil, v))
}

// InsertUint32 places v at the front of the body.
func (m *Message) InsertUint32(v uint32) error {
	return m.Insert(binary.BigEndian.AppendUint32(nil, v))
}

// InsertUint64 places v at the front of the body.
func (m *Message) InsertUint64(v uint64) error {
	return m.Insert(binary.BigEndian.AppendUint64(nil, v))
}

// TrimUint16 removes and returns the leading 2 bytes of the body.
func (m *Message) TrimUint16() (uint16, error) {
	b, err := m.takeFront("msg-trim", 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// TrimUint32 removes and returns the leading 4 bytes of the body.
func (m *Message) TrimUint32() (uint32, error) {
	b, err := m.takeFront("msg-trim", 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// TrimUint64 removes and returns the leading 8 bytes of the body.
func (m *Message) TrimUint64() (uint64, error) {
	b, err := m.takeFront("msg-trim", 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ChopUint16 removes and returns the trailing 2 bytes of the body.
func (m *Message) ChopUint16() (uint16, error) {
	b, err := m.takeBack("msg-chop", 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ChopUint32 removes and returns the trailing 4 bytes of the body.
func (m *Message) ChopUint32() (uint32, error) {
	b, err := m.takeBack("msg-chop", 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ChopUint64 removes and returns the trailing 8 bytes of the body.
func (m *Message) ChopUint64() (uint64, error) {
	b, err := m.takeBack("msg-chop", 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (m *Message) takeFront(op string, n int) ([]byte, error) {
	raw, err := m.ref(op)
	if err != nil {
		return nil, err
	}
	if len(raw.Body) < n {
		return nil, errcode.Newf(errcode.InvalidArgument, op, "body holds %d of %d bytes", len(raw.Body), n)
	}
	b := raw.Body[:n]
	raw.Body = raw.Body[n:]
	return b, nil
}

func (m *Message) takeBack(op string, n int) ([]byte, error) {
	raw, err := m.ref(op)
	if err != nil {
		return nil, err
	}
	if len(raw.Body) < n {
		return nil, errcode.Newf(errcode.InvalidArgument, op, "body holds %d of %d bytes", len(raw.Body), n)
	}
	b := raw.Body[len(raw.Body)-n:]
	raw.Body = raw.Body[:len(raw.Body)-n]
	return b, nil
}

func insert(dst, b []byte) []byte {
	out := make([]byte, 0, len(dst)+len(b))
	out = append(out, b...)
	return append(out, dst...)
}
