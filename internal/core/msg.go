package core

// Msg is the engine's message representation: a body carrying payload and a
// header carrying protocol metadata (request IDs, survey IDs, hop counts).
// On the wire a message travels as header followed by body in one frame; the
// receiving protocol splits the regions again.
type Msg struct {
	Header []byte
	Body   []byte
}

// Dup returns a deep copy. Protocols retain copies for retransmission, so
// the original can be handed to a pipe writer without aliasing.
func (m *Msg) Dup() *Msg {
	d := &Msg{}
	if m.Header != nil {
		d.Header = append([]byte(nil), m.Header...)
	}
	if m.Body != nil {
		d.Body = append([]byte(nil), m.Body...)
	}
	return d
}

// encode flattens header and body into a single wire frame.
func (m *Msg) encode() []byte {
	if len(m.Header) == 0 {
		return m.Body
	}
	f := make([]byte, 0, len(m.Header)+len(m.Body))
	f = append(f, m.Header...)
	f = append(f, m.Body...)
	return f
}
