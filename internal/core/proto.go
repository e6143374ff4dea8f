package core

import (
	"time"

	"github.com/glimte/spsock-go/errcode"
)

// SP protocol numbers, as exchanged in the pipe handshake.
const (
	ProtoPair       uint16 = 16
	ProtoPub        uint16 = 32
	ProtoSub        uint16 = 33
	ProtoReq        uint16 = 48
	ProtoRep        uint16 = 49
	ProtoPush       uint16 = 80
	ProtoPull       uint16 = 81
	ProtoSurveyor   uint16 = 98
	ProtoRespondent uint16 = 99
	ProtoBus        uint16 = 112

	// ProtoPair1 is a local variant tag; on the wire pair1 negotiates with
	// the pair number plus one, matching its versioned handshake.
	ProtoPair1 uint16 = 17
)

// protocol is the per-variant state machine driven by the socket. A single
// implementation instance belongs to exactly one socket.
type protocol interface {
	number() uint16
	peerNumber() uint16
	name() string

	// attach offers a new pipe. Returning false rejects it (pair sockets
	// accept only one). On true the protocol has taken responsibility for
	// starting the pipe's writer.
	attach(p *Pipe) bool
	// detach is called exactly once when an attached pipe goes away.
	detach(p *Pipe)
	// deliver hands an inbound frame to the protocol. It may block for
	// backpressure but must return promptly once the socket closes.
	deliver(p *Pipe, frame []byte)

	sendMsg(m *Msg, w opWait) error
	recvMsg(w opWait) (*Msg, error)

	// openContext returns a new independent channel, or NotSupported.
	openContext() (Ctx, error)
	// setOpt gives the protocol first refusal on an option write. The
	// bool reports whether the option was consumed.
	setOpt(name string, v any) (bool, error)
	close()
}

// Ctx is an independent logical channel multiplexed over one socket.
type Ctx interface {
	SendMsg(m *Msg, w OpWait) error
	RecvMsg(w OpWait) (*Msg, error)
	Close() error
}

// opWait bundles the ways a blocking operation can be abandoned: a deadline,
// an external cancellation, and socket closure (mixed in by the socket).
type opWait struct {
	timeout <-chan time.Time
	cancel  <-chan struct{}
}

// OpWait is the exported form used by the wrapper's asynchronous layer.
type OpWait struct {
	Timeout <-chan time.Time
	Cancel  <-chan struct{}
}

func (w OpWait) internal() opWait {
	return opWait{timeout: w.Timeout, cancel: w.Cancel}
}

func (w opWait) external() OpWait {
	return OpWait{Timeout: w.timeout, Cancel: w.cancel}
}

func errNotSupported(op string) error {
	return errcode.New(errcode.NotSupported, op)
}

func errClosed(op string) error {
	return errcode.New(errcode.Closed, op)
}
