package core

func init() {
	registerProtocol(ProtoPush, newPush)
	registerProtocol(ProtoPull, newPull)
}

// pushProto distributes messages across attached pipes: every pipe's writer
// pulls from one shared queue, so an available peer picks up the next
// message.
type pushProto struct {
	s     *Socket
	sendQ chan *Msg
}

func newPush(s *Socket) protocol {
	return &pushProto{s: s, sendQ: make(chan *Msg, s.opts.integer(OptSendBuffer))}
}

func (*pushProto) number() uint16     { return ProtoPush }
func (*pushProto) peerNumber() uint16 { return ProtoPull }
func (*pushProto) name() string       { return "push0" }

func (p *pushProto) attach(pp *Pipe) bool {
	pp.startWriter(p.sendQ)
	return true
}

func (p *pushProto) detach(*Pipe) {}

func (p *pushProto) deliver(pp *Pipe, _ []byte) {
	// A pull peer never sends.
	p.s.log.Debug("unexpected inbound frame dropped", "pipe", pp.id)
}

func (p *pushProto) sendMsg(m *Msg, w opWait) error {
	return p.s.sendToQueue(p.sendQ, m, w, "send")
}

func (p *pushProto) recvMsg(opWait) (*Msg, error) {
	return nil, errNotSupported("recv")
}

func (p *pushProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *pushProto) setOpt(string, any) (bool, error) { return false, nil }

func (p *pushProto) close() {}

// pullProto fans every pipe into one shared receive queue, with
// backpressure per pipe when the queue fills.
type pullProto struct {
	s     *Socket
	recvQ chan *Msg
}

func newPull(s *Socket) protocol {
	return &pullProto{s: s, recvQ: make(chan *Msg, s.opts.integer(OptRecvBuffer))}
}

func (*pullProto) number() uint16     { return ProtoPull }
func (*pullProto) peerNumber() uint16 { return ProtoPush }
func (*pullProto) name() string       { return "pull0" }

func (p *pullProto) attach(pp *Pipe) bool {
	pp.startWriter(nil)
	return true
}

func (p *pullProto) detach(*Pipe) {}

func (p *pullProto) deliver(pp *Pipe, frame []byte) {
	select {
	case p.recvQ <- &Msg{Body: frame}:
	case <-p.s.done:
	case <-pp.closed:
	}
}

func (p *pullProto) sendMsg(*Msg, opWait) error {
	return errNotSupported("send")
}

func (p *pullProto) recvMsg(w opWait) (*Msg, error) {
	return p.s.recvFromQueue(p.recvQ, nil, w, "recv")
}

func (p *pullProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *pullProto) setOpt(string, any) (bool, error) { return false, nil }

func (p *pullProto) close() {}
