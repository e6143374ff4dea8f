package core

func init() {
	registerProtocol(ProtoBus, newBus)
}

// busProto sends every message to all attached peers and receives from any
// of them. Messages are never echoed back to the pipe they arrived on, and
// the engine does no forwarding between peers.
type busProto struct {
	s     *Socket
	recvQ chan *Msg
}

func newBus(s *Socket) protocol {
	return &busProto{s: s, recvQ: make(chan *Msg, s.opts.integer(OptRecvBuffer))}
}

func (*busProto) number() uint16     { return ProtoBus }
func (*busProto) peerNumber() uint16 { return ProtoBus }
func (*busProto) name() string       { return "bus0" }

func (p *busProto) attach(pp *Pipe) bool {
	pp.startWriter(nil)
	return true
}

func (p *busProto) detach(*Pipe) {}

func (p *busProto) deliver(pp *Pipe, frame []byte) {
	select {
	case p.recvQ <- &Msg{Body: frame}:
	case <-p.s.done:
	case <-pp.closed:
	}
}

func (p *busProto) sendMsg(m *Msg, _ opWait) error {
	for _, pp := range p.s.pipesSnapshot() {
		if !pp.enqueue(m) {
			p.s.log.Debug("bus send dropped for slow peer", "pipe", pp.id)
		}
	}
	return nil
}

func (p *busProto) recvMsg(w opWait) (*Msg, error) {
	return p.s.recvFromQueue(p.recvQ, nil, w, "recv")
}

func (p *busProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *busProto) setOpt(string, any) (bool, error) { return false, nil }

func (p *busProto) close() {}
