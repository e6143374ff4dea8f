package core

import (
	"encoding/binary"
	"sync"
)

func init() {
	registerProtocol(ProtoPair, func(s *Socket) protocol { return newPair(s, false) })
	registerProtocol(ProtoPair1, func(s *Socket) protocol { return newPair(s, true) })
}

// pairProto is a strict one-to-one conversation: a single pipe at a time,
// additional connection attempts are rejected. The v1 variant carries a
// 4-byte hop count validated against the max-ttl option.
type pairProto struct {
	s     *Socket
	v1    bool
	sendQ chan *Msg
	recvQ chan *Msg

	mu  sync.Mutex
	cur *Pipe
}

func newPair(s *Socket, v1 bool) protocol {
	return &pairProto{
		s:     s,
		v1:    v1,
		sendQ: make(chan *Msg, s.opts.integer(OptSendBuffer)),
		recvQ: make(chan *Msg, s.opts.integer(OptRecvBuffer)),
	}
}

func (p *pairProto) number() uint16 {
	if p.v1 {
		return ProtoPair1
	}
	return ProtoPair
}

func (p *pairProto) peerNumber() uint16 { return p.number() }

func (p *pairProto) name() string {
	if p.v1 {
		return "pair1"
	}
	return "pair0"
}

func (p *pairProto) attach(pp *Pipe) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return false
	}
	p.cur = pp
	pp.startWriter(p.sendQ)
	return true
}

func (p *pairProto) detach(pp *Pipe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == pp {
		p.cur = nil
	}
}

func (p *pairProto) deliver(pp *Pipe, frame []byte) {
	body := frame
	if p.v1 {
		if len(frame) < 4 {
			p.s.log.Debug("malformed pair1 frame dropped", "pipe", pp.id)
			return
		}
		hops := binary.BigEndian.Uint32(frame[:4]) + 1
		if int(hops) > p.s.opts.integer(OptMaxTTL) {
			p.s.log.Debug("pair1 frame exceeded max-ttl", "pipe", pp.id, "hops", hops)
			return
		}
		body = frame[4:]
	}
	select {
	case p.recvQ <- &Msg{Body: body}:
	case <-p.s.done:
	case <-pp.closed:
	}
}

func (p *pairProto) sendMsg(m *Msg, w opWait) error {
	out := m
	if p.v1 {
		out = &Msg{Header: be32(0), Body: m.Body}
	}
	return p.s.sendToQueue(p.sendQ, out, w, "send")
}

func (p *pairProto) recvMsg(w opWait) (*Msg, error) {
	return p.s.recvFromQueue(p.recvQ, nil, w, "recv")
}

func (p *pairProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *pairProto) setOpt(string, any) (bool, error) { return false, nil }

func (p *pairProto) close() {}
