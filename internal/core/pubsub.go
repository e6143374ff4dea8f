package core

import (
	"bytes"
	"sync"

	"github.com/glimte/spsock-go/errcode"
)

func init() {
	registerProtocol(ProtoPub, newPub)
	registerProtocol(ProtoSub, newSub)
}

// pubProto broadcasts every message to all attached pipes, best effort: a
// slow or dead pipe drops the message rather than stalling the publisher.
type pubProto struct {
	s *Socket
}

func newPub(s *Socket) protocol {
	return &pubProto{s: s}
}

func (*pubProto) number() uint16     { return ProtoPub }
func (*pubProto) peerNumber() uint16 { return ProtoSub }
func (*pubProto) name() string       { return "pub0" }

func (p *pubProto) attach(pp *Pipe) bool {
	pp.startWriter(nil)
	return true
}

func (p *pubProto) detach(*Pipe) {}

func (p *pubProto) deliver(pp *Pipe, _ []byte) {
	p.s.log.Debug("unexpected inbound frame dropped", "pipe", pp.id)
}

func (p *pubProto) sendMsg(m *Msg, _ opWait) error {
	for _, pp := range p.s.pipesSnapshot() {
		if !pp.enqueue(m) {
			p.s.log.Debug("publish dropped for slow subscriber", "pipe", pp.id)
		}
	}
	return nil
}

func (p *pubProto) recvMsg(opWait) (*Msg, error) {
	return nil, errNotSupported("recv")
}

func (p *pubProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *pubProto) setOpt(string, any) (bool, error) { return false, nil }

func (p *pubProto) close() {}

// subProto receives only messages whose body starts with a subscribed topic.
// With no subscriptions everything is discarded; the empty topic matches
// every message.
type subProto struct {
	s     *Socket
	recvQ chan *Msg

	mu     sync.Mutex
	topics [][]byte
}

func newSub(s *Socket) protocol {
	return &subProto{s: s, recvQ: make(chan *Msg, s.opts.integer(OptRecvBuffer))}
}

func (*subProto) number() uint16     { return ProtoSub }
func (*subProto) peerNumber() uint16 { return ProtoPub }
func (*subProto) name() string       { return "sub0" }

func (p *subProto) attach(pp *Pipe) bool {
	pp.startWriter(nil)
	return true
}

func (p *subProto) detach(*Pipe) {}

func (p *subProto) deliver(pp *Pipe, frame []byte) {
	if !p.matches(frame) {
		return
	}
	select {
	case p.recvQ <- &Msg{Body: frame}:
	default:
		p.s.log.Debug("subscriber queue full, message dropped", "pipe", pp.id)
	}
}

func (p *subProto) matches(body []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if bytes.HasPrefix(body, t) {
			return true
		}
	}
	return false
}

func (p *subProto) sendMsg(*Msg, opWait) error {
	return errNotSupported("send")
}

func (p *subProto) recvMsg(w opWait) (*Msg, error) {
	return p.s.recvFromQueue(p.recvQ, nil, w, "recv")
}

func (p *subProto) openContext() (Ctx, error) {
	return nil, errNotSupported("ctx-open")
}

func (p *subProto) setOpt(name string, v any) (bool, error) {
	switch name {
	case OptSubSubscribe:
		topic, ok := v.([]byte)
		if !ok {
			return true, errcode.New(errcode.InvalidArgument, "setopt")
		}
		p.subscribe(topic)
		return true, nil
	case OptSubUnsubscribe:
		topic, ok := v.([]byte)
		if !ok {
			return true, errcode.New(errcode.InvalidArgument, "setopt")
		}
		return true, p.unsubscribe(topic)
	}
	return false, nil
}

func (p *subProto) subscribe(topic []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if bytes.Equal(t, topic) {
			return
		}
	}
	p.topics = append(p.topics, append([]byte(nil), topic...))
}

func (p *subProto) unsubscribe(topic []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.topics {
		if bytes.Equal(t, topic) {
			p.topics = append(p.topics[:i], p.topics[i+1:]...)
			return nil
		}
	}
	return errcode.FromRawError(errcode.RawNoEntry, "unsubscribe")
}

func (p *subProto) close() {}
