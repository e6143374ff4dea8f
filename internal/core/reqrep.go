package core

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/glimte/spsock-go/errcode"
)

func init() {
	registerProtocol(ProtoReq, newReq)
	registerProtocol(ProtoRep, newRep)
}

// reqProto implements the requesting half of request/reply. Every request
// carries a 4-byte ID in the wire header; an unanswered request is
// retransmitted each resend interval until a reply arrives, a new request
// supersedes it, or the context closes. Contexts multiplex independent
// request streams over the socket; socket-level send/recv use an implicit
// default context.
type reqProto struct {
	s     *Socket
	sendQ chan *Msg

	mu      sync.Mutex
	pending map[uint32]*reqCtx // by outstanding request ID
	ctxs    map[*reqCtx]struct{}
	nextID  uint32
	closed  bool

	def *reqCtx
}

func newReq(s *Socket) protocol {
	r := &reqProto{
		s:       s,
		sendQ:   make(chan *Msg, s.opts.integer(OptSendBuffer)),
		pending: make(map[uint32]*reqCtx),
		ctxs:    make(map[*reqCtx]struct{}),
		nextID:  rand.Uint32(),
	}
	r.def = r.newCtx()
	return r
}

func (*reqProto) number() uint16     { return ProtoReq }
func (*reqProto) peerNumber() uint16 { return ProtoRep }
func (*reqProto) name() string       { return "req0" }

func (r *reqProto) attach(p *Pipe) bool {
	p.startWriter(r.sendQ)
	return true
}

// detach loses nothing: outstanding requests are retained per context and
// covered by the resend timer.
func (r *reqProto) detach(*Pipe) {}

func (r *reqProto) deliver(p *Pipe, frame []byte) {
	if len(frame) < 4 {
		r.s.log.Debug("malformed reply dropped", "pipe", p.id)
		return
	}
	id := binary.BigEndian.Uint32(frame[:4])
	r.mu.Lock()
	c := r.pending[id]
	if c != nil {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if c == nil {
		// Stale reply for a superseded or expired request.
		return
	}
	c.complete(id, frame[4:])
}

func (r *reqProto) sendMsg(m *Msg, w opWait) error {
	return r.def.SendMsg(m, w.external())
}

func (r *reqProto) recvMsg(w opWait) (*Msg, error) {
	return r.def.RecvMsg(w.external())
}

func (r *reqProto) openContext() (Ctx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed("ctx-open")
	}
	return r.newCtxLocked(), nil
}

func (r *reqProto) newCtx() *reqCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newCtxLocked()
}

func (r *reqProto) newCtxLocked() *reqCtx {
	c := &reqCtx{
		r:      r,
		recvQ:  make(chan *Msg, 1),
		closed: make(chan struct{}),
	}
	r.ctxs[c] = struct{}{}
	return c
}

// newIDLocked allocates the next request ID with the high bit set, the SP
// convention marking end-to-end request IDs. Requires r.mu.
func (r *reqProto) newIDLocked() uint32 {
	r.nextID++
	return r.nextID | 0x80000000
}

func (r *reqProto) setOpt(string, any) (bool, error) { return false, nil }

func (r *reqProto) close() {
	r.mu.Lock()
	r.closed = true
	ctxs := make([]*reqCtx, 0, len(r.ctxs))
	for c := range r.ctxs {
		ctxs = append(ctxs, c)
	}
	r.mu.Unlock()
	for _, c := range ctxs {
		c.Close()
	}
}

// resendDelay derives the retransmit interval: resend-time rounded up to the
// resend-tick granularity. Non-positive resend-time disables retransmission.
func (r *reqProto) resendDelay() time.Duration {
	rt := r.s.opts.duration(OptReqResendTime)
	if rt <= 0 {
		return 0
	}
	tick := r.s.opts.duration(OptReqResendTick)
	if tick > 0 && rt%tick != 0 {
		rt = (rt/tick + 1) * tick
	}
	return rt
}

// reqCtx is one request stream. At most one request is outstanding per
// context; sending a new one abandons the previous exchange.
type reqCtx struct {
	r *reqProto

	mu       sync.Mutex
	reqID    uint32 // current outstanding ID, 0 when none
	retained *Msg   // request body kept for retransmission
	timer    *time.Timer

	recvQ     chan *Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *reqCtx) SendMsg(m *Msg, ow OpWait) error {
	w := ow.internal()
	r := c.r
	r.mu.Lock()
	select {
	case <-c.closed:
		r.mu.Unlock()
		return errClosed("send")
	default:
	}
	if r.closed {
		r.mu.Unlock()
		return errClosed("send")
	}
	c.mu.Lock()
	if c.reqID != 0 {
		delete(r.pending, c.reqID)
	}
	id := r.newIDLocked()
	c.reqID = id
	c.retained = m
	c.stopTimerLocked()
	// Drop a stale reply from the superseded exchange.
	select {
	case <-c.recvQ:
	default:
	}
	c.mu.Unlock()
	r.pending[id] = c
	r.mu.Unlock()

	out := &Msg{Header: be32(id), Body: m.Body}
	if err := r.s.sendToQueue(r.sendQ, out, w, "send"); err != nil {
		// Ownership of m returns to the caller; forget the exchange.
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		c.mu.Lock()
		if c.reqID == id {
			c.reqID = 0
			c.retained = nil
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.reqID == id && c.retained != nil {
		c.armTimerLocked(id)
	}
	c.mu.Unlock()
	return nil
}

func (c *reqCtx) RecvMsg(ow OpWait) (*Msg, error) {
	w := ow.internal()
	select {
	case m := <-c.recvQ:
		return m, nil
	default:
	}
	c.mu.Lock()
	outstanding := c.reqID != 0
	c.mu.Unlock()
	if !outstanding {
		return nil, errcode.Newf(errcode.ProtocolError, "recv", "no outstanding request")
	}
	return c.r.s.recvFromQueue(c.recvQ, c.closed, w, "recv")
}

func (c *reqCtx) Close() error {
	var already bool
	c.closeOnce.Do(func() {
		r := c.r
		r.mu.Lock()
		delete(r.ctxs, c)
		c.mu.Lock()
		if c.reqID != 0 {
			delete(r.pending, c.reqID)
			c.reqID = 0
		}
		c.retained = nil
		c.stopTimerLocked()
		c.mu.Unlock()
		r.mu.Unlock()
		close(c.closed)
		already = true
	})
	if !already {
		return errClosed("ctx-close")
	}
	return nil
}

// complete delivers a reply for the given request ID. The ID was already
// unregistered by the caller, so no retransmission can race past this point.
func (c *reqCtx) complete(id uint32, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqID != id {
		return
	}
	c.reqID = 0
	c.retained = nil
	c.stopTimerLocked()
	select {
	case c.recvQ <- &Msg{Body: body}:
	default:
	}
}

// armTimerLocked schedules a retransmission. Requires c.mu.
func (c *reqCtx) armTimerLocked(id uint32) {
	delay := c.r.resendDelay()
	if delay <= 0 {
		return
	}
	c.timer = time.AfterFunc(delay, func() { c.resend(id) })
}

func (c *reqCtx) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// resend retransmits the retained request if it is still the outstanding
// one. Best effort: a full send queue skips this round and the timer is
// re-armed either way.
func (c *reqCtx) resend(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqID != id || c.retained == nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	out := &Msg{Header: be32(id), Body: c.retained.Body}
	select {
	case c.r.sendQ <- out:
		c.r.s.log.Debug("request retransmitted", "reqID", id)
	default:
	}
	c.armTimerLocked(id)
}

// repProto implements the answering half. Inbound requests queue with their
// backtrace (origin pipe and request ID); each context alternates
// recv-then-send and routes the reply back over the origin pipe, silently
// dropping it when that pipe is gone.
type repProto struct {
	s     *Socket
	recvQ chan *repInbound

	mu     sync.Mutex
	ctxs   map[*repCtx]struct{}
	closed bool

	def *repCtx
}

type repInbound struct {
	p    *Pipe
	hdr  []byte
	body []byte
}

func newRep(s *Socket) protocol {
	r := &repProto{
		s:     s,
		recvQ: make(chan *repInbound, s.opts.integer(OptRecvBuffer)),
		ctxs:  make(map[*repCtx]struct{}),
	}
	r.def = r.newCtx()
	return r
}

func (*repProto) number() uint16     { return ProtoRep }
func (*repProto) peerNumber() uint16 { return ProtoReq }
func (*repProto) name() string       { return "rep0" }

func (r *repProto) attach(p *Pipe) bool {
	p.startWriter(nil)
	return true
}

func (r *repProto) detach(*Pipe) {}

func (r *repProto) deliver(p *Pipe, frame []byte) {
	if len(frame) < 4 {
		r.s.log.Debug("malformed request dropped", "pipe", p.id)
		return
	}
	in := &repInbound{p: p, hdr: frame[:4:4], body: frame[4:]}
	select {
	case r.recvQ <- in:
	case <-r.s.done:
	case <-p.closed:
	}
}

func (r *repProto) sendMsg(m *Msg, w opWait) error {
	return r.def.SendMsg(m, w.external())
}

func (r *repProto) recvMsg(w opWait) (*Msg, error) {
	return r.def.RecvMsg(w.external())
}

func (r *repProto) openContext() (Ctx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed("ctx-open")
	}
	return r.newCtxLocked(), nil
}

func (r *repProto) newCtx() *repCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newCtxLocked()
}

func (r *repProto) newCtxLocked() *repCtx {
	c := &repCtx{r: r, closed: make(chan struct{})}
	r.ctxs[c] = struct{}{}
	return c
}

func (r *repProto) setOpt(string, any) (bool, error) { return false, nil }

func (r *repProto) close() {
	r.mu.Lock()
	r.closed = true
	ctxs := make([]*repCtx, 0, len(r.ctxs))
	for c := range r.ctxs {
		ctxs = append(ctxs, c)
	}
	r.mu.Unlock()
	for _, c := range ctxs {
		c.Close()
	}
}

// repCtx is one reply stream: strict recv-then-send alternation.
type repCtx struct {
	r *repProto

	mu      sync.Mutex
	pending *repInbound

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *repCtx) RecvMsg(ow OpWait) (*Msg, error) {
	w := ow.internal()
	r := c.r
	var in *repInbound
	select {
	case in = <-r.recvQ:
	default:
		select {
		case in = <-r.recvQ:
		case <-r.s.done:
			return nil, errClosed("recv")
		case <-c.closed:
			return nil, errClosed("recv")
		case <-w.cancel:
			return nil, errcode.New(errcode.Canceled, "recv")
		case <-w.timeout:
			return nil, errcode.New(errcode.Timeout, "recv")
		}
	}
	c.mu.Lock()
	c.pending = in
	c.mu.Unlock()
	return &Msg{Body: in.body}, nil
}

func (c *repCtx) SendMsg(m *Msg, ow OpWait) error {
	w := ow.internal()
	c.mu.Lock()
	in := c.pending
	c.pending = nil
	c.mu.Unlock()
	if in == nil {
		return errcode.Newf(errcode.ProtocolError, "send", "no request awaiting a reply")
	}
	out := &Msg{Header: in.hdr, Body: m.Body}
	select {
	case in.p.sendQ <- out:
		return nil
	default:
	}
	select {
	case in.p.sendQ <- out:
		return nil
	case <-in.p.closed:
		// Requester is gone; its resend logic recovers.
		c.r.s.log.Debug("reply dropped, requester disconnected")
		return nil
	case <-c.r.s.done:
		return errClosed("send")
	case <-c.closed:
		return errClosed("send")
	case <-w.cancel:
		return errcode.New(errcode.Canceled, "send")
	case <-w.timeout:
		return errcode.New(errcode.Timeout, "send")
	}
}

func (c *repCtx) Close() error {
	var done bool
	c.closeOnce.Do(func() {
		c.r.mu.Lock()
		delete(c.r.ctxs, c)
		c.r.mu.Unlock()
		close(c.closed)
		done = true
	})
	if !done {
		return errClosed("ctx-close")
	}
	return nil
}
