package core

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/glimte/spsock-go/errcode"
)

func init() {
	registerProtocol(ProtoSurveyor, newSurveyor)
	registerProtocol(ProtoRespondent, newRespondent)
}

// surveyorProto broadcasts a survey to all connected respondents and gathers
// responses until the survey deadline passes. Each survey carries a 4-byte ID;
// responses for any other ID are discarded. Opening a new survey ends the
// previous one. Contexts run independent surveys over the same socket.
type surveyorProto struct {
	s *Socket

	mu     sync.Mutex
	active map[uint32]*surveyCtx // by survey ID
	ctxs   map[*surveyCtx]struct{}
	nextID uint32
	closed bool

	def *surveyCtx
}

func newSurveyor(s *Socket) protocol {
	sp := &surveyorProto{
		s:      s,
		active: make(map[uint32]*surveyCtx),
		ctxs:   make(map[*surveyCtx]struct{}),
		nextID: rand.Uint32(),
	}
	sp.def = sp.newCtx()
	return sp
}

func (*surveyorProto) number() uint16     { return ProtoSurveyor }
func (*surveyorProto) peerNumber() uint16 { return ProtoRespondent }
func (*surveyorProto) name() string       { return "surveyor0" }

func (sp *surveyorProto) attach(p *Pipe) bool {
	p.startWriter(nil)
	return true
}

func (sp *surveyorProto) detach(*Pipe) {}

func (sp *surveyorProto) deliver(p *Pipe, frame []byte) {
	if len(frame) < 4 {
		sp.s.log.Debug("malformed response dropped", "pipe", p.id)
		return
	}
	id := binary.BigEndian.Uint32(frame[:4])
	sp.mu.Lock()
	c := sp.active[id]
	sp.mu.Unlock()
	if c == nil {
		return
	}
	c.deliver(id, frame[4:])
}

func (sp *surveyorProto) sendMsg(m *Msg, w opWait) error {
	return sp.def.SendMsg(m, w.external())
}

func (sp *surveyorProto) recvMsg(w opWait) (*Msg, error) {
	return sp.def.RecvMsg(w.external())
}

func (sp *surveyorProto) openContext() (Ctx, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return nil, errClosed("ctx-open")
	}
	return sp.newCtxLocked(), nil
}

func (sp *surveyorProto) newCtx() *surveyCtx {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.newCtxLocked()
}

func (sp *surveyorProto) newCtxLocked() *surveyCtx {
	c := &surveyCtx{
		sp:     sp,
		recvQ:  make(chan *Msg, sp.s.opts.integer(OptRecvBuffer)),
		closed: make(chan struct{}),
	}
	sp.ctxs[c] = struct{}{}
	return c
}

func (sp *surveyorProto) newIDLocked() uint32 {
	sp.nextID++
	return sp.nextID | 0x80000000
}

func (sp *surveyorProto) setOpt(string, any) (bool, error) { return false, nil }

func (sp *surveyorProto) close() {
	sp.mu.Lock()
	sp.closed = true
	ctxs := make([]*surveyCtx, 0, len(sp.ctxs))
	for c := range sp.ctxs {
		ctxs = append(ctxs, c)
	}
	sp.mu.Unlock()
	for _, c := range ctxs {
		c.Close()
	}
}

// surveyCtx holds at most one open survey.
type surveyCtx struct {
	sp *surveyorProto

	mu       sync.Mutex
	surveyID uint32 // 0 when no survey is open
	deadline time.Time

	recvQ     chan *Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *surveyCtx) SendMsg(m *Msg, _ OpWait) error {
	sp := c.sp
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return errClosed("send")
	}
	select {
	case <-c.closed:
		sp.mu.Unlock()
		return errClosed("send")
	default:
	}
	c.mu.Lock()
	if c.surveyID != 0 {
		delete(sp.active, c.surveyID)
	}
	id := sp.newIDLocked()
	c.surveyID = id
	c.deadline = time.Now().Add(sp.s.opts.duration(OptSurveyorTime))
	c.mu.Unlock()
	sp.active[id] = c
	pipes := sp.s.pipesSnapshot()
	sp.mu.Unlock()

	// Flush responses from the superseded survey.
	for {
		select {
		case <-c.recvQ:
			continue
		default:
		}
		break
	}

	hdr := be32(id)
	for _, p := range pipes {
		if !p.enqueue(&Msg{Header: hdr, Body: m.Body}) {
			sp.s.log.Debug("survey dropped, respondent queue full", "pipe", p.id)
		}
	}
	return nil
}

func (c *surveyCtx) RecvMsg(ow OpWait) (*Msg, error) {
	w := ow.internal()
	c.mu.Lock()
	id := c.surveyID
	deadline := c.deadline
	c.mu.Unlock()
	if id == 0 {
		return nil, errcode.Newf(errcode.ProtocolError, "recv", "no survey open")
	}

	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	select {
	case m := <-c.recvQ:
		return m, nil
	default:
	}
	select {
	case m := <-c.recvQ:
		return m, nil
	case <-expiry.C:
		c.endSurvey(id)
		return nil, errcode.New(errcode.Timeout, "recv")
	case <-c.sp.s.done:
		return nil, errClosed("recv")
	case <-c.closed:
		return nil, errClosed("recv")
	case <-w.cancel:
		return nil, errcode.New(errcode.Canceled, "recv")
	case <-w.timeout:
		return nil, errcode.New(errcode.Timeout, "recv")
	}
}

// endSurvey closes out the survey with the given ID if it is still current.
func (c *surveyCtx) endSurvey(id uint32) {
	sp := c.sp
	sp.mu.Lock()
	c.mu.Lock()
	if c.surveyID == id {
		delete(sp.active, id)
		c.surveyID = 0
	}
	c.mu.Unlock()
	sp.mu.Unlock()
}

func (c *surveyCtx) deliver(id uint32, body []byte) {
	c.mu.Lock()
	current := c.surveyID == id && time.Now().Before(c.deadline)
	c.mu.Unlock()
	if !current {
		return
	}
	select {
	case c.recvQ <- &Msg{Body: body}:
	default:
		c.sp.s.log.Debug("response dropped, receive queue full", "surveyID", id)
	}
}

func (c *surveyCtx) Close() error {
	var done bool
	c.closeOnce.Do(func() {
		sp := c.sp
		sp.mu.Lock()
		delete(sp.ctxs, c)
		c.mu.Lock()
		if c.surveyID != 0 {
			delete(sp.active, c.surveyID)
			c.surveyID = 0
		}
		c.mu.Unlock()
		sp.mu.Unlock()
		close(c.closed)
		done = true
	})
	if !done {
		return errClosed("ctx-close")
	}
	return nil
}

// respondentProto receives surveys and answers the most recent one per
// context, routing the response back over the origin pipe with the survey ID
// restored in the header.
type respondentProto struct {
	s     *Socket
	recvQ chan *repInbound

	mu     sync.Mutex
	ctxs   map[*respondentCtx]struct{}
	closed bool

	def *respondentCtx
}

func newRespondent(s *Socket) protocol {
	r := &respondentProto{
		s:     s,
		recvQ: make(chan *repInbound, s.opts.integer(OptRecvBuffer)),
		ctxs:  make(map[*respondentCtx]struct{}),
	}
	r.def = r.newCtx()
	return r
}

func (*respondentProto) number() uint16     { return ProtoRespondent }
func (*respondentProto) peerNumber() uint16 { return ProtoSurveyor }
func (*respondentProto) name() string       { return "respondent0" }

func (r *respondentProto) attach(p *Pipe) bool {
	p.startWriter(nil)
	return true
}

func (r *respondentProto) detach(*Pipe) {}

func (r *respondentProto) deliver(p *Pipe, frame []byte) {
	if len(frame) < 4 {
		r.s.log.Debug("malformed survey dropped", "pipe", p.id)
		return
	}
	in := &repInbound{p: p, hdr: frame[:4:4], body: frame[4:]}
	select {
	case r.recvQ <- in:
	default:
		// Surveys are time-bounded; shedding under load beats stalling
		// the pipe reader.
		r.s.log.Debug("survey dropped, receive queue full", "pipe", p.id)
	}
}

func (r *respondentProto) sendMsg(m *Msg, w opWait) error {
	return r.def.SendMsg(m, w.external())
}

func (r *respondentProto) recvMsg(w opWait) (*Msg, error) {
	return r.def.RecvMsg(w.external())
}

func (r *respondentProto) openContext() (Ctx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed("ctx-open")
	}
	return r.newCtxLocked(), nil
}

func (r *respondentProto) newCtx() *respondentCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newCtxLocked()
}

func (r *respondentProto) newCtxLocked() *respondentCtx {
	c := &respondentCtx{r: r, closed: make(chan struct{})}
	r.ctxs[c] = struct{}{}
	return c
}

func (r *respondentProto) setOpt(string, any) (bool, error) { return false, nil }

func (r *respondentProto) close() {
	r.mu.Lock()
	r.closed = true
	ctxs := make([]*respondentCtx, 0, len(r.ctxs))
	for c := range r.ctxs {
		ctxs = append(ctxs, c)
	}
	r.mu.Unlock()
	for _, c := range ctxs {
		c.Close()
	}
}

// respondentCtx alternates survey receipt with at most one response.
type respondentCtx struct {
	r *respondentProto

	mu      sync.Mutex
	pending *repInbound

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *respondentCtx) RecvMsg(ow OpWait) (*Msg, error) {
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

func (c *respondentCtx) SendMsg(m *Msg, ow OpWait) error {
	w := ow.internal()
	c.mu.Lock()
	in := c.pending
	c.pending = nil
	c.mu.Unlock()
	if in == nil {
		return errcode.Newf(errcode.ProtocolError, "send", "no survey awaiting a response")
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
		// Surveyor gone or survey over; responses are best effort.
		c.r.s.log.Debug("response dropped, surveyor disconnected")
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

func (c *respondentCtx) Close() error {
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
