package spsock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

const (
	aioIdle int32 = iota
	aioSubmitted
)

// Aio is a reusable asynchronous operation slot. Submitting a send or
// receive returns immediately; the completion callback fires exactly once
// per submission, on a goroutine owned by the slot, with the outcome
// readable through Err and Msg. Cancel requests early termination; the
// callback then fires with Canceled unless the operation already completed.
//
// An Aio holds one operation at a time. Submitting while an operation is in
// flight is rejected with InvalidArgument; the slot becomes reusable when
// its callback is invoked, so resubmitting from inside the callback is
// fine.
type Aio struct {
	cb    func(*Aio)
	state atomic.Int32

	mu         sync.Mutex
	timeout    time.Duration
	cancel     chan struct{}
	cancelOnce *sync.Once
	done       chan struct{}
	err        error
	msg        *Message
}

// NewAio returns an idle slot. cb may be nil when completion is observed
// through Wait instead.
func NewAio(cb func(*Aio)) *Aio {
	return &Aio{cb: cb}
}

// SetTimeout bounds subsequent operations on this slot. A positive d fails
// the operation with Timeout once elapsed; zero or negative defers to the
// socket's own timeout options.
func (a *Aio) SetTimeout(d time.Duration) {
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// Send submits an asynchronous send of m over s. On submission m is
// consumed; if the operation later fails, the callback finds the recovered
// message in Msg.
func (a *Aio) Send(s *Socket, m *Message) error {
	raw, err := m.ref("aio-send")
	if err != nil {
		return err
	}
	return a.submit("aio-send", func(w core.OpWait) (*core.Msg, error) {
		if err := s.s.SendMsgWait(raw, w); err != nil {
			return raw, err
		}
		return nil, nil
	}, m)
}

// Recv submits an asynchronous receive on s. On success the callback finds
// the received message in Msg and owns it.
func (a *Aio) Recv(s *Socket) error {
	return a.submit("aio-recv", func(w core.OpWait) (*core.Msg, error) {
		return s.s.RecvMsgWait(w)
	}, nil)
}

// SendCtx is Send over a context.
func (a *Aio) SendCtx(c *Context, m *Message) error {
	raw, err := m.ref("aio-send")
	if err != nil {
		return err
	}
	return a.submit("aio-send", func(w core.OpWait) (*core.Msg, error) {
		if err := c.s.CtxSendMsg(c.c, raw, w); err != nil {
			return raw, err
		}
		return nil, nil
	}, m)
}

// RecvCtx is Recv over a context.
func (a *Aio) RecvCtx(c *Context) error {
	return a.submit("aio-recv", func(w core.OpWait) (*core.Msg, error) {
		return c.s.CtxRecvMsg(c.c, w)
	}, nil)
}

// submit runs op on a fresh goroutine. sent, when non-nil, is the message
// being consumed by a send; a failing op returns its buffer so ownership
// comes back through Msg.
func (a *Aio) submit(opName string, op func(core.OpWait) (*core.Msg, error), sent *Message) error {
	if !a.state.CompareAndSwap(aioIdle, aioSubmitted) {
		return errcode.Newf(errcode.InvalidArgument, opName, "operation already in flight")
	}
	if sent != nil {
		sent.detach()
	}

	cancel := make(chan struct{})
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.cancelOnce = new(sync.Once)
	a.done = done
	timeout := a.timeout
	a.mu.Unlock()

	go func() {
		w := core.OpWait{Cancel: cancel}
		if timeout > 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			w.Timeout = t.C
		}
		msg, err := op(w)

		a.mu.Lock()
		a.err = err
		if msg != nil {
			a.msg = wrapMsg(msg)
		} else {
			a.msg = nil
		}
		a.mu.Unlock()

		// Idle before the callback so the callback may resubmit.
		a.state.Store(aioIdle)
		if a.cb != nil {
			a.cb(a)
		}
		close(done)
	}()
	return nil
}

// Cancel requests early termination of the in-flight operation. It returns
// immediately; the Canceled completion, if any, arrives via the callback.
// Canceling an idle slot does nothing.
func (a *Aio) Cancel() {
	a.mu.Lock()
	once, cancel := a.cancelOnce, a.cancel
	a.mu.Unlock()
	if once != nil {
		once.Do(func() { close(cancel) })
	}
}

// Wait blocks until the most recent submission completed and its callback
// returned. It returns immediately when nothing was ever submitted.
func (a *Aio) Wait() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Err reports the outcome of the last completed operation.
func (a *Aio) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Msg returns the message attached to the last completed operation: the
// received message for a receive, the recovered message for a failed send,
// nil otherwise. Ownership passes to the caller; subsequent calls return
// nil.
func (a *Aio) Msg() *Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.msg
	a.msg = nil
	return m
}
