package spsock

import "github.com/glimte/spsock-go/internal/core"

// Context is an independent logical channel over one socket. Each context
// carries its own exchange state, so many request/reply conversations can
// run concurrently over a single socket. Closing the parent socket fails
// every pending context operation with Closed.
type Context struct {
	s *core.Socket
	c core.Ctx
}

// SendMsg sends a message over the context with the same ownership rules as
// Socket.SendMsg: consumed on success, intact on failure.
func (c *Context) SendMsg(m *Message) error {
	raw, err := m.ref("send")
	if err != nil {
		return err
	}
	if err := c.s.CtxSendMsg(c.c, raw, core.OpWait{}); err != nil {
		return err
	}
	m.detach()
	return nil
}

// RecvMsg receives a message over the context.
func (c *Context) RecvMsg() (*Message, error) {
	raw, err := c.s.CtxRecvMsg(c.c, core.OpWait{})
	if err != nil {
		return nil, err
	}
	return wrapMsg(raw), nil
}

// Send sends b as the body of a fresh message.
func (c *Context) Send(b []byte) error {
	return c.s.CtxSendMsg(c.c, &core.Msg{Body: append([]byte(nil), b...)}, core.OpWait{})
}

// Recv receives a message and returns its body.
func (c *Context) Recv() ([]byte, error) {
	raw, err := c.s.CtxRecvMsg(c.c, core.OpWait{})
	if err != nil {
		return nil, err
	}
	return raw.Body, nil
}

// Close releases the context. Its pending operations fail with Closed.
func (c *Context) Close() error { return c.c.Close() }
