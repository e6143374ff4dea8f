package core

import (
	"sync"
	"time"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/reliability"
)

// Listener is one bound address on a socket. Closing it stops inbound
// connections without touching the socket or its other endpoints.
type Listener struct {
	id  uint32
	s   *Socket
	url string
	acc Acceptor

	closed    chan struct{}
	closeOnce sync.Once
}

// Listen binds the socket to an address and starts accepting.
func (s *Socket) Listen(addr string, cfg EndpointConfig) (*Listener, error) {
	scheme, _, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	t, ok := transportFor(scheme)
	if !ok {
		return nil, errcode.Newf(errcode.NotSupported, "listen", "transport %q is not available", scheme)
	}
	if cfg.MaxRecvSize == 0 {
		cfg.MaxRecvSize = s.opts.size(OptRecvMaxSize)
	}
	acc, err := t.Listen(addr, cfg)
	if err != nil {
		s.log.Warn("listen failed", "addr", addr, "error", err)
		return nil, err
	}
	l := &Listener{
		id:     nextObjectID.Add(1),
		s:      s,
		url:    addr,
		acc:    acc,
		closed: make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		acc.Close()
		return nil, errClosed("listen")
	}
	s.listeners[l.id] = l
	s.mu.Unlock()

	go l.acceptLoop()
	s.log.Info("listener started", "addr", acc.Addr())
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.acc.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			case <-l.s.done:
				return
			default:
			}
			if errcode.IsClosed(err) {
				return
			}
			l.s.log.Warn("accept failed", "addr", l.url, "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		// Handshake per connection so a silent peer cannot stall accepts.
		go l.s.attachConn(conn, nil)
	}
}

// Addr returns the resolved bound address, e.g. with an ephemeral port
// filled in.
func (l *Listener) Addr() string { return l.acc.Addr() }

// Close stops the listener. Established pipes stay attached.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.acc.Close()
		l.s.mu.Lock()
		delete(l.s.listeners, l.id)
		l.s.mu.Unlock()
		l.s.log.Info("listener stopped", "addr", l.url)
	})
	return nil
}

// Dialer maintains one outbound address binding, redialing with backoff when
// its connection is lost.
type Dialer struct {
	id  uint32
	s   *Socket
	url string
	t   Transport
	cfg EndpointConfig

	mu        sync.Mutex
	redialing bool
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects the socket to a remote address. With block set the first
// connection attempt completes (or fails) before Dial returns; otherwise the
// connection is established in the background.
func (s *Socket) Dial(addr string, cfg EndpointConfig, block bool) (*Dialer, error) {
	scheme, _, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	t, ok := transportFor(scheme)
	if !ok {
		return nil, errcode.Newf(errcode.NotSupported, "dial", "transport %q is not available", scheme)
	}
	if cfg.MaxRecvSize == 0 {
		cfg.MaxRecvSize = s.opts.size(OptRecvMaxSize)
	}
	d := &Dialer{
		id:     nextObjectID.Add(1),
		s:      s,
		url:    addr,
		t:      t,
		cfg:    cfg,
		closed: make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed("dial")
	}
	s.dialers[d.id] = d
	s.mu.Unlock()

	if !block {
		d.pipeLost()
		s.log.Info("dialer started", "addr", addr, "background", true)
		return d, nil
	}

	conn, err := t.Dial(addr, cfg)
	if err != nil {
		d.remove()
		s.log.Warn("dial failed", "addr", addr, "error", err)
		return nil, err
	}
	if err := s.attachConn(conn, d); err != nil {
		d.remove()
		return nil, err
	}
	s.log.Info("dialer started", "addr", addr)
	return d, nil
}

// Addr returns the dialed address.
func (d *Dialer) Addr() string { return d.url }

// Close stops the dialer and any pending reconnection. The pipe it created,
// if any, is torn down by the socket's normal pipe lifecycle.
func (d *Dialer) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.remove()
		d.s.log.Info("dialer stopped", "addr", d.url)
	})
	return nil
}

func (d *Dialer) remove() {
	d.s.mu.Lock()
	delete(d.s.dialers, d.id)
	d.s.mu.Unlock()
}

// pipeLost schedules a reconnection. At most one redial loop runs per
// dialer.
func (d *Dialer) pipeLost() {
	d.mu.Lock()
	if d.redialing {
		d.mu.Unlock()
		return
	}
	d.redialing = true
	d.mu.Unlock()
	go d.redialLoop()
}

func (d *Dialer) redialLoop() {
	defer func() {
		d.mu.Lock()
		d.redialing = false
		d.mu.Unlock()
	}()

	policy := reliability.NewExponentialBackoff(
		d.s.opts.duration(OptReconnectMinTime),
		d.s.opts.duration(OptReconnectMaxTime),
	)
	for attempt := 0; ; attempt++ {
		select {
		case <-d.closed:
			return
		case <-d.s.done:
			return
		default:
		}
		conn, err := d.t.Dial(d.url, d.cfg)
		if err == nil {
			if err = d.s.attachConn(conn, d); err == nil {
				d.s.log.Info("dialer connected", "addr", d.url)
				return
			}
		}
		delay := policy.NextDelay(attempt)
		d.s.log.Debug("redial backoff", "addr", d.url, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-d.closed:
			return
		case <-d.s.done:
			return
		}
	}
}
