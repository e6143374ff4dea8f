package spsock

import "github.com/glimte/spsock-go/internal/core"

// Listener is one bound address on a socket. Closing it stops inbound
// connections without closing the socket; listening again on the same
// address afterwards creates a new endpoint.
type Listener struct {
	l   *core.Listener
	url string
}

// URL returns the address the listener was created with.
func (l *Listener) URL() string { return l.url }

// Addr returns the resolved bound address, with ephemeral ports filled in.
// Dial this rather than the URL when listening on port 0.
func (l *Listener) Addr() string { return l.l.Addr() }

// Close stops the listener. Pipes it already accepted stay attached.
func (l *Listener) Close() error { return l.l.Close() }

// Dialer is one outbound address binding on a socket. It redials lost
// connections with exponential backoff until closed.
type Dialer struct {
	d   *core.Dialer
	url string
}

// URL returns the address the dialer connects to.
func (d *Dialer) URL() string { return d.url }

// Close stops the dialer and any pending reconnection without closing the
// socket or the pipe it established.
func (d *Dialer) Close() error { return d.d.Close() }
