package core

import (
	"sync"
	"time"
)

// Option names understood by the engine. The public layer validates value
// types and scopes before anything reaches these keys.
const (
	OptRecvTimeout      = "recv-timeout"
	OptSendTimeout      = "send-timeout"
	OptRecvBuffer       = "recv-buffer"
	OptSendBuffer       = "send-buffer"
	OptRecvMaxSize      = "recv-size-max"
	OptSocketName       = "socket-name"
	OptMaxTTL           = "max-ttl"
	OptReconnectMinTime = "reconnect-time-min"
	OptReconnectMaxTime = "reconnect-time-max"

	OptReqResendTime   = "req:resend-time"
	OptReqResendTick   = "req:resend-tick"
	OptSubSubscribe    = "sub:subscribe"
	OptSubUnsubscribe  = "sub:unsubscribe"
	OptSurveyorTime    = "surveyor:survey-time"

	// Endpoint read-only properties.
	OptURL       = "url"
	OptLocalAddr = "local-address"
)

// noTimeout marks an operation that blocks until completion or closure.
const noTimeout = time.Duration(-1)

// optionSet is the engine-side store for socket options. Reads and writes
// are not atomic relative to in-flight operations; a changed value applies
// to operations issued after the write returns.
type optionSet struct {
	mu   sync.RWMutex
	vals map[string]any
}

func newOptionSet() *optionSet {
	return &optionSet{vals: map[string]any{
		OptRecvTimeout:      noTimeout,
		OptSendTimeout:      noTimeout,
		OptRecvBuffer:       128,
		OptSendBuffer:       128,
		OptRecvMaxSize:      int64(0),
		OptMaxTTL:           8,
		OptReconnectMinTime: 100 * time.Millisecond,
		OptReconnectMaxTime: 8 * time.Second,
		OptReqResendTime:    60 * time.Second,
		OptReqResendTick:    time.Second,
		OptSurveyorTime:     time.Second,
	}}
}

func (o *optionSet) set(name string, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vals[name] = v
}

func (o *optionSet) get(name string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.vals[name]
	return v, ok
}

func (o *optionSet) duration(name string) time.Duration {
	if v, ok := o.get(name); ok {
		if d, ok := v.(time.Duration); ok {
			return d
		}
	}
	return noTimeout
}

func (o *optionSet) integer(name string) int {
	if v, ok := o.get(name); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

func (o *optionSet) size(name string) int64 {
	if v, ok := o.get(name); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

// deadline arms a timer for the named duration option. A negative value
// means block forever (nil channel); the returned stop releases the timer.
func (o *optionSet) deadline(name string) (<-chan time.Time, func()) {
	d := o.duration(name)
	if d < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
