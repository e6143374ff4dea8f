// Package core is the messaging engine underneath the public socket layer.
//
// It implements the scalability protocols (request/reply, publish/subscribe,
// pipeline, bus, survey/respondent, pair) over framed duplex pipes carried by
// pluggable transports. The engine runs its own goroutines: every pipe has a
// reader and a writer, listeners run accept loops, and dialers redial lost
// connections in the background. Callers block in SendMsg/RecvMsg until the
// engine signals completion, a deadline elapses, or the socket closes.
//
// The public package wraps this engine and owns all validation of caller
// input; core trusts its inputs and concentrates on protocol semantics and
// resource lifecycle. Nothing in this package is reachable from outside the
// module.
package core
