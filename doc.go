// Package spsock provides safe, ownership-checked sockets for the
// scalability protocols: request/reply, publish/subscribe, pipeline, bus,
// survey/respondent and pair.
//
// A Socket speaks exactly one protocol variant and is created through the
// variant constructors (NewReq0, NewPub0, ...). Sockets connect to each other
// over pluggable transports addressed by URL (tcp://, ipc://, ws://,
// tls+tcp://, inproc://); transports other than inproc become available by
// blank-importing their packages, most simply
//
//	import _ "github.com/glimte/spsock-go/transports/all"
//
// Messages own their buffers. A successful send consumes the message and any
// later use of it reports InvalidArgument; a failed send leaves it intact.
// Typed option access, protocol option bundles, request/reply contexts and
// reusable asynchronous operations (Aio) round out the surface. All failures
// carry the errcode taxonomy.
package spsock
