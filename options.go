package spsock

import (
	"time"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

// Option names accepted by SetOption and GetOption. Protocol-scoped names
// carry a "proto:" prefix and are valid only on sockets of that protocol.
const (
	OptionRecvTimeout      = core.OptRecvTimeout
	OptionSendTimeout      = core.OptSendTimeout
	OptionRecvBuffer       = core.OptRecvBuffer
	OptionSendBuffer       = core.OptSendBuffer
	OptionRecvMaxSize      = core.OptRecvMaxSize
	OptionSocketName       = core.OptSocketName
	OptionMaxTTL           = core.OptMaxTTL
	OptionReconnectMinTime = core.OptReconnectMinTime
	OptionReconnectMaxTime = core.OptReconnectMaxTime

	OptionReqResendTime  = core.OptReqResendTime
	OptionReqResendTick  = core.OptReqResendTick
	OptionSubSubscribe   = core.OptSubSubscribe
	OptionSubUnsubscribe = core.OptSubUnsubscribe
	OptionSurveyTime     = core.OptSurveyorTime
)

// OptionValue is the closed set of types an option can carry.
type OptionValue interface {
	bool | int | int64 | string | []byte | time.Duration
}

type optionKind int

const (
	kindBool optionKind = iota
	kindInt
	kindInt64
	kindString
	kindBytes
	kindDuration
)

var kindNames = map[optionKind]string{
	kindBool:     "bool",
	kindInt:      "int",
	kindInt64:    "int64",
	kindString:   "string",
	kindBytes:    "[]byte",
	kindDuration: "duration",
}

// optionDesc declares an option's value type and validity scope. Everything
// is validated here, above the engine, so a bad set never touches it.
type optionDesc struct {
	kind      optionKind
	protocols []Protocol // nil accepts every protocol
	writeOnly bool
}

var optionTable = map[string]optionDesc{
	OptionRecvTimeout:      {kind: kindDuration},
	OptionSendTimeout:      {kind: kindDuration},
	OptionRecvBuffer:       {kind: kindInt},
	OptionSendBuffer:       {kind: kindInt},
	OptionRecvMaxSize:      {kind: kindInt64},
	OptionSocketName:       {kind: kindString},
	OptionMaxTTL:           {kind: kindInt, protocols: []Protocol{Pair1}},
	OptionReconnectMinTime: {kind: kindDuration},
	OptionReconnectMaxTime: {kind: kindDuration},

	OptionReqResendTime:  {kind: kindDuration, protocols: []Protocol{Req0}},
	OptionReqResendTick:  {kind: kindDuration, protocols: []Protocol{Req0}},
	OptionSubSubscribe:   {kind: kindBytes, protocols: []Protocol{Sub0}, writeOnly: true},
	OptionSubUnsubscribe: {kind: kindBytes, protocols: []Protocol{Sub0}, writeOnly: true},
	OptionSurveyTime:     {kind: kindDuration, protocols: []Protocol{Surveyor0}},
}

func kindOf(v any) optionKind {
	switch v.(type) {
	case bool:
		return kindBool
	case int:
		return kindInt
	case int64:
		return kindInt64
	case string:
		return kindString
	case []byte:
		return kindBytes
	default:
		return kindDuration
	}
}

func (d optionDesc) accepts(p Protocol) bool {
	if d.protocols == nil {
		return true
	}
	for _, q := range d.protocols {
		if q == p {
			return true
		}
	}
	return false
}

func checkOption(s *Socket, name string, kind optionKind, op string) (optionDesc, error) {
	d, ok := optionTable[name]
	if !ok {
		return d, errcode.Newf(errcode.NotSupported, op, "unknown option %q", name)
	}
	if !d.accepts(s.proto) {
		return d, errcode.Newf(errcode.NotSupported, op, "option %q does not apply to %s", name, s.proto)
	}
	if d.kind != kind {
		return d, errcode.Newf(errcode.InvalidArgument, op,
			"option %q takes %s, got %s", name, kindNames[d.kind], kindNames[kind])
	}
	return d, nil
}

// SetOption stores an option value, failing with InvalidArgument on a type
// mismatch and NotSupported on an unknown or out-of-scope name, before any
// engine state changes. A changed value applies to operations issued after
// the call returns.
func SetOption[T OptionValue](s *Socket, name string, v T) error {
	if _, err := checkOption(s, name, kindOf(any(v)), "setopt"); err != nil {
		return err
	}
	return s.s.SetOpt(name, any(v))
}

// GetOption reads an option value. The type parameter must match the
// option's declared type exactly.
func GetOption[T OptionValue](s *Socket, name string) (T, error) {
	var zero T
	d, err := checkOption(s, name, kindOf(any(zero)), "getopt")
	if err != nil {
		return zero, err
	}
	if d.writeOnly {
		return zero, errcode.Newf(errcode.NotSupported, "getopt", "option %q is write-only", name)
	}
	raw, err := s.s.GetOpt(name)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, errcode.Newf(errcode.InvalidArgument, "getopt", "option %q holds %T", name, raw)
	}
	return v, nil
}

// Subscribe adds a topic filter to a sub0 socket. Messages are delivered
// when their body starts with any subscribed topic; the empty topic matches
// everything.
func (s *Socket) Subscribe(topic []byte) error {
	return SetOption(s, OptionSubSubscribe, topic)
}

// Unsubscribe removes a previously subscribed topic filter.
func (s *Socket) Unsubscribe(topic []byte) error {
	return SetOption(s, OptionSubUnsubscribe, topic)
}

// applyAtomically sets the named values in order; the first failure rolls
// every prior write back and is returned.
func applyAtomically(s *Socket, names []string, vals []any) error {
	prior := make([]any, 0, len(names))
	for i, name := range names {
		old, _ := s.s.GetOpt(name)
		if err := s.s.SetOpt(name, vals[i]); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.s.SetOpt(names[j], prior[j])
			}
			return err
		}
		prior = append(prior, old)
	}
	return nil
}

// ReqOptions bundles the req0 retransmission settings.
type ReqOptions struct {
	// ResendTime is how long a request stays unanswered before it is sent
	// again. Non-positive disables retransmission.
	ResendTime time.Duration
	// ResendTick is the granularity of the retransmit timer; the effective
	// interval is ResendTime rounded up to a multiple of it.
	ResendTick time.Duration
}

// Apply sets the bundle atomically: either every field applies or none.
func (o ReqOptions) Apply(s *Socket) error {
	if s.proto != Req0 {
		return errcode.Newf(errcode.NotSupported, "setopt", "req options on %s socket", s.proto)
	}
	return applyAtomically(s,
		[]string{OptionReqResendTime, OptionReqResendTick},
		[]any{o.ResendTime, o.ResendTick})
}

// SurveyorOptions bundles the surveyor0 settings.
type SurveyorOptions struct {
	// SurveyTime bounds each survey round; responses arriving after it are
	// discarded and a pending receive reports Timeout.
	SurveyTime time.Duration
}

// Apply sets the bundle atomically.
func (o SurveyorOptions) Apply(s *Socket) error {
	if s.proto != Surveyor0 {
		return errcode.Newf(errcode.NotSupported, "setopt", "surveyor options on %s socket", s.proto)
	}
	return applyAtomically(s, []string{OptionSurveyTime}, []any{o.SurveyTime})
}

// Pair1Options bundles the pair1 settings.
type Pair1Options struct {
	// MaxTTL caps the hop count; messages that exceeded it are dropped.
	MaxTTL int
}

// Apply sets the bundle atomically.
func (o Pair1Options) Apply(s *Socket) error {
	if s.proto != Pair1 {
		return errcode.Newf(errcode.NotSupported, "setopt", "pair1 options on %s socket", s.proto)
	}
	return applyAtomically(s, []string{OptionMaxTTL}, []any{o.MaxTTL})
}
