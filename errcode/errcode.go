package errcode

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Code classifies every error produced by the socket layer and its engine.
type Code uint32

const (
	// OK is the zero code. It is never attached to a non-nil error.
	OK Code = iota
	// Timeout reports that an operation's deadline elapsed.
	Timeout
	// AddressInUse reports that a listen address is already bound.
	AddressInUse
	// Closed reports use of a socket, context or endpoint that was shut down.
	Closed
	// TryAgain reports that a non-blocking operation found nothing to do.
	TryAgain
	// NotSupported reports an operation, option or transport the object
	// does not provide.
	NotSupported
	// InvalidArgument reports malformed input or a contract violation
	// caught before reaching the engine.
	InvalidArgument
	// ConnectionRefused reports that the remote peer rejected a dial.
	ConnectionRefused
	// ConnectionReset reports that an established connection was torn down
	// by the peer.
	ConnectionReset
	// ConnectionAborted reports that a connection attempt was aborted
	// locally.
	ConnectionAborted
	// OutOfMemory reports an allocation failure inside the engine.
	OutOfMemory
	// Interrupted reports that a blocking call was interrupted.
	Interrupted
	// ProtocolError reports a violation of the protocol state machine,
	// the wire format, or a peer speaking the wrong protocol.
	ProtocolError
	// Canceled reports that an asynchronous operation was canceled.
	Canceled
	// Unknown covers statuses with no dedicated taxonomy member. The raw
	// status is preserved on the Error for diagnostics.
	Unknown
)

var codeNames = [...]string{
	OK:                "ok",
	Timeout:           "timed out",
	AddressInUse:      "address in use",
	Closed:            "object closed",
	TryAgain:          "resource unavailable, try again",
	NotSupported:      "not supported",
	InvalidArgument:   "invalid argument",
	ConnectionRefused: "connection refused",
	ConnectionReset:   "connection reset",
	ConnectionAborted: "connection aborted",
	OutOfMemory:       "out of memory",
	Interrupted:       "interrupted",
	ProtocolError:     "protocol error",
	Canceled:          "operation canceled",
	Unknown:           "unknown error",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Raw engine status numbers. The engine reports failures with this errno set
// on its internal boundaries; FromRaw folds them into the taxonomy.
const (
	RawInterrupted  = 1
	RawNoMemory     = 2
	RawInvalid      = 3
	RawBusy         = 4
	RawTimedOut     = 5
	RawConnRefused  = 6
	RawClosed       = 7
	RawAgain        = 8
	RawNotSupported = 9
	RawAddrInUse    = 10
	RawState        = 11
	RawNoEntry      = 12
	RawProto        = 13
	RawUnreachable  = 14
	RawAddrInvalid  = 15
	RawPerm         = 16
	RawMsgSize      = 17
	RawConnAborted  = 18
	RawConnReset    = 19
	RawCanceled     = 20
	RawNoFiles      = 21
	RawNoSpace      = 22
	RawExists       = 23
	RawReadOnly     = 24
	RawWriteOnly    = 25
	RawCrypto       = 26
	RawPeerAuth     = 27
	RawNoArg        = 28
	RawAmbiguous    = 29
	RawBadType      = 30
	RawConnShut     = 31
)

// FromRaw maps a raw engine status to its taxonomy member. The mapping is
// total: statuses without a dedicated member yield Unknown.
func FromRaw(raw int) Code {
	switch raw {
	case 0:
		return OK
	case RawInterrupted:
		return Interrupted
	case RawNoMemory:
		return OutOfMemory
	case RawInvalid, RawAddrInvalid, RawMsgSize, RawNoArg, RawBadType, RawNoEntry:
		return InvalidArgument
	case RawTimedOut:
		return Timeout
	case RawConnRefused, RawUnreachable:
		return ConnectionRefused
	case RawClosed, RawConnShut:
		return Closed
	case RawAgain, RawBusy:
		return TryAgain
	case RawNotSupported, RawReadOnly, RawWriteOnly:
		return NotSupported
	case RawAddrInUse:
		return AddressInUse
	case RawState, RawProto, RawCrypto, RawPeerAuth:
		return ProtocolError
	case RawConnAborted:
		return ConnectionAborted
	case RawConnReset:
		return ConnectionReset
	case RawCanceled:
		return Canceled
	default:
		return Unknown
	}
}

// Error is the structured error carried by every fallible operation.
type Error struct {
	Code   Code
	Op     string // operation that failed, e.g. "dial", "recv"
	Detail string // optional human-readable context
	Raw    int    // raw status for Unknown codes, 0 otherwise
	Err    error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Code == Unknown && e.Raw != 0 {
		msg = fmt.Sprintf("%s (raw=%d)", msg, e.Raw)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Err)
	}
	return "spsock: " + msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two Errors on Code, so errors.Is(err, errcode.ErrTimeout) works
// regardless of operation context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New creates an error with the given code and operation.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Newf creates an error with formatted detail.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// FromRawError folds a raw engine status into an Error, preserving the raw
// value when no dedicated taxonomy member exists.
func FromRawError(raw int, op string) *Error {
	e := &Error{Code: FromRaw(raw), Op: op}
	if e.Code == Unknown {
		e.Raw = raw
	}
	return e
}

// Sentinel values for errors.Is matching.
var (
	ErrTimeout           = &Error{Code: Timeout}
	ErrAddressInUse      = &Error{Code: AddressInUse}
	ErrClosed            = &Error{Code: Closed}
	ErrTryAgain          = &Error{Code: TryAgain}
	ErrNotSupported      = &Error{Code: NotSupported}
	ErrInvalidArgument   = &Error{Code: InvalidArgument}
	ErrConnectionRefused = &Error{Code: ConnectionRefused}
	ErrConnectionReset   = &Error{Code: ConnectionReset}
	ErrConnectionAborted = &Error{Code: ConnectionAborted}
	ErrOutOfMemory       = &Error{Code: OutOfMemory}
	ErrInterrupted       = &Error{Code: Interrupted}
	ErrProtocol          = &Error{Code: ProtocolError}
	ErrCanceled          = &Error{Code: Canceled}
)

// CodeOf extracts the Code from an error chain. A nil error yields OK; an
// error without an *Error in its chain yields Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsTimeout reports whether the error is a deadline expiry.
func IsTimeout(err error) bool { return CodeOf(err) == Timeout }

// IsClosed reports whether the error reports a shut-down object.
func IsClosed(err error) bool { return CodeOf(err) == Closed }

// IsCanceled reports whether the error reports a canceled operation.
func IsCanceled(err error) bool { return CodeOf(err) == Canceled }

// IsTryAgain reports whether a non-blocking operation found nothing to do.
func IsTryAgain(err error) bool { return CodeOf(err) == TryAgain }

// IsConnRefused reports whether the remote peer rejected a dial.
func IsConnRefused(err error) bool { return CodeOf(err) == ConnectionRefused }

// IsConnReset reports whether the peer tore down an established connection.
func IsConnReset(err error) bool { return CodeOf(err) == ConnectionReset }

// IsConnAborted reports whether a connection attempt was aborted locally.
func IsConnAborted(err error) bool { return CodeOf(err) == ConnectionAborted }

// FromNetError folds an OS-level networking error into the taxonomy. Used by
// transports at the boundary where stdlib net errors surface. The mapping is
// total; unrecognized causes become Unknown with the cause preserved.
func FromNetError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var code Code
	switch {
	case errors.Is(err, net.ErrClosed):
		code = Closed
	case isNetTimeout(err):
		code = Timeout
	case errors.Is(err, syscall.EADDRINUSE):
		code = AddressInUse
	case errors.Is(err, syscall.ECONNREFUSED):
		code = ConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		code = ConnectionReset
	case errors.Is(err, syscall.ECONNABORTED):
		code = ConnectionAborted
	case errors.Is(err, syscall.EINTR):
		code = Interrupted
	case errors.Is(err, syscall.ENOMEM):
		code = OutOfMemory
	case errors.Is(err, syscall.EINVAL):
		code = InvalidArgument
	default:
		code = Unknown
	}
	return &Error{Code: code, Op: op, Err: err}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
