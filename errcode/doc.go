// Package errcode defines the error taxonomy shared by the spsock socket
// layer and its engine.
//
// Every fallible operation in the module returns an error that carries exactly
// one Code. Raw engine statuses and OS-level errors are folded into the
// taxonomy at the boundary where they occur, so callers only ever match
// against Codes:
//
//	msg, err := sock.RecvMsg()
//	if errcode.IsTimeout(err) {
//	    // expected, retry later
//	}
//
// Timeouts are ordinary error values, not exceptional conditions. Codes that
// have no dedicated taxonomy member map to Unknown with the raw status
// preserved for diagnostics.
package errcode
