// Package reliability provides retry pacing for the engine's background
// reconnection work.
//
// Dialers redial lost connections until they succeed or are closed, so the
// policies here only shape delay between attempts; they never give up on
// their own. Jitter is applied by default to keep a fleet of dialers from
// reconnecting in lockstep.
package reliability
