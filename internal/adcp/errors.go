package adcp

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransportFailure reports a serial I/O failure. It is never retried.
	ErrTransportFailure = errors.New("adcp: transport failure")
	// ErrHandshakeFailed reports that no prompt was seen after every break
	// and prompt attempt.
	ErrHandshakeFailed = errors.New("adcp: command mode handshake failed")
	// ErrCommandFailed reports a command that exhausted its retries.
	ErrCommandFailed = errors.New("adcp: command failed")
	// ErrRequestFailed reports a request that exhausted its retries.
	ErrRequestFailed = errors.New("adcp: request failed")
	// ErrTimedOut reports an idle framing timeout or a missed ensemble. The
	// session recovers from it.
	ErrTimedOut = errors.New("adcp: timed out")
	// ErrConfiguration reports schedule parameters that cannot produce a
	// positive wake interval.
	ErrConfiguration = errors.New("adcp: configuration error")
	// ErrCancelled reports that the context ended a wait.
	ErrCancelled = errors.New("adcp: cancelled")

	// errInstrumentReply marks an ERR reply from the instrument; it is
	// retried like a timeout.
	errInstrumentReply = errors.New("instrument error reply")
	// errReplyTooLong marks a reply that never reached its delimiter.
	errReplyTooLong = errors.New("reply exceeds limit")
)

// IsSessionFatal reports whether err must end the session. Only transport
// and configuration failures are fatal; timeouts, dropped ensembles and
// exhausted command retries are not.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrTransportFailure) || errors.Is(err, ErrConfiguration)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransportFailure, op, err)
}

// retryable reports whether a failed command attempt may be repeated.
func retryable(err error) bool {
	return errors.Is(err, ErrTimedOut) || errors.Is(err, errInstrumentReply) || errors.Is(err, errReplyTooLong)
}
