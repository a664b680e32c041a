package ami

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// RecoveryAction determines how the engine should handle an AMI failure.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable by reconnecting (bad action,
	// context cancellation, response timeout on a live session).
	NoRetry RecoveryAction = iota
	// Reconnect — transport failure; establish a new session and resume.
	Reconnect
	// Fatal — credentials rejected; operator intervention required.
	Fatal
)

// ClassifyError determines the recovery action for an AMI operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	// Context errors — the caller gave up, not the transport.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	if errors.Is(err, ErrAuthFailed) {
		return Fatal
	}

	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrSessionClosed) {
		return Reconnect
	}

	// A timed-out action on a live session is not a transport failure.
	if errors.Is(err, ErrActionTimeout) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return Reconnect
	}

	if isConnectionError(err) {
		return Reconnect
	}

	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
