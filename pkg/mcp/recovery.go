package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how a failed gateway operation is handled.
type RecoveryAction int

const (
	// NoRetry: the error is not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient error, retry on the existing session.
	RetrySameSession
	// RetryNewSession: transport failure, reconnect and retry.
	RetryNewSession
)

const (
	// InitTimeout is the deadline for the initial transport + handshake.
	InitTimeout = 30 * time.Second

	// ReconnectTimeout is the deadline for rebuilding a session during recovery.
	ReconnectTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools.
	// Some downstream operations (document exports, bulk updates) are
	// legitimately slow; the tool timeout above this is the hard ceiling.
	OperationTimeout = 90 * time.Second

	// RetryBackoffMin and RetryBackoffMax bound the jittered backoff
	// between the first failure and the single retry.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// ClassifyError picks the recovery action for a gateway operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry // slow downstream, retrying would double the load
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isThrottleError(err) {
		return RetrySameSession
	}

	// JSON-RPC protocol errors and anything unknown: not safe to retry.
	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isThrottleError detects downstream rate limiting surfaced through the
// gateway (HTTP 429 or 5xx relayed as tool errors).
func isThrottleError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"429",
		"too many requests",
		"rate limit",
		"503",
		"service unavailable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
