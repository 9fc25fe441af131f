package rtmpclient

import "fmt"

// The error kinds below mirror spec §7's taxonomy by kind, not by a single
// sentinel type: each carries enough context for on_disconnected to map it
// to a stable user-visible category (timeout / DNS / auth / server-reject /
// network) without the mapping itself living in this package.

// TransportError covers TCP refusal, TLS failure, peer reset, or EOF while
// Publishing.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("rtmp transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// CommandRejectionError covers an `_error` reply or an onStatus carrying an
// error/fail/BadName code.
type CommandRejectionError struct {
	Code    string
	Message string
	// BadName is set when the code indicates the stream key itself was
	// rejected; per spec §7 this is terminal and must not be retried.
	BadName bool
}

func (e *CommandRejectionError) Error() string {
	return fmt.Sprintf("rtmp command rejected: %s: %s", e.Code, e.Message)
}

// PublishStartTimeoutError fires when NetStream.Publish.Start never arrives
// within the configured timeout.
type PublishStartTimeoutError struct{}

func (e *PublishStartTimeoutError) Error() string {
	return "rtmp: timed out waiting for NetStream.Publish.Start"
}

// ProtocolInvariantError covers malformed AMF, a chunk length inconsistent
// with its declared size, or an unknown mandatory message. Terminal: do not
// retry with the same endpoint config.
type ProtocolInvariantError struct {
	Detail string
}

func (e *ProtocolInvariantError) Error() string { return "rtmp protocol invariant violated: " + e.Detail }

// UserCancelledError is returned/observed when Stop was called explicitly;
// the Supervisor must not treat this as a reconnect trigger.
type UserCancelledError struct{}

func (e *UserCancelledError) Error() string { return "rtmp: session stopped by caller" }

// HandshakeProtocolError covers S0 version mismatch or a truncated S1/S2,
// surfaced separately from the generic TransportError so the Supervisor's
// error-kind mapping (spec §7) can tell "the peer isn't RTMP" apart from
// "the network dropped".
type HandshakeProtocolError struct {
	Cause error
}

func (e *HandshakeProtocolError) Error() string {
	return fmt.Sprintf("rtmp handshake protocol error: %v", e.Cause)
}
func (e *HandshakeProtocolError) Unwrap() error { return e.Cause }

// EncoderStalledError fires when the Media Pump's watchdog observes no
// video frame for more than its configured stall window after Publishing.
type EncoderStalledError struct {
	Track string
}

func (e *EncoderStalledError) Error() string {
	return "rtmp: encoder stalled, no " + e.Track + " frame received in time"
}
