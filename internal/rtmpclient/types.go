package rtmpclient

import "github.com/AgustinSRG/rtmp-ingest-client/internal/chunk"

// Message type ids the Media Pump passes to SendMedia, re-exported from the
// chunk package so callers outside this module's internal tree don't need
// to import two packages to send one media message.
const (
	MessageTypeAudio = chunk.TypeAudio
	MessageTypeVideo = chunk.TypeVideo
)

// PublishState is the session lifecycle state machine from spec §3/§4.5.
type PublishState int

const (
	StateIdle PublishState = iota
	StateConnecting
	StateConnected
	StateCreating
	StateCreatedPendingPublish
	StatePublishing
	StateClosing
	StateClosed
)

func (s PublishState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateCreating:
		return "Creating"
	case StateCreatedPendingPublish:
		return "CreatedPendingPublish"
	case StatePublishing:
		return "Publishing"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transactionKind tags an in-flight command transaction so its matching
// _result/_error can be routed without string comparisons at dispatch time.
// spec §9 asks implementations with tagged unions to prefer a sum type over
// boolean flags here, "because adding new command kinds ... must be a
// compile-time refactor" — this is that sum type.
type transactionKind int

const (
	txConnect transactionKind = iota
	txReleaseStream
	txFCPublish
	txCreateStream
)

// Callbacks is the message-passing surface spec §6/§9 describes between the
// Protocol Engine and whoever owns it (the Supervisor): no back-references,
// just callbacks fired at lifecycle edges.
type Callbacks struct {
	// OnPublishStarted fires once per successful session start, after
	// NetStream.Publish.Start and before the onMetaData tag is sent.
	OnPublishStarted func()
	// OnDisconnected fires once per transition out of Publishing/connecting,
	// carrying the terminal error kind.
	OnDisconnected func(error)
}
