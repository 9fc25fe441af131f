package rtmpclient

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/amf0"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/chunk"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
)

// dispatch routes one fully-assembled inbound message by its RTMP message
// type id, mirroring the teacher's rtmp_session.go HandlePacket switch.
func (s *Session) dispatch(msg chunk.Message) error {
	switch msg.TypeID {
	case chunk.TypeSetChunkSize:
		if len(msg.Payload) < 4 {
			return &ProtocolInvariantError{Detail: "SetChunkSize payload too short"}
		}
		size := binary.BigEndian.Uint32(msg.Payload) & 0x7fffffff
		s.reader.SetChunkSize(int(size))
		return nil

	case chunk.TypeAcknowledgement:
		// Informational only; the spec's Metrics snapshot may surface it,
		// but the engine itself takes no action on a peer ack of bytes it
		// has read from us.
		return nil

	case chunk.TypeUserControl:
		return s.handleUserControl(msg.Payload)

	case chunk.TypeWindowAckSize:
		if len(msg.Payload) < 4 {
			return &ProtocolInvariantError{Detail: "WindowAckSize payload too short"}
		}
		peerWindow := binary.BigEndian.Uint32(msg.Payload)
		threshold := s.cfg.AckWindowThreshold
		if threshold <= 0 {
			threshold = 0.6
		}
		s.mu.Lock()
		s.ackThreshold = uint32(float64(peerWindow) * threshold)
		s.mu.Unlock()
		return nil

	case chunk.TypeSetPeerBandwidth:
		log.Debug("received SetPeerBandwidth, no reply required")
		return nil

	case chunk.TypeCommandAMF0:
		return s.handleCommand(msg.Payload)

	default:
		// Any other message type (audio/video/data echoed back, FLEX
		// variants) is outside the scope of a publish-only client and is
		// ignored rather than surfaced as a protocol error, since servers
		// occasionally echo informational data messages to publishers.
		return nil
	}
}

func (s *Session) handleUserControl(payload []byte) error {
	if len(payload) < 2 {
		return &ProtocolInvariantError{Detail: "User Control payload too short"}
	}
	eventType := binary.BigEndian.Uint16(payload[0:2])
	data := payload[2:]

	switch eventType {
	case 0: // StreamBegin
		log.Debug("User Control: StreamBegin")
	case 1: // StreamEOF
		log.Debug("User Control: StreamEOF")
	case 6: // PingRequest
		if len(data) < 4 {
			return &ProtocolInvariantError{Detail: "PingRequest payload too short"}
		}
		ts := binary.BigEndian.Uint32(data[0:4])
		return s.sendPingResponse(ts)
	case 7: // PingResponse
		s.mu.Lock()
		s.lastInboundAt = time.Now()
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) handleCommand(payload []byte) error {
	vals, err := amf0.DecodeAll(payload)
	if err != nil {
		return &ProtocolInvariantError{Detail: "malformed AMF0 command: " + err.Error()}
	}
	if len(vals) < 2 {
		return &ProtocolInvariantError{Detail: "command missing name/transaction id"}
	}

	name := vals[0].String()
	txID := vals[1].Float64()

	switch name {
	case "_result":
		return s.handleResult(txID, vals)
	case "_error":
		return s.handleErrorReply(txID, vals)
	case "onStatus":
		return s.handleOnStatus(vals)
	default:
		log.Debug("ignoring unrecognized command: " + name)
		return nil
	}
}

func (s *Session) handleResult(txID float64, vals []amf0.Value) error {
	kind, ok := s.resolveTransaction(txID)
	if !ok {
		log.Debug("received _result for unknown transaction, ignoring")
		return nil
	}

	switch kind {
	case txConnect:
		s.setState(StateConnected)
		if err := s.sendReleaseStream(); err != nil {
			return &TransportError{Cause: err}
		}
		if err := s.sendFCPublish(); err != nil {
			return &TransportError{Cause: err}
		}
		if err := s.sendCreateStream(); err != nil {
			return &TransportError{Cause: err}
		}
	case txReleaseStream, txFCPublish:
		// Some ingest servers don't reply to these at all; when they do,
		// there is nothing further to do with the result.
	case txCreateStream:
		if len(vals) < 4 {
			return &ProtocolInvariantError{Detail: "createStream _result missing stream id argument"}
		}
		streamID := uint32(vals[3].Float64())
		s.mu.Lock()
		s.streamID = streamID
		s.mu.Unlock()
		s.setState(StateCreatedPendingPublish)
		if err := s.sendPublish(streamID); err != nil {
			return &TransportError{Cause: err}
		}
	}
	return nil
}

func (s *Session) handleErrorReply(txID float64, vals []amf0.Value) error {
	kind, ok := s.resolveTransaction(txID)
	if !ok {
		log.Debug("received _error for unknown transaction, ignoring")
		return nil
	}
	var info amf0.Value
	if len(vals) >= 3 {
		info = vals[len(vals)-1]
	}
	rejection := &CommandRejectionError{
		Code:    info.Get("code").String(),
		Message: info.Get("description").String(),
	}
	if kind == txConnect || kind == txCreateStream {
		// A rejected connect/createStream is fatal for this attempt.
		return rejection
	}
	// releaseStream/FCPublish failures are tolerated; compatibility
	// commands some servers don't implement, per spec §9.
	log.Debug("non-fatal command rejection: " + rejection.Error())
	return nil
}

func (s *Session) handleOnStatus(vals []amf0.Value) error {
	if len(vals) < 4 {
		return &ProtocolInvariantError{Detail: "onStatus missing info object"}
	}
	info := vals[3]
	code := info.Get("code").String()

	if code == "NetStream.Publish.Start" {
		if s.State() != StatePublishing {
			s.setState(StatePublishing)
			if s.callbacks.OnPublishStarted != nil {
				s.callbacks.OnPublishStarted()
			}
			close(s.publishStartedCh)
		}
		return nil
	}

	lower := strings.ToLower(code)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") || code == "NetStream.Publish.BadName" {
		return &CommandRejectionError{
			Code:    code,
			Message: info.Get("description").String(),
			BadName: code == "NetStream.Publish.BadName",
		}
	}

	log.Debug("onStatus: " + code)
	return nil
}
