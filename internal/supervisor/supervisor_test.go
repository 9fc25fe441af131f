package supervisor

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/chunk"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/config"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/endpoint"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/mediapump"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/testutil/rtmpserver"
)

// fixedFrameProducer hands out one codec-config frame followed by a single
// keyframe, then blocks until ctx is done, enough to exercise publish plus
// one media tag without relying on real encoder hardware.
type fixedFrameProducer struct {
	sentConfig bool
	sentMedia  bool
	keyframe   bool
}

func (p *fixedFrameProducer) PullFrame(ctx context.Context) (mediapump.Frame, error) {
	if !p.sentConfig {
		p.sentConfig = true
		return mediapump.Frame{IsCodecConfig: true, Data: []byte{0x01}}, nil
	}
	if !p.sentMedia {
		p.sentMedia = true
		return mediapump.Frame{Data: []byte{0x02}, IsKeyframe: p.keyframe}, nil
	}
	<-ctx.Done()
	return mediapump.Frame{}, ctx.Err()
}

// burstVideoProducer emits one codec-config frame followed by a continuous
// run of fixed-size keyframes, fast enough to cross a small Window-ACK
// threshold several times within a test's timeout. The audio lane is left
// to fixedFrameProducer, which blocks after its single frame.
type burstVideoProducer struct {
	sentConfig bool
	frameNo    uint64
	payload    []byte
}

func (p *burstVideoProducer) PullFrame(ctx context.Context) (mediapump.Frame, error) {
	if !p.sentConfig {
		p.sentConfig = true
		return mediapump.Frame{IsCodecConfig: true, Data: []byte{0x01}}, nil
	}
	p.frameNo++
	return mediapump.Frame{Data: p.payload, IsKeyframe: true, PresentationTimestampUs: p.frameNo * 33000}, nil
}

func endpointFor(t *testing.T, addr string) endpoint.Endpoint {
	t.Helper()
	idx := strings.LastIndex(addr, ":")
	host := addr[:idx]
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		t.Fatalf("bad test server addr %q: %v", addr, err)
	}
	return endpoint.Endpoint{Host: host, Port: port, App: "live", TCURL: "rtmp://" + addr + "/live"}
}

func TestSupervisorPublishesAndRecordsConfigTagsFirst(t *testing.T) {
	srv, err := rtmpserver.New("127.0.0.1:0", rtmpserver.Options{WindowAckSize: 1 << 20})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer srv.Close()

	ep := endpointFor(t, srv.Addr())
	cfg := config.New(config.WithPublishStartTimeout(3 * time.Second))

	started := make(chan struct{}, 1)
	sv := New(ep, "stream-key-ABCD", cfg, false, "test-channel", func() (mediapump.Producer, mediapump.Producer) {
		return &fixedFrameProducer{keyframe: true}, &fixedFrameProducer{}
	}, Callbacks{
		OnPublishStarted: func() {
			select {
			case started <- struct{}{}:
			default:
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sv.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(4 * time.Second):
		t.Fatalf("publish never started")
	}

	deadline := time.After(2 * time.Second)
	var videoTag, audioTag *rtmpserver.RecordedMessage
	for videoTag == nil || audioTag == nil {
		msgs := srv.Messages()
		for i := range msgs {
			m := &msgs[i]
			if m.TypeID == chunk.TypeVideo && videoTag == nil {
				videoTag = m
			}
			if m.TypeID == chunk.TypeAudio && audioTag == nil {
				audioTag = m
			}
		}
		if videoTag != nil && audioTag != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for recorded media tags, got %d messages", len(msgs))
		case <-time.After(20 * time.Millisecond):
		}
	}

	if videoTag.Payload[1] != 0x00 {
		t.Fatalf("first recorded video tag must be the config tag, got AVCPacketType %v", videoTag.Payload[1])
	}
	if audioTag.Payload[1] != 0x00 {
		t.Fatalf("first recorded audio tag must be the config tag, got AACPacketType %v", audioTag.Payload[1])
	}

	sv.Stop()
	cancel()
	<-runDone
}

// TestSupervisorStopReturnsWithoutContextCancel guards against the
// deadlock spec.md:160 forbids ("Stop is idempotent and must complete
// within a bounded time... do not deadlock"): calling Stop() alone, with
// no context cancellation, must still unblock Run() because Session.Stop()
// closing the socket must surface as a (UserCancelled) disconnect rather
// than a readLoop that silently returns without firing OnDisconnected.
func TestSupervisorStopReturnsWithoutContextCancel(t *testing.T) {
	srv, err := rtmpserver.New("127.0.0.1:0", rtmpserver.Options{WindowAckSize: 1 << 20})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer srv.Close()

	ep := endpointFor(t, srv.Addr())
	cfg := config.New(config.WithPublishStartTimeout(3 * time.Second))

	started := make(chan struct{}, 1)
	sv := New(ep, "stream-key-ABCD", cfg, false, "test-channel", func() (mediapump.Producer, mediapump.Producer) {
		return &fixedFrameProducer{keyframe: true}, &fixedFrameProducer{}
	}, Callbacks{
		OnPublishStarted: func() {
			select {
			case started <- struct{}{}:
			default:
			}
		},
	})

	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- sv.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(4 * time.Second):
		t.Fatalf("publish never started")
	}

	sv.Stop()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return within a bounded time after Stop(), deadlocked")
	}
}

// TestServerAcknowledgesPublishedBytesAcrossWindowThreshold drives a
// continuous publish and checks the Acknowledgements the test server itself
// sends back for the bytes it reads from the client
// (rtmpserver.Server.Acks()): each must mark a point where at least
// WindowAckSize bytes have been read since the previous one, and the
// recorded sequence must strictly increase. The Acknowledgements the client
// emits are not inspected here.
func TestServerAcknowledgesPublishedBytesAcrossWindowThreshold(t *testing.T) {
	const windowAckSize = 2000

	srv, err := rtmpserver.New("127.0.0.1:0", rtmpserver.Options{WindowAckSize: windowAckSize})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer srv.Close()

	ep := endpointFor(t, srv.Addr())
	cfg := config.New(config.WithPublishStartTimeout(3 * time.Second))

	started := make(chan struct{}, 1)
	sv := New(ep, "stream-key-ABCD", cfg, false, "test-channel", func() (mediapump.Producer, mediapump.Producer) {
		return &burstVideoProducer{payload: make([]byte, 300)}, &fixedFrameProducer{}
	}, Callbacks{
		OnPublishStarted: func() {
			select {
			case started <- struct{}{}:
			default:
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sv.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(4 * time.Second):
		t.Fatalf("publish never started")
	}

	deadline := time.After(5 * time.Second)
	var acks []uint32
	for len(acks) < 3 {
		acks = srv.Acks()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for at least 3 acknowledgements, got %d", len(acks))
		case <-time.After(20 * time.Millisecond):
		}
	}

	for i, seq := range acks {
		if i == 0 {
			if seq < windowAckSize {
				t.Fatalf("first acknowledgement %d crossed before a single window of %d bytes", seq, windowAckSize)
			}
			continue
		}
		prev := acks[i-1]
		if seq <= prev {
			t.Fatalf("acknowledgement sequence must strictly increase, got %d then %d", prev, seq)
		}
		if seq-prev < windowAckSize {
			t.Fatalf("acknowledgement %d arrived only %d bytes after %d, less than the configured window %d", seq, seq-prev, prev, windowAckSize)
		}
	}

	sv.Stop()
	cancel()
	<-runDone
}
