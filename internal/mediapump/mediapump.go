// Package mediapump is the Media Pump (spec C6): it bridges encoded-frame
// producers (the opaque hardware H.264/AAC encoder collaborators, spec §1's
// "external collaborators, only their interface contracts matter") to the
// Protocol Engine, builds FLV tags via internal/flvtag, enforces per-track
// monotonic timestamps, and guarantees each track's codec-config tag is
// sent exactly once before that track's first media tag.
//
// Grounded on alxayo-rtmp-go's internal/rtmp/media video.go/audio.go
// codec/frame classification (inverted here into the producer direction:
// that package parses tags off the wire, this one builds them for the
// wire) and on the teacher's rtmp_session_utils.go framing helpers for the
// tag byte shapes flvtag itself already implements.
package mediapump

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/flvtag"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/metrics"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/rtmpclient"
)

// Frame is one timestamped encoded frame handed over by an external
// producer, matching spec §3's EncodedFrame (the track is implicit in
// which Producer the frame came from, since video and audio are pulled
// from two distinct producers rather than one tagged stream).
type Frame struct {
	IsCodecConfig           bool
	IsKeyframe              bool
	Data                    []byte
	PresentationTimestampUs uint64
}

// ErrStalled is returned by a Producer when no frame arrived within its own
// internal timeout window, matching spec §6's
// "pull_encoded_frame(track) -> EncodedFrame | None | Stalled" contract.
var ErrStalled = errors.New("mediapump: producer stalled")

// Producer is the blocking pull interface consumed from an external
// encoder. It blocks until a frame is ready, ctx is cancelled (returns
// ctx.Err()), or the producer's own stall timeout elapses (returns
// ErrStalled).
type Producer interface {
	PullFrame(ctx context.Context) (Frame, error)
}

type trackState struct {
	codecConfigSent bool
	haveTimestamp   bool
	lastTimestampMS int64
}

// Pump owns the video and audio producer lanes for one session.
type Pump struct {
	sess   *rtmpclient.Session
	video  Producer
	audio  Producer
	stereo bool

	collector *metrics.Collector

	sessionStartUs uint64

	mu     sync.Mutex
	tracks map[rtmpclient.Track]*trackState

	lastVideoFrameAt atomic.Value // time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Pump. sessionStartUs anchors the monotonic ts_ms computation
// (spec §4.5/§4.6); the Supervisor resets this to "now" on every reconnect
// attempt, since the peer sees a brand-new stream each time.
func New(sess *rtmpclient.Session, video, audio Producer, stereo bool, sessionStartUs uint64, collector *metrics.Collector) *Pump {
	return &Pump{
		sess:           sess,
		video:          video,
		audio:          audio,
		stereo:         stereo,
		collector:      collector,
		sessionStartUs: sessionStartUs,
		tracks: map[rtmpclient.Track]*trackState{
			rtmpclient.TrackVideo: {},
			rtmpclient.TrackAudio: {},
		},
		stopCh: make(chan struct{}),
	}
}

// Start begins pulling frames from both producers. Per spec §4.6 this must
// only be called after the Protocol Engine's on_publish_started fires.
// onStall is invoked at most once, from the watchdog goroutine, when more
// than stallWindow passes without a video frame being enqueued, counted from
// Start until the first frame and from the latest frame after that (spec
// §4.6's default: 500ms).
func (p *Pump) Start(ctx context.Context, stallWindow time.Duration, onStall func(error)) {
	p.lastVideoFrameAt.Store(time.Now())

	p.wg.Add(1)
	go p.runTrack(ctx, rtmpclient.TrackVideo, p.video)

	p.wg.Add(1)
	go p.runTrack(ctx, rtmpclient.TrackAudio, p.audio)

	if stallWindow > 0 && onStall != nil {
		p.wg.Add(1)
		go p.runWatchdog(stallWindow, onStall)
	}
}

// Stop halts all pump lanes. Idempotent.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pump) runWatchdog(stallWindow time.Duration, onStall func(error)) {
	defer p.wg.Done()
	ticker := time.NewTicker(stallWindow / 2)
	defer ticker.Stop()
	fired := false
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if fired {
				continue
			}
			last, _ := p.lastVideoFrameAt.Load().(time.Time)
			if time.Since(last) > stallWindow {
				fired = true
				onStall(&rtmpclient.EncoderStalledError{Track: "video"})
			}
		}
	}
}

func (p *Pump) runTrack(ctx context.Context, track rtmpclient.Track, producer Producer) {
	defer p.wg.Done()
	if producer == nil {
		return
	}
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := producer.PullFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrStalled) {
				log.Debug("mediapump: producer reported stall")
				continue
			}
			return
		}

		if err := p.handleFrame(track, frame); err != nil {
			log.Error(err)
			return
		}
	}
}

func (p *Pump) handleFrame(track rtmpclient.Track, frame Frame) error {
	p.mu.Lock()
	st := p.tracks[track]
	p.mu.Unlock()

	if frame.IsCodecConfig {
		if st.codecConfigSent {
			// Per spec §4.6: drop a duplicate config frame within the same
			// session (reconnect resets codecConfigSent on a new Pump).
			return nil
		}
		payload := p.buildConfigTag(track, frame.Data)
		if err := p.send(track, payload, 0); err != nil {
			return err
		}
		st.codecConfigSent = true
		return nil
	}

	if !st.codecConfigSent {
		// Spec §4.6 invariant: the first media message of a track must
		// always be preceded on the wire by that track's config message.
		// A media frame arriving before the producer ever handed us a
		// config frame would violate that; drop it rather than emit an
		// unrenderable stream.
		log.Debug("mediapump: dropping media frame before codec config sent")
		return nil
	}

	tsMS := p.monotonicTimestampMS(st, frame.PresentationTimestampUs)
	payload := p.buildMediaTag(track, frame)

	if track == rtmpclient.TrackVideo {
		p.lastVideoFrameAt.Store(time.Now())
	}
	if p.collector != nil {
		p.collector.RecordFrame()
	}

	return p.send(track, payload, uint32(tsMS))
}

// monotonicTimestampMS implements spec §4.5/§8's monotonicity requirement:
// when a computed timestamp would not exceed the last one emitted for this
// track, it is bumped to last+1 instead.
func (p *Pump) monotonicTimestampMS(st *trackState, presentationTsUs uint64) int64 {
	ts := int64((presentationTsUs - p.sessionStartUs) / 1000)
	if st.haveTimestamp && ts <= st.lastTimestampMS {
		ts = st.lastTimestampMS + 1
	}
	st.haveTimestamp = true
	st.lastTimestampMS = ts
	return ts
}

func (p *Pump) buildConfigTag(track rtmpclient.Track, data []byte) []byte {
	if track == rtmpclient.TrackVideo {
		return flvtag.BuildVideoConfig(data)
	}
	return flvtag.BuildAudioConfig(data, p.stereo)
}

func (p *Pump) buildMediaTag(track rtmpclient.Track, frame Frame) []byte {
	if track == rtmpclient.TrackVideo {
		// Composition-time offset is always 0: the opaque encoder
		// collaborator hands over presentation timestamps only, which this
		// client treats as PTS==DTS (no B-frame reordering information is
		// part of the producer contract).
		return flvtag.BuildVideoNALU(frame.Data, frame.IsKeyframe, 0)
	}
	return flvtag.BuildAudioFrame(frame.Data, p.stereo)
}

func (p *Pump) send(track rtmpclient.Track, payload []byte, tsMS uint32) error {
	typeID := byte(rtmpclient.MessageTypeAudio)
	if track == rtmpclient.TrackVideo {
		typeID = byte(rtmpclient.MessageTypeVideo)
	}
	return p.sess.SendMedia(track, typeID, tsMS, payload)
}
