package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/mediapump"
)

// testPatternProducer is the opaque encoder collaborator stand-in (spec §1:
// "hardware H.264 and AAC encoders ... treated as opaque sources of
// timestamped encoded frames"). It hands out a fixed AVCDecoderConfiguration
// Record once, then one deterministic keyframe-shaped NAL unit per tick, so
// the CLI can drive a real Supervisor/Session end to end without capture
// hardware.
type testPatternProducer struct {
	fps        int
	sentConfig bool
	frameNum   uint64
	startedAt  time.Time
	ticker     *time.Ticker
}

func newTestPatternProducer(fps int) *testPatternProducer {
	if fps <= 0 {
		fps = 30
	}
	return &testPatternProducer{fps: fps}
}

// fakeAVCDecoderConfig is a syntactically-shaped but non-decodable
// AVCDecoderConfigurationRecord: version 1, profile/level bytes, NAL length
// size 4, zero SPS/PPS entries. Good enough to exercise the wire framing;
// not a playable stream (no camera/encoder is present in this harness).
var fakeAVCDecoderConfig = []byte{
	0x01,       // configurationVersion
	0x64,       // AVCProfileIndication (High)
	0x00,       // profile_compatibility
	0x1f,       // AVCLevelIndication (3.1)
	0xff,       // reserved(6) + lengthSizeMinusOne(2) = 4-byte lengths
	0xe0,       // reserved(3) + numSPS(5) = 0
	0x00, 0x00, // numPPS = 0 (no PPS entries follow)
}

var fakeAudioSpecificConfig = []byte{0x12, 0x10} // AAC-LC, 44.1kHz, stereo-shaped

func (p *testPatternProducer) PullFrame(ctx context.Context) (mediapump.Frame, error) {
	if !p.sentConfig {
		p.sentConfig = true
		p.startedAt = time.Now()
		return mediapump.Frame{IsCodecConfig: true, Data: fakeAVCDecoderConfig}, nil
	}

	interval := time.Second / time.Duration(p.fps)
	if p.ticker == nil {
		p.ticker = time.NewTicker(interval)
	}

	select {
	case <-ctx.Done():
		return mediapump.Frame{}, ctx.Err()
	case <-p.ticker.C:
	}

	p.frameNum++
	nalu := make([]byte, 4, 20)
	binary.BigEndian.PutUint32(nalu, uint32(p.frameNum))
	isKey := p.frameNum%uint64(p.fps*2) == 1 // one keyframe every 2 seconds, matching a 2s GOP preset

	return mediapump.Frame{
		Data:                    nalu,
		IsKeyframe:              isKey,
		PresentationTimestampUs: uint64(time.Since(p.startedAt).Microseconds()),
	}, nil
}

// silenceProducer hands out a fixed AudioSpecificConfig once, then one
// zeroed AAC-raw-shaped frame every 21.3ms (1024 samples @ 48kHz), the
// audio-side analogue of testPatternProducer.
type silenceProducer struct {
	sentConfig bool
	frameNum   uint64
	startedAt  time.Time
	ticker     *time.Ticker
}

func newSilenceProducer() *silenceProducer { return &silenceProducer{} }

const aacFrameInterval = 1024 * time.Second / 48000

func (p *silenceProducer) PullFrame(ctx context.Context) (mediapump.Frame, error) {
	if !p.sentConfig {
		p.sentConfig = true
		p.startedAt = time.Now()
		return mediapump.Frame{IsCodecConfig: true, Data: fakeAudioSpecificConfig}, nil
	}

	if p.ticker == nil {
		p.ticker = time.NewTicker(aacFrameInterval)
	}

	select {
	case <-ctx.Done():
		return mediapump.Frame{}, ctx.Err()
	case <-p.ticker.C:
	}

	p.frameNum++
	return mediapump.Frame{
		Data:                    make([]byte, 32), // silence, shaped like a raw AAC frame payload
		PresentationTimestampUs: uint64(time.Since(p.startedAt).Microseconds()),
	}, nil
}
