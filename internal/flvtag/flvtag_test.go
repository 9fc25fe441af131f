package flvtag

import (
	"testing"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/amf0"
)

func TestVideoConfigTagLayout(t *testing.T) {
	avcc := []byte{0x01, 0x42, 0x00, 0x1f}
	tag := BuildVideoConfig(avcc)
	if tag[0] != 0x17 {
		t.Fatalf("expected first byte 0x17 (keyframe+AVC), got 0x%02x", tag[0])
	}
	if tag[1] != 0x00 {
		t.Fatalf("expected AVCPacketType 0x00 for config tag, got 0x%02x", tag[1])
	}
	if tag[2] != 0 || tag[3] != 0 || tag[4] != 0 {
		t.Fatalf("expected zero composition time on config tag")
	}
	if string(tag[5:]) != string(avcc) {
		t.Fatalf("AVCDecoderConfigurationRecord not appended verbatim")
	}
}

func TestVideoNALUTagKeyframeVsInter(t *testing.T) {
	nalu := []byte{0xde, 0xad, 0xbe, 0xef}
	key := BuildVideoNALU(nalu, true, 0)
	if key[0] != 0x17 {
		t.Fatalf("expected 0x17 for keyframe, got 0x%02x", key[0])
	}
	inter := BuildVideoNALU(nalu, false, 0)
	if inter[0] != 0x27 {
		t.Fatalf("expected 0x27 for inter frame, got 0x%02x", inter[0])
	}
	if key[1] != 0x01 || inter[1] != 0x01 {
		t.Fatalf("expected AVCPacketType 0x01 on NALU tags")
	}
}

func TestAudioConfigAndFrameTagLayout(t *testing.T) {
	asc := []byte{0x12, 0x10}
	cfg := BuildAudioConfig(asc, false)
	if cfg[0] != 0xAE {
		t.Fatalf("expected format byte 0xAE for mono AAC, got 0x%02x", cfg[0])
	}
	if cfg[1] != 0x00 {
		t.Fatalf("expected AAC packet type 0x00 for config tag")
	}

	frame := BuildAudioFrame([]byte{0x01, 0x02, 0x03}, false)
	if frame[0] != 0xAE {
		t.Fatalf("expected format byte 0xAE for mono AAC, got 0x%02x", frame[0])
	}
	if frame[1] != 0x01 {
		t.Fatalf("expected AAC packet type 0x01 for raw frame")
	}

	stereoCfg := BuildAudioConfig(asc, true)
	if stereoCfg[0] != 0xAF {
		t.Fatalf("expected format byte 0xAF for stereo AAC, got 0x%02x", stereoCfg[0])
	}
}

func TestOnMetaDataShape(t *testing.T) {
	payload := BuildOnMetaData(MetadataParams{
		Width: 1280, Height: 720, FrameRate: 60,
		VideoBitrateKbps: 6000, AudioBitrateKbps: 160,
		AudioSampleRate: 48000, AudioSampleSize: 16, AudioStereo: false,
		Encoder: "ingestclient",
	})
	vals, err := amf0.DecodeAll(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 AMF0 values, got %d", len(vals))
	}
	if vals[0].String() != "@setDataFrame" {
		t.Fatalf("expected @setDataFrame, got %q", vals[0].String())
	}
	if vals[1].String() != "onMetaData" {
		t.Fatalf("expected onMetaData, got %q", vals[1].String())
	}
	if vals[2].Get("videocodecid").Float64() != 7 {
		t.Fatalf("expected videocodecid=7")
	}
	if vals[2].Get("audiocodecid").Float64() != 10 {
		t.Fatalf("expected audiocodecid=10")
	}
	if vals[2].Get("width").Float64() != 1280 {
		t.Fatalf("expected width=1280")
	}
}
