// Package flvtag builds the RTMP media payload bytes for AVC video and AAC
// audio: the same per-tag byte layout FLV uses, minus the file header and
// the trailing PreviousTagSize the teacher's flv.go wraps around a tag for
// standalone-file storage (RTMP carries these bytes directly in a message
// payload, never as a wrapped file tag). Byte positions (codec id nibble,
// AVCPacketType, composition time, AAC sound-format byte) are grounded on
// the teacher's flv.go and av.go, and on rtmp_session_utils.go's
// SendVideoCodecHeader/SendAudioCodecHeader/SendMetadata framing.
package flvtag

import (
	"github.com/AgustinSRG/rtmp-ingest-client/internal/amf0"
)

// Video tag header bytes, per the Adobe FLV10.1 VIDEODATA layout.
const (
	videoCodecAVC       = 0x07
	frameTypeShift      = 4
	frameTypeKey        = 1
	frameTypeInter      = 2
	avcPacketTypeSeqHdr = 0x00
	avcPacketTypeNALU   = 0x01
)

// BuildVideoConfig wraps an AVCDecoderConfigurationRecord as produced by the
// encoder into the one-time video sequence-header tag. Per spec §4.4 this
// must be sent exactly once per track, before the first NALU tag.
func BuildVideoConfig(avcDecoderConfigRecord []byte) []byte {
	out := make([]byte, 0, 5+len(avcDecoderConfigRecord))
	out = append(out, byte(frameTypeKey<<frameTypeShift)|videoCodecAVC)
	out = append(out, avcPacketTypeSeqHdr)
	out = append(out, 0x00, 0x00, 0x00) // composition time, irrelevant for a config tag
	out = append(out, avcDecoderConfigRecord...)
	return out
}

// BuildVideoNALU wraps one length-prefixed NAL unit payload (as produced by
// the encoder) into a video tag. compositionTimeOffset is PTS-DTS in
// milliseconds (0 when the encoder emits no B-frames / PTS==DTS).
func BuildVideoNALU(nalu []byte, isKeyframe bool, compositionTimeOffset int32) []byte {
	frameType := byte(frameTypeInter)
	if isKeyframe {
		frameType = frameTypeKey
	}
	out := make([]byte, 0, 5+len(nalu))
	out = append(out, (frameType<<frameTypeShift)|videoCodecAVC)
	out = append(out, avcPacketTypeNALU)
	out = append(out, int24(compositionTimeOffset)...)
	out = append(out, nalu...)
	return out
}

func int24(v int32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// Audio tag header: sound format nibble 10 = AAC, sound rate 3 = 44/48kHz,
// sound size 1 = 16-bit, sound type mono/stereo.
const (
	soundFormatAAC        = 10
	soundRate44or48kHz    = 3
	soundSize16Bit        = 1
	aacPacketTypeSeqHdr   = 0x00
	aacPacketTypeRawFrame = 0x01
)

func audioFormatByte(stereo bool) byte {
	soundType := byte(0)
	if stereo {
		soundType = 1
	}
	return (soundFormatAAC << 4) | (soundRate44or48kHz << 2) | (soundSize16Bit << 1) | soundType
}

// BuildAudioConfig wraps an AudioSpecificConfig blob into the one-time audio
// sequence-header tag, sent exactly once per track before the first frame.
func BuildAudioConfig(audioSpecificConfig []byte, stereo bool) []byte {
	out := make([]byte, 0, 2+len(audioSpecificConfig))
	out = append(out, audioFormatByte(stereo))
	out = append(out, aacPacketTypeSeqHdr)
	out = append(out, audioSpecificConfig...)
	return out
}

// BuildAudioFrame wraps one raw AAC payload (as produced by the encoder)
// into an audio tag.
func BuildAudioFrame(aacRaw []byte, stereo bool) []byte {
	out := make([]byte, 0, 2+len(aacRaw))
	out = append(out, audioFormatByte(stereo))
	out = append(out, aacPacketTypeRawFrame)
	out = append(out, aacRaw...)
	return out
}

// MetadataParams carries the onMetaData fields the spec mandates.
type MetadataParams struct {
	Width            int
	Height           int
	FrameRate        int
	VideoBitrateKbps int
	AudioBitrateKbps int
	AudioSampleRate  int
	AudioSampleSize  int
	AudioStereo      bool
	Encoder          string
}

// BuildOnMetaData produces the `@setDataFrame("onMetaData", {...})` AMF0
// command payload, sent exactly once, immediately after publish is
// acknowledged and before any media, per spec §4.4/§4.5.
func BuildOnMetaData(p MetadataParams) []byte {
	audioChannels := float64(1)
	if p.AudioStereo {
		audioChannels = 2
	}
	obj := amf0.Object(
		amf0.Prop("width", amf0.Number(float64(p.Width))),
		amf0.Prop("height", amf0.Number(float64(p.Height))),
		amf0.Prop("framerate", amf0.Number(float64(p.FrameRate))),
		amf0.Prop("videodatarate", amf0.Number(float64(p.VideoBitrateKbps))),
		amf0.Prop("videocodecid", amf0.Number(7)),
		amf0.Prop("audiodatarate", amf0.Number(float64(p.AudioBitrateKbps))),
		amf0.Prop("audiosamplerate", amf0.Number(float64(p.AudioSampleRate))),
		amf0.Prop("audiosamplesize", amf0.Number(float64(p.AudioSampleSize))),
		amf0.Prop("audiochannels", amf0.Number(audioChannels)),
		amf0.Prop("audiocodecid", amf0.Number(10)),
		amf0.Prop("encoder", amf0.String(p.Encoder)),
	)

	out := amf0.Encode(amf0.String("@setDataFrame"))
	out = append(out, amf0.Encode(amf0.String("onMetaData"))...)
	out = append(out, amf0.Encode(obj)...)
	return out
}
