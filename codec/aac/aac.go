// Package aac implements the AAC-LC codec (spec §4.5.4): Audio Specific
// Config parsing and per-access-unit decode via
// github.com/skrashevich/go-aac, the same library
// olivier-w-climp/internal/player/aac.go uses for its own AAC path. Unlike
// that file, access-unit framing is demux/mp4's job, not the codec's: this
// Codec only ever sees one already-framed access unit per Decode call.
package aac

import (
	"errors"

	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

const (
	lcProfile = 2
	frameSize = 1024
)

var (
	errMissingASC = errors.New("missing Audio Specific Config")
	errNotLC      = errors.New("unsupported AAC profile (AAC-LC only)")
)

// Codec decodes AAC-LC access units. StreamInfo.CodecPrivate carries the
// raw Audio Specific Config bytes from an MP4 esds box, matching the ASC
// teacher's parseAACConfig/resetCodec feed into aacdecoder.Decoder.SetASC.
type Codec struct {
	codec.Base

	asc      []byte
	dec      *aacdecoder.Decoder
	channels int

	// warmup tracks discard-after-seek-reset state (spec §4.5.5).
	pendingWarmup int
}

// New constructs an uninitialised AAC codec.
func New() *Codec { return &Codec{Base: codec.NewBase("aac")} }

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "aac" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "aac" }

// Initialise implements codec.Codec.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	if len(info.CodecPrivate) == 0 {
		return codec.NewError("aac", codec.BadHeader, "initialise", errMissingASC)
	}
	c.asc = append([]byte(nil), info.CodecPrivate...)
	dec := aacdecoder.New()
	if err := dec.SetASC(c.asc); err != nil {
		return codec.NewError("aac", codec.BadHeader, "set asc", err)
	}
	if dec.Config.Profile != lcProfile {
		return codec.NewError("aac", codec.UnsupportedConfiguration, "initialise", errNotLC)
	}
	c.dec = dec
	c.channels = dec.Config.ChanConfig
	if c.channels == 0 {
		c.channels = int(info.Channels)
	}
	return nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		return mediatype.AudioFrame{}, nil
	}
	if c.dec == nil {
		return mediatype.AudioFrame{}, codec.NewError("aac", codec.BadHeader, "decode", nil)
	}

	samples, err := c.dec.DecodeFrame(chunk.Data)
	if err != nil {
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError("aac", codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}
	if len(samples) == 0 {
		return mediatype.AudioFrame{}, nil
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatSampleToPCM16(s)
	}
	sampleCount := len(out) / c.channels

	warmup := c.pendingWarmup
	if warmup > sampleCount {
		warmup = sampleCount
	}
	c.pendingWarmup -= warmup

	endSample := c.CurrentSample() + uint64(sampleCount)
	c.RecordSuccess(endSample)

	return mediatype.AudioFrame{
		Samples:       out,
		Channels:      uint16(c.channels),
		BitsPerSample: 16,
		SampleCount:   sampleCount,
		PTS:           endSample - uint64(sampleCount),
		WarmupSamples: warmup,
	}, nil
}

func floatSampleToPCM16(sample float32) int16 {
	switch {
	case sample >= 1:
		return 32767
	case sample <= -1:
		return -32768
	default:
		return int16(sample * 32767)
	}
}

// Flush implements codec.Codec. go-aac's decoder has no separate drain step.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec. A seek rebuilds the decoder from the saved
// ASC (spec §4.5.5, "decoder state reset"), and requests a warmup discard on
// the next decoded frame.
func (c *Codec) Reset() {
	c.ResetStats()
	if c.asc == nil {
		return
	}
	dec := aacdecoder.New()
	if err := dec.SetASC(c.asc); err == nil {
		c.dec = dec
		c.pendingWarmup = frameSize
	}
}

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }
