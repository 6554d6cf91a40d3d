// Package opus implements the Opus codec (spec §4.5.3): fixed 48 kHz output
// regardless of the container's nominal sample rate, pre-skip samples
// dropped from the front of the stream, and the Q7.8 dB output gain from the
// OpusHead applied before the final i16 clamp.
package opus

import (
	"encoding/binary"
	"math"

	jjopus "github.com/jj11hh/opus"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

// OutputSampleRate is the rate Opus always decodes to regardless of the
// container's nominal SampleRate hint (RFC 6716 §2).
const OutputSampleRate = 48000

// maxFrameSamples is the largest PCM frame a single Opus packet can decode
// to per channel (RFC 6716 §2.1.4, 120ms at 48kHz).
const maxFrameSamples = 5760

// Codec decodes Opus packets via github.com/jj11hh/opus.
type Codec struct {
	codec.Base

	decoder     *jjopus.Decoder
	channels    int
	preSkip     int
	origPreSkip int
	gainFactor  float64 // linear multiplier derived from the Q7.8 dB output gain
	scratch     []float32
}

// New constructs an uninitialised Opus codec.
func New() *Codec { return &Codec{Base: codec.NewBase("opus"), gainFactor: 1.0} }

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "opus" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "opus" }

// Initialise implements codec.Codec. info.CodecPrivate, when present, is the
// raw OpusHead packet bytes (demux/ogg copies it there verbatim); pre-skip
// and output gain are read from it per RFC 7845 §5.1.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	c.channels = int(info.Channels)
	if c.channels == 0 {
		c.channels = 2
	}

	c.preSkip = 0
	c.gainFactor = 1.0
	if head := info.CodecPrivate; len(head) >= 19 && string(head[0:8]) == "OpusHead" {
		preSkip := binary.LittleEndian.Uint16(head[10:12])
		gainQ78 := int16(binary.LittleEndian.Uint16(head[16:18]))
		c.preSkip = int(preSkip)
		c.origPreSkip = int(preSkip)
		c.gainFactor = math.Pow(10, float64(gainQ78)/(20.0*256.0))
	}

	dec, err := jjopus.NewDecoder(OutputSampleRate, c.channels)
	if err != nil {
		return codec.NewError("opus", codec.BadHeader, "initialise", err)
	}
	c.decoder = dec
	c.scratch = make([]float32, maxFrameSamples*c.channels)
	return nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		return mediatype.AudioFrame{}, nil
	}
	if c.decoder == nil {
		return mediatype.AudioFrame{}, codec.NewError("opus", codec.BadHeader, "decode", nil)
	}

	samplesPerChannel, err := c.decoder.DecodeFloat32(chunk.Data, c.scratch[:cap(c.scratch)])
	if err != nil {
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError("opus", codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}
	planar := c.scratch[:samplesPerChannel*c.channels]

	skip := 0
	if c.preSkip > 0 {
		skip = c.preSkip
		if skip > samplesPerChannel {
			skip = samplesPerChannel
		}
		c.preSkip -= skip
	}
	kept := samplesPerChannel - skip
	if kept <= 0 {
		return mediatype.AudioFrame{}, nil
	}

	out := make([]int16, kept*c.channels)
	for i := 0; i < kept; i++ {
		for ch := 0; ch < c.channels; ch++ {
			v := float64(planar[(skip+i)*c.channels+ch]) * c.gainFactor * 32767.0
			out[i*c.channels+ch] = clampI16(v)
		}
	}

	endSample := c.CurrentSample() + uint64(kept)
	c.RecordSuccess(endSample)

	return mediatype.AudioFrame{
		Samples:       out,
		SampleRate:    OutputSampleRate,
		Channels:      uint16(c.channels),
		BitsPerSample: 16,
		SampleCount:   kept,
		PTS:           endSample - uint64(kept),
	}, nil
}

func clampI16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// Flush implements codec.Codec. jj11hh/opus has no internal lookahead to
// drain beyond what DecodeFloat32 already returns per packet.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec. A seek re-arms the pre-skip counter, since
// the decoder needs to discard the same warm-up window after any
// discontinuous jump (spec §4.5.3).
func (c *Codec) Reset() {
	c.ResetStats()
	c.preSkip = c.origPreSkip
	if c.decoder != nil {
		dec, err := jjopus.NewDecoder(OutputSampleRate, c.channels)
		if err == nil {
			c.decoder = dec
		}
	}
}

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }
