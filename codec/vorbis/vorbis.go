// Package vorbis implements the Vorbis codec (spec §4.5.2): three header
// packets (identification, comment, setup) consumed before any audio,
// float-to-i16 downconversion with saturating triangular dither.
package vorbis

import (
	"math/rand"

	jfvorbis "github.com/jfreymuth/vorbis"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

// Codec decodes Vorbis packets via github.com/jfreymuth/vorbis, the
// low-level packet decoder jfreymuth/oggvorbis itself wraps with Ogg
// demuxing (the teacher uses oggvorbis directly in
// olivier-w-climp/internal/player/decoder.go's oggDecoder; this codec
// reuses the same downconversion and clamp logic against the packet-level
// API instead, since Ogg demuxing here is owned by demux/ogg).
type Codec struct {
	codec.Base

	headers    [][]byte
	dec        *jfvorbis.Decoder
	channels   int
	sampleRate uint32
	rng        *rand.Rand
}

// New constructs an uninitialised Vorbis codec.
func New() *Codec {
	return &Codec{Base: codec.NewBase("vorbis"), rng: rand.New(rand.NewSource(1))}
}

// Initialise implements codec.Codec. The three Vorbis header packets arrive
// as the first three Decode calls (spec §4.4.2), not through StreamInfo, so
// Initialise only records the channel/rate hints for frame-shape checks. It
// also clears any headers/decoder left over from a previous logical stream,
// so a chained-Ogg restart (demux/ogg.ConsumeStreamRestart) re-collects a
// fresh set of three header packets instead of feeding them into the old
// stream's decoder; an ordinary seek never calls Initialise again, only
// Reset, so this never discards an in-progress stream's decoder.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	c.headers = nil
	c.dec = nil
	c.channels = int(info.Channels)
	c.sampleRate = info.SampleRate
	return nil
}

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "vorbis" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "vorbis" }

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		return mediatype.AudioFrame{}, nil
	}

	if len(c.headers) < 3 {
		c.headers = append(c.headers, chunk.Data)
		if len(c.headers) == 3 {
			dec, err := jfvorbis.NewDecoder(c.headers[0], c.headers[1], c.headers[2])
			if err != nil {
				return mediatype.AudioFrame{}, codec.NewError("vorbis", codec.BadHeader, "initialise", err)
			}
			c.dec = dec
			c.channels = dec.Channels()
			c.sampleRate = uint32(dec.SampleRate())
		}
		// Header packets produce no audio (spec §4.5.1, "empty frame for
		// header packets / deferred output").
		return mediatype.AudioFrame{}, nil
	}

	if c.dec == nil {
		return mediatype.AudioFrame{}, codec.NewError("vorbis", codec.BadHeader, "decode", nil)
	}

	planar, err := c.dec.Decode(chunk.Data)
	if err != nil {
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError("vorbis", codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}
	if len(planar) == 0 || len(planar[0]) == 0 {
		return mediatype.AudioFrame{}, nil
	}

	nSamples := len(planar[0])
	out := make([]int16, nSamples*c.channels)
	for ch := 0; ch < c.channels && ch < len(planar); ch++ {
		column := planar[ch]
		for i := 0; i < nSamples && i < len(column); i++ {
			out[i*c.channels+ch] = c.ditherToI16(column[i])
		}
	}

	endSample := c.CurrentSample() + uint64(nSamples)
	c.RecordSuccess(endSample)

	return mediatype.AudioFrame{
		Samples:       out,
		SampleRate:    c.sampleRate,
		Channels:      uint16(c.channels),
		BitsPerSample: 16,
		SampleCount:   nSamples,
		PTS:           endSample - uint64(nSamples),
	}, nil
}

// ditherToI16 converts a float32 sample in [-1, 1] to i16 with triangular
// dither applied before the saturating round.
func (c *Codec) ditherToI16(s float32) int16 {
	dither := (c.rng.Float32() - c.rng.Float32()) * (1.0 / 32768.0)
	v := float64(s+dither) * 32767.0
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// Flush implements codec.Codec. The reference Vorbis MDCT overlap-add has no
// separate drain step exposed by jfreymuth/vorbis's packet API.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec. Header packets are not re-consumed after a
// seek (spec §4.4.2); only decode-state statistics are cleared.
func (c *Codec) Reset() { c.ResetStats() }

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }
