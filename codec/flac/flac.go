// Package flac implements the FLAC codec (spec §4.5.4): one frame per
// decode call, integer samples shifted from STREAMINFO's bit depth to 16
// bits with saturation; each frame's BitsPerSample reports the source depth.
//
// Because mewkiz/flac's frame parser needs the demuxer's own *flac.Stream
// (see demux/flac's package doc for why), this codec is constructed from a
// StreamProvider rather than from codec-private bytes alone, and decodes by
// calling stream.ParseNext() directly instead of parsing chunk.Data.
// demux/flac.Demuxer satisfies StreamProvider directly (native FLAC);
// demux/mp4.Demuxer also satisfies it for FLAC-in-MP4 tracks, by building a
// synthetic single-track *flac.Stream over its sample table (see that
// package's Stream method) so this codec never has to know which container
// it is being fed from.
package flac

import (
	"io"

	mflac "github.com/mewkiz/flac"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

// StreamProvider is implemented by a demuxer that can hand this codec a
// shared, decodable *flac.Stream plus a way to report decode progress back
// to whichever container owns the underlying bytes.
type StreamProvider interface {
	Stream() *mflac.Stream
	ReportEOF()
	SetSampleProgress(sample uint64)
}

// Codec decodes FLAC frames from the stream shared with its demuxer.
type Codec struct {
	codec.Base

	demuxer  StreamProvider
	bps      int
	channels int
}

// New constructs a FLAC codec bound to the given demuxer's shared stream.
// Call Initialise before Decode.
func New(d StreamProvider) *Codec {
	return &Codec{Base: codec.NewBase("flac"), demuxer: d}
}

// Initialise implements codec.Codec.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	c.bps = int(info.BitsPerSample)
	c.channels = int(info.Channels)
	if c.bps == 0 {
		c.bps = 16
	}
	if c.channels == 0 {
		c.channels = 2
	}
	return nil
}

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "flac" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "flac" }

// Decode implements codec.Codec. chunk is ignored; the real frame comes off
// the demuxer's shared stream (see package doc).
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		c.demuxer.ReportEOF()
		return mediatype.AudioFrame{}, nil
	}

	stream := c.demuxer.Stream()
	frame, err := stream.ParseNext()
	if err != nil {
		if err == io.EOF {
			c.demuxer.ReportEOF()
			return mediatype.AudioFrame{}, nil
		}
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError("flac", codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}

	nSamples := int(frame.Subframes[0].NSamples)
	out := make([]int16, nSamples*c.channels)
	for i := 0; i < nSamples; i++ {
		for ch := 0; ch < c.channels && ch < len(frame.Subframes); ch++ {
			sample := int(frame.Subframes[ch].Samples[i])
			switch {
			case c.bps > 16:
				sample >>= c.bps - 16
			case c.bps < 16:
				sample <<= 16 - c.bps
			}
			if sample > 32767 {
				sample = 32767
			} else if sample < -32768 {
				sample = -32768
			}
			out[i*c.channels+ch] = int16(sample)
		}
	}

	endSample := frame.SampleNumber() + uint64(nSamples)
	c.RecordSuccess(endSample)
	c.demuxer.SetSampleProgress(endSample)

	return mediatype.AudioFrame{
		Samples:       out,
		SampleRate:    stream.Info.SampleRate,
		Channels:      uint16(c.channels),
		BitsPerSample: uint16(c.bps),
		SampleCount:   nSamples,
		PTS:           frame.SampleNumber(),
	}, nil
}

// Flush implements codec.Codec. FLAC has no decoder-side lookahead to drain.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec.
func (c *Codec) Reset() { c.ResetStats() }

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }
