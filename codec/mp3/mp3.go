// Package mp3 implements the MP3 codec (spec §4.5.4, MP3-in-MP4 and raw MP3
// framing) via github.com/hajimehoshi/go-mp3, the same library the
// teacher's mp3Decoder in olivier-w-climp/internal/player/decoder.go wraps.
//
// go-mp3's Decoder expects a continuous io.Reader over an entire bitstream,
// not a per-chunk Decode call; MediaChunks arrive one coded unit at a time
// from the demuxer, so this codec buffers chunk bytes behind a small
// feeder io.Reader that reports a distinct sentinel error (errStarved, never
// io.EOF) when it runs out of buffered bytes, instead of blocking. Decode
// then treats errStarved as "no frame yet" rather than a decode failure:
// this feeder design is a synthesised adaptation, not something directly
// observed in the example pack, since no example there feeds go-mp3
// incrementally (the teacher opens a whole file).
package mp3

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

var errStarved = errors.New("mp3: feeder starved, need more data")

// feedReader is an io.Reader whose Read returns errStarved instead of
// blocking once its buffered bytes are exhausted, so go-mp3's Decoder never
// permanently EOFs on a live, still-growing bitstream.
type feedReader struct {
	buf []byte
}

func (f *feedReader) feed(p []byte) { f.buf = append(f.buf, p...) }

func (f *feedReader) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, errStarved
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// Codec decodes MP3 frames. Output is always 16-bit stereo interleaved PCM
// at go-mp3's detected sample rate (RFC mp3 decode always outputs 2ch).
type Codec struct {
	codec.Base

	feeder     *feedReader
	dec        *mp3.Decoder
	channels   int
	sampleRate uint32
	scratch    []byte
}

// New constructs an uninitialised MP3 codec.
func New() *Codec { return &Codec{Base: codec.NewBase("mp3"), channels: 2} }

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "mp3" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "mp3" }

// Initialise implements codec.Codec. go-mp3's Decoder is constructed lazily
// on the first Decode call once enough bytes have accumulated to sync a
// frame header, since MediaChunks may arrive smaller than one frame.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	c.feeder = &feedReader{}
	c.scratch = make([]byte, 4*4608) // four decoded MPEG1 Layer 3 frames (1152 samples, stereo, 16-bit = 4608 bytes each)
	if info.SampleRate != 0 {
		c.sampleRate = info.SampleRate
	}
	return nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		return mediatype.AudioFrame{}, nil
	}
	c.feeder.feed(chunk.Data)

	if c.dec == nil {
		dec, err := mp3.NewDecoder(c.feeder)
		if err != nil {
			if errors.Is(err, errStarved) {
				return mediatype.AudioFrame{}, nil
			}
			if exceeded := c.RecordFailure(); exceeded {
				return mediatype.AudioFrame{}, codec.NewError("mp3", codec.BadHeader, "new decoder", err)
			}
			return mediatype.AudioFrame{}, nil
		}
		c.dec = dec
		c.sampleRate = uint32(dec.SampleRate())
	}

	var out []int16
	for {
		n, err := c.dec.Read(c.scratch)
		if n > 0 {
			out = append(out, bytesToI16(c.scratch[:n])...)
		}
		if err != nil {
			if errors.Is(err, errStarved) || err == io.EOF {
				break
			}
			if exceeded := c.RecordFailure(); exceeded {
				return mediatype.AudioFrame{}, codec.NewError("mp3", codec.BadFrame, "decode", err)
			}
			break
		}
		if n == 0 {
			break
		}
	}
	if len(out) == 0 {
		return mediatype.AudioFrame{}, nil
	}

	sampleCount := len(out) / c.channels
	endSample := c.CurrentSample() + uint64(sampleCount)
	c.RecordSuccess(endSample)

	return mediatype.AudioFrame{
		Samples:       out,
		SampleRate:    c.sampleRate,
		Channels:      uint16(c.channels),
		BitsPerSample: 16,
		SampleCount:   sampleCount,
		PTS:           endSample - uint64(sampleCount),
	}, nil
}

func bytesToI16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Flush implements codec.Codec. Any bytes still sitting in the feeder belong
// to a partial, undecodable trailing frame; nothing more can be produced.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec. go-mp3 keeps no cross-frame bit-reservoir
// state this codec exposes a drain for, so a seek just discards the
// in-flight decoder and feeder buffer and starts fresh at the new position.
func (c *Codec) Reset() {
	c.ResetStats()
	c.feeder = &feedReader{}
	c.dec = nil
}

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }
