// Package alac implements the ALAC codec (spec §4.5.4): magic-cookie
// (ALACSpecificConfig) parsing and per-packet decode via
// github.com/mycophonic/saprobe-alac.
package alac

import (
	"encoding/binary"
	"errors"

	saprobealac "github.com/mycophonic/saprobe-alac"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

var errMissingCookie = errors.New("missing ALACSpecificConfig")

// Codec decodes ALAC packets. Initialise parses the ALACSpecificConfig magic
// cookie from StreamInfo.CodecPrivate, the same cookie bytes saprobe-alac's
// own Decoder reads off the MP4 track it parses internally, and fails with
// BadHeader when CodecPrivate is empty. demux/mp4 does not extract the
// cookie from an 'alac' sample entry, so its ALAC tracks arrive with an
// empty CodecPrivate. MP4 parsing itself is left to demux/mp4; this codec
// decodes one access unit per packet.
type Codec struct {
	codec.Base

	dec           *saprobealac.PacketDecoder
	channels      int
	sampleRate    uint32
	bitDepth      int
	bytesPerFrame int
}

// New constructs an uninitialised ALAC codec.
func New() *Codec { return &Codec{Base: codec.NewBase("alac")} }

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool { return info.CodecName == "alac" }

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return "alac" }

// Initialise implements codec.Codec.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	if len(info.CodecPrivate) == 0 {
		return codec.NewError("alac", codec.BadHeader, "initialise", errMissingCookie)
	}
	cfg, err := saprobealac.ParseMagicCookie(info.CodecPrivate)
	if err != nil {
		return codec.NewError("alac", codec.BadHeader, "parse magic cookie", err)
	}
	dec, err := saprobealac.NewPacketDecoder(cfg)
	if err != nil {
		return codec.NewError("alac", codec.UnsupportedConfiguration, "new decoder", err)
	}
	c.dec = dec
	format := dec.Format()
	c.channels = format.Channels
	c.sampleRate = uint32(format.SampleRate)
	c.bitDepth = format.BitDepth
	c.bytesPerFrame = c.channels * bytesPerSample(c.bitDepth)
	return nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() {
		return mediatype.AudioFrame{}, nil
	}
	if c.dec == nil {
		return mediatype.AudioFrame{}, codec.NewError("alac", codec.BadHeader, "decode", nil)
	}

	pcm, err := c.dec.DecodePacket(chunk.Data)
	if err != nil {
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError("alac", codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}
	if len(pcm) == 0 || c.bytesPerFrame == 0 {
		return mediatype.AudioFrame{}, nil
	}

	sampleCount := len(pcm) / c.bytesPerFrame
	out := make([]int16, sampleCount*c.channels)
	switch c.bitDepth {
	case 16:
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		}
	case 20, 24:
		bps := bytesPerSample(c.bitDepth)
		for i := range out {
			off := i * bps
			var v int32
			for b := bps - 1; b >= 0; b-- {
				v = v<<8 | int32(pcm[off+b])
			}
			shift := 32 - c.bitDepth
			v <<= uint(shift)
			v >>= uint(shift) // sign-extend from bitDepth
			out[i] = int16(v >> (c.bitDepth - 16))
		}
	case 32:
		for i := range out {
			v := int32(binary.LittleEndian.Uint32(pcm[i*4:]))
			out[i] = int16(v >> 16)
		}
	default:
		return mediatype.AudioFrame{}, codec.NewError("alac", codec.UnsupportedConfiguration, "decode", nil)
	}

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

// Flush implements codec.Codec. ALAC packets decode independently; nothing
// to drain.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec.
func (c *Codec) Reset() { c.ResetStats() }

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }

func bytesPerSample(bitDepth int) int {
	switch bitDepth {
	case 16:
		return 2
	case 20, 24:
		return 3
	case 32:
		return 4
	default:
		return 2
	}
}
