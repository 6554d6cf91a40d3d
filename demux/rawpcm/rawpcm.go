// Package rawpcm implements the extension-hinted raw-PCM demuxer (spec
// §4.4.6): activated only by a FormatRegistry extension-only signature, with
// channels/sample-rate/bit-depth/encoding supplied out of band since the
// stream carries no header at all.
package rawpcm

import (
	"fmt"
	"io"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
)

// ChunkSlabBytes is the size of the fixed-size slabs ReadChunk emits.
const ChunkSlabBytes = 32 * 1024

// Config describes the out-of-band parameters a raw-PCM stream needs, since
// there is no container header to derive them from (spec §4.4.6).
type Config struct {
	SampleRate uint32
	Channels   uint16
	CodecName  string // e.g. "pcm_s16le", "ulaw", "alaw"
}

// DefaultConfigs maps well-known extensions to their conventional telephony
// parameters (8 kHz mono, the traditional default for .ulaw/.alaw/.au/.pcm);
// .raw is read as 44.1 kHz stereo 16-bit.
var DefaultConfigs = map[string]Config{
	".ulaw": {SampleRate: 8000, Channels: 1, CodecName: "ulaw"},
	".alaw": {SampleRate: 8000, Channels: 1, CodecName: "alaw"},
	".au":   {SampleRate: 8000, Channels: 1, CodecName: "ulaw"},
	".pcm":  {SampleRate: 8000, Channels: 1, CodecName: "pcm_s16le"},
	".raw":  {SampleRate: 44100, Channels: 2, CodecName: "pcm_s16le"},
}

// Demuxer emits a single audio stream of fixed-size slabs, with no seeking
// support beyond simple byte-offset math (there is no header to anchor a
// seek table to).
type Demuxer struct {
	demux.Base

	cfg      Config
	readPos  int64
	dataSize int64 // -1 if unknown (e.g. a live HTTP source)

	streamInfo mediatype.StreamInfo
}

// New constructs a raw-PCM demuxer with explicit parameters. Use NewWithHint
// to derive parameters from a file extension via DefaultConfigs.
func New(src iosource.ByteSource, cfg Config) (any, error) {
	return &Demuxer{Base: demux.NewBase("rawpcm", src), cfg: cfg}, nil
}

// NewWithHint looks up cfg from DefaultConfigs by extension (including the
// leading dot, lowercase). Returns an error if the extension isn't known.
func NewWithHint(src iosource.ByteSource, ext string) (any, error) {
	cfg, ok := DefaultConfigs[ext]
	if !ok {
		return nil, demux.NewError("rawpcm", demux.UnsupportedVariant, "new_with_hint", 0, 0, fmt.Errorf("no default config for extension %q", ext))
	}
	return New(src, cfg)
}

func bytesPerSample(codecName string) int64 {
	switch codecName {
	case "pcm_s24le", "pcm_s24be":
		return 3
	case "pcm_s32le", "pcm_s32be", "pcm_f32le":
		return 4
	case "pcm_f64le":
		return 8
	case "ulaw", "alaw":
		return 1
	default:
		return 2
	}
}

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	if d.cfg.SampleRate == 0 || d.cfg.Channels == 0 || d.cfg.CodecName == "" {
		return demux.NewError("rawpcm", demux.InvalidState, "parse_container", 0, 0, fmt.Errorf("raw PCM requires an explicit Config"))
	}
	d.dataSize = -1
	if size, ok := d.Src.Size(); ok {
		d.dataSize = size
	}
	bytesPerFrame := bytesPerSample(d.cfg.CodecName) * int64(d.cfg.Channels)

	var durationMs, durationSamples uint64
	if d.dataSize >= 0 && bytesPerFrame > 0 {
		durationSamples = uint64(d.dataSize / bytesPerFrame)
		if d.cfg.SampleRate > 0 {
			durationMs = durationSamples * 1000 / uint64(d.cfg.SampleRate)
		}
	}

	d.streamInfo = mediatype.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       d.cfg.CodecName,
		SampleRate:      d.cfg.SampleRate,
		Channels:        d.cfg.Channels,
		BitsPerSample:   uint16(bytesPerSample(d.cfg.CodecName) * 8),
		DurationMs:      durationMs,
		DurationSamples: durationSamples,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)
	return nil
}

// Streams implements demux.Demuxer.
func (d *Demuxer) Streams() []mediatype.StreamInfo { return []mediatype.StreamInfo{d.streamInfo} }

// StreamInfo implements demux.Demuxer.
func (d *Demuxer) StreamInfo(streamID uint32) (mediatype.StreamInfo, bool) {
	if streamID != 0 {
		return mediatype.StreamInfo{}, false
	}
	return d.streamInfo, true
}

// ReadChunk implements demux.Demuxer.
func (d *Demuxer) ReadChunk() (mediatype.MediaChunk, error) { return d.ReadChunkOf(0) }

// ReadChunkOf implements demux.Demuxer.
func (d *Demuxer) ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error) {
	if streamID != 0 {
		return mediatype.MediaChunk{}, demux.NewError("rawpcm", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
	}
	want := ChunkSlabBytes
	if d.dataSize >= 0 {
		remaining := d.dataSize - d.readPos
		if remaining <= 0 {
			d.SetEOF(true)
			return mediatype.MediaChunk{StreamID: 0}, nil
		}
		if int64(want) > remaining {
			want = int(remaining)
		}
	}
	buf, err := d.ReadBytes(want)
	if len(buf) == 0 {
		if err != nil && err != io.EOF {
			return mediatype.MediaChunk{}, demux.NewError("rawpcm", demux.IoError, "read_chunk", 0, d.readPos, err)
		}
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}

	bytesPerFrame := bytesPerSample(d.cfg.CodecName) * int64(d.cfg.Channels)
	startFrame := d.readPos / bytesPerFrame
	d.readPos += int64(len(buf))
	if d.cfg.SampleRate > 0 {
		d.SetPositionMs(uint64(d.readPos/bytesPerFrame) * 1000 / uint64(d.cfg.SampleRate))
	}
	return mediatype.MediaChunk{
		StreamID:         0,
		Data:             buf,
		TimestampSamples: uint64(startFrame),
		IsKeyframe:       true,
	}, nil
}

// SeekTo implements demux.Demuxer. Raw PCM has no index, so seek is direct
// byte-offset math; unsupported on sources of unknown size.
func (d *Demuxer) SeekTo(timestampMs uint64) error {
	if d.dataSize < 0 {
		return demux.NewError("rawpcm", demux.UnsupportedVariant, "seek_to", 0, 0, fmt.Errorf("cannot seek a stream of unknown size"))
	}
	bytesPerFrame := bytesPerSample(d.cfg.CodecName) * int64(d.cfg.Channels)
	targetFrame := timestampMs * uint64(d.cfg.SampleRate) / 1000
	targetByte := int64(targetFrame) * bytesPerFrame
	if targetByte > d.dataSize {
		targetByte = d.dataSize
	}
	if _, err := d.Src.Seek(targetByte, iosource.SeekStart); err != nil {
		return demux.NewError("rawpcm", demux.IoError, "seek_to", 0, targetByte, err)
	}
	d.readPos = targetByte
	d.SetEOF(false)
	d.SetPositionMs(timestampMs)
	return nil
}
