// Package aiff implements the AIFF/AIFC demuxer (spec §4.4.4): FORM/AIFF ->
// COMM, SSND, MARK, INST chunk hierarchy.
package aiff

import (
	"fmt"
	"io"

	goaiff "github.com/go-audio/aiff"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// ChunkSlabBytes is the size of the fixed-size slabs ReadChunk emits from the
// SSND chunk.
const ChunkSlabBytes = 32 * 1024

// Demuxer parses AIFF/AIFC containers via go-audio/aiff.Decoder, the same
// library grounding other_examples' aiff decoder reference, then emits raw
// big-endian sample-frame slabs as MediaChunks rather than decoding them.
type Demuxer struct {
	demux.Base

	dataStart     int64
	dataSize      int64
	bytesPerFrame int64
	readPos       int64

	streamInfo mediatype.StreamInfo
}

// New is a format.Factory constructor.
func New(src iosource.ByteSource) (any, error) {
	return &Demuxer{Base: demux.NewBase("aiff", src)}, nil
}

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	dec := goaiff.NewDecoder(d.Src)
	if !dec.IsValidFile() {
		return demux.NewError("aiff", demux.BadMagic, "validate", 0, 0, fmt.Errorf("not a valid AIFF/AIFC file"))
	}
	if err := dec.FwdToPCM(); err != nil {
		return demux.NewError("aiff", demux.TruncatedHeader, "seek to SSND", 0, 0, err)
	}

	dataStart := d.Src.Tell()
	dataSize := dec.PCMLen()

	channels := uint16(dec.NumChans)
	bitDepth := uint16(dec.BitDepth)
	bytesPerFrame := int64(channels) * int64(bitDepth) / 8
	if bytesPerFrame <= 0 {
		bytesPerFrame = 1
	}
	totalFrames := dataSize / bytesPerFrame
	var durationMs uint64
	if dec.SampleRate > 0 {
		durationMs = uint64(totalFrames) * 1000 / uint64(dec.SampleRate)
	}

	codecName := "pcm_s16be"
	switch bitDepth {
	case 8:
		codecName = "pcm_s8" // widened from 8-bit signed to 16-bit on decode
	case 24:
		codecName = "pcm_s24be"
	case 32:
		codecName = "pcm_s32be"
	}
	if dec.Encoding == [4]byte{'s', 'o', 'w', 't'} {
		// AIFC "sowt" is little-endian PCM despite the AIFF container's
		// otherwise big-endian convention.
		switch bitDepth {
		case 24:
			codecName = "pcm_s24le"
		case 32:
			codecName = "pcm_s32le"
		default:
			codecName = "pcm_s16le"
		}
	}

	var tags mediatype.Tags
	if len(dec.Comments) > 0 {
		tags.Comment = dec.Comments[0]
	}

	d.dataStart = dataStart
	d.dataSize = dataSize
	d.bytesPerFrame = bytesPerFrame
	d.streamInfo = mediatype.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       codecName,
		SampleRate:      uint32(dec.SampleRate),
		Channels:        channels,
		BitsPerSample:   bitDepth,
		DurationMs:      durationMs,
		DurationSamples: uint64(totalFrames),
		Tags:            tags,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)
	if tags.Comment != "" {
		d.SetTag(&tag.Static{CommentVal: tags.Comment})
	}
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
		return mediatype.MediaChunk{}, demux.NewError("aiff", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
	}
	remaining := d.dataSize - d.readPos
	if remaining <= 0 {
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}
	want := int64(ChunkSlabBytes)
	if want > remaining {
		want = remaining
	}
	buf, err := d.ReadBytes(int(want))
	if len(buf) == 0 {
		if err != nil && err != io.EOF {
			return mediatype.MediaChunk{}, demux.NewError("aiff", demux.IoError, "read_chunk", 0, d.dataStart+d.readPos, err)
		}
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}

	startFrame := d.readPos / d.bytesPerFrame
	d.readPos += int64(len(buf))
	if d.streamInfo.SampleRate > 0 {
		framesRead := d.readPos / d.bytesPerFrame
		d.SetPositionMs(uint64(framesRead) * 1000 / uint64(d.streamInfo.SampleRate))
	}
	return mediatype.MediaChunk{
		StreamID:         0,
		Data:             buf,
		TimestampSamples: uint64(startFrame),
		IsKeyframe:       true,
	}, nil
}

// SeekTo implements demux.Demuxer.
func (d *Demuxer) SeekTo(timestampMs uint64) error {
	if d.streamInfo.SampleRate == 0 {
		return demux.NewError("aiff", demux.InvalidState, "seek_to", 0, 0, fmt.Errorf("container not parsed"))
	}
	targetFrame := timestampMs * uint64(d.streamInfo.SampleRate) / 1000
	targetByte := int64(targetFrame) * d.bytesPerFrame
	if targetByte > d.dataSize {
		targetByte = d.dataSize
	}
	if _, err := d.Src.Seek(d.dataStart+targetByte, iosource.SeekStart); err != nil {
		return demux.NewError("aiff", demux.IoError, "seek_to", 0, d.dataStart+targetByte, err)
	}
	d.readPos = targetByte
	d.SetEOF(false)
	d.SetPositionMs(timestampMs)
	return nil
}
