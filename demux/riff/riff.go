// Package riff implements the RIFF/WAVE demuxer (spec §4.4.4): canonical
// chunk hierarchy RIFF/WAVE -> fmt, data, optional LIST/INFO.
package riff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// ChunkSlabBytes is the size of the fixed-size slabs ReadChunk emits from the
// data chunk (spec §4.4.4, "chunks are emitted as fixed-size slabs").
const ChunkSlabBytes = 32 * 1024

// Demuxer parses RIFF/WAVE containers. Metadata (sample rate, channels, bit
// depth, PCM data boundary) comes from go-audio/wav.Decoder, the same
// library the teacher's wavDecoder wraps in
// olivier-w-climp/internal/player/decoder.go; the format-tag and LIST/INFO
// tag extraction it doesn't expose are read directly off the chunk stream.
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
	return &Demuxer{Base: demux.NewBase("riff", src)}, nil
}

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	formatCode, tags, err := scanTopLevelChunks(d.Src)
	if err != nil {
		return demux.NewError("riff", demux.TruncatedHeader, "scan chunks", 0, 0, err)
	}
	if _, err := d.Src.Seek(0, iosource.SeekStart); err != nil {
		return demux.NewError("riff", demux.IoError, "seek to start", 0, 0, err)
	}

	dec := wav.NewDecoder(d.Src)
	if !dec.IsValidFile() {
		return demux.NewError("riff", demux.BadMagic, "validate", 0, 0, fmt.Errorf("not a valid RIFF/WAVE file"))
	}
	if err := dec.FwdToPCM(); err != nil {
		return demux.NewError("riff", demux.TruncatedHeader, "seek to PCM", 0, 0, err)
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

	d.dataStart = dataStart
	d.dataSize = dataSize
	d.bytesPerFrame = bytesPerFrame
	d.streamInfo = mediatype.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       codecNameFor(formatCode, bitDepth),
		SampleRate:      uint32(dec.SampleRate),
		Channels:        channels,
		BitsPerSample:   bitDepth,
		DurationMs:      durationMs,
		DurationSamples: uint64(totalFrames),
		Tags:            tags,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)
	if tags != (mediatype.Tags{}) {
		d.SetTag(&tag.Static{
			TitleVal: tags.Title, ArtistVal: tags.Artist, AlbumVal: tags.Album,
			GenreVal: tags.Genre, YearVal: tags.Year, TrackVal: tags.Track, CommentVal: tags.Comment,
		})
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

// ReadChunk implements demux.Demuxer (primary, and only, stream).
func (d *Demuxer) ReadChunk() (mediatype.MediaChunk, error) {
	return d.ReadChunkOf(0)
}

// ReadChunkOf implements demux.Demuxer.
func (d *Demuxer) ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error) {
	if streamID != 0 {
		return mediatype.MediaChunk{}, demux.NewError("riff", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
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
			return mediatype.MediaChunk{}, demux.NewError("riff", demux.IoError, "read_chunk", 0, d.dataStart+d.readPos, err)
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
		return demux.NewError("riff", demux.InvalidState, "seek_to", 0, 0, fmt.Errorf("container not parsed"))
	}
	targetFrame := timestampMs * uint64(d.streamInfo.SampleRate) / 1000
	targetByte := int64(targetFrame) * d.bytesPerFrame
	if targetByte > d.dataSize {
		targetByte = d.dataSize
	}
	if _, err := d.Src.Seek(d.dataStart+targetByte, iosource.SeekStart); err != nil {
		return demux.NewError("riff", demux.IoError, "seek_to", 0, d.dataStart+targetByte, err)
	}
	d.readPos = targetByte
	d.SetEOF(false)
	d.SetPositionMs(timestampMs)
	return nil
}

func codecNameFor(formatCode uint16, bitDepth uint16) string {
	switch formatCode {
	case 0x0001: // WAVE_FORMAT_PCM
		switch bitDepth {
		case 24:
			return "pcm_s24le"
		case 32:
			return "pcm_s32le"
		default:
			return "pcm_s16le"
		}
	case 0x0003: // WAVE_FORMAT_IEEE_FLOAT
		if bitDepth == 64 {
			return "pcm_f64le"
		}
		return "pcm_f32le"
	case 0x0006: // WAVE_FORMAT_ALAW
		return "alaw"
	case 0x0007: // WAVE_FORMAT_MULAW
		return "ulaw"
	case 0x0002: // WAVE_FORMAT_ADPCM (Microsoft)
		return "adpcm_ms"
	case 0x0011: // WAVE_FORMAT_DVI_ADPCM / IMA ADPCM
		return "adpcm_ima"
	default:
		return "pcm_s16le"
	}
}

// scanTopLevelChunks walks the RIFF chunk list once, reading only the
// 'fmt ' format tag and any 'LIST'/'INFO' metadata subchunks, then leaves src
// positioned wherever the scan ended (the caller reseeks to 0 before handing
// off to wav.Decoder).
func scanTopLevelChunks(src iosource.ByteSource) (formatCode uint16, tags mediatype.Tags, err error) {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return 0, tags, err
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return 0, tags, fmt.Errorf("not RIFF/WAVE")
	}

	for {
		// ByteSource.Read returns (0, nil) past the end rather than io.EOF,
		// so the end of the chunk list is detected through EOF().
		if src.EOF() {
			break
		}
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(src, id[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return 0, tags, err
		}
		if err := binary.Read(src, binary.LittleEndian, &size); err != nil {
			return 0, tags, err
		}

		switch string(id[:]) {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(src, body); err != nil {
				return 0, tags, err
			}
			if len(body) >= 2 {
				formatCode = binary.LittleEndian.Uint16(body[0:2])
			}
		case "LIST":
			body := make([]byte, size)
			if _, err := io.ReadFull(src, body); err != nil {
				return 0, tags, err
			}
			if len(body) >= 4 && string(body[0:4]) == "INFO" {
				parseInfoList(body[4:], &tags)
			}
		default:
			if _, err := src.Seek(int64(size), iosource.SeekCurrent); err != nil {
				return 0, tags, err
			}
		}
		if size%2 == 1 {
			if _, err := src.Seek(1, iosource.SeekCurrent); err != nil {
				return 0, tags, err
			}
		}
	}
	return formatCode, tags, nil
}

func parseInfoList(body []byte, tags *mediatype.Tags) {
	pos := 0
	for pos+8 <= len(body) {
		id := string(body[pos : pos+4])
		size := binary.LittleEndian.Uint32(body[pos+4 : pos+8])
		pos += 8
		if pos+int(size) > len(body) {
			break
		}
		val := trimNulls(string(body[pos : pos+int(size)]))
		pos += int(size)
		if size%2 == 1 {
			pos++
		}
		switch id {
		case "INAM":
			tags.Title = val
		case "IART":
			tags.Artist = val
		case "IPRD":
			tags.Album = val
		case "IGNR":
			tags.Genre = val
		case "ICRD":
			tags.Year = val
		case "ITRK", "IPRT":
			tags.Track = val
		case "ICMT":
			tags.Comment = val
		}
	}
}

func trimNulls(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
