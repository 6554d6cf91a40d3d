// Package mp3 implements a standalone elementary-stream MP3 demuxer: an
// optional leading ID3v2 tag, then raw MPEG audio frames handed to
// codec/mp3 as fixed-size byte slabs. Spec §4.4/§4.5.5 only name MP3 as a
// codec wrapped inside MP4 ("MP3-in-MP4"); this package supplements that
// with the far more common case of a bare .mp3 file, since nothing in the
// spec's Non-goals excludes it and codec/mp3 already does real per-frame
// decoding regardless of which demuxer feeds it.
package mp3

import (
	"fmt"
	"io"

	"github.com/bogem/id3v2/v2"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// ChunkSlabBytes is the size of the fixed-size byte slabs ReadChunk emits.
// codec/mp3's feedReader resyncs to frame boundaries itself, so slab size
// only affects latency, not correctness.
const ChunkSlabBytes = 16 * 1024

var mpegVersions = [4]float64{2.5, 0, 2, 1} // index by the 2-bit version field

// bitrateKbpsV1L3 is the MPEG1 Layer III bitrate table (index 0 means "free",
// 15 means "bad"); this demuxer only needs it for the StreamInfo.Bitrate
// estimate, not for decoding.
var bitrateKbpsV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var sampleRatesV1 = [4]int{44100, 48000, 32000, 0}

// Demuxer parses a bare MP3 elementary stream: optional ID3v2 header, then
// raw frame bytes.
type Demuxer struct {
	demux.Base

	dataStart  int64
	dataSize   int64
	readPos    int64
	streamInfo mediatype.StreamInfo
}

// New is a format.Factory constructor.
func New(src iosource.ByteSource) (any, error) {
	return &Demuxer{Base: demux.NewBase("mp3", src)}, nil
}

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	if _, err := d.Src.Seek(0, iosource.SeekStart); err != nil {
		return demux.NewError("mp3", demux.IoError, "seek to start", 0, 0, err)
	}

	var tags mediatype.Tags
	if ok, err := hasID3v2(d.Src); err != nil {
		return demux.NewError("mp3", demux.TruncatedHeader, "probe id3v2", 0, 0, err)
	} else if ok {
		t, err := id3v2.ParseReader(d.Src, id3v2.Options{Parse: true})
		if err != nil {
			return demux.NewError("mp3", demux.TruncatedHeader, "parse id3v2", 0, 0, err)
		}
		tags = mediatype.Tags{Title: t.Title(), Artist: t.Artist(), Album: t.Album(), Year: t.Year(), Genre: t.Genre()}
		t.Close()
	}
	dataStart := d.Src.Tell()

	sampleRate, channels, bitrateKbps, err := sniffFirstFrame(d.Src, dataStart)
	if err != nil {
		return demux.NewError("mp3", demux.BadMagic, "sniff frame header", 0, dataStart, err)
	}
	if _, err := d.Src.Seek(dataStart, iosource.SeekStart); err != nil {
		return demux.NewError("mp3", demux.IoError, "seek to data", 0, dataStart, err)
	}

	size, known := d.Src.Size()
	dataSize := int64(-1)
	var durationMs uint64
	if known {
		dataSize = size - dataStart
		if bitrateKbps > 0 {
			durationMs = uint64(dataSize) * 8 / uint64(bitrateKbps)
		}
	}

	d.dataStart = dataStart
	d.dataSize = dataSize
	d.streamInfo = mediatype.StreamInfo{
		StreamID:      0,
		CodecType:     "audio",
		CodecName:     "mp3",
		SampleRate:    uint32(sampleRate),
		Channels:      uint16(channels),
		BitsPerSample: 16,
		DurationMs:    durationMs,
		Bitrate:       uint32(bitrateKbps) * 1000,
		Tags:          tags,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)
	if tags != (mediatype.Tags{}) {
		d.SetTag(&tag.Static{
			TitleVal: tags.Title, ArtistVal: tags.Artist, AlbumVal: tags.Album,
			GenreVal: tags.Genre, YearVal: tags.Year,
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

// ReadChunk implements demux.Demuxer.
func (d *Demuxer) ReadChunk() (mediatype.MediaChunk, error) { return d.ReadChunkOf(0) }

// ReadChunkOf implements demux.Demuxer.
func (d *Demuxer) ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error) {
	if streamID != 0 {
		return mediatype.MediaChunk{}, demux.NewError("mp3", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
	}
	if d.dataSize >= 0 && d.readPos >= d.dataSize {
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}

	want := ChunkSlabBytes
	if d.dataSize >= 0 {
		if remaining := d.dataSize - d.readPos; int64(want) > remaining {
			want = int(remaining)
		}
	}
	buf, err := d.ReadBytes(want)
	if len(buf) == 0 {
		if err != nil && err != io.EOF {
			return mediatype.MediaChunk{}, demux.NewError("mp3", demux.IoError, "read_chunk", 0, d.dataStart+d.readPos, err)
		}
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}
	d.readPos += int64(len(buf))
	if d.streamInfo.Bitrate > 0 {
		d.SetPositionMs(uint64(d.readPos) * 8 * 1000 / uint64(d.streamInfo.Bitrate))
	}
	return mediatype.MediaChunk{StreamID: 0, Data: buf, TimestampSamples: mediatype.UnknownTimestamp}, nil
}

// SeekTo implements demux.Demuxer. Only CBR-accurate: seeks to the
// byte offset the average bitrate predicts for timestampMs, per the
// duration estimate computed in ParseContainer.
func (d *Demuxer) SeekTo(timestampMs uint64) error {
	if d.streamInfo.Bitrate == 0 {
		return demux.NewError("mp3", demux.InvalidState, "seek_to", 0, 0, fmt.Errorf("container not parsed"))
	}
	targetByte := int64(timestampMs) * int64(d.streamInfo.Bitrate) / 8 / 1000
	if d.dataSize >= 0 && targetByte > d.dataSize {
		targetByte = d.dataSize
	}
	if _, err := d.Src.Seek(d.dataStart+targetByte, iosource.SeekStart); err != nil {
		return demux.NewError("mp3", demux.IoError, "seek_to", 0, d.dataStart+targetByte, err)
	}
	d.readPos = targetByte
	d.SetEOF(false)
	d.SetPositionMs(timestampMs)
	return nil
}

func hasID3v2(src iosource.ByteSource) (bool, error) {
	hdr := make([]byte, 3)
	n, err := io.ReadFull(src, hdr)
	if _, serr := src.Seek(0, iosource.SeekStart); serr != nil {
		return false, serr
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		if n == 0 {
			return false, nil
		}
		return false, err
	}
	return string(hdr) == "ID3", nil
}

// sniffFirstFrame scans forward from dataStart for a valid MPEG audio frame
// sync word and decodes its header fields.
func sniffFirstFrame(src iosource.ByteSource, dataStart int64) (sampleRate, channels, bitrateKbps int, err error) {
	if _, err := src.Seek(dataStart, iosource.SeekStart); err != nil {
		return 0, 0, 0, err
	}
	buf := make([]byte, 4)
	for tries := 0; tries < 1<<16; tries++ {
		if src.EOF() { // ByteSource.Read returns (0, nil) past the end, never io.EOF
			return 0, 0, 0, fmt.Errorf("no MPEG frame sync found before end of stream")
		}
		if _, err := io.ReadFull(src, buf[:1]); err != nil {
			return 0, 0, 0, fmt.Errorf("no MPEG frame sync found: %w", err)
		}
		if buf[0] != 0xFF {
			continue
		}
		if _, err := io.ReadFull(src, buf[1:4]); err != nil {
			return 0, 0, 0, fmt.Errorf("truncated frame header: %w", err)
		}
		if buf[1]&0xE0 != 0xE0 {
			continue
		}
		versionIdx := (buf[1] >> 3) & 0x03
		layerIdx := (buf[1] >> 1) & 0x03
		if layerIdx != 0x01 { // Layer III only
			continue
		}
		if mpegVersions[versionIdx] != 1 { // MPEG1 only for this bitrate table
			continue
		}
		bitrateIdx := (buf[2] >> 4) & 0x0F
		sampleRateIdx := (buf[2] >> 2) & 0x03
		channelMode := (buf[3] >> 6) & 0x03
		rate := sampleRatesV1[sampleRateIdx]
		kbps := bitrateKbpsV1L3[bitrateIdx]
		if rate == 0 || kbps == 0 {
			continue
		}
		ch := 2
		if channelMode == 0x03 {
			ch = 1
		}
		return rate, ch, kbps, nil
	}
	return 0, 0, 0, fmt.Errorf("no MPEG frame sync found within scan window")
}
