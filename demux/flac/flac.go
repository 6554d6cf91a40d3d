// Package flac implements the native FLAC demuxer (spec §4.4.3): fLaC magic,
// STREAMINFO/SEEKTABLE/VORBIS_COMMENT/PICTURE metadata blocks, then frames.
//
// mewkiz/flac's frame-level decoder (frame.Parse) takes an *bits.Reader from
// its own internal/bits package, which external code cannot import. That
// makes the usual "demuxer emits opaque compressed chunks, codec decodes
// them independently" split impossible to build on top of this library.
// Instead this demuxer and codec/flac share one underlying *flac.Stream
// handle (see the Stream accessor below): the demuxer owns opening the
// stream and metadata, the codec calls stream.ParseNext() itself. MediaChunk
// values this demuxer emits therefore carry a position marker, not real
// compressed bytes; codec/flac ignores chunk.Data and decodes straight off
// the shared stream.
package flac

import (
	"fmt"
	"io"

	mflac "github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// chunkMarker is the placeholder MediaChunk.Data payload for FLAC chunks
// (spec §3 MediaChunk invariant: "data non-empty for a valid chunk"). The
// real frame bytes never leave the shared *flac.Stream.
var chunkMarker = []byte{0x01}

// Demuxer parses FLAC metadata blocks and shares its *flac.Stream with
// codec/flac for frame decoding.
type Demuxer struct {
	demux.Base

	stream     *mflac.Stream
	streamInfo mediatype.StreamInfo
}

// New is a format.Factory constructor.
func New(src iosource.ByteSource) (any, error) {
	return &Demuxer{Base: demux.NewBase("flac", src)}, nil
}

// Stream returns the shared underlying *flac.Stream, for codec/flac to
// decode frames from directly.
func (d *Demuxer) Stream() *mflac.Stream { return d.stream }

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	stream, err := mflac.NewSeek(d.Src)
	if err != nil {
		return demux.NewError("flac", demux.BadMagic, "parse_container", 0, 0, err)
	}
	d.stream = stream

	info := stream.Info
	totalSamples := info.NSamples
	var durationMs uint64
	if info.SampleRate > 0 {
		durationMs = totalSamples * 1000 / uint64(info.SampleRate)
	}

	privateData := encodeStreamInfoBlock(info)

	d.streamInfo = mediatype.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       "flac",
		SampleRate:      info.SampleRate,
		Channels:        uint16(info.NChannels),
		BitsPerSample:   uint16(info.BitsPerSample),
		DurationMs:      durationMs,
		DurationSamples: totalSamples,
		CodecPrivate:    privateData,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)

	if t := tagFromBlocks(stream.Blocks); t != nil {
		d.SetTag(t)
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

// ReadChunk implements demux.Demuxer. See the package doc: this marks a
// frame boundary rather than carrying frame bytes.
func (d *Demuxer) ReadChunk() (mediatype.MediaChunk, error) { return d.ReadChunkOf(0) }

// ReadChunkOf implements demux.Demuxer.
func (d *Demuxer) ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error) {
	if streamID != 0 {
		return mediatype.MediaChunk{}, demux.NewError("flac", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
	}
	if d.stream == nil {
		return mediatype.MediaChunk{}, demux.NewError("flac", demux.InvalidState, "read_chunk", 0, 0, fmt.Errorf("parse_container not called"))
	}
	if d.IsEOF() {
		return mediatype.MediaChunk{StreamID: 0}, nil
	}
	// The real per-frame sample position is only known once codec/flac has
	// actually parsed the frame off the shared stream (see SetSampleProgress);
	// this demuxer reports it as unknown per spec §3's MediaChunk sentinel.
	return mediatype.MediaChunk{
		StreamID:         0,
		Data:             chunkMarker,
		TimestampSamples: mediatype.UnknownTimestamp,
		IsKeyframe:       true,
	}, nil
}

// SetSampleProgress lets codec/flac report the true sample position after
// decoding a frame off the shared stream, since this demuxer cannot observe
// that position itself (spec's seek/position contract still applies).
func (d *Demuxer) SetSampleProgress(sample uint64) {
	if d.streamInfo.SampleRate > 0 {
		d.SetPositionMs(sample * 1000 / uint64(d.streamInfo.SampleRate))
	}
	if d.streamInfo.DurationSamples > 0 && sample >= d.streamInfo.DurationSamples {
		d.SetEOF(true)
	}
}

// ReportEOF lets codec/flac signal end-of-stream once ParseNext returns
// io.EOF.
func (d *Demuxer) ReportEOF() { d.SetEOF(true) }

// SeekTo implements demux.Demuxer.
func (d *Demuxer) SeekTo(timestampMs uint64) error {
	if d.stream == nil {
		return demux.NewError("flac", demux.InvalidState, "seek_to", 0, 0, fmt.Errorf("parse_container not called"))
	}
	targetSample := timestampMs * uint64(d.streamInfo.SampleRate) / 1000
	landed, err := d.stream.Seek(targetSample)
	if err != nil {
		if err == io.EOF {
			d.SetEOF(true)
			return nil
		}
		return demux.NewError("flac", demux.IoError, "seek_to", 0, 0, err)
	}
	d.SetEOF(false)
	d.SetSampleProgress(landed)
	return nil
}

func encodeStreamInfoBlock(info *meta.StreamInfo) []byte {
	// codec/flac does not need these bytes, since it receives the shared
	// *flac.Stream directly; CodecPrivate carries the 34-byte STREAMINFO
	// block body for callers that expect raw STREAMINFO bytes without
	// stream access.
	buf := make([]byte, 34)
	buf[0] = byte(info.BlockSizeMin >> 8)
	buf[1] = byte(info.BlockSizeMin)
	buf[2] = byte(info.BlockSizeMax >> 8)
	buf[3] = byte(info.BlockSizeMax)
	buf[4], buf[5], buf[6] = byte(info.FrameSizeMin>>16), byte(info.FrameSizeMin>>8), byte(info.FrameSizeMin)
	buf[7], buf[8], buf[9] = byte(info.FrameSizeMax>>16), byte(info.FrameSizeMax>>8), byte(info.FrameSizeMax)
	// sample rate (20 bits), channels-1 (3), bits per sample-1 (5), total samples (36)
	packed := (uint64(info.SampleRate)&0xFFFFF)<<44 | (uint64(info.NChannels-1)&0x7)<<41 |
		(uint64(info.BitsPerSample-1)&0x1F)<<36 | info.NSamples&(1<<36-1)
	for i := 0; i < 8; i++ {
		buf[10+i] = byte(packed >> (56 - 8*uint(i)))
	}
	copy(buf[18:], info.MD5sum[:])
	return buf
}

func tagFromBlocks(blocks []*meta.Block) tag.Tag {
	st := &tag.Static{}
	found := false
	for _, b := range blocks {
		switch body := b.Body.(type) {
		case *meta.VorbisComment:
			found = true
			for _, kv := range body.Tags {
				if len(kv) != 2 {
					continue
				}
				applyVorbisComment(st, kv[0], kv[1])
			}
		case *meta.Picture:
			found = true
			st.Pictures = append(st.Pictures, tag.Picture{
				MIMEType:     body.MIMEType,
				Description:  body.Desc,
				Data:         body.Data,
				IsFrontCover: body.Type == 3, // "Cover (front)" per FLAC PICTURE spec
			})
		}
	}
	if !found {
		return nil
	}
	return st
}

func applyVorbisComment(st *tag.Static, key, value string) {
	switch upperASCII(key) {
	case "TITLE":
		st.TitleVal = value
	case "ARTIST":
		st.ArtistVal = value
	case "ALBUM":
		st.AlbumVal = value
	case "GENRE":
		st.GenreVal = value
	case "DATE":
		st.YearVal = value
	case "TRACKNUMBER":
		st.TrackVal = value
	case "COMMENT", "DESCRIPTION":
		st.CommentVal = value
	}
}

func upperASCII(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
