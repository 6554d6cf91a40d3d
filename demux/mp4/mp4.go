// Package mp4 implements the ISO-BMFF/MP4 demuxer (spec §4.4.5): moov/trak/
// mdia/minf/stbl sample-table walk (stsd/stsz/stsc/stco/co64/stts) via
// github.com/abema/go-mp4, the same box-structure-callback API grounding
// other_examples' faad2 M4A reader, generalised here to the container's
// several audio codec variants (AAC, ALAC, FLAC-in-MP4, linear PCM, MP3)
// instead of that example's AAC-only path. Fragmented movies (mvex/trex
// defaults plus moof/traf/tfhd/trun per fragment) are walked the same way
// and merged into the same flat sample table, so ReadChunkOf/SeekTo need no
// fragmented-specific branch at all.
package mp4

import (
	"bytes"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	mflac "github.com/mewkiz/flac"

	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

type sampleEntry struct {
	offset   int64
	size     uint32
	duration uint32 // in track timescale units
}

// Demuxer parses MP4/M4A/M4B containers. A single primary audio track is
// exposed as stream 0, the same single-stream convention demux/riff and
// demux/aiff follow.
type Demuxer struct {
	demux.Base

	timescale  uint32
	samples    []sampleEntry
	sampleIdx  int
	codecName  string
	codecPriv  []byte
	streamInfo mediatype.StreamInfo

	// flacStream is lazily built by Stream, for FLAC-in-MP4 tracks only (see
	// codec/flac.StreamProvider): codec/flac pulls frames from it directly
	// instead of from ReadChunkOf's chunk bytes, the same split demux/flac
	// uses for native FLAC.
	flacStream *mflac.Stream
}

// New is a format.Factory constructor.
func New(src iosource.ByteSource) (any, error) {
	return &Demuxer{Base: demux.NewBase("mp4", src)}, nil
}

// ParseContainer implements demux.Demuxer.
func (d *Demuxer) ParseContainer() error {
	info, err := parseMP4(d.Src)
	if err != nil {
		return demux.NewError("mp4", demux.TruncatedHeader, "parse box structure", 0, 0, err)
	}
	if info.codecName == "" {
		return demux.NewError("mp4", demux.UnsupportedVariant, "find audio track", 0, 0, fmt.Errorf("no supported audio track found"))
	}

	d.timescale = info.timescale
	d.samples = info.samples
	d.codecName = info.codecName
	d.codecPriv = info.codecPrivate

	var totalDuration uint64
	for _, s := range d.samples {
		totalDuration += uint64(s.duration)
	}
	var durationMs uint64
	if d.timescale > 0 {
		durationMs = totalDuration * 1000 / uint64(d.timescale)
	}

	d.streamInfo = mediatype.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       d.codecName,
		SampleRate:      info.sampleRate,
		Channels:        info.channels,
		BitsPerSample:   info.bitsPerSample,
		DurationMs:      durationMs,
		DurationSamples: totalDuration,
		CodecPrivate:    d.codecPriv,
		Tags:            info.tags,
	}
	d.SetDurationMs(durationMs)
	d.SetPrimaryStream(0)
	if info.tags != (mediatype.Tags{}) {
		d.SetTag(&tag.Static{
			TitleVal: info.tags.Title, ArtistVal: info.tags.Artist, AlbumVal: info.tags.Album,
			GenreVal: info.tags.Genre, YearVal: info.tags.Year, TrackVal: info.tags.Track,
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

// ReadChunkOf implements demux.Demuxer. Each MediaChunk carries exactly one
// MP4 sample (one AAC/ALAC access unit, one FLAC frame, or one PCM/MP3
// sample run), the natural coded-unit boundary the sample table already
// gives us.
func (d *Demuxer) ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error) {
	if streamID != 0 {
		return mediatype.MediaChunk{}, demux.NewError("mp4", demux.InvalidState, "read_chunk_of", streamID, 0, fmt.Errorf("unknown stream"))
	}
	if d.codecName == "flac" {
		// codec/flac decodes off the shared *flac.Stream (see Stream below)
		// rather than off chunk bytes; this just marks a frame boundary and
		// lets SetSampleProgress/ReportEOF (called from the codec) drive EOF.
		if d.IsEOF() {
			return mediatype.MediaChunk{StreamID: 0}, nil
		}
		return mediatype.MediaChunk{StreamID: 0, Data: flacChunkMarker, TimestampSamples: mediatype.UnknownTimestamp, IsKeyframe: true}, nil
	}
	if d.sampleIdx >= len(d.samples) {
		d.SetEOF(true)
		return mediatype.MediaChunk{StreamID: 0}, nil
	}

	s := d.samples[d.sampleIdx]
	if _, err := d.Src.Seek(s.offset, iosource.SeekStart); err != nil {
		return mediatype.MediaChunk{}, demux.NewError("mp4", demux.IoError, "seek to sample", 0, s.offset, err)
	}
	buf, err := d.ReadBytes(int(s.size))
	if len(buf) < int(s.size) {
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return mediatype.MediaChunk{}, demux.NewError("mp4", demux.IoError, "read sample", 0, s.offset, err)
		}
		return mediatype.MediaChunk{}, demux.NewError("mp4", demux.TruncatedHeader, "read sample", 0, s.offset, fmt.Errorf("short sample read"))
	}

	var tsUnits uint64
	for i := 0; i < d.sampleIdx; i++ {
		tsUnits += uint64(d.samples[i].duration)
	}
	tsSamples := mediatype.UnknownTimestamp
	if d.streamInfo.SampleRate > 0 && d.timescale > 0 {
		tsSamples = tsUnits * uint64(d.streamInfo.SampleRate) / uint64(d.timescale)
		d.SetPositionMs(tsUnits * 1000 / uint64(d.timescale))
	}

	d.sampleIdx++
	return mediatype.MediaChunk{
		StreamID:         0,
		Data:             buf,
		TimestampSamples: tsSamples,
		IsKeyframe:       true, // every audio-only MP4 sample is independently decodable for our codec set
	}, nil
}

// SeekTo implements demux.Demuxer.
func (d *Demuxer) SeekTo(timestampMs uint64) error {
	if d.timescale == 0 {
		return demux.NewError("mp4", demux.InvalidState, "seek_to", 0, 0, fmt.Errorf("container not parsed"))
	}
	targetUnits := timestampMs * uint64(d.timescale) / 1000

	var accumulated uint64
	target := len(d.samples)
	for i, s := range d.samples {
		if accumulated+uint64(s.duration) > targetUnits {
			target = i
			break
		}
		accumulated += uint64(s.duration)
	}
	d.sampleIdx = target
	d.SetEOF(target >= len(d.samples))
	d.SetPositionMs(timestampMs)

	if d.codecName == "flac" {
		// mewkiz/flac's Stream has no notion of our MP4 sample index, so a
		// seek rebuilds the synthetic stream starting at the target sample
		// rather than trying to reposition the old one.
		stream, err := d.newFlacStream(target)
		if err != nil {
			return demux.NewError("mp4", demux.IoError, "seek_to", 0, 0, err)
		}
		d.flacStream = stream
	}
	return nil
}

// flacChunkMarker is ReadChunkOf's placeholder payload for FLAC-in-MP4
// chunks; the real frame bytes never leave the synthetic shared stream (see
// demux/flac's identical convention for native FLAC).
var flacChunkMarker = []byte{0x01}

// Stream implements codec/flac.StreamProvider for FLAC-in-MP4 tracks: it
// lazily assembles a single continuous *flac.Stream out of a synthetic
// STREAMINFO header (built from this track's sample-entry fields, since MP4
// never carries a FLAC metadata block) followed by this track's samples
// concatenated in file order — each MP4 "fLaC" sample is already one
// complete, self-contained FLAC frame, so the concatenation is a valid FLAC
// bitstream from codec/flac's point of view.
func (d *Demuxer) Stream() *mflac.Stream {
	if d.flacStream == nil {
		stream, err := d.newFlacStream(d.sampleIdx)
		if err != nil {
			return nil
		}
		d.flacStream = stream
	}
	return d.flacStream
}

// ReportEOF implements codec/flac.StreamProvider.
func (d *Demuxer) ReportEOF() { d.SetEOF(true) }

// SetSampleProgress implements codec/flac.StreamProvider: codec/flac reports
// the true sample position after decoding a frame off the shared stream,
// since ReadChunkOf's marker chunks carry no timestamp of their own.
func (d *Demuxer) SetSampleProgress(sample uint64) {
	if d.streamInfo.SampleRate > 0 {
		d.SetPositionMs(sample * 1000 / uint64(d.streamInfo.SampleRate))
	}
	if d.streamInfo.DurationSamples > 0 && sample >= d.streamInfo.DurationSamples {
		d.SetEOF(true)
	}
}

// newFlacStream builds the synthetic FLAC stream described on Stream,
// starting at MP4 sample index startIdx.
func (d *Demuxer) newFlacStream(startIdx int) (*mflac.Stream, error) {
	header := buildFlacStreamInfoHeader(d.streamInfo.SampleRate, d.streamInfo.Channels, d.streamInfo.BitsPerSample, d.streamInfo.DurationSamples)
	body := &mp4SampleReader{src: d.Src, samples: d.samples, idx: startIdx}
	return mflac.New(io.MultiReader(bytes.NewReader(header), body))
}

// mp4SampleReader serves a demuxer's sample table as one continuous
// io.Reader, seeking to and reading each sample's byte range in turn; it is
// forward-only, which is all mflac.New's sequential frame parser needs.
type mp4SampleReader struct {
	src     iosource.ByteSource
	samples []sampleEntry
	idx     int
	cur     []byte
}

func (r *mp4SampleReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.idx >= len(r.samples) {
			return 0, io.EOF
		}
		s := r.samples[r.idx]
		r.idx++
		buf := make([]byte, s.size)
		if _, err := r.src.Seek(s.offset, iosource.SeekStart); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(r.src, buf); err != nil {
			return 0, err
		}
		r.cur = buf
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// buildFlacStreamInfoHeader packs a minimal but valid "fLaC" signature plus
// a single STREAMINFO metadata block (34 bytes, spec's native-FLAC layout)
// from an MP4 track's sample-entry fields. Frame size bounds and the audio
// MD5 are left zeroed: mewkiz/flac only uses them for pre-decode validation
// hints, not for the frame parse itself.
func buildFlacStreamInfoHeader(sampleRate uint32, channels uint16, bitsPerSample uint16, totalSamples uint64) []byte {
	if channels == 0 {
		channels = 2
	}
	if bitsPerSample == 0 {
		bitsPerSample = 16
	}
	p := &bitPacker{}
	p.writeBits(4096, 16) // min block size: a placeholder hint, real size is per-frame
	p.writeBits(4096, 16) // max block size
	p.writeBits(0, 24)    // min frame size: unknown
	p.writeBits(0, 24)    // max frame size: unknown
	p.writeBits(uint64(sampleRate), 20)
	p.writeBits(uint64(channels-1), 3)
	p.writeBits(uint64(bitsPerSample-1), 5)
	p.writeBits(totalSamples, 36)
	streamInfo := append(p.buf, make([]byte, 16)...) // zeroed MD5

	header := make([]byte, 0, 8+len(streamInfo))
	header = append(header, 'f', 'L', 'a', 'C')
	header = append(header, 0x80, 0x00, 0x00, 0x22) // last-block flag + STREAMINFO type, length 34
	header = append(header, streamInfo...)
	return header
}

// bitPacker accumulates big-endian bitfields into a byte slice, the way a
// FLAC STREAMINFO block's fields are packed (most fields aren't byte
// aligned).
type bitPacker struct {
	buf    []byte
	bitPos uint
}

func (p *bitPacker) writeBits(value uint64, nbits int) {
	for i := nbits - 1; i >= 0; i-- {
		byteIdx := p.bitPos / 8
		for int(byteIdx) >= len(p.buf) {
			p.buf = append(p.buf, 0)
		}
		if (value>>uint(i))&1 == 1 {
			p.buf[byteIdx] |= 1 << (7 - (p.bitPos % 8))
		}
		p.bitPos++
	}
}

// --- box-structure parsing, grounded on other_examples' faad2 M4A parser ---

type parsedInfo struct {
	sampleRate    uint32
	channels      uint16
	bitsPerSample uint16
	timescale     uint32
	codecName     string
	codecPrivate  []byte
	samples       []sampleEntry
	tags          mediatype.Tags
}

func parseMP4(r io.ReadSeeker) (*parsedInfo, error) {
	info := &parsedInfo{}

	var sampleSizes []uint32
	var chunkOffsets []uint64
	var stscEntries []gomp4.StscEntry
	var sttsEntries []gomp4.SttsEntry
	var audioTrackFound bool
	var trackTimescale uint32

	// Fragmented-track state (spec §4.4.5.4): moof/traf/trun samples are
	// accumulated separately from the moov/stbl sample table above and
	// appended to it afterwards, since a fragmented file may carry either
	// no progressive samples at all or a short progressive prefix followed
	// by fragments.
	var fragSamples []sampleEntry
	var curTrackID, audioTrackID uint32
	var trexDefaultDuration, trexDefaultSize uint32
	var currentMoofOffset int64
	var tfhdTrackID uint32
	var tfhdHasBaseOffset bool
	var tfhdBaseOffset uint64
	var tfhdDefaultDuration, tfhdDefaultSize uint32
	var trunRunOffset int64   // continuation point for a trun lacking data-offset-present
	var trunOffsetValid bool  // true once a trun in the current traf has set trunRunOffset

	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (any, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			return h.Expand()

		case gomp4.BoxTypeTrak():
			if !audioTrackFound {
				// Only reset if we haven't already located our audio track;
				// once found, stick with its sample table (single-stream
				// convention) rather than overwriting it from a later track.
				trackTimescale = 0
			}
			return h.Expand()

		case gomp4.BoxTypeMdhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if mdhd, ok := box.(*gomp4.Mdhd); ok {
				trackTimescale = mdhd.Timescale
			}

		case gomp4.BoxTypeTkhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if tkhd, ok := box.(*gomp4.Tkhd); ok {
				curTrackID = tkhd.TrackID
			}

		case gomp4.BoxTypeHdlr():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if hdlr, ok := box.(*gomp4.Hdlr); ok && !audioTrackFound {
				if hdlr.HandlerType == [4]byte{'s', 'o', 'u', 'n'} {
					audioTrackFound = true
					audioTrackID = curTrackID
					info.timescale = trackTimescale
				}
			}

		case gomp4.BoxTypeMvex():
			return h.Expand()

		case gomp4.BoxTypeTrex():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, nil
			}
			if trex, ok := box.(*gomp4.Trex); ok && (audioTrackID == 0 || trex.TrackID == audioTrackID) {
				trexDefaultDuration = trex.DefaultSampleDuration
				trexDefaultSize = trex.DefaultSampleSize
			}

		case gomp4.BoxTypeMoof():
			currentMoofOffset = int64(h.BoxInfo.Offset)
			tfhdTrackID = 0
			tfhdHasBaseOffset = false
			tfhdDefaultDuration = 0
			tfhdDefaultSize = 0
			return h.Expand()

		case gomp4.BoxTypeTraf():
			trunOffsetValid = false
			return h.Expand()

		case gomp4.BoxTypeTfhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				// A corrupt tfhd drops only this fragment's samples rather
				// than aborting the whole moof/mdat walk: a later fragment's
				// trun is still reachable (the dropped-fragment hole §8 S5
				// requires the demuxer to tolerate).
				tfhdTrackID = 0
				return nil, nil
			}
			tfhd, ok := box.(*gomp4.Tfhd)
			if !ok {
				return nil, nil
			}
			tfhdTrackID = tfhd.TrackID
			flags := flagBits(tfhd.Flags)
			tfhdHasBaseOffset = flags&0x000001 != 0
			if tfhdHasBaseOffset {
				tfhdBaseOffset = tfhd.BaseDataOffset
			}
			if flags&0x000008 != 0 {
				tfhdDefaultDuration = tfhd.DefaultSampleDuration
			}
			if flags&0x000010 != 0 {
				tfhdDefaultSize = tfhd.DefaultSampleSize
			}

		case gomp4.BoxTypeTrun():
			if audioTrackID != 0 && tfhdTrackID != audioTrackID {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, nil // same hole tolerance as tfhd above
			}
			trun, ok := box.(*gomp4.Trun)
			if !ok {
				return nil, nil
			}

			runFlags := flagBits(trun.Flags)
			var offset int64
			if runFlags&0x000001 != 0 {
				base := currentMoofOffset
				if tfhdHasBaseOffset {
					base = int64(tfhdBaseOffset)
				}
				offset = base + int64(trun.DataOffset)
			} else if trunOffsetValid {
				// No data-offset-present flag: this run's samples immediately
				// follow the previous trun's data in the same traf (ISOBMFF
				// §8.8.8.1), not the traf's base offset again.
				offset = trunRunOffset
			} else {
				base := currentMoofOffset
				if tfhdHasBaseOffset {
					base = int64(tfhdBaseOffset)
				}
				offset = base
			}
			defaultDuration := tfhdDefaultDuration
			if defaultDuration == 0 {
				defaultDuration = trexDefaultDuration
			}
			defaultSize := tfhdDefaultSize
			if defaultSize == 0 {
				defaultSize = trexDefaultSize
			}
			for _, e := range trun.Entries {
				size := e.SampleSize
				if runFlags&0x000200 == 0 {
					size = defaultSize
				}
				duration := e.SampleDuration
				if runFlags&0x000100 == 0 {
					duration = defaultDuration
				}
				if size == 0 {
					continue // an unsized sample we can't place; skip rather than abort
				}
				fragSamples = append(fragSamples, sampleEntry{offset: offset, size: size, duration: duration})
				offset += int64(size)
			}
			trunRunOffset = offset
			trunOffsetValid = true

		case gomp4.BoxTypeMp4a():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if entry, ok := box.(*gomp4.AudioSampleEntry); ok {
				info.sampleRate = entry.SampleRate / 65536
				info.channels = uint16(entry.ChannelCount)
				info.bitsPerSample = uint16(entry.SampleSize)
				info.codecName = "aac" // refined to "alac" below if an alac box child is found instead
			}
			return h.Expand()

		case gomp4.BoxType{'a', 'l', 'a', 'c'}:
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if entry, ok := box.(*gomp4.AudioSampleEntry); ok {
				info.sampleRate = entry.SampleRate / 65536
				info.channels = uint16(entry.ChannelCount)
				info.bitsPerSample = uint16(entry.SampleSize)
			}
			info.codecName = "alac"
			return h.Expand()

		case gomp4.BoxType{'f', 'L', 'a', 'C'}:
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if entry, ok := box.(*gomp4.AudioSampleEntry); ok {
				info.sampleRate = entry.SampleRate / 65536
				info.channels = uint16(entry.ChannelCount)
				info.bitsPerSample = uint16(entry.SampleSize)
			}
			info.codecName = "flac"
			return h.Expand()

		case gomp4.BoxType{'.', 'm', 'p', '3'}:
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if entry, ok := box.(*gomp4.AudioSampleEntry); ok {
				info.sampleRate = entry.SampleRate / 65536
				info.channels = uint16(entry.ChannelCount)
			}
			info.codecName = "mp3"

		case gomp4.BoxType{'i', 'p', 'c', 'm'}, gomp4.BoxType{'f', 'p', 'c', 'm'}, gomp4.BoxType{'N', 'O', 'N', 'E'},
			gomp4.BoxType{'t', 'w', 'o', 's'}, gomp4.BoxType{'s', 'o', 'w', 't'},
			gomp4.BoxType{'u', 'l', 'a', 'w'}, gomp4.BoxType{'a', 'l', 'a', 'w'}:
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if entry, ok := box.(*gomp4.AudioSampleEntry); ok {
				info.sampleRate = entry.SampleRate / 65536
				info.channels = uint16(entry.ChannelCount)
				info.bitsPerSample = uint16(entry.SampleSize)
			}
			info.codecName = pcmCodecNameFor(h.BoxInfo.Type, uint16(info.bitsPerSample))

		case gomp4.BoxTypeEsds():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if esds, ok := box.(*gomp4.Esds); ok {
				for _, desc := range esds.Descriptors {
					if desc.Tag == 0x05 && len(desc.Data) > 0 {
						info.codecPrivate = desc.Data
						break
					}
				}
			}

		case gomp4.BoxTypeStsz():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stsz, ok := box.(*gomp4.Stsz); ok {
				if stsz.SampleSize != 0 {
					for i := uint32(0); i < stsz.SampleCount; i++ {
						sampleSizes = append(sampleSizes, stsz.SampleSize)
					}
				} else {
					sampleSizes = stsz.EntrySize
				}
			}

		case gomp4.BoxTypeStco():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stco, ok := box.(*gomp4.Stco); ok {
				for _, off := range stco.ChunkOffset {
					chunkOffsets = append(chunkOffsets, uint64(off))
				}
			}

		case gomp4.BoxTypeCo64():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if co64, ok := box.(*gomp4.Co64); ok {
				chunkOffsets = co64.ChunkOffset
			}

		case gomp4.BoxTypeStsc():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stsc, ok := box.(*gomp4.Stsc); ok {
				stscEntries = stsc.Entries
			}

		case gomp4.BoxTypeStts():
			if !audioTrackFound {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stts, ok := box.(*gomp4.Stts); ok {
				sttsEntries = stts.Entries
			}

		case gomp4.BoxTypeUdta(), gomp4.BoxTypeMeta(), gomp4.BoxTypeIlst():
			return h.Expand()

		case gomp4.BoxType{'\xa9', 'n', 'a', 'm'}, gomp4.BoxType{'\xa9', 'A', 'R', 'T'},
			gomp4.BoxType{'\xa9', 'a', 'l', 'b'}, gomp4.BoxType{'\xa9', 'd', 'a', 'y'},
			gomp4.BoxType{'\xa9', 'g', 'e', 'n'}, gomp4.BoxType{'t', 'r', 'k', 'n'}:
			return h.Expand()

		case gomp4.BoxTypeData():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			data, ok := box.(*gomp4.Data)
			if !ok || len(h.Path) < 2 {
				return nil, nil
			}
			switch h.Path[len(h.Path)-2] {
			case gomp4.BoxType{'\xa9', 'n', 'a', 'm'}:
				info.tags.Title = string(data.Data)
			case gomp4.BoxType{'\xa9', 'A', 'R', 'T'}:
				info.tags.Artist = string(data.Data)
			case gomp4.BoxType{'\xa9', 'a', 'l', 'b'}:
				info.tags.Album = string(data.Data)
			case gomp4.BoxType{'\xa9', 'd', 'a', 'y'}:
				info.tags.Year = string(data.Data)
			case gomp4.BoxType{'\xa9', 'g', 'e', 'n'}:
				info.tags.Genre = string(data.Data)
			case gomp4.BoxType{'t', 'r', 'k', 'n'}:
				if len(data.Data) >= 4 {
					info.tags.Track = fmt.Sprintf("%d", int(data.Data[2])<<8|int(data.Data[3]))
				}
			}
		}
		return nil, nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}

	info.samples = buildSampleTable(sampleSizes, chunkOffsets, stscEntries, sttsEntries)
	info.samples = append(info.samples, fragSamples...)
	return info, nil
}

// flagBits reassembles a FullBox's 3-byte flags field into the big-endian
// uint32 ISO-BMFF box flags that tfhd/trun's optional-field presence bits
// are defined against.
func flagBits(f [3]byte) uint32 {
	return uint32(f[0])<<16 | uint32(f[1])<<8 | uint32(f[2])
}

// buildSampleTable reconstructs per-sample byte offset/size/duration from
// the stsc/stco(/co64)/stsz/stts tables (spec §4.4.5's sample-table
// algorithm), following the same chunk-walk other_examples' faad2 M4A
// reader uses.
func buildSampleTable(sampleSizes []uint32, chunkOffsets []uint64, stscEntries []gomp4.StscEntry, sttsEntries []gomp4.SttsEntry) []sampleEntry {
	if len(sampleSizes) == 0 || len(chunkOffsets) == 0 {
		return nil
	}

	durations := make([]uint32, 0, len(sampleSizes))
	for _, e := range sttsEntries {
		for i := uint32(0); i < e.SampleCount; i++ {
			durations = append(durations, e.SampleDelta)
		}
	}

	samples := make([]sampleEntry, 0, len(sampleSizes))
	sampleIdx := 0
	for chunkIdx, offset := range chunkOffsets {
		samplesInChunk := uint32(1)
		for i := len(stscEntries) - 1; i >= 0; i-- {
			if uint32(chunkIdx+1) >= stscEntries[i].FirstChunk {
				samplesInChunk = stscEntries[i].SamplesPerChunk
				break
			}
		}
		off := int64(offset)
		for i := uint32(0); i < samplesInChunk && sampleIdx < len(sampleSizes); i++ {
			size := sampleSizes[sampleIdx]
			duration := uint32(1024)
			if sampleIdx < len(durations) {
				duration = durations[sampleIdx]
			}
			samples = append(samples, sampleEntry{offset: off, size: size, duration: duration})
			off += int64(size)
			sampleIdx++
		}
	}
	return samples
}

func pcmCodecNameFor(boxType gomp4.BoxType, bitsPerSample uint16) string {
	switch boxType {
	case gomp4.BoxType{'u', 'l', 'a', 'w'}:
		return "ulaw"
	case gomp4.BoxType{'a', 'l', 'a', 'w'}:
		return "alaw"
	case gomp4.BoxType{'t', 'w', 'o', 's'}:
		if bitsPerSample == 24 {
			return "pcm_s24be"
		}
		if bitsPerSample == 32 {
			return "pcm_s32be"
		}
		return "pcm_s16be"
	case gomp4.BoxType{'s', 'o', 'w', 't'}, gomp4.BoxType{'N', 'O', 'N', 'E'}:
		if bitsPerSample == 24 {
			return "pcm_s24le"
		}
		if bitsPerSample == 32 {
			return "pcm_s32le"
		}
		return "pcm_s16le"
	case gomp4.BoxType{'f', 'p', 'c', 'm'}:
		if bitsPerSample == 64 {
			return "pcm_f64le"
		}
		return "pcm_f32le"
	default: // ipcm: integer PCM, treated as signed little-endian
		if bitsPerSample == 24 {
			return "pcm_s24le"
		}
		if bitsPerSample == 32 {
			return "pcm_s32le"
		}
		return "pcm_s16le"
	}
}
