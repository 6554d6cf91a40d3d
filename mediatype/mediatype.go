// Package mediatype holds the data types shared across the demux, codec,
// and stream packages: StreamInfo, MediaChunk, and AudioFrame from spec §3.
// They live in their own package (rather than inside demux or codec) so
// that neither of those packages has to import the other.
package mediatype

import "math"

// UnknownTimestamp is the sentinel MediaChunk.TimestampSamples carries when
// a demuxer cannot compute a per-chunk timestamp (spec §3, MediaChunk).
const UnknownTimestamp = math.MaxUint64

// StreamInfo describes one elementary stream inside a container. It is
// produced by Demuxer.ParseContainer; demux/ogg rebuilds it when a chained
// logical stream begins, and other demuxers leave it unchanged.
type StreamInfo struct {
	StreamID        uint32
	CodecType       string // "audio", "video", "subtitle"
	CodecName       string // lowercase token, e.g. "vorbis", "flac", "aac"
	SampleRate      uint32
	Channels        uint16
	BitsPerSample   uint16
	DurationMs      uint64
	DurationSamples uint64
	Bitrate         uint32 // 0 if unknown
	CodecPrivate    []byte // ASC, STREAMINFO, magic cookie, Vorbis setup headers, ...
	Tags            Tags
}

// Tags is the set of metadata fields a demuxer can populate on a StreamInfo.
type Tags struct {
	Artist  string
	Title   string
	Album   string
	Genre   string
	Year    string
	Track   string
	Comment string
}

// MediaChunk is one coded unit handed from a Demuxer to a Codec.
type MediaChunk struct {
	StreamID         uint32
	Data             []byte
	TimestampSamples uint64 // UnknownTimestamp if the demuxer cannot compute one
	IsKeyframe       bool
	HasEndTimestamp  bool
	EndTimestamp     uint64
}

// EOF reports whether this chunk is the empty-chunk EOF-for-this-read
// signal described in spec §3 (MediaChunk invariants).
func (c MediaChunk) EOF() bool { return len(c.Data) == 0 }

// AudioFrame is decoded, interleaved signed 16-bit PCM.
type AudioFrame struct {
	Samples       []int16
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	SampleCount   int    // per channel
	PTS           uint64 // presentation timestamp, in samples
	// WarmupSamples is non-zero on the first frame a codec emits after a
	// discontinuous seek reset when the codec's decode state needs a short
	// prefix discarded (spec §4.5.5, HE-AAC SBR-style warmup). DemuxedStream
	// is responsible for skipping it.
	WarmupSamples int
}

// Empty reports whether the frame carries no samples (a deferred-output
// header packet, or a corrupt-frame recovery result).
func (f AudioFrame) Empty() bool { return f.SampleCount == 0 }
