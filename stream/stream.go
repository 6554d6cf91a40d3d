// Package stream implements DemuxedStream (spec §4.6): the bridge that
// binds exactly one Demuxer to exactly one Codec on a single elementary
// stream, turning MediaChunks into AudioFrames while handing position,
// duration, tag, and stats queries through to the two collaborators it
// owns.
package stream

import (
	"errors"
	"fmt"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// MaxStallFrames bounds how many consecutive empty, non-EOF decode results
// (header packets included, since they also decode to empty frames)
// DemuxedStream tolerates before
// declaring a stall (spec §4.6, "a demuxer or codec that never advances
// must not hang the caller forever").
const MaxStallFrames = 64

// ErrStalled is returned by NextFrame once MaxStallFrames consecutive
// corrupt-frame or zero-progress decodes have occurred without an EOF.
var ErrStalled = errors.New("stream: decode stalled, no forward progress")

// Stream binds one demux.Demuxer and one codec.Codec over a single
// stream_id (spec §4.6).
type Stream struct {
	demuxer  demux.Demuxer
	codec    codec.Codec
	streamID uint32
	info     mediatype.StreamInfo

	stallCount   int
	skipWarmup   int
	lastPosition uint64
}

// New binds demuxer and cod over streamID. cod.Initialise is called with
// the stream's StreamInfo before returning. Both collaborators must already
// have had ParseContainer (demuxer) called; cod must not yet be
// initialised.
func New(demuxer demux.Demuxer, cod codec.Codec, streamID uint32) (*Stream, error) {
	info, ok := demuxer.StreamInfo(streamID)
	if !ok {
		return nil, fmt.Errorf("stream: unknown stream id %d", streamID)
	}
	if !cod.CanDecode(info) {
		return nil, fmt.Errorf("stream: codec %q cannot decode stream codec %q", cod.CodecName(), info.CodecName)
	}
	if err := cod.Initialise(info); err != nil {
		return nil, fmt.Errorf("stream: initialise codec: %w", err)
	}
	return &Stream{demuxer: demuxer, codec: cod, streamID: streamID, info: info}, nil
}

// NextFrame reads the next MediaChunk from the bound stream and decodes it.
// A chunk that decodes to an empty frame (deferred-output header packet, or
// corrupt-frame recovery) is itself returned as an empty AudioFrame, not
// silently retried — callers loop until SampleCount > 0 or IsEOF, exactly
// like the demuxer/codec contracts already describe (spec §4.5.1, §4.6).
// StallDetected reports when that loop should give up.
func (s *Stream) NextFrame() (mediatype.AudioFrame, error) {
	if rc, ok := s.demuxer.(restartConsumer); ok && rc.ConsumeStreamRestart() {
		// Chained Ogg (spec §4.4.2): a new logical stream with fresh header
		// packets has begun on the same serial-recognised codec. Re-fetch
		// StreamInfo (demux/ogg updates sample rate/channels/CodecPrivate as
		// the new identification header is parsed) and re-run Initialise so
		// the codec rebuilds its decoder instead of feeding the new stream's
		// header packets to the old one.
		if info, ok := s.demuxer.StreamInfo(s.streamID); ok {
			s.info = info
		}
		if err := s.codec.Initialise(s.info); err != nil {
			return mediatype.AudioFrame{}, fmt.Errorf("stream: re-initialise codec after chained restart: %w", err)
		}
		s.stallCount = 0
	}

	chunk, err := s.demuxer.ReadChunkOf(s.streamID)
	if err != nil {
		return mediatype.AudioFrame{}, fmt.Errorf("stream: read chunk: %w", err)
	}
	if chunk.EOF() {
		frame, ferr := s.codec.Flush()
		if ferr != nil {
			return mediatype.AudioFrame{}, fmt.Errorf("stream: flush: %w", ferr)
		}
		return s.applyWarmup(frame), nil
	}

	frame, err := s.codec.Decode(chunk)
	if err != nil {
		return mediatype.AudioFrame{}, fmt.Errorf("stream: decode: %w", err)
	}
	if frame.Empty() {
		s.stallCount++
		if s.stallCount > MaxStallFrames {
			return mediatype.AudioFrame{}, ErrStalled
		}
	} else {
		s.stallCount = 0
	}
	return s.applyWarmup(frame), nil
}

// applyWarmup drops a frame's declared WarmupSamples prefix (spec §4.5.5,
// the post-seek-reset discard window some codecs need).
func (s *Stream) applyWarmup(frame mediatype.AudioFrame) mediatype.AudioFrame {
	if frame.WarmupSamples == 0 || frame.SampleCount == 0 {
		return frame
	}
	drop := frame.WarmupSamples
	if drop > frame.SampleCount {
		drop = frame.SampleCount
	}
	channels := int(frame.Channels)
	if channels == 0 {
		channels = 1
	}
	frame.Samples = frame.Samples[drop*channels:]
	frame.SampleCount -= drop
	frame.PTS += uint64(drop)
	frame.WarmupSamples = 0
	return frame
}

// StallDetected reports whether the most recent NextFrame calls have made
// no forward progress (spec §4.6, bounded corrupt-frame-loop detection).
func (s *Stream) StallDetected() bool { return s.stallCount > MaxStallFrames }

// SeekToMs seeks the underlying demuxer and resets codec decode state (spec
// §4.6: "seek resets both the demuxer position and the codec's internal
// decode state").
func (s *Stream) SeekToMs(timestampMs uint64) error {
	if err := s.demuxer.SeekTo(timestampMs); err != nil {
		return fmt.Errorf("stream: seek: %w", err)
	}
	s.codec.Reset()
	if setter, ok := s.codec.(sampleSetter); ok {
		targetSample := uint64(0)
		if s.info.SampleRate > 0 {
			targetSample = timestampMs * uint64(s.info.SampleRate) / 1000
		}
		setter.SetCurrentSample(targetSample)
	}
	s.stallCount = 0
	return nil
}

// sampleSetter is satisfied by every codec in this module, since all of them
// embed codec.Base; kept as an optional interface rather than a Codec
// method so a hand-written Codec isn't forced to expose decode-position
// mutation publicly.
type sampleSetter interface {
	SetCurrentSample(uint64)
}

// restartConsumer is satisfied by demuxers that can chain a second logical
// bitstream after the first (currently demux/ogg only); kept as an optional
// interface so demuxers with no such concept need not implement it.
type restartConsumer interface {
	ConsumeStreamRestart() bool
}

// DurationMs passes through to the bound demuxer.
func (s *Stream) DurationMs() uint64 { return s.demuxer.DurationMs() }

// PositionMs passes through to the bound demuxer.
func (s *Stream) PositionMs() uint64 { return s.demuxer.PositionMs() }

// IsEOF passes through to the bound demuxer.
func (s *Stream) IsEOF() bool { return s.demuxer.IsEOF() }

// Tag passes through to the bound demuxer.
func (s *Stream) Tag() tag.Tag { return s.demuxer.Tag() }

// StreamInfo returns the StreamInfo this Stream was bound with.
func (s *Stream) StreamInfo() mediatype.StreamInfo { return s.info }

// Stats returns the bound codec's decode statistics.
func (s *Stream) Stats() codec.Stats { return s.codec.Stats() }
