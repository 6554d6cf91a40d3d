// Package codec defines the Codec trait contract (spec §4.5.1) and a base
// helper embedded by every concrete codec: consecutive-failure tracking and
// decode statistics.
package codec

import (
	"sync"

	"github.com/segin/psymp3-sub001/internal/logging"
	"github.com/segin/psymp3-sub001/mediatype"
)

// MaxConsecutiveFailures is the threshold above which repeated corrupt-frame
// decodes escalate to a hard error on the next call (spec §4.5.1).
const MaxConsecutiveFailures = 16

// Codec is the capability trait every format-specific decoder implements.
type Codec interface {
	Initialise(info mediatype.StreamInfo) error
	CanDecode(info mediatype.StreamInfo) bool
	CodecName() string
	Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error)
	Flush() (mediatype.AudioFrame, error)
	Reset()
	SupportsSeekReset() bool
	CurrentSample() uint64
	Stats() Stats
}

// Stats is the CodecStats snapshot from spec §4.5.1.
type Stats struct {
	FramesDecoded       uint64
	FramesFailed        uint64
	ConsecutiveFailures int
	CurrentSample       uint64
}

// Base holds the shared failure-tracking and sample-position state described
// in spec §4.5.1's decode-corruption policy: "decode on a corrupt frame
// returns an empty AudioFrame after recording the error in stats;
// consecutive failures above a threshold escalate to a hard error."
type Base struct {
	Name string

	mu                  sync.Mutex
	framesDecoded       uint64
	framesFailed        uint64
	consecutiveFailures int
	currentSample       uint64

	logger logging.Logger
}

// NewBase constructs a Base named for error context (e.g. "vorbis", "opus").
func NewBase(name string) Base {
	return Base{Name: name, logger: logging.Null}
}

// SetLogger installs the host logging sink (spec §6, "Host logger"). A nil
// logger is ignored rather than clearing back to logging.Null.
func (b *Base) SetLogger(l logging.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Log reports a diagnostic through the installed logger, categorised by
// this codec's Name.
func (b *Base) Log(level logging.Level, format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Log(level, b.Name, format, args...)
}

// RecordSuccess records a successfully decoded frame ending at sample.
func (b *Base) RecordSuccess(sample uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framesDecoded++
	b.consecutiveFailures = 0
	b.currentSample = sample
}

// RecordFailure records a corrupt-frame recovery and reports whether the
// consecutive-failure threshold has now been exceeded.
func (b *Base) RecordFailure() (exceeded bool) {
	b.mu.Lock()
	b.framesFailed++
	b.consecutiveFailures++
	exceeded = b.consecutiveFailures > MaxConsecutiveFailures
	consecutive := b.consecutiveFailures
	b.mu.Unlock()

	if exceeded {
		b.Log(logging.Warn, "consecutive decode failures exceeded threshold (%d)", consecutive)
	} else {
		b.Log(logging.Debug, "corrupt frame recovered, %d consecutive", consecutive)
	}
	return exceeded
}

// ResetStats clears failure tracking (called from Reset()); CurrentSample is
// left untouched unless the caller also calls SetCurrentSample, since a
// discontinuous seek explicitly sets a new sample position right after.
func (b *Base) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// SetCurrentSample updates the decode position, e.g. after a seek reset.
func (b *Base) SetCurrentSample(sample uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentSample = sample
}

// CurrentSample implements Codec.CurrentSample.
func (b *Base) CurrentSample() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentSample
}

// Stats implements Codec.Stats.
func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		FramesDecoded:       b.framesDecoded,
		FramesFailed:        b.framesFailed,
		ConsecutiveFailures: b.consecutiveFailures,
		CurrentSample:       b.currentSample,
	}
}
