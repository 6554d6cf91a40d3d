// Package demux defines the Demuxer trait contract (spec §4.4.1) and a base
// helper embedded by every concrete demuxer: error channel, position/
// duration/EOF state under a small mutex, and binary I/O primitives over an
// iosource.ByteSource.
package demux

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/segin/psymp3-sub001/internal/logging"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/tag"
)

// Demuxer is the capability trait every container parser implements
// (spec §4.4.1). ParseContainer must be called, and must succeed, before any
// other method is meaningful.
type Demuxer interface {
	ParseContainer() error
	Streams() []mediatype.StreamInfo
	StreamInfo(streamID uint32) (mediatype.StreamInfo, bool)
	ReadChunk() (mediatype.MediaChunk, error)
	ReadChunkOf(streamID uint32) (mediatype.MediaChunk, error)
	SeekTo(timestampMs uint64) error
	DurationMs() uint64
	PositionMs() uint64
	IsEOF() bool
	Tag() tag.Tag
}

// Base holds the shared state and I/O helpers described in spec §4.4.1's
// "default base". Concrete demuxers embed it the way the teacher's
// baseDecoder is embedded by wavDecoder/flacDecoder (see
// olivier-w-climp/internal/player/decoder.go).
type Base struct {
	Name string
	Src  iosource.ByteSource

	// ioMu serialises I/O against Src so ReadChunk never holds a demuxer-wide
	// lock while blocked on a network read (spec §5, "Suspension points").
	ioMu sync.Mutex

	stateMu    sync.RWMutex
	positionMs uint64
	durationMs uint64
	eof        bool

	errMu    sync.Mutex
	lastErr  error
	hasError bool

	primaryStreamID uint32
	tagVal          tag.Tag

	logger logging.Logger
}

// NewBase constructs a Base bound to src, named for error context (e.g.
// "ogg", "flac-native").
func NewBase(name string, src iosource.ByteSource) Base {
	return Base{Name: name, Src: src, tagVal: tag.Null, logger: logging.Null}
}

// SetLogger installs the host logging sink (spec §6, "Host logger"). A nil
// logger is ignored rather than clearing back to logging.Null.
func (b *Base) SetLogger(l logging.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Log reports a diagnostic through the installed logger, categorised by
// this demuxer's Name (spec §7: recoverable skips at Debug, fatal at Warn).
func (b *Base) Log(level logging.Level, format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Log(level, b.Name, format, args...)
}

// --- error channel ---

// SetError records err as the demuxer's last error (spec §4.4.1,
// "last_error, has_error, clear_error").
func (b *Base) SetError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.lastErr = err
	b.hasError = err != nil
}

// LastError returns the most recently recorded error, or nil.
func (b *Base) LastError() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr
}

// HasError reports whether an error is currently recorded.
func (b *Base) HasError() bool {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.hasError
}

// ClearError clears the recorded error.
func (b *Base) ClearError() {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.lastErr = nil
	b.hasError = false
}

// --- position/duration/EOF state ---

// SetDurationMs records the container's total duration, computed once during
// ParseContainer.
func (b *Base) SetDurationMs(ms uint64) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.durationMs = ms
}

// DurationMs implements Demuxer.DurationMs.
func (b *Base) DurationMs() uint64 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.durationMs
}

// SetPositionMs updates the current read position.
func (b *Base) SetPositionMs(ms uint64) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.positionMs = ms
}

// PositionMs implements Demuxer.PositionMs.
func (b *Base) PositionMs() uint64 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.positionMs
}

// SetEOF marks or clears the end-of-stream flag.
func (b *Base) SetEOF(eof bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.eof = eof
}

// IsEOF implements Demuxer.IsEOF.
func (b *Base) IsEOF() bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.eof
}

// SetPrimaryStream records the stream_id ReadChunk (no id argument) reads
// from.
func (b *Base) SetPrimaryStream(streamID uint32) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.primaryStreamID = streamID
}

// PrimaryStream returns the stream_id ReadChunk reads from.
func (b *Base) PrimaryStream() uint32 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.primaryStreamID
}

// SetTag records the Tag snapshot surfaced by Demuxer.Tag.
func (b *Base) SetTag(t tag.Tag) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.tagVal = t
}

// Tag implements Demuxer.Tag.
func (b *Base) Tag() tag.Tag {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.tagVal
}

// --- I/O helpers (spec §4.4.1: "read_u8/u16/u24/u32/u64 in BE or LE,
// skip_bytes, read_null_terminated_string, read_length_prefixed_string") ---

// IOLock acquires the dedicated I/O mutex. Concrete demuxers hold it only
// around actual Src calls, never across decode-side work (spec §5).
func (b *Base) IOLock()   { b.ioMu.Lock() }
func (b *Base) IOUnlock() { b.ioMu.Unlock() }

func (b *Base) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := b.Src.Read(buf[read:])
		read += m
		if m == 0 && err == nil {
			break
		}
		if err != nil {
			if read == n {
				return buf, nil
			}
			return buf[:read], err
		}
	}
	if read < n {
		return buf[:read], io.ErrUnexpectedEOF
	}
	return buf, nil
}

// ReadU8 reads a single byte.
func (b *Base) ReadU8() (uint8, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadU16BE reads a big-endian uint16.
func (b *Base) ReadU16BE() (uint16, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadU16LE reads a little-endian uint16.
func (b *Base) ReadU16LE() (uint16, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadU24BE reads a big-endian 24-bit unsigned integer (common in box/chunk
// size fields).
func (b *Base) ReadU24BE() (uint32, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(3)
	if err != nil {
		return 0, err
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]), nil
}

// ReadU24LE reads a little-endian 24-bit unsigned integer.
func (b *Base) ReadU24LE() (uint32, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(3)
	if err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16, nil
}

// ReadU32BE reads a big-endian uint32.
func (b *Base) ReadU32BE() (uint32, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ReadU32LE reads a little-endian uint32.
func (b *Base) ReadU32LE() (uint32, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64BE reads a big-endian uint64.
func (b *Base) ReadU64BE() (uint64, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// ReadU64LE reads a little-endian uint64.
func (b *Base) ReadU64LE() (uint64, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf, err := b.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// SkipBytes advances the source by n bytes via Seek(Current).
func (b *Base) SkipBytes(n int64) error {
	b.IOLock()
	defer b.IOUnlock()
	_, err := b.Src.Seek(n, iosource.SeekCurrent)
	return err
}

// ReadBytes reads exactly n bytes.
func (b *Base) ReadBytes(n int) ([]byte, error) {
	b.IOLock()
	defer b.IOUnlock()
	return b.readFull(n)
}

// ReadNullTerminatedString reads bytes until a NUL or EOF, capped at max
// bytes to bound a corrupt-header read.
func (b *Base) ReadNullTerminatedString(max int) (string, error) {
	b.IOLock()
	defer b.IOUnlock()
	buf := make([]byte, 0, 32)
	one := make([]byte, 1)
	for len(buf) < max {
		n, err := b.Src.Read(one)
		if n == 0 {
			if err != nil {
				return string(buf), err
			}
			break
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return string(buf), nil
}

// ReadLengthPrefixedString reads a prefixLen-byte big-endian length followed
// by that many bytes of string data (prefixLen must be 1, 2, or 4).
func (b *Base) ReadLengthPrefixedString(prefixLen int) (string, error) {
	var n uint32
	switch prefixLen {
	case 1:
		v, err := b.ReadU8()
		if err != nil {
			return "", err
		}
		n = uint32(v)
	case 2:
		v, err := b.ReadU16BE()
		if err != nil {
			return "", err
		}
		n = uint32(v)
	case 4:
		v, err := b.ReadU32BE()
		if err != nil {
			return "", err
		}
		n = v
	default:
		return "", io.ErrUnexpectedEOF
	}
	data, err := b.ReadBytes(int(n))
	return string(data), err
}
