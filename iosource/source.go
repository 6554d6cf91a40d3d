// Package iosource provides the uniform seekable byte stream contract from
// spec §4.1, with two built-in implementations: a local file source and an
// HTTP source that emulates seeking with byte-range requests.
package iosource

import "io"

// Whence mirrors io.Seeker's constants so callers of ByteSource don't need
// to import "io" just to seek.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// ByteSource is the capability set {read, seek, tell, size, eof, close,
// last_error} from spec §4.1. Each instance is single-owner: internal
// mutexes serialise read/seek/tell against each other, but a caller that
// interleaves seeks and reads from multiple goroutines is responsible for
// its own ordering (spec §5, "Suspension points").
type ByteSource interface {
	// Read reads up to len(p) bytes. Reading past end of stream returns a
	// short or zero read without an error (spec §4.1 invariant); the
	// built-in sources never return io.EOF, so callers check EOF(), and
	// failures are reported through LastError().
	Read(p []byte) (n int, err error)

	// Seek repositions the stream. whence is one of SeekStart/SeekCurrent/
	// SeekEnd. After a successful seek to P, Tell() == P.
	Seek(offset int64, whence int) (int64, error)

	// Tell returns the current position.
	Tell() int64

	// Size returns the total size, or (0, false) if unknown (e.g. a live
	// HTTP stream with no Content-Length).
	Size() (int64, bool)

	// EOF reports whether the stream has been read to its end.
	EOF() bool

	// Close releases the underlying resource. Further operations fail with
	// a Closed error; Read returns 0 bytes.
	Close() error

	// LastError returns the most recent non-ok condition without clearing
	// it, or nil if none has occurred.
	LastError() error
}

// MemoryStats exposes the governor-attributed byte accounting for a source,
// queryable without blocking on in-flight I/O (spec §4.1, "Memory stats are
// accessed under a separate lock").
type MemoryStats interface {
	BytesHeld() int64
}

// Canceller accepts a cooperative cancellation handle per spec §5. A
// ByteSource that supports it (HTTPByteSource) checks it at the start of
// each Read: once cancelled, Read returns 0 bytes with LastError() set to a
// Cancelled iosource.Error. A Read already blocked in the network is not
// interrupted.
type Canceller interface {
	Cancelled() bool
}

// AtomicCanceller is the normal Canceller implementation: a single flag
// flipped once, safe to share across goroutines.
type AtomicCanceller struct {
	flag chanFlag
}

// NewAtomicCanceller returns a fresh, not-yet-cancelled Canceller.
func NewAtomicCanceller() *AtomicCanceller {
	return &AtomicCanceller{flag: make(chanFlag)}
}

// Cancel marks the canceller as tripped. Safe to call more than once.
func (c *AtomicCanceller) Cancel() {
	select {
	case <-c.flag:
	default:
		close(c.flag)
	}
}

// Cancelled implements Canceller.
func (c *AtomicCanceller) Cancelled() bool {
	select {
	case <-c.flag:
		return true
	default:
		return false
	}
}

type chanFlag chan struct{}
