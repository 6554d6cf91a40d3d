package demux

import "fmt"

// Kind classifies a Demuxer failure (spec §4.4.1).
type Kind int

const (
	BadMagic Kind = iota
	TruncatedHeader
	UnsupportedVariant
	CorruptFrame
	IoError
	OutOfMemory
	InvalidState
)

func (k Kind) String() string {
	switch k {
	case BadMagic:
		return "BadMagic"
	case TruncatedHeader:
		return "TruncatedHeader"
	case UnsupportedVariant:
		return "UnsupportedVariant"
	case CorruptFrame:
		return "CorruptFrame"
	case IoError:
		return "IoError"
	case OutOfMemory:
		return "OutOfMemory"
	case InvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with demuxer name, stream id, and byte offset context
// (spec §7, "each layer adds a context string ... and rethrows").
type Error struct {
	Kind     Kind
	Demuxer  string
	StreamID uint32
	Offset   int64
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (stream %d, offset %d): %s: %v", e.Demuxer, e.Op, e.StreamID, e.Offset, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (stream %d, offset %d): %s", e.Demuxer, e.Op, e.StreamID, e.Offset, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a demux.Error with the given context.
func NewError(demuxerName string, kind Kind, op string, streamID uint32, offset int64, err error) *Error {
	return &Error{Kind: kind, Demuxer: demuxerName, StreamID: streamID, Offset: offset, Op: op, Err: err}
}
