package codec

import "fmt"

// Kind classifies a Codec failure (spec §4.5.1).
type Kind int

const (
	BadHeader Kind = iota
	BadFrame
	UnsupportedConfiguration
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case BadHeader:
		return "BadHeader"
	case BadFrame:
		return "BadFrame"
	case UnsupportedConfiguration:
		return "UnsupportedConfiguration"
	case OutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with codec name and context (spec §7).
type Error struct {
	Kind  Kind
	Codec string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Codec, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Codec, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a codec.Error with the given context.
func NewError(codecName string, kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Codec: codecName, Op: op, Err: err}
}
