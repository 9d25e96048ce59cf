// Package fault classifies the errors produced while orchestrating rooms and
// relays so that callers can decide whether to report, retry or swallow them.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

const (
	// ProtocolState means a message arrived that the relay's handshake state
	// cannot accept (answer before offer, candidate after close, ...).
	ProtocolState Kind = iota + 1
	// NotFound means the message referenced a participant, room or published
	// stream that does not exist.
	NotFound
	// Adapter means the media relay engine rejected an operation.
	Adapter
	// Transport means the signaling channel could not deliver a message.
	// These are logged and otherwise ignored.
	Transport
)

func (k Kind) String() string {
	switch k {
	case ProtocolState:
		return "protocol_state"
	case NotFound:
		return "not_found"
	case Adapter:
		return "adapter"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Code returns the wire code for err, defaulting to the adapter kind for
// unclassified errors.
func Code(err error) string {
	if k, ok := KindOf(err); ok {
		return k.String()
	}
	return Adapter.String()
}
