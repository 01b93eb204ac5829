// Package fault classifies link-layer failures so callers can tell them apart
// without inspecting error strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a link-layer failure.
type Kind int

const (
	Unknown Kind = iota
	ConnectionUnavailable
	ChannelNotFound
	WriteUnsupported
	DecodeTruncated
	StalenessLimitExceeded
	TransportDisconnected
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:                "unknown",
	ConnectionUnavailable:  "connection_unavailable",
	ChannelNotFound:        "channel_not_found",
	WriteUnsupported:       "write_unsupported",
	DecodeTruncated:        "decode_truncated",
	StalenessLimitExceeded: "staleness_limit_exceeded",
	TransportDisconnected:  "transport_disconnected",
	Timeout:                "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
