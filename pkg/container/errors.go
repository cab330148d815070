package container

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the codec. Decode errors are wrapped in a
// DecodeError carrying the byte offset and nearest preceding block index;
// encode errors are returned before any bytes are emitted.
var (
	// ErrSignatureNotFound means the buffer contains no block signature
	// and is not a project file.
	ErrSignatureNotFound = errors.New("block signature not found")

	// ErrUnknownRoleFamily means a preamble role byte is outside the
	// verified exemption/propagation table. Extend the table from new
	// verified captures rather than guessing.
	ErrUnknownRoleFamily = errors.New("role byte outside verified table")

	// ErrUnknownPreambleState means the preamble fields form a state the
	// capture corpus has never produced.
	ErrUnknownPreambleState = errors.New("preamble state outside verified table")

	// ErrUnsupportedTopology means no device-verified descriptor branch
	// exists for the requested multi-pattern topology.
	ErrUnsupportedTopology = errors.New("descriptor topology not device-verified")

	// ErrUnsupportedBranch means the topology is known but the requested
	// activation state matches a branch whose byte rule is unproven.
	ErrUnsupportedBranch = errors.New("descriptor branch not device-verified")

	// ErrAlignmentViolation means the type byte and padding word disagree,
	// the most common device-crash root cause.
	ErrAlignmentViolation = errors.New("type byte and padding word disagree")

	// ErrCrashPattern means the data matches a catalogued device-crash
	// signature (note == velocity, more than 120 events per pattern).
	ErrCrashPattern = errors.New("event data matches a known crash signature")

	// ErrRoundTripMismatch is raised by the validation layer when
	// decode-then-encode of an unmodified file does not reproduce the
	// original bytes.
	ErrRoundTripMismatch = errors.New("re-encode does not reproduce source bytes")
)

// DecodeError wraps a decode failure with its byte offset and the index of
// the nearest preceding physical block (-1 before the first block).
type DecodeError struct {
	Offset int
	Block  int
	Err    error
}

// Error formats the failure with its position for diagnosis.
func (e *DecodeError) Error() string {
	if e.Block >= 0 {
		return fmt.Sprintf("decode at offset 0x%X (block %d): %v", e.Offset, e.Block, e.Err)
	}
	return fmt.Sprintf("decode at offset 0x%X: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying error kind.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrf(offset, block int, kind error, format string, args ...any) *DecodeError {
	return &DecodeError{
		Offset: offset,
		Block:  block,
		Err:    fmt.Errorf("%w: "+format, append([]any{kind}, args...)...),
	}
}

func errRange(field string, v int) error {
	return fmt.Errorf("%s %d out of range", field, v)
}
