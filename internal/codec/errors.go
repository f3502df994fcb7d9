package codec

import (
	"errors"
	"fmt"
)

// ErrCorrupt matches every DecodeError via errors.Is.
var ErrCorrupt = errors.New("corrupt session payload")

// DecodeError reports a payload that cannot be turned back into a session.
// Callers should discard the session rather than fail.
type DecodeError struct {
	Tag    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode session"
	if e.Tag != "" {
		msg += " [" + e.Tag + "]"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCorrupt) match any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrCorrupt
}
