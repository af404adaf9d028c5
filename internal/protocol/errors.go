package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload matches every MalformedPayloadError via errors.Is.
var ErrMalformedPayload = errors.New("malformed payload")

// MalformedPayloadError reports a buffer too short for the record being decoded.
type MalformedPayloadError struct {
	Record string
	Want   int
	Got    int
}

func (e *MalformedPayloadError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s needs %d bytes, got %d", ErrMalformedPayload, e.Record, e.Want, e.Got)
}

// Is reports whether target is ErrMalformedPayload or an equal MalformedPayloadError.
func (e *MalformedPayloadError) Is(target error) bool {
	if target == ErrMalformedPayload {
		return true
	}
	t, ok := target.(*MalformedPayloadError)
	if !ok || e == nil {
		return false
	}
	return e.Record == t.Record
}

func checkLen(record string, b []byte, want int) error {
	if len(b) < want {
		return &MalformedPayloadError{Record: record, Want: want, Got: len(b)}
	}
	return nil
}
