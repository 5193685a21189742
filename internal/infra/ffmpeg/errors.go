package ffmpeg

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is reported by Open when the configured sampling
// interval is zero or negative.
var ErrInvalidInterval = errors.New("sampling interval must be a positive duration")

// OpenError is returned when a sampler cannot be constructed: the video file
// is missing or unreadable, an external tool is not discoverable, or the
// probe did not report a usable stream description.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// DecodeError is returned when the external decode for one offset fails.
// It is fatal to the sequence: the sampler yields no further frames.
type DecodeError struct {
	Offset time.Duration
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame at %s: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
