package port

import (
	"context"
	"image"
	"time"
)

// SampledFrame is one decoded frame together with its offset from the start
// of the video. Ownership transfers to the caller on each yield.
type SampledFrame struct {
	TimeOffset time.Duration
	Image      *image.RGBA
}

// VideoMeta is the stream description obtained by the one-time probe.
type VideoMeta struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
}

// FrameSource is a finite, ordered, pull-based sequence of sampled frames.
// Next blocks for one external decode and returns (nil, nil) once the
// sequence is exhausted. A decode failure is terminal: the same error is
// returned on every subsequent call. A FrameSource is owned by a single
// consuming loop and cannot be restarted.
type FrameSource interface {
	Next(ctx context.Context) (*SampledFrame, error)
	Meta() VideoMeta
	Close() error
}

// SamplerFactory opens a FrameSource over a video file, sampling one frame
// every interval starting at offset zero.
type SamplerFactory interface {
	Open(ctx context.Context, videoPath string, interval time.Duration) (FrameSource, error)
}
