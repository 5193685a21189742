package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/domain/port"
	"go.uber.org/zap"
)

// Mode selects how frames are pulled from the video.
type Mode string

const (
	// ModeExec runs one single-frame decode invocation per sampled offset.
	ModeExec Mode = "exec"
	// ModeStream holds one decoding process open for the whole iteration.
	ModeStream Mode = "stream"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExec, ModeStream:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown sampler mode %q", s)
}

// SamplerFactory opens frame sources with fixed tool paths and a per-call
// sampling interval. Implements port.SamplerFactory.
type SamplerFactory struct {
	opts   SamplingOptions
	mode   Mode
	logger *zap.Logger
}

func NewSamplerFactory(opts SamplingOptions, mode Mode, logger *zap.Logger) *SamplerFactory {
	return &SamplerFactory{opts: opts, mode: mode, logger: logger}
}

func (f *SamplerFactory) Open(ctx context.Context, videoPath string, interval time.Duration) (port.FrameSource, error) {
	opts := f.opts.WithInterval(interval)
	if f.mode == ModeStream {
		return OpenStream(ctx, videoPath, opts, f.logger)
	}
	return Open(ctx, videoPath, opts, f.logger)
}
