package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/domain/port"
	"go.uber.org/zap"
)

// Sampler yields one decoded frame per sampling interval, pulling each frame
// with a dedicated single-frame ffmpeg decode. Offsets start at zero and
// advance by exactly one interval per call; the sequence ends before the
// probed duration is reached, so a 300s video sampled at 120s yields frames
// at 0s, 120s and 240s. A Sampler belongs to one consuming loop and cannot
// be rewound; open a new one to iterate again.
type Sampler struct {
	path    string
	opts    SamplingOptions
	info    *ProbeInfo
	stream  VideoStreamInfo
	cursor  time.Duration
	done    bool
	termErr error
	logger  *zap.Logger
	run     commandRunner
}

// Open probes the video and returns a sampler positioned at offset zero.
// Validation is strict at construction time: a non-positive interval,
// missing file, undiscoverable ffmpeg/ffprobe binary or unusable probe all
// fail here rather than on the first Next call.
func Open(ctx context.Context, path string, opts SamplingOptions, logger *zap.Logger) (*Sampler, error) {
	return open(ctx, path, opts, logger, execRunner{})
}

func open(ctx context.Context, path string, opts SamplingOptions, logger *zap.Logger, run commandRunner) (*Sampler, error) {
	if opts.Interval <= 0 {
		return nil, &OpenError{Path: path, Err: ErrInvalidInterval}
	}

	for _, tool := range []string{opts.FFmpegPath, opts.FFprobePath} {
		if err := run.LookPath(tool); err != nil {
			return nil, &OpenError{Path: path, Err: err}
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	info, err := probe(ctx, run, opts.FFprobePath, path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	stream, ok := info.PrimaryVideoStream()
	if !ok {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("no single primary video stream")}
	}

	logger.Debug("sampler opened",
		zap.String("path", path),
		zap.Duration("duration", info.Duration),
		zap.Duration("interval", opts.Interval),
		zap.Int("width", stream.Width),
		zap.Int("height", stream.Height),
		zap.Int("expected_frames", SampleCount(info.Duration, opts.Interval)),
	)

	return &Sampler{
		path:   path,
		opts:   opts,
		info:   info,
		stream: stream,
		logger: logger,
		run:    run,
	}, nil
}

// Meta reports the probed stream description.
func (s *Sampler) Meta() port.VideoMeta {
	return port.VideoMeta{
		Duration:  s.info.Duration,
		Width:     s.stream.Width,
		Height:    s.stream.Height,
		FrameRate: s.stream.FrameRate,
	}
}

// SampleCount reports how many frames remain to be yielded by a fresh
// sampler: one per interval at offsets strictly below the duration.
func SampleCount(duration, interval time.Duration) int {
	if interval <= 0 || duration <= 0 {
		return 0
	}
	n := duration / interval
	if duration%interval != 0 {
		n++
	}
	return int(n)
}

// Next decodes and returns the frame at the current cursor, blocking for the
// duration of one external decode. It returns (nil, nil) once the cursor
// reaches the probed duration. A decode failure is terminal: every
// subsequent call returns the same *DecodeError.
func (s *Sampler) Next(ctx context.Context) (*port.SampledFrame, error) {
	if s.termErr != nil {
		return nil, s.termErr
	}
	if s.done || s.cursor >= s.info.Duration {
		s.done = true
		return nil, nil
	}

	offset := s.cursor
	img, err := s.decodeAt(ctx, offset)
	if err != nil {
		s.termErr = &DecodeError{Offset: offset, Err: err}
		s.logger.Error("frame decode failed, sequence aborted",
			zap.String("path", s.path),
			zap.Duration("offset", offset),
			zap.Error(err),
		)
		return nil, s.termErr
	}

	s.cursor += s.opts.Interval
	return &port.SampledFrame{TimeOffset: offset, Image: img}, nil
}

func (s *Sampler) decodeAt(ctx context.Context, offset time.Duration) (*image.RGBA, error) {
	out, err := s.run.Run(ctx, s.opts.FFmpegPath,
		"-ss", formatSeconds(offset),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-v", "error",
		"-",
	)
	if err != nil {
		return nil, err
	}

	want := s.stream.Width * s.stream.Height * 4
	if len(out) != want {
		return nil, fmt.Errorf("got %d bytes of raw frame data, want %d", len(out), want)
	}

	return &image.RGBA{
		Pix:    out,
		Stride: 4 * s.stream.Width,
		Rect:   image.Rect(0, 0, s.stream.Width, s.stream.Height),
	}, nil
}

// Close marks the sampler exhausted. The per-call sampler holds no external
// handles between calls, so there is nothing else to release; the method
// exists for symmetry with StreamReader.
func (s *Sampler) Close() error {
	s.done = true
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
