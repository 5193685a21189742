package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/domain/port"
	"go.uber.org/zap"
)

// StreamReader samples frames from a single long-lived ffmpeg process
// instead of one decode invocation per frame. The process downsamples with
// the fps filter and reports each frame's timestamp through the showinfo
// filter on stderr while streaming raw RGBA frames on stdout. Cheaper than
// Sampler for long videos since the input is demuxed once, at the cost of a
// child process held open across the whole iteration.
type StreamReader struct {
	stdout   io.Reader
	stderr   *bufio.Reader
	info     *ProbeInfo
	stream   VideoStreamInfo
	done     bool
	released bool
	termErr  error
	logger   *zap.Logger
	release  func(kill bool)
}

func newStreamReader(stdout, stderr io.Reader, info *ProbeInfo, stream VideoStreamInfo, logger *zap.Logger, release func(kill bool)) *StreamReader {
	return &StreamReader{
		stdout:  stdout,
		stderr:  bufio.NewReader(stderr),
		info:    info,
		stream:  stream,
		logger:  logger,
		release: release,
	}
}

// OpenStream probes the video and starts the decoding process. Construction
// errors follow the same contract as Open.
func OpenStream(ctx context.Context, path string, opts SamplingOptions, logger *zap.Logger) (*StreamReader, error) {
	if opts.Interval <= 0 {
		return nil, &OpenError{Path: path, Err: ErrInvalidInterval}
	}

	for _, tool := range []string{opts.FFmpegPath, opts.FFprobePath} {
		if _, err := exec.LookPath(tool); err != nil {
			return nil, &OpenError{Path: path, Err: err}
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	info, err := probe(ctx, execRunner{}, opts.FFprobePath, path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	stream, ok := info.PrimaryVideoStream()
	if !ok {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("no single primary video stream")}
	}

	cmd := exec.CommandContext(ctx, opts.FFmpegPath,
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%s,showinfo", formatSeconds(opts.Interval)),
		"-f", "image2pipe",
		"-an",
		"-sn",
		"-pix_fmt", "rgba",
		"-nostats",
		"-vcodec", "rawvideo",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	logger.Debug("stream reader started",
		zap.String("path", path),
		zap.Duration("duration", info.Duration),
		zap.Duration("interval", opts.Interval),
		zap.Int("expected_frames", SampleCount(info.Duration, opts.Interval)),
		zap.Int("pid", cmd.Process.Pid),
	)

	release := func(kill bool) {
		if kill && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil && !kill {
			logger.Debug("decoder exited", zap.Error(err))
		}
	}

	return newStreamReader(stdout, stderr, info, stream, logger, release), nil
}

func (r *StreamReader) Meta() port.VideoMeta {
	return port.VideoMeta{
		Duration:  r.info.Duration,
		Width:     r.stream.Width,
		Height:    r.stream.Height,
		FrameRate: r.stream.FrameRate,
	}
}

// Next returns the next sampled frame, or (nil, nil) when the process has
// drained both pipes. Timestamps come from the showinfo pts_time field, so
// offsets reflect what the decoder actually produced.
func (r *StreamReader) Next(ctx context.Context) (*port.SampledFrame, error) {
	if r.termErr != nil {
		return nil, r.termErr
	}
	if r.done {
		return nil, nil
	}

	props := make(map[string]string)

	// showinfo emits two lines per frame. Both must be consumed before
	// reading the frame data or the decoder blocks on a full stderr pipe.
	linesToRead := 2
	for linesToRead > 0 {
		line, err := r.stderr.ReadString('\n')
		if line == "" && errors.Is(err, io.EOF) {
			return nil, r.finish()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, r.fail(0, err)
		}
		if parseShowinfo(line, props) {
			linesToRead--
		}
	}

	offsetSecs, err := strconv.ParseFloat(props["pts_time"], 64)
	if err != nil {
		return nil, r.fail(0, fmt.Errorf("parse pts_time %q: %w", props["pts_time"], err))
	}
	offset := time.Duration(offsetSecs * float64(time.Second))

	buf := make([]byte, r.stream.Width*r.stream.Height*4)
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// The last frame has been read.
			return nil, r.finish()
		}
		return nil, r.fail(offset, err)
	}

	return &port.SampledFrame{
		TimeOffset: offset,
		Image: &image.RGBA{
			Pix:    buf,
			Stride: 4 * r.stream.Width,
			Rect:   image.Rect(0, 0, r.stream.Width, r.stream.Height),
		},
	}, nil
}

func (r *StreamReader) finish() error {
	r.done = true
	r.releaseOnce(false)
	return nil
}

func (r *StreamReader) fail(offset time.Duration, err error) error {
	r.termErr = &DecodeError{Offset: offset, Err: err}
	r.releaseOnce(true)
	return r.termErr
}

// Close releases the child process and its pipes. Safe to call at any point
// of the iteration, including after abandoning it mid-sequence, and
// idempotent.
func (r *StreamReader) Close() error {
	r.done = true
	r.releaseOnce(true)
	return nil
}

func (r *StreamReader) releaseOnce(kill bool) {
	if r.released {
		return
	}
	r.released = true
	if r.release != nil {
		r.release(kill)
	}
}
