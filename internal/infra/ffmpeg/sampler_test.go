package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRunner stands in for the ffmpeg/ffprobe binaries. Decode calls return
// a fixed raw RGBA frame and record the requested seek offsets.
type stubRunner struct {
	probeJSON   string
	lookPathErr error
	frame       []byte
	failAtCall  int // decode call index that errors, -1 for never
	seekOffsets []string
	probeArgs   []string
}

func (r *stubRunner) LookPath(string) error { return r.lookPathErr }

func (r *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	if name == "ffprobe" {
		r.probeArgs = args
		return []byte(r.probeJSON), nil
	}
	call := len(r.seekOffsets)
	r.seekOffsets = append(r.seekOffsets, args[1]) // value of -ss
	if r.failAtCall >= 0 && call == r.failAtCall {
		return nil, errors.New("corrupt segment")
	}
	return r.frame, nil
}

func probeJSON(durationSecs float64, width, height int) string {
	return fmt.Sprintf(`{
		"streams": [{
			"codec_name": "h264", "codec_type": "video",
			"width": %d, "height": %d,
			"r_frame_rate": "30/1", "avg_frame_rate": "30/1", "nb_frames": "9000"
		}],
		"format": {"duration": "%f"}
	}`, width, height, durationSecs)
}

func newStubRunner(durationSecs float64, width, height int) *stubRunner {
	return &stubRunner{
		probeJSON:  probeJSON(durationSecs, width, height),
		frame:      make([]byte, width*height*4),
		failAtCall: -1,
	}
}

func tempVideoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func collectFrames(t *testing.T, s *Sampler) []time.Duration {
	t.Helper()
	var offsets []time.Duration
	for {
		frame, err := s.Next(context.Background())
		require.NoError(t, err)
		if frame == nil {
			return offsets
		}
		offsets = append(offsets, frame.TimeOffset)
	}
}

func TestSamplerYieldsArithmeticOffsets(t *testing.T) {
	run := newStubRunner(300, 4, 2)
	s, err := open(context.Background(), tempVideoFile(t), DefaultOptions().WithInterval(120*time.Second), zap.NewNop(), run)
	require.NoError(t, err)

	offsets := collectFrames(t, s)

	assert.Equal(t, []time.Duration{0, 120 * time.Second, 240 * time.Second}, offsets)
	assert.Equal(t, []string{"0", "120", "240"}, run.seekOffsets)

	// Exhausted samplers stay exhausted.
	frame, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, frame)
}

func TestSamplerExcludesExactDurationBoundary(t *testing.T) {
	run := newStubRunner(240, 4, 2)
	s, err := open(context.Background(), tempVideoFile(t), DefaultOptions().WithInterval(120*time.Second), zap.NewNop(), run)
	require.NoError(t, err)

	offsets := collectFrames(t, s)
	assert.Equal(t, []time.Duration{0, 120 * time.Second}, offsets)
}

func TestSamplerFrameGeometry(t *testing.T) {
	run := newStubRunner(10, 4, 2)
	s, err := open(context.Background(), tempVideoFile(t), DefaultOptions().WithInterval(5*time.Second), zap.NewNop(), run)
	require.NoError(t, err)

	frame, err := s.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Equal(t, 4, frame.Image.Rect.Dx())
	assert.Equal(t, 2, frame.Image.Rect.Dy())
	assert.Equal(t, 16, frame.Image.Stride)
	assert.Len(t, frame.Image.Pix, 4*2*4)

	meta := s.Meta()
	assert.Equal(t, 10*time.Second, meta.Duration)
	assert.Equal(t, 4, meta.Width)
	assert.Equal(t, 2, meta.Height)
	assert.InDelta(t, 30.0, meta.FrameRate, 1e-9)
}

func TestOpenRejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		_, err := open(context.Background(), tempVideoFile(t), DefaultOptions().WithInterval(interval), zap.NewNop(), newStubRunner(300, 4, 2))

		var openErr *OpenError
		require.ErrorAs(t, err, &openErr)
		assert.ErrorIs(t, err, ErrInvalidInterval)
	}
}

func TestOpenRejectsMissingFile(t *testing.T) {
	_, err := open(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), DefaultOptions(), zap.NewNop(), newStubRunner(300, 4, 2))

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenRejectsMissingTool(t *testing.T) {
	run := newStubRunner(300, 4, 2)
	run.lookPathErr = errors.New(`exec: "ffmpeg": executable file not found in $PATH`)

	_, err := open(context.Background(), tempVideoFile(t), DefaultOptions(), zap.NewNop(), run)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
}

func TestOpenRejectsUnusableProbe(t *testing.T) {
	cases := map[string]string{
		"garbage output":    "not json at all",
		"zero duration":     `{"streams":[{"codec_type":"video","width":4,"height":2,"avg_frame_rate":"30/1"}],"format":{"duration":"0"}}`,
		"no video stream":   `{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"300.0"}}`,
		"two video streams": `{"streams":[{"codec_type":"video","width":4,"height":2,"avg_frame_rate":"30/1"},{"codec_type":"video","width":8,"height":4,"avg_frame_rate":"30/1"}],"format":{"duration":"300.0"}}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			run := newStubRunner(300, 4, 2)
			run.probeJSON = payload

			_, err := open(context.Background(), tempVideoFile(t), DefaultOptions(), zap.NewNop(), run)

			var openErr *OpenError
			require.ErrorAs(t, err, &openErr)
		})
	}
}

func TestDecodeFailureIsFatal(t *testing.T) {
	run := newStubRunner(300, 4, 2)
	run.failAtCall = 1 // the frame at 120s
	s, err := open(context.Background(), tempVideoFile(t), DefaultOptions().WithInterval(120*time.Second), zap.NewNop(), run)
	require.NoError(t, err)

	first, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), first.TimeOffset)

	_, err = s.Next(context.Background())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 120*time.Second, decodeErr.Offset)

	// No later offsets are attempted; the terminal error repeats.
	_, err2 := s.Next(context.Background())
	assert.Same(t, err, err2)
	assert.Len(t, run.seekOffsets, 2)
}

func TestShortDecodeOutputIsDecodeError(t *testing.T) {
	run := newStubRunner(10, 4, 2)
	run.frame = run.frame[:3] // truncated raster

	s, err := open(context.Background(), tempVideoFile(t), DefaultOptions(), zap.NewNop(), run)
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestSampleCount(t *testing.T) {
	cases := []struct {
		duration, interval time.Duration
		want               int
	}{
		{300 * time.Second, 120 * time.Second, 3}, // trailing partial interval included
		{240 * time.Second, 120 * time.Second, 2}, // exact multiple: t == D excluded
		{299 * time.Second, 120 * time.Second, 3},
		{time.Second, time.Second, 1},
		{500 * time.Millisecond, time.Second, 1},
		{0, time.Second, 0},
		{300 * time.Second, 0, 0},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, SampleCount(tc.duration, tc.interval),
			"duration=%s interval=%s", tc.duration, tc.interval)
	}
}

func TestProbeInvocationFlags(t *testing.T) {
	run := newStubRunner(10, 4, 4)

	_, err := probe(context.Background(), run, "ffprobe", "in.mp4")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-print_format", "json",
		"in.mp4",
	}, run.probeArgs)
}

func TestParseFraction(t *testing.T) {
	v, err := parseFraction("30000/1001")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, v, 0.01)

	for _, bad := range []string{"", "30", "a/b", "1/0"} {
		_, err := parseFraction(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
