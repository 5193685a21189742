package ffmpeg

import "time"

// DefaultInterval is the sampling interval used when the caller does not
// override it: one frame per second of video.
const DefaultInterval = time.Second

// SamplingOptions configures a sampler. The zero value is not usable; start
// from DefaultOptions and derive with the With* methods. Values are copied on
// every derivation, so an options value can be shared freely.
type SamplingOptions struct {
	Interval    time.Duration
	FFmpegPath  string
	FFprobePath string
}

func DefaultOptions() SamplingOptions {
	return SamplingOptions{
		Interval:    DefaultInterval,
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}
}

func (o SamplingOptions) WithInterval(interval time.Duration) SamplingOptions {
	o.Interval = interval
	return o
}

func (o SamplingOptions) WithFFmpegPath(path string) SamplingOptions {
	o.FFmpegPath = path
	return o
}

func (o SamplingOptions) WithFFprobePath(path string) SamplingOptions {
	o.FFprobePath = path
	return o
}
