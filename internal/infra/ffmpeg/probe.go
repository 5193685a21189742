package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VideoStreamInfo describes one video stream as reported by ffprobe. The
// frame count comes from container metadata and may differ from the number of
// frames that can actually be read.
type VideoStreamInfo struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int64
}

// ProbeInfo is the result of the one-time ffprobe query performed before
// iteration begins.
type ProbeInfo struct {
	Duration time.Duration
	Streams  []VideoStreamInfo
}

// PrimaryVideoStream returns the single video stream of the probed file.
// Files with zero or multiple video streams have no primary stream.
func (p *ProbeInfo) PrimaryVideoStream() (VideoStreamInfo, bool) {
	if len(p.Streams) != 1 {
		return VideoStreamInfo{}, false
	}
	return p.Streams[0], true
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	NbFrames     string `json:"nb_frames,omitempty"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

func probe(ctx context.Context, run commandRunner, ffprobePath, videoPath string) (*ProbeInfo, error) {
	out, err := run.Run(ctx, ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-print_format", "json",
		videoPath,
	)
	if err != nil {
		return nil, err
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	durationSecs, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil {
		return nil, fmt.Errorf("parse duration %q: %w", parsed.Format.Duration, err)
	}
	if durationSecs <= 0 {
		return nil, fmt.Errorf("unusable probed duration %v", durationSecs)
	}

	info := &ProbeInfo{Duration: time.Duration(durationSecs * float64(time.Second))}
	for _, s := range parsed.Streams {
		// Streams without geometry (audio, data, subtitles) are not video.
		if s.Width == 0 || s.Height == 0 {
			continue
		}
		frameRate, err := parseFraction(s.AvgFrameRate)
		if err != nil {
			frameRate, _ = parseFraction(s.RFrameRate)
		}
		frameCount, _ := strconv.ParseInt(s.NbFrames, 10, 64)
		info.Streams = append(info.Streams, VideoStreamInfo{
			Width:      s.Width,
			Height:     s.Height,
			FrameRate:  frameRate,
			FrameCount: frameCount,
		})
	}

	return info, nil
}

// parseFraction parses ffprobe rate fields of the form "30000/1001".
func parseFraction(s string) (float64, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("cannot parse fraction %q", s)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse fraction %q: %w", s, err)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse fraction %q: %w", s, err)
	}
	if den == 0 {
		return 0, fmt.Errorf("cannot parse fraction %q: zero denominator", s)
	}
	return num / den, nil
}
