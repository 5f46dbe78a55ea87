// Package transcode runs ffmpeg for the VOD pipeline stages.
package transcode

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTranscodeFailed = errors.New("transcode: ffmpeg failed")
	ErrFFmpegNotFound  = errors.New("transcode: ffmpeg not found")
	ErrInvalidRange    = errors.New("transcode: invalid clip range")
)

// Transcoder is what the pipeline needs from an external encoder. Inputs may
// be local paths or URLs that ffmpeg can read directly.
type Transcoder interface {
	// Fastify remuxes the input without re-encoding so the moov atom comes first.
	Fastify(ctx context.Context, input, output string) error
	// Preview renders a short silent low-resolution excerpt.
	Preview(ctx context.Context, input, output string, length time.Duration) error
	// Thumbnail extracts one JPEG frame.
	Thumbnail(ctx context.Context, input, output string, length time.Duration) error
	// Clip cuts [start, end) out of the input into a new fastified mp4.
	Clip(ctx context.Context, input, output string, start, end time.Duration, audio bool) error
	// Probe reads stream metadata with ffprobe.
	Probe(ctx context.Context, input string) (*Metadata, error)
}

type Metadata struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
	Bitrate   int64
	HasAudio  bool
	Container string
}

type Config struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string

	PreviewDuration time.Duration
	PreviewHeight   int
	ThumbnailHeight int
}

func DefaultConfig() *Config {
	return &Config{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		TempDir:         "/tmp/vodpipe",
		PreviewDuration: 10 * time.Second,
		PreviewHeight:   360,
		ThumbnailHeight: 720,
	}
}
