package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
)

// FFmpeg implements Transcoder by shelling out to ffmpeg and ffprobe.
type FFmpeg struct {
	config *Config
}

var _ Transcoder = (*FFmpeg)(nil)

func NewFFmpeg(cfg *Config) (*FFmpeg, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	return &FFmpeg{config: cfg}, nil
}

func (f *FFmpeg) Fastify(ctx context.Context, input, output string) error {
	return f.run(ctx, "fastify", fastifyArgs(input, output))
}

func (f *FFmpeg) Preview(ctx context.Context, input, output string, length time.Duration) error {
	length, err := f.lengthOf(ctx, input, length)
	if err != nil {
		return err
	}
	return f.run(ctx, "preview", previewArgs(input, output, length, f.config.PreviewDuration, f.config.PreviewHeight))
}

func (f *FFmpeg) Thumbnail(ctx context.Context, input, output string, length time.Duration) error {
	length, err := f.lengthOf(ctx, input, length)
	if err != nil {
		return err
	}
	return f.run(ctx, "thumbnail", thumbnailArgs(input, output, length, f.config.ThumbnailHeight))
}

func (f *FFmpeg) Clip(ctx context.Context, input, output string, start, end time.Duration, audio bool) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: %v to %v", ErrInvalidRange, start, end)
	}
	return f.run(ctx, "clip", clipArgs(input, output, start, end, audio))
}

// lengthOf probes the input when the caller does not know its length.
func (f *FFmpeg) lengthOf(ctx context.Context, input string, length time.Duration) (time.Duration, error) {
	if length > 0 {
		return length, nil
	}
	md, err := f.Probe(ctx, input)
	if err != nil {
		return 0, err
	}
	return md.Duration, nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	start := time.Now()
	cmd := exec.CommandContext(ctx, f.config.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v, output: %s", ErrTranscodeFailed, op, err, tail(output, 2048))
	}
	logger.FromContext(ctx).Debug("ffmpeg finished", "op", op, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func fastifyArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		output,
	}
}

// previewArgs starts the excerpt a tenth of the way in so intros are skipped.
func previewArgs(input, output string, length, duration time.Duration, height int) []string {
	start := length / 10
	if length <= duration {
		start = 0
		duration = length
	}
	return []string{
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(duration),
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-an",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		output,
	}
}

func thumbnailArgs(input, output string, length time.Duration, height int) []string {
	return []string{
		"-ss", seconds(length / 2),
		"-i", input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-q:v", "2",
		"-f", "image2",
		"-y",
		output,
	}
}

func clipArgs(input, output string, start, end time.Duration, audio bool) []string {
	args := []string{
		"-ss", seconds(start),
		"-i", input,
		"-t", seconds(end - start),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "20",
	}
	if audio {
		args = append(args, "-c:a", "aac", "-b:a", "160k")
	} else {
		args = append(args, "-an")
	}
	return append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		output,
	)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Name     string `json:"format_name"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, input string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}
	cmd := exec.CommandContext(ctx, f.config.FFprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v", ErrTranscodeFailed, err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", ErrTranscodeFailed, err)
	}

	md := &Metadata{
		Container: strings.Split(probe.Format.Name, ",")[0],
	}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		md.Duration = time.Duration(d * float64(time.Second))
	}
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		md.Bitrate = b
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			md.Width = stream.Width
			md.Height = stream.Height
			md.FrameRate = parseFrameRate(stream.RFrameRate)
		case "audio":
			md.HasAudio = true
		}
	}
	return md, nil
}

// parseFrameRate handles the "30000/1001" form ffprobe reports.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}
