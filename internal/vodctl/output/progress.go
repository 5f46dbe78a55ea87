package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ByteProgress draws an upload progress bar on stderr. It is inert when quiet.
type ByteProgress struct {
	bar     *progressbar.ProgressBar
	out     io.Writer
	started time.Time
}

func NewByteProgress(total int64, description string, quiet bool) *ByteProgress {
	p := &ByteProgress{
		out:     os.Stderr,
		started: time.Now(),
	}

	if quiet {
		return p
	}

	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[cyan]=[reset]",
			SaucerHead:    "[cyan]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	return p
}

// Add advances the bar by n bytes. It is safe to call from several goroutines.
func (p *ByteProgress) Add(n int64) {
	if p.bar != nil {
		_ = p.bar.Add64(n)
	}
}

func (p *ByteProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func (p *ByteProgress) Duration() time.Duration {
	return time.Since(p.started)
}
