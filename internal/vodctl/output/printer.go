package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Printer struct {
	out     io.Writer
	errOut  io.Writer
	json    bool
	quiet   bool
	noColor bool
}

type Option func(*Printer)

func WithJSON(json bool) Option {
	return func(p *Printer) {
		p.json = json
	}
}

func WithQuiet(quiet bool) Option {
	return func(p *Printer) {
		p.quiet = quiet
	}
}

func WithNoColor(noColor bool) Option {
	return func(p *Printer) {
		p.noColor = noColor
	}
}

func WithOutput(out io.Writer) Option {
	return func(p *Printer) {
		p.out = out
	}
}

func WithErrOutput(errOut io.Writer) Option {
	return func(p *Printer) {
		p.errOut = errOut
	}
}

func New(opts ...Option) *Printer {
	p := &Printer{
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.noColor {
		color.NoColor = true
	}
	return p
}

func successIcon() string { return color.GreenString("✓") }
func errorIcon() string   { return color.RedString("✗") }
func warnIcon() string    { return color.YellowString("!") }
func infoIcon() string    { return color.CyanString("→") }

func (p *Printer) IsJSON() bool {
	return p.json
}

func (p *Printer) IsQuiet() bool {
	return p.quiet
}

func (p *Printer) Success(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", successIcon(), fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", errorIcon(), fmt.Sprintf(format, args...))
}

func (p *Printer) Warn(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", warnIcon(), fmt.Sprintf(format, args...))
}

func (p *Printer) Info(format string, args ...any) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", infoIcon(), fmt.Sprintf(format, args...))
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) Section(title string) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "\n%s\n", color.New(color.Bold, color.FgCyan).Sprint(title))
}

func (p *Printer) KeyValue(key, value string) {
	if p.quiet || p.json {
		return
	}
	fmt.Fprintf(p.out, "  %s: %s\n", color.HiBlackString(key), value)
}

// Flag renders a pipeline flag as a colored yes/no.
func (p *Printer) Flag(key string, set bool) {
	value := color.YellowString("no")
	if set {
		value = color.GreenString("yes")
	}
	p.KeyValue(key, value)
}

// BucketStatusColor colors an operator flag by severity.
func BucketStatusColor(status string) string {
	switch status {
	case "up":
		return color.GreenString(status)
	case "failover":
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}
