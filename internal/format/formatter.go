// Package format renders bundle comparison outcomes for people and machines.
package format

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	units "github.com/docker/go-units"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
)

// Formatter formats a comparison outcome for output.
type Formatter interface {
	Format(out *bundle.Outcome, w io.Writer) error
}

// New creates a formatter based on the specified format type.
// Supported formats: "Text", "Markdown", "JSON"
func New(format string) (Formatter, error) {
	switch format {
	case "Text":
		return &TextFormatter{}, nil
	case "Markdown":
		return &MarkdownFormatter{}, nil
	case "JSON":
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: Text, Markdown, JSON)", format)
	}
}

func checkOutcome(out *bundle.Outcome) error {
	if out == nil {
		return errors.New("outcome is nil")
	}
	if out.Comparison == nil && out.Unavailable == nil {
		return errors.New("outcome is empty")
	}
	return nil
}

// formatSize renders a byte count in decimal units, e.g. "120kB".
func formatSize(size int64) string {
	if size < 0 {
		return "-" + units.HumanSize(float64(-size))
	}
	return units.HumanSize(float64(size))
}

// formatSizeDelta renders a signed byte count, e.g. "+20kB".
func formatSizeDelta(delta int64) string {
	if delta > 0 {
		return "+" + formatSize(delta)
	}
	return formatSize(delta)
}

// roundSeconds rounds d to tenths of a second.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}

// formatDuration renders d in seconds with one decimal, e.g. "3.0s".
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", roundSeconds(d))
}

// formatDurationDelta renders a signed duration, e.g. "+0.5s".
func formatDurationDelta(d time.Duration) string {
	s := roundSeconds(d)
	if s == 0 {
		return "0.0s"
	}
	return fmt.Sprintf("%+.1fs", s)
}
