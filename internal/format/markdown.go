package format

import (
	"fmt"
	"io"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
)

// MarkdownFormatter formats outcomes as Markdown, suitable for a pull
// request comment.
type MarkdownFormatter struct{}

// Format formats the outcome as Markdown.
func (f *MarkdownFormatter) Format(out *bundle.Outcome, w io.Writer) error {
	if err := checkOutcome(out); err != nil {
		return err
	}

	fmt.Fprintln(w, "## Bundle Report")
	fmt.Fprintln(w)

	if u := out.Unavailable; u != nil {
		fmt.Fprintf(w, "> %s\n", u.Message())
		return nil
	}

	c := out.Comparison
	if len(c.BundleChanges) == 0 {
		fmt.Fprintln(w, "No bundles in either report.")
		return nil
	}

	fmt.Fprintln(w, "| Bundle | Change | Size | Load time |")
	fmt.Fprintln(w, "|--------|--------|------|-----------|")

	for _, bc := range c.BundleChanges {
		fmt.Fprintf(w, "| %s | %s | %s (%s) | %s (%s) |\n",
			bc.BundleName, bc.ChangeType,
			formatSizeDelta(bc.SizeDelta), formatSize(bc.SizeTotal),
			formatDurationDelta(bc.LoadTimeDelta), formatDuration(bc.LoadTimeTotal))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "**Summary:** size %s (total %s), estimated load time %s (total %s)\n",
		formatSizeDelta(c.SizeDelta), formatSize(c.SizeTotal),
		formatDurationDelta(c.LoadTimeDelta), formatDuration(c.LoadTimeTotal))

	return nil
}
