package format

import (
	"fmt"
	"io"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
)

// TextFormatter formats outcomes as plain text for console output.
type TextFormatter struct{}

// Format formats the outcome as plain text.
func (f *TextFormatter) Format(out *bundle.Outcome, w io.Writer) error {
	if err := checkOutcome(out); err != nil {
		return err
	}

	if u := out.Unavailable; u != nil {
		fmt.Fprintf(w, "Bundle comparison unavailable (%s): %s\n", u.Reason, u.Message())
		return nil
	}

	c := out.Comparison
	if len(c.BundleChanges) == 0 {
		fmt.Fprintln(w, "No bundles in either report")
		return nil
	}

	fmt.Fprintln(w, "Bundle changes:")
	fmt.Fprintln(w)

	for _, bc := range c.BundleChanges {
		fmt.Fprintf(w, "%s (%s)\n", bc.BundleName, bc.ChangeType)
		fmt.Fprintf(w, "  Size: %s (total %s)\n", formatSizeDelta(bc.SizeDelta), formatSize(bc.SizeTotal))
		fmt.Fprintf(w, "  Load time: %s (total %s)\n", formatDurationDelta(bc.LoadTimeDelta), formatDuration(bc.LoadTimeTotal))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Summary: size %s (total %s), load time %s (total %s)\n",
		formatSizeDelta(c.SizeDelta), formatSize(c.SizeTotal),
		formatDurationDelta(c.LoadTimeDelta), formatDuration(c.LoadTimeTotal))

	return nil
}
