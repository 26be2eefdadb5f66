// Package report reads and writes bundle analysis report containers.
//
// A report is a SQLite database holding the bundles produced by one build,
// their sessions and the assets emitted in each session. Blobs may be stored
// zstd-compressed; Open detects and decompresses them transparently.
package report

import (
	"errors"
	"fmt"
	"sort"
)

// SchemaVersion is the only container schema this package reads and writes.
const SchemaVersion = 1

// ErrCorrupt is matched by every error reporting a blob that is not a
// readable report.
var ErrCorrupt = errors.New("corrupt bundle report")

// CorruptError describes why a blob could not be opened as a report.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCorrupt, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrCorrupt, e.Reason)
}

// Unwrap exposes both ErrCorrupt and the underlying cause.
func (e *CorruptError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorrupt, e.Err}
	}
	return []error{ErrCorrupt}
}

func corrupt(reason string, err error) error {
	return &CorruptError{Reason: reason, Err: err}
}

// IsCorrupt reports whether err marks a corrupt report.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// BundleAggregate is one named bundle within a report.
type BundleAggregate struct {
	Name       string
	Size       int64
	AssetCount int64
}

// Report is an opened, immutable snapshot of a report's bundle aggregates.
// It is safe for concurrent use.
type Report struct {
	bundles []BundleAggregate
	byName  map[string]int
	size    int
}

func newReport(bundles []BundleAggregate, blobSize int) (*Report, error) {
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Name < bundles[j].Name })

	byName := make(map[string]int, len(bundles))
	for i, b := range bundles {
		if _, dup := byName[b.Name]; dup {
			return nil, corrupt(fmt.Sprintf("duplicate bundle name %q", b.Name), nil)
		}
		byName[b.Name] = i
	}

	return &Report{bundles: bundles, byName: byName, size: blobSize}, nil
}

// Bundles returns all bundle aggregates ordered by name.
// The returned slice is a copy.
func (r *Report) Bundles() []BundleAggregate {
	out := make([]BundleAggregate, len(r.bundles))
	copy(out, r.bundles)
	return out
}

// Bundle returns the named bundle, or false if the report has none.
func (r *Report) Bundle(name string) (BundleAggregate, bool) {
	i, ok := r.byName[name]
	if !ok {
		return BundleAggregate{}, false
	}
	return r.bundles[i], true
}

// Len returns the number of bundles in the report.
func (r *Report) Len() int {
	return len(r.bundles)
}

// BlobSize returns the size in bytes of the blob the report was opened from.
func (r *Report) BlobSize() int {
	return r.size
}
