// Package bundle compares the bundle analysis reports of two commits.
//
// Loader resolves a commit to an opened report, Classify matches bundles
// across two reports, Estimator turns sizes into load times and Comparer
// ties them together into a Comparison.
package bundle

import (
	"fmt"
	"sort"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

// ChangeType classifies a bundle's status between base and head.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeRemoved   ChangeType = "removed"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
)

// BundleChange describes how one bundle differs between base and head.
type BundleChange struct {
	BundleName string     `json:"bundle_name"`
	ChangeType ChangeType `json:"change_type"`
	// SizeDelta is head size minus base size.
	SizeDelta int64 `json:"size_delta"`
	// SizeTotal is the head size, or the base size for removed bundles.
	SizeTotal int64 `json:"size_total"`
}

// Classify matches base and head bundles by name and returns one change per
// name in the union of both sides, sorted by name.
//
// Bundle names must be unique on each side; a duplicate is a programming
// error and panics.
func Classify(base, head []report.BundleAggregate) []BundleChange {
	baseSizes := indexBySize(base, "base")
	headSizes := indexBySize(head, "head")

	names := make([]string, 0, len(baseSizes)+len(headSizes))
	for name := range baseSizes {
		names = append(names, name)
	}
	for name := range headSizes {
		if _, ok := baseSizes[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	changes := make([]BundleChange, 0, len(names))
	for _, name := range names {
		baseSize, inBase := baseSizes[name]
		headSize, inHead := headSizes[name]

		var change BundleChange
		switch {
		case inHead && !inBase:
			change = BundleChange{BundleName: name, ChangeType: ChangeAdded, SizeDelta: headSize, SizeTotal: headSize}
		case inBase && !inHead:
			change = BundleChange{BundleName: name, ChangeType: ChangeRemoved, SizeDelta: -baseSize, SizeTotal: baseSize}
		case baseSize != headSize:
			change = BundleChange{BundleName: name, ChangeType: ChangeModified, SizeDelta: headSize - baseSize, SizeTotal: headSize}
		default:
			change = BundleChange{BundleName: name, ChangeType: ChangeUnchanged, SizeDelta: 0, SizeTotal: headSize}
		}
		changes = append(changes, change)
	}

	return changes
}

func indexBySize(bundles []report.BundleAggregate, side string) map[string]int64 {
	sizes := make(map[string]int64, len(bundles))
	for _, b := range bundles {
		if _, dup := sizes[b.Name]; dup {
			panic(fmt.Sprintf("bundle: duplicate %s bundle name %q", side, b.Name))
		}
		sizes[b.Name] = b.Size
	}
	return sizes
}
