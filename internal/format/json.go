package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
)

// JSONFormatter formats outcomes as a JSON document.
type JSONFormatter struct{}

// Document is the JSON form of an outcome. Load times are in seconds.
type Document struct {
	Status     string              `json:"status"`
	Comparison *ComparisonDocument `json:"comparison,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Side       string              `json:"side,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// ComparisonDocument is the JSON form of a bundle.Comparison.
type ComparisonDocument struct {
	BundleChanges []BundleChangeDocument `json:"bundle_changes"`
	SizeDelta     int64                  `json:"size_delta"`
	SizeTotal     int64                  `json:"size_total"`
	LoadTimeDelta float64                `json:"load_time_delta"`
	LoadTimeTotal float64                `json:"load_time_total"`
}

// BundleChangeDocument is the JSON form of a bundle.BundleComparison.
type BundleChangeDocument struct {
	BundleName    string  `json:"bundle_name"`
	ChangeType    string  `json:"change_type"`
	SizeDelta     int64   `json:"size_delta"`
	SizeTotal     int64   `json:"size_total"`
	LoadTimeDelta float64 `json:"load_time_delta"`
	LoadTimeTotal float64 `json:"load_time_total"`
}

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// NewDocument converts an outcome to its JSON form.
func NewDocument(out *bundle.Outcome) (*Document, error) {
	if err := checkOutcome(out); err != nil {
		return nil, err
	}

	if u := out.Unavailable; u != nil {
		return &Document{
			Status:  StatusUnavailable,
			Reason:  string(u.Reason),
			Side:    string(u.Side),
			Message: u.Message(),
		}, nil
	}

	c := out.Comparison
	doc := &ComparisonDocument{
		BundleChanges: make([]BundleChangeDocument, 0, len(c.BundleChanges)),
		SizeDelta:     c.SizeDelta,
		SizeTotal:     c.SizeTotal,
		LoadTimeDelta: roundSeconds(c.LoadTimeDelta),
		LoadTimeTotal: roundSeconds(c.LoadTimeTotal),
	}
	for _, bc := range c.BundleChanges {
		doc.BundleChanges = append(doc.BundleChanges, BundleChangeDocument{
			BundleName:    bc.BundleName,
			ChangeType:    string(bc.ChangeType),
			SizeDelta:     bc.SizeDelta,
			SizeTotal:     bc.SizeTotal,
			LoadTimeDelta: roundSeconds(bc.LoadTimeDelta),
			LoadTimeTotal: roundSeconds(bc.LoadTimeTotal),
		})
	}
	return &Document{Status: StatusOK, Comparison: doc}, nil
}

// Format writes the outcome as indented JSON.
func (f *JSONFormatter) Format(out *bundle.Outcome, w io.Writer) error {
	doc, err := NewDocument(out)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	return nil
}
