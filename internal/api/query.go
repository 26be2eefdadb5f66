package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrMixedQuery is returned when more than one query form is used
	ErrMixedQuery = errors.New("only one of base/head, pullid or base_report/head_report may be given")

	// ErrMissingCommit is returned when only one side of a commit pair is given
	ErrMissingCommit = errors.New("both base and head are required")

	// ErrMissingReportID is returned when only one side of a report pair is given
	ErrMissingReportID = errors.New("both base_report and head_report are required")

	// ErrInvalidReportID is returned for malformed report identifiers
	ErrInvalidReportID = errors.New("invalid report id")

	// ErrInvalidCommit is returned for malformed commit identifiers
	ErrInvalidCommit = errors.New("invalid commit")

	// ErrInvalidPullID is returned when the pull id is not a positive integer
	ErrInvalidPullID = errors.New("pullid must be a positive integer")
)

// maxCommitLength bounds commit identifiers; a SHA-256 hex digest is 64.
const maxCommitLength = 64

// CompareQuery selects the two reports to compare. It is ByCommits, ByPull
// or ByReports.
type CompareQuery interface {
	Validate() error
	isCompareQuery()
}

// ByCommits compares two explicit commits.
type ByCommits struct {
	Base string
	Head string
}

// ByPull compares the base and head commits registered for a pull request.
type ByPull struct {
	PullID int64
}

// ByReports compares two uploaded reports by their report ids.
type ByReports struct {
	BaseReport string
	HeadReport string
}

func (ByCommits) isCompareQuery() {}
func (ByPull) isCompareQuery()    {}
func (ByReports) isCompareQuery() {}

// Validate checks both commit identifiers.
func (q ByCommits) Validate() error {
	if q.Base == "" || q.Head == "" {
		return ErrMissingCommit
	}
	if err := validateCommit(q.Base); err != nil {
		return fmt.Errorf("base: %w", err)
	}
	if err := validateCommit(q.Head); err != nil {
		return fmt.Errorf("head: %w", err)
	}
	return nil
}

// Validate checks the pull id.
func (q ByPull) Validate() error {
	if q.PullID <= 0 {
		return ErrInvalidPullID
	}
	return nil
}

// Validate checks both report ids.
func (q ByReports) Validate() error {
	if q.BaseReport == "" || q.HeadReport == "" {
		return ErrMissingReportID
	}
	for _, id := range []string{q.BaseReport, q.HeadReport} {
		if len(id) > maxCommitLength || strings.ContainsAny(id, " \t\r\n/") {
			return fmt.Errorf("%w: %q", ErrInvalidReportID, id)
		}
	}
	return nil
}

// ParseCompareQuery reads a CompareQuery from ?base=&head=, ?pullid= or
// ?base_report=&head_report=. The forms are mutually exclusive.
func ParseCompareQuery(values url.Values) (CompareQuery, error) {
	base, head := values.Get("base"), values.Get("head")
	pull := values.Get("pullid")
	baseReport, headReport := values.Get("base_report"), values.Get("head_report")

	forms := 0
	for _, present := range []bool{base != "" || head != "", pull != "", baseReport != "" || headReport != ""} {
		if present {
			forms++
		}
	}

	var q CompareQuery
	switch {
	case forms > 1:
		return nil, ErrMixedQuery
	case baseReport != "" || headReport != "":
		q = ByReports{BaseReport: baseReport, HeadReport: headReport}
	case pull != "":
		id, err := strconv.ParseInt(pull, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPullID, pull)
		}
		q = ByPull{PullID: id}
	default:
		q = ByCommits{Base: base, Head: head}
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func validateCommit(commit string) error {
	if len(commit) > maxCommitLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidCommit, maxCommitLength)
	}
	if strings.ContainsAny(commit, " \t\r\n/") {
		return fmt.Errorf("%w: %q", ErrInvalidCommit, commit)
	}
	return nil
}
