// Package keys builds the storage object keys under which bundle analysis
// reports are persisted.
//
// Key layout: v1/repos/{repo_key}/bundle_report/{report_id}.sqlite
//
// The layout is visible to operational tooling (bucket listings, manual
// inspection) and must never change for existing objects: a key computed
// today has to resolve the same object years from now.
package keys

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/zeebo/blake3"
)

const (
	// Namespace is the top-level path segment for all report objects.
	Namespace = "v1/repos"

	// BundleReportKind is the path segment for bundle analysis reports.
	BundleReportKind = "bundle_report"

	// BundleReportExt is the file extension of stored bundle reports.
	BundleReportExt = ".sqlite"

	// repositoryKeyContext is the BLAKE3 derive-key context. Changing it
	// changes every repository key and orphans all stored reports.
	repositoryKeyContext = "bundlediff 2024-01-01 repository storage key v1"

	// repositoryKeySize is the number of hash bytes kept in a repository key.
	repositoryKeySize = 16
)

// BundleReportPath returns the storage object key of a bundle report.
//
// Both segments are path-escaped, so a "/" inside an identifier can never
// shift segment boundaries and distinct (repoKey, reportID) pairs always
// produce distinct keys.
func BundleReportPath(repoKey, reportID string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s",
		Namespace,
		url.PathEscape(repoKey),
		BundleReportKind,
		url.PathEscape(reportID),
		BundleReportExt,
	)
}

// BundleReportPrefix returns the listing prefix holding every bundle report
// of a repository.
func BundleReportPrefix(repoKey string) string {
	return fmt.Sprintf("%s/%s/%s/", Namespace, url.PathEscape(repoKey), BundleReportKind)
}

// RepositoryKey derives the opaque storage namespace of a repository from
// its identity and a deployment secret. The result is lowercase hex.
//
// The key is computed once when the repository is first registered and then
// stored; callers must read it back from the metadata store rather than
// recomputing it, so that renames never move a repository's objects.
func RepositoryKey(secret, service, owner, name string) string {
	var derived [32]byte
	blake3.DeriveKey(repositoryKeyContext, []byte(secret), derived[:])

	h, err := blake3.NewKeyed(derived[:])
	if err != nil {
		// Only fails for keys that are not 32 bytes long.
		panic("keys: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	// Length-prefix every field so ("ab", "c") and ("a", "bc") differ.
	for _, field := range []string{service, owner, name} {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		h.Write(length[:])
		h.WriteString(field)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:repositoryKeySize])
}
