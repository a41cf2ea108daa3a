package types

import "fmt"

// WarningKind classifies a non-fatal problem found while packaging.
type WarningKind string

const (
	WarnUnmatchedPage     WarningKind = "unmatched-page"
	WarnInvalidExtraPage  WarningKind = "invalid-extra-page"
	WarnMalformedPage     WarningKind = "malformed-page"
	WarnInvalidPageHeader WarningKind = "invalid-page-header"
	WarnDuplicatePage     WarningKind = "duplicate-page"
	WarnInvalidPageList   WarningKind = "invalid-page-list"
	WarnSkippedRecord     WarningKind = "skipped-record"
	WarnSigning           WarningKind = "signing"
)

// Warning is an advisory issue. Warnings are collected and returned to the
// caller; they never abort a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Subject string      `json:"subject,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Subject == "" {
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.Subject, w.Message)
}

// BundleResult represents the output of a successful packaging run.
type BundleResult struct {
	ArchivePath string         // The absolute path to the generated container
	FileCount   int            // Total number of members, manifest and digest included
	Manifest    Manifest       // The manifest written as datapackage.json
	Digest      DigestEnvelope // The envelope written as datapackage-digest.json
	SizeBytes   int64          // Size of the container on disk
	Records     int            // Number of CDX records indexed
	Pages       int            // Number of records in the default page list
	Warnings    []Warning      // Non-fatal issues, in the order they were found
}
