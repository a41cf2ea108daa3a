package bundler

import (
	"path"
	"strings"

	"github.com/mrhapile/wacz/pkg/pages"
)

// Member names inside a container.
const (
	ArchiveDir = "archive/"
	IndexesDir = "indexes/"
	LogsDir    = "logs/"

	CDXFile      = IndexesDir + "index.cdx.gz"
	CDXPlainFile = IndexesDir + "index.cdx"
	IDXFile      = IndexesDir + "index.idx"

	PagesFile      = pages.DefaultPath
	ExtraPagesFile = pages.ExtraPath

	ManifestFile = "datapackage.json"
	DigestFile   = "datapackage-digest.json"

	// LegacyMarkerFile identifies containers that predate the manifest.
	LegacyMarkerFile = "webarchive.yaml"
)

// IndexFiles lists the recognized record index members.
var IndexFiles = []string{CDXFile, CDXPlainFile, IDXFile}

// ArchivePath returns the member name of a capture file.
func ArchivePath(name string) string {
	return ArchiveDir + path.Base(name)
}

// LogPath returns the member name of an attached log file.
func LogPath(name string) string {
	return LogsDir + path.Base(name)
}

// IsControlFile reports whether name is the manifest or its digest. They
// are the only members not listed as resources.
func IsControlFile(name string) bool {
	return name == ManifestFile || name == DigestFile
}

// resourceName is the manifest "name" of a member: its lowercased base
// name with characters outside [-a-z0-9._] replaced by "-".
func resourceName(member string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		}
		return '-'
	}, strings.ToLower(path.Base(member)))
}
