// Package pages builds the page lists stored under pages/ in a container.
//
// A page list is JSONL: a header line carrying the list format, id and
// title, then one page record per line. Pages are either detected while
// indexing captures or supplied by the operator; Reconcile merges the
// two, letting the supplied list decide which pages are kept and the
// detected records supply the capture facts.
package pages

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/types"
)

const (
	// Format is declared by every page list header.
	Format = "json-pages-1.0"

	DefaultID    = "pages"
	DefaultTitle = "Pages"

	ExtraID    = "extra-pages"
	ExtraTitle = "Extra Pages"

	Dir         = "pages/"
	DefaultPath = Dir + "pages.jsonl"
	ExtraPath   = Dir + "extraPages.jsonl"
)

var (
	safeListName  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	reservedNames = map[string]bool{"pages": true, "extrapages": true}
)

// ListFileName returns the member path for an additional named page list.
// Names that collide with the default lists or are unsafe as file names
// are replaced by a name-based UUID, so the mapping stays deterministic.
func ListFileName(name string) string {
	if !safeListName.MatchString(name) || reservedNames[strings.ToLower(name)] {
		name = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
	return Dir + name + ".jsonl"
}

// Header returns a list header with the given id and title.
func Header(id, title string, hasText bool) types.PageListHeader {
	return types.PageListHeader{Format: Format, ID: id, Title: title, HasText: hasText}
}

// StripFragment removes a trailing "#fragment" from a URL.
func StripFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}

// Key returns the reconciliation key of a page: "<14-digit ts>/<url>" when
// ts is set, otherwise the URL. Fragments are dropped in both forms. ts
// may be ISO-8601 or already 14 digits.
func Key(url, ts string) (string, error) {
	url = StripFragment(url)
	if ts == "" {
		return url, nil
	}
	norm, err := cdx.TimestampFromISO(ts)
	if err != nil {
		return "", err
	}
	return norm + "/" + url, nil
}

// schemeVariants returns url without its fragment, followed by the same
// URL under the other scheme when url is http or https.
func schemeVariants(url string) []string {
	url = StripFragment(url)
	variants := []string{url}
	if scheme, rest, ok := strings.Cut(url, ":"); ok {
		switch strings.ToLower(scheme) {
		case "http":
			variants = append(variants, "https:"+rest)
		case "https":
			variants = append(variants, "http:"+rest)
		}
	}
	return variants
}

// candidateKeys lists the keys tried for a detected page, in order: the exact
// key, then the untimestamped same-scheme and other-scheme variants, then
// the timestamped ones. Duplicates are removed.
func candidateKeys(url, ts string) []string {
	variants := schemeVariants(url)

	var (
		keys []string
		seen = make(map[string]bool, 2*len(variants)+1)
	)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	norm, err := cdx.TimestampFromISO(ts)
	timestamped := ts != "" && err == nil
	if timestamped {
		add(norm + "/" + variants[0])
	}
	for _, v := range variants {
		add(v)
	}
	if timestamped {
		for _, v := range variants {
			add(norm + "/" + v)
		}
	}
	return keys
}

// SplitSeeds separates pages explicitly marked "seed": false from the
// rest. Pages without a seed flag count as seeds.
func SplitSeeds(all []types.Page) (seeds, extra []types.Page) {
	for _, p := range all {
		if p.Seed != nil && !*p.Seed {
			extra = append(extra, p)
			continue
		}
		seeds = append(seeds, p)
	}
	return seeds, extra
}
