package pages

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/mrhapile/wacz/pkg/types"
)

const maxLineSize = 16 * 1024 * 1024

// Supplied is an operator-provided page list, indexed by reconciliation
// key. Each entry can be consumed by at most one detected page.
type Supplied struct {
	// Header is the parsed header line, nil when the list has none.
	Header *types.PageListHeader

	entries map[string]types.Page
	order   []string

	// byURL maps a fragment-less URL to the timestamped keys recorded for
	// it, so pages detected without a capture time can still match.
	byURL map[string][]string
}

// ParseSupplied reads a page list. Lines that are not UTF-8, not JSON
// objects or lack a url are dropped with a warning. When two lines share
// a key the later one wins. Only read errors are returned as errors.
func ParseSupplied(r io.Reader, name string) (*Supplied, []types.Warning, error) {
	s := &Supplied{
		entries: make(map[string]types.Page),
		byURL:   make(map[string][]string),
	}
	var warnings []types.Warning
	warn := func(kind types.WarningKind, lineNo int, format string, args ...any) {
		warnings = append(warnings, types.Warning{
			Kind:    kind,
			Subject: fmt.Sprintf("%s:%d", name, lineNo),
			Message: fmt.Sprintf(format, args...),
		})
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	first := true
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		isFirst := first
		first = false

		if !utf8.Valid(line) {
			warn(types.WarnMalformedPage, lineNo, "page data is not utf-8 encoded, skipping")
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			if isFirst {
				warn(types.WarnInvalidPageHeader, lineNo, "ignoring invalid page header: %v", err)
			} else {
				warn(types.WarnMalformedPage, lineNo, "skipping invalid page: %v", err)
			}
			continue
		}
		if _, ok := fields["format"]; ok {
			if !isFirst {
				continue
			}
			var h types.PageListHeader
			if err := json.Unmarshal(line, &h); err != nil {
				warn(types.WarnInvalidPageHeader, lineNo, "ignoring invalid page header: %v", err)
				continue
			}
			s.Header = &h
			continue
		}

		var p types.Page
		if err := json.Unmarshal(line, &p); err != nil {
			warn(types.WarnMalformedPage, lineNo, "skipping invalid page: %v", err)
			continue
		}
		if p.URL == "" {
			warn(types.WarnMalformedPage, lineNo, "skipping page without url")
			continue
		}
		key, err := Key(p.URL, p.TS)
		if err != nil {
			warn(types.WarnMalformedPage, lineNo, "skipping page %s: %v", p.URL, err)
			continue
		}
		if _, dup := s.entries[key]; dup {
			warn(types.WarnDuplicatePage, lineNo, "page %s listed more than once, keeping the last entry", key)
		} else {
			s.order = append(s.order, key)
			if p.TS != "" {
				u := StripFragment(p.URL)
				s.byURL[u] = append(s.byURL[u], key)
			}
		}
		s.entries[key] = p
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("reading page list %s: %w", name, err)
	}
	return s, warnings, nil
}

// Len returns the number of entries not yet consumed.
func (s *Supplied) Len() int {
	return len(s.entries)
}

// ListHeader returns the header for the default page list, applying any
// id and title overrides from the supplied header.
func (s *Supplied) ListHeader(hasText bool) types.PageListHeader {
	h := Header(DefaultID, DefaultTitle, hasText)
	if s != nil && s.Header != nil {
		if s.Header.ID != "" {
			h.ID = s.Header.ID
		}
		if s.Header.Title != "" {
			h.Title = s.Header.Title
		}
	}
	return h
}

// Match looks p up under every candidate key and, on the first hit, merges
// the supplied entry into p and consumes it. A page without a ts falls
// back to the unconsumed timestamped entries for its URL, earliest in
// file order first, same scheme before other scheme. The supplied ts is
// only applied when p has none.
func (s *Supplied) Match(p *types.Page) bool {
	for _, key := range candidateKeys(p.URL, p.TS) {
		if s.consume(key, p) {
			return true
		}
	}
	if p.TS != "" {
		return false
	}
	for _, u := range schemeVariants(p.URL) {
		for _, key := range s.byURL[u] {
			if s.consume(key, p) {
				return true
			}
		}
	}
	return false
}

func (s *Supplied) consume(key string, p *types.Page) bool {
	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	entry.URL = ""
	p.Merge(entry)
	return true
}

// Unmatched returns the keys of entries never consumed, in file order.
func (s *Supplied) Unmatched() []string {
	var keys []string
	for _, k := range s.order {
		if _, ok := s.entries[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
