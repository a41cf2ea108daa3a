package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NumString is an integer that is written as a JSON string, the way CDX
// indexes store status, length and offset. It reads numbers, quoted
// numbers, and the "-" placeholder some indexers emit for unknown values.
type NumString int64

func (n NumString) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(n), 10))), nil
}

func (n *NumString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || s == "-" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric field %s: %w", data, err)
	}
	*n = NumString(v)
	return nil
}

// CDXRecord is one line of the record index. SURT and Timestamp form the
// sort key and are written in front of the JSON payload.
type CDXRecord struct {
	SURT      string `json:"-"`
	Timestamp string `json:"-"`

	URL          string    `json:"url"`
	Mime         string    `json:"mime,omitempty"`
	Status       NumString `json:"status,omitempty"`
	Digest       string    `json:"digest,omitempty"`
	Length       NumString `json:"length"`
	Offset       NumString `json:"offset"`
	Filename     string    `json:"filename"`
	RecordDigest string    `json:"recordDigest,omitempty"`

	// Extra holds payload fields not modelled above. They are written
	// after the known fields, in key order.
	Extra map[string]json.RawMessage `json:"-"`
}

var cdxKnownKeys = map[string]bool{
	"url": true, "mime": true, "status": true, "digest": true,
	"length": true, "offset": true, "filename": true, "recordDigest": true,
}

func (r CDXRecord) MarshalJSON() ([]byte, error) {
	type fields CDXRecord
	return marshalWithExtra(fields(r), r.Extra, cdxKnownKeys)
}

// MarshalNumeric is MarshalJSON with length and offset written as JSON
// numbers, for indexes read by replay tools that expect integers there.
func (r CDXRecord) MarshalNumeric() ([]byte, error) {
	fields := struct {
		URL          string    `json:"url"`
		Mime         string    `json:"mime,omitempty"`
		Status       NumString `json:"status,omitempty"`
		Digest       string    `json:"digest,omitempty"`
		Length       int64     `json:"length"`
		Offset       int64     `json:"offset"`
		Filename     string    `json:"filename"`
		RecordDigest string    `json:"recordDigest,omitempty"`
	}{
		URL:          r.URL,
		Mime:         r.Mime,
		Status:       r.Status,
		Digest:       r.Digest,
		Length:       int64(r.Length),
		Offset:       int64(r.Offset),
		Filename:     r.Filename,
		RecordDigest: r.RecordDigest,
	}
	return marshalWithExtra(fields, r.Extra, cdxKnownKeys)
}

func (r *CDXRecord) UnmarshalJSON(data []byte) error {
	type fields CDXRecord
	var f fields
	extra, err := unmarshalWithExtra(data, &f, cdxKnownKeys)
	if err != nil {
		return err
	}
	f.SURT, f.Timestamp = r.SURT, r.Timestamp
	*r = CDXRecord(f)
	r.Extra = extra
	return nil
}

// IndexMeta is the payload of the "!meta" header line of a secondary index.
type IndexMeta struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
}

// IndexEntry is one sparse entry of the secondary index. It addresses a
// compressed block of CDX lines beginning with the given key.
type IndexEntry struct {
	SURT      string `json:"-"`
	Timestamp string `json:"-"`

	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Digest string `json:"digest"`
}

// PageListHeader is the first line of a page list.
type PageListHeader struct {
	Format  string `json:"format"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	HasText bool   `json:"hasText,omitempty"`
}

// Page is one record of a page list.
type Page struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	TS        string `json:"ts,omitempty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	LoadState *int   `json:"loadState,omitempty"`
	Seed      *bool  `json:"seed,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var pageKnownKeys = map[string]bool{
	"id": true, "url": true, "ts": true, "title": true,
	"text": true, "loadState": true, "seed": true,
}

func (p Page) MarshalJSON() ([]byte, error) {
	type fields Page
	return marshalWithExtra(fields(p), p.Extra, pageKnownKeys)
}

func (p *Page) UnmarshalJSON(data []byte) error {
	type fields Page
	var f fields
	extra, err := unmarshalWithExtra(data, &f, pageKnownKeys)
	if err != nil {
		return err
	}
	*p = Page(f)
	p.Extra = extra
	return nil
}

// Merge overlays every field set on other onto p. TS is only taken from
// other when p has none, so a detected capture time is never replaced.
func (p *Page) Merge(other Page) {
	if other.ID != "" {
		p.ID = other.ID
	}
	if other.URL != "" {
		p.URL = other.URL
	}
	if p.TS == "" {
		p.TS = other.TS
	}
	if other.Title != "" {
		p.Title = other.Title
	}
	if other.Text != "" {
		p.Text = other.Text
	}
	if other.LoadState != nil {
		v := *other.LoadState
		p.LoadState = &v
	}
	if other.Seed != nil {
		v := *other.Seed
		p.Seed = &v
	}
	if len(other.Extra) > 0 && p.Extra == nil {
		p.Extra = make(map[string]json.RawMessage, len(other.Extra))
	}
	for k, v := range other.Extra {
		p.Extra[k] = v
	}
}

// MarshalCompact encodes v without HTML escaping, so URLs keep their
// literal '&', '<' and '>'. The trailing newline added by json.Encoder is
// removed.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func marshalWithExtra(known any, extra map[string]json.RawMessage, knownKeys map[string]bool) ([]byte, error) {
	b, err := MarshalCompact(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	empty := len(b) == 2
	for _, k := range keys {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		kb, err := MarshalCompact(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalWithExtra(data []byte, known any, knownKeys map[string]bool) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range all {
		if knownKeys[k] {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
