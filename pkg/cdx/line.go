package cdx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mrhapile/wacz/pkg/types"
)

const (
	// IndexFormat is declared in the "!meta" line of index.idx.
	IndexFormat = "cdxj-gzip-1.0"

	metaPrefix = "!meta"
)

// FormatLine renders a record as "<surt> <timestamp> <json>" without a
// trailing newline.
func FormatLine(r types.CDXRecord) ([]byte, error) {
	payload, err := types.MarshalCompact(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record for %s: %w", r.URL, err)
	}
	return joinLine(r.SURT, r.Timestamp, payload), nil
}

// FormatFlatLine is FormatLine with length and offset written as JSON
// numbers. It is used for indexes served outside the container.
func FormatFlatLine(r types.CDXRecord) ([]byte, error) {
	payload, err := r.MarshalNumeric()
	if err != nil {
		return nil, fmt.Errorf("encoding record for %s: %w", r.URL, err)
	}
	return joinLine(r.SURT, r.Timestamp, payload), nil
}

// ParseLine decodes a CDXJ line. Trailing whitespace is ignored.
func ParseLine(line []byte) (types.CDXRecord, error) {
	key, ts, payload, err := splitLine(line)
	if err != nil {
		return types.CDXRecord{}, err
	}
	r := types.CDXRecord{SURT: key, Timestamp: ts}
	if err := json.Unmarshal(payload, &r); err != nil {
		return types.CDXRecord{}, fmt.Errorf("invalid cdx payload for %s %s: %w", key, ts, err)
	}
	return r, nil
}

// FormatIndexEntry renders one sparse entry of index.idx.
func FormatIndexEntry(e types.IndexEntry) ([]byte, error) {
	payload, err := types.MarshalCompact(e)
	if err != nil {
		return nil, err
	}
	return joinLine(e.SURT, e.Timestamp, payload), nil
}

// ParseIndexEntry decodes one sparse entry of index.idx.
func ParseIndexEntry(line []byte) (types.IndexEntry, error) {
	key, ts, payload, err := splitLine(line)
	if err != nil {
		return types.IndexEntry{}, err
	}
	e := types.IndexEntry{SURT: key, Timestamp: ts}
	if err := json.Unmarshal(payload, &e); err != nil {
		return types.IndexEntry{}, fmt.Errorf("invalid index entry for %s %s: %w", key, ts, err)
	}
	return e, nil
}

// Less orders records by (surt, timestamp).
func Less(a, b types.CDXRecord) bool {
	if a.SURT != b.SURT {
		return a.SURT < b.SURT
	}
	return a.Timestamp < b.Timestamp
}

// Sort orders records by (surt, timestamp), keeping the input order of
// equal keys.
func Sort(records []types.CDXRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

func joinLine(key, ts string, payload []byte) []byte {
	line := make([]byte, 0, len(key)+len(ts)+len(payload)+2)
	line = append(line, key...)
	line = append(line, ' ')
	line = append(line, ts...)
	line = append(line, ' ')
	return append(line, payload...)
}

func splitLine(line []byte) (string, string, []byte, error) {
	line = bytes.TrimRight(line, "\r\n\t ")
	key, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return "", "", nil, fmt.Errorf("malformed cdx line %q", truncate(line))
	}
	ts, payload, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(payload) == 0 || payload[0] != '{' {
		return "", "", nil, fmt.Errorf("malformed cdx line %q", truncate(line))
	}
	return string(key), string(ts), payload, nil
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
