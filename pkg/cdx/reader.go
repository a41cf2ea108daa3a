package cdx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/mrhapile/wacz/pkg/types"
)

// Reader streams records out of a block-compressed CDX file. All gzip
// members are read in sequence, one line at a time, so memory use does
// not depend on index size.
type Reader struct {
	gz   *gzip.Reader
	br   *bufio.Reader
	line int
}

// NewReader returns a Reader over the compressed stream r.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening cdx stream: %w", err)
	}
	return &Reader{gz: gz, br: bufio.NewReaderSize(gz, 64*1024)}, nil
}

// NextLine returns the next non-empty raw line without its newline. It
// returns io.EOF when the stream is exhausted.
func (r *Reader) NextLine() ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) > 0 {
			r.line++
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				return line, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading cdx line %d: %w", r.line+1, err)
		}
	}
}

// Next returns the next record, or io.EOF.
func (r *Reader) Next() (types.CDXRecord, error) {
	line, err := r.NextLine()
	if err != nil {
		return types.CDXRecord{}, err
	}
	rec, err := ParseLine(line)
	if err != nil {
		return types.CDXRecord{}, fmt.Errorf("cdx line %d: %w", r.line, err)
	}
	return rec, nil
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

func (r *Reader) Close() error {
	return r.gz.Close()
}

// ReadIDX parses a secondary index.
func ReadIDX(r io.Reader) (types.IndexMeta, []types.IndexEntry, error) {
	var (
		meta    types.IndexMeta
		entries []types.IndexEntry
		sawMeta bool
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte(metaPrefix+" ")) {
			_, _, payload, err := splitLine(line)
			if err != nil {
				return meta, nil, err
			}
			if err := json.Unmarshal(payload, &meta); err != nil {
				return meta, nil, fmt.Errorf("invalid index header: %w", err)
			}
			sawMeta = true
			continue
		}
		e, err := ParseIndexEntry(line)
		if err != nil {
			return meta, nil, err
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return meta, nil, err
	}
	if !sawMeta {
		return meta, entries, errors.New("index has no !meta header")
	}
	return meta, entries, nil
}
