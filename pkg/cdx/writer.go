package cdx

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
)

// DefaultLinesPerBlock is the number of CDX lines compressed together in
// one gzip member.
const DefaultLinesPerBlock = 1024

// ErrWriterClosed is wrapped in a StateError when a closed IndexWriter is
// written to.
var ErrWriterClosed = errors.New("index writer is closed")

// IndexWriter writes sorted CDX records to a block-compressed stream. Each
// block of lines is an independent gzip member, and every block is
// recorded as an IndexEntry so a reader can seek to it directly.
type IndexWriter struct {
	w         io.Writer
	lines     int
	algorithm hashing.Algorithm

	block    bytes.Buffer
	pending  int
	first    types.CDXRecord
	last     types.CDXRecord
	offset   int64
	records  int
	entries  []types.IndexEntry
	gz       *gzip.Writer
	closed   bool
	compress bytes.Buffer
}

// NewIndexWriter returns a writer that emits blocks of linesPerBlock
// lines to w. Block digests use the given algorithm.
func NewIndexWriter(w io.Writer, linesPerBlock int, algorithm hashing.Algorithm) (*IndexWriter, error) {
	if linesPerBlock <= 0 {
		linesPerBlock = DefaultLinesPerBlock
	}
	if _, err := algorithm.New(); err != nil {
		return nil, err
	}
	gz, err := gzip.NewWriterLevel(io.Discard, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	return &IndexWriter{w: w, lines: linesPerBlock, algorithm: algorithm, gz: gz}, nil
}

// Write appends one record. Records must arrive in (surt, timestamp) order.
func (iw *IndexWriter) Write(r types.CDXRecord) error {
	if iw.closed {
		return &types.StateError{Op: "cdx write", Err: ErrWriterClosed}
	}
	if iw.records > 0 && Less(r, iw.last) {
		return fmt.Errorf("cdx record %s %s out of order after %s %s", r.SURT, r.Timestamp, iw.last.SURT, iw.last.Timestamp)
	}
	line, err := FormatLine(r)
	if err != nil {
		return err
	}
	if iw.pending == 0 {
		iw.first = r
	}
	iw.block.Write(line)
	iw.block.WriteByte('\n')
	iw.pending++
	iw.records++
	iw.last = r

	if iw.pending >= iw.lines {
		return iw.flush()
	}
	return nil
}

// Close flushes the final partial block. It does not close the
// underlying writer.
func (iw *IndexWriter) Close() error {
	if iw.closed {
		return nil
	}
	iw.closed = true
	return iw.flush()
}

// Entries returns the sparse index entries of every flushed block.
func (iw *IndexWriter) Entries() []types.IndexEntry {
	return iw.entries
}

// Records returns the number of records written.
func (iw *IndexWriter) Records() int {
	return iw.records
}

func (iw *IndexWriter) flush() error {
	if iw.pending == 0 {
		return nil
	}
	iw.compress.Reset()
	iw.gz.Reset(&iw.compress)
	if _, err := iw.gz.Write(iw.block.Bytes()); err != nil {
		return fmt.Errorf("compressing cdx block: %w", err)
	}
	if err := iw.gz.Close(); err != nil {
		return fmt.Errorf("compressing cdx block: %w", err)
	}

	compressed := iw.compress.Bytes()
	digest, err := hashing.DigestBytes(iw.algorithm, compressed)
	if err != nil {
		return err
	}
	if _, err := iw.w.Write(compressed); err != nil {
		return fmt.Errorf("writing cdx block: %w", err)
	}

	iw.entries = append(iw.entries, types.IndexEntry{
		SURT:      iw.first.SURT,
		Timestamp: iw.first.Timestamp,
		Offset:    iw.offset,
		Length:    int64(len(compressed)),
		Digest:    digest,
	})
	iw.offset += int64(len(compressed))
	iw.block.Reset()
	iw.pending = 0
	return nil
}

// WriteIDX writes the secondary index: a "!meta" line naming the block
// format and the indexed file, then one line per block.
func WriteIDX(w io.Writer, filename string, entries []types.IndexEntry) error {
	meta, err := types.MarshalCompact(types.IndexMeta{Format: IndexFormat, Filename: filename})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s 0 %s\n", metaPrefix, meta); err != nil {
		return fmt.Errorf("writing index header: %w", err)
	}
	for _, e := range entries {
		line, err := FormatIndexEntry(e)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("writing index entry: %w", err)
		}
	}
	return nil
}
