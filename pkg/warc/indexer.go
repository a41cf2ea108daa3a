package warc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
)

// Options controls what the indexer extracts.
type Options struct {
	// Algorithm computes record digests and any payload digest missing
	// from the record header.
	Algorithm hashing.Algorithm

	// DetectPages turns successful HTML responses into pages. Pages
	// described by urn:pageinfo: records are always detected.
	DetectPages bool

	// ExtractText adds the visible text of detected HTML pages.
	ExtractText bool

	Logger *slog.Logger
}

// Result holds the records and pages found in a set of capture files.
type Result struct {
	// Records is sorted by (surt, timestamp).
	Records  []types.CDXRecord
	Pages    []types.Page
	Warnings []types.Warning
}

// Indexer reads capture files into CDX records and pages.
type Indexer struct {
	opts Options
	log  *slog.Logger
}

func NewIndexer(opts Options) *Indexer {
	if opts.Algorithm == "" {
		opts.Algorithm = hashing.Default
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Indexer{opts: opts, log: log}
}

// Index reads every path in order. Each record's filename is the base
// name of the file it came from.
func (ix *Indexer) Index(ctx context.Context, paths []string) (*Result, error) {
	res := &Result{}
	seen := make(map[string]bool)
	for _, path := range paths {
		if err := ix.indexFile(ctx, path, res, seen); err != nil {
			return nil, err
		}
	}
	cdx.Sort(res.Records)
	return res, nil
}

func (ix *Indexer) indexFile(ctx context.Context, path string, res *Result, seen map[string]bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening capture file: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		ix.log.Debug("indexing capture file", "path", path, "size", humanize.IBytes(uint64(info.Size())))
	}

	s := &scan{
		ix:       ix,
		f:        f,
		filename: filepath.Base(path),
		res:      res,
		seen:     seen,
	}
	br := bufio.NewReaderSize(f, 64*1024)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading %s: %w", s.filename, err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return s.gzipped(ctx, br)
	}
	return s.plain(ctx, br)
}

// scan holds the state of indexing one capture file.
type scan struct {
	ix       *Indexer
	f        *os.File
	filename string
	res      *Result
	seen     map[string]bool
}

// plain walks an uncompressed file. A record spans from its version line
// to the blank lines that follow its block.
func (s *scan) plain(ctx context.Context, br *bufio.Reader) error {
	cr := &countingReader{r: br}
	rd := bufio.NewReaderSize(cr, 64*1024)
	pos := func() int64 { return cr.n - int64(rd.Buffered()) }

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := skipBlank(rd); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", s.filename, err)
		}
		offset := pos()
		rec, err := readRecord(rd)
		if err != nil {
			return fmt.Errorf("reading %s at offset %d: %w", s.filename, offset, err)
		}
		entry, page, indexErr := s.ix.indexRecord(rec)
		if err := drain(rec); err != nil {
			return fmt.Errorf("reading %s at offset %d: %w", s.filename, offset, err)
		}
		if err := skipBlank(rd); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading %s: %w", s.filename, err)
		}
		if err := s.add(entry, page, indexErr, offset, pos()-offset); err != nil {
			return err
		}
	}
}

// gzipped walks a file of per-record gzip members. A record's offset and
// length address its compressed member.
func (s *scan) gzipped(ctx context.Context, br *bufio.Reader) error {
	cr := &countingReader{r: br}
	var (
		gz *gzip.Reader
		rd *bufio.Reader
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", s.filename, err)
		}

		offset := cr.n
		var err error
		if gz == nil {
			gz, err = gzip.NewReader(cr)
		} else {
			err = gz.Reset(cr)
		}
		if err != nil {
			return fmt.Errorf("reading gzip member of %s at offset %d: %w", s.filename, offset, err)
		}
		gz.Multistream(false)
		if rd == nil {
			rd = bufio.NewReaderSize(gz, 64*1024)
		} else {
			rd.Reset(gz)
		}

		if err := skipBlank(rd); err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("reading %s at offset %d: %w", s.filename, offset, err)
		}
		rec, err := readRecord(rd)
		if err != nil {
			return fmt.Errorf("reading %s at offset %d: %w", s.filename, offset, err)
		}
		entry, page, indexErr := s.ix.indexRecord(rec)
		if err := drain(rec); err != nil {
			return fmt.Errorf("reading %s at offset %d: %w", s.filename, offset, err)
		}
		// Consume the member trailer so the count reaches the next member.
		if _, err := io.Copy(io.Discard, rd); err != nil {
			return fmt.Errorf("reading gzip member of %s at offset %d: %w", s.filename, offset, err)
		}
		if err := s.add(entry, page, indexErr, offset, cr.n-offset); err != nil {
			return err
		}
	}
}

// add records the outcome of indexing one record. Records that could not
// be indexed become warnings.
func (s *scan) add(entry *types.CDXRecord, page *types.Page, indexErr error, offset, length int64) error {
	if indexErr != nil {
		s.res.Warnings = append(s.res.Warnings, types.Warning{
			Kind:    types.WarnSkippedRecord,
			Subject: fmt.Sprintf("%s@%d", s.filename, offset),
			Message: indexErr.Error(),
		})
		return nil
	}
	if entry != nil {
		_, recDigest, err := hashing.Digest(s.ix.opts.Algorithm, io.NewSectionReader(s.f, offset, length))
		if err != nil {
			return fmt.Errorf("hashing record at %s@%d: %w", s.filename, offset, err)
		}
		entry.Filename = s.filename
		entry.Offset = types.NumString(offset)
		entry.Length = types.NumString(length)
		entry.RecordDigest = recDigest
		s.res.Records = append(s.res.Records, *entry)
	}
	if page != nil {
		key := page.TS + "/" + page.URL
		if !s.seen[key] {
			s.seen[key] = true
			s.res.Pages = append(s.res.Pages, *page)
		}
	}
	return nil
}

// drain consumes what indexing left of the record block and reports
// blocks shorter than their declared length.
func drain(rec *Record) error {
	if _, err := io.Copy(io.Discard, rec.Block); err != nil {
		return err
	}
	if lr, ok := rec.Block.(*io.LimitedReader); ok && lr.N > 0 {
		return fmt.Errorf("record block truncated: %d of %d bytes missing", lr.N, rec.ContentLength)
	}
	return nil
}

// prefixBuffer keeps the first limit bytes written to it and discards the
// rest.
type prefixBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (p *prefixBuffer) Write(b []byte) (int, error) {
	if room := p.limit - p.buf.Len(); room > 0 {
		if len(b) > room {
			p.buf.Write(b[:room])
		} else {
			p.buf.Write(b)
		}
	}
	return len(b), nil
}

// indexRecord builds the CDX record and detected page, if any, for one
// WARC record, reading as much of its block as it needs. Both are nil for
// record types that are not indexed.
func (ix *Indexer) indexRecord(rec *Record) (*types.CDXRecord, *types.Page, error) {
	typ := rec.Type()
	if typ != TypeResponse && typ != TypeRevisit && typ != TypeResource {
		return nil, nil, nil
	}
	uri := rec.TargetURI()
	if uri == "" {
		return nil, nil, fmt.Errorf("%s record has no WARC-Target-URI", typ)
	}
	ts, err := cdx.TimestampFromISO(rec.Date())
	if err != nil {
		return nil, nil, fmt.Errorf("%s record for %s: %w", typ, uri, err)
	}

	entry := &types.CDXRecord{
		SURT:      cdx.SURT(uri),
		Timestamp: ts,
		URL:       uri,
		Digest:    rec.Header.Get("WARC-Payload-Digest"),
	}

	var (
		body      io.Reader
		capture   *prefixBuffer
		isPageDoc bool
	)
	switch typ {
	case TypeResponse, TypeRevisit:
		resp, err := http.ReadResponse(bufio.NewReader(rec.Block), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%s record for %s: invalid http response: %w", typ, uri, err)
		}
		defer resp.Body.Close()
		entry.Status = types.NumString(resp.StatusCode)
		entry.Mime = mediaType(resp.Header.Get("Content-Type"))
		if typ == TypeRevisit {
			entry.Mime = "warc/revisit"
			break
		}
		body = resp.Body
		if ix.opts.DetectPages && resp.StatusCode == http.StatusOK && isHTML(entry.Mime) && isHTTP(uri) {
			capture = &prefixBuffer{limit: maxHTMLSize}
		}

	case TypeResource:
		entry.Status = http.StatusOK
		entry.Mime = mediaType(rec.Header.Get("Content-Type"))
		body = rec.Block
		if strings.HasPrefix(uri, PageInfoPrefix) {
			capture = &prefixBuffer{limit: maxHTMLSize}
			isPageDoc = true
		}
	}

	if body != nil {
		h, err := hashing.NewHasher(ix.opts.Algorithm)
		if err != nil {
			return nil, nil, err
		}
		var w io.Writer = h
		if capture != nil {
			w = io.MultiWriter(h, capture)
		}
		// Truncated captures are indexed with the digest of what was kept.
		// Any other read failure skips the record.
		if _, err := io.Copy(w, body); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, fmt.Errorf("%s record for %s: reading body: %w", typ, uri, err)
		}
		if entry.Digest == "" {
			entry.Digest = h.Sum()
		}
	}

	var page *types.Page
	switch {
	case isPageDoc:
		if p, err := pageInfo(uri, ts, capture.buf.Bytes()); err == nil {
			page = p
		} else {
			ix.log.Debug("ignoring unreadable page info record", "url", uri, "error", err)
		}
	case capture != nil:
		page = ix.htmlPage(uri, ts, capture.buf.Bytes())
	}
	return entry, page, nil
}

func (ix *Indexer) htmlPage(uri, ts string, body []byte) *types.Page {
	title, text := extractPage(bytes.NewReader(body), ix.opts.ExtractText)
	iso, _ := cdx.ISOFromTimestamp(ts)
	p := &types.Page{
		ID:    pageID(ts, uri),
		URL:   uri,
		TS:    iso,
		Title: title,
	}
	if ix.opts.ExtractText {
		p.Text = text
	}
	return p
}

// pageInfo decodes the JSON body of a urn:pageinfo: record.
func pageInfo(uri, ts string, body []byte) (*types.Page, error) {
	var info struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		TS        string `json:"ts"`
		Title     string `json:"title"`
		Text      string `json:"text"`
		LoadState *int   `json:"loadState"`
		Seed      *bool  `json:"seed"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	if info.URL == "" {
		info.URL = strings.TrimPrefix(uri, PageInfoPrefix)
	}
	iso, _ := cdx.ISOFromTimestamp(ts)
	if info.TS != "" {
		if v, err := cdx.ISOFromTimestamp(info.TS); err == nil {
			iso = v
		}
	}
	if info.ID == "" {
		norm, _ := cdx.TimestampFromISO(iso)
		info.ID = pageID(norm, info.URL)
	}
	return &types.Page{
		ID:        info.ID,
		URL:       info.URL,
		TS:        iso,
		Title:     info.Title,
		Text:      info.Text,
		LoadState: info.LoadState,
		Seed:      info.Seed,
	}, nil
}

// pageID derives a stable page id from the capture time and URL.
func pageID(ts, url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ts+"/"+url)).String()
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return "unk"
	}
	return mt
}

func isHTTP(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
