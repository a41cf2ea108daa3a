package bundler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/pages"
	"github.com/mrhapile/wacz/pkg/signing"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/mrhapile/wacz/pkg/warc"
)

// DefaultSoftware is written to the manifest when Config.Software is empty.
const DefaultSoftware = "github.com/mrhapile/wacz"

// Indexer turns capture files into CDX records and detected pages.
type Indexer interface {
	Index(ctx context.Context, paths []string) (*warc.Result, error)
}

// Option configures the bundling process.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	timestamp  time.Time
	signer     signing.Signer
	httpClient *http.Client
	indexer    Indexer
}

// WithTimestamp sets a specific creation time for deterministic output.
// If zero, defaults to time.Now() (which breaks determinism across runs).
func WithTimestamp(t time.Time) Option {
	return func(c *config) {
		c.timestamp = t
	}
}

// WithLogger sets the logger for progress messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithSigner overrides the signer built from the configuration.
func WithSigner(s signing.Signer) Option {
	return func(c *config) {
		c.signer = s
	}
}

// WithHTTPClient sets the client used to reach a remote signer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithIndexer replaces the capture file indexer.
func WithIndexer(ix Indexer) Option {
	return func(c *config) {
		c.indexer = ix
	}
}

// run carries the state of one packaging run.
type run struct {
	cfg      Config
	opts     *config
	log      *slog.Logger
	warnings []types.Warning
}

func (r *run) warn(ws ...types.Warning) {
	for _, w := range ws {
		r.log.Warn(w.Message, "kind", w.Kind, "subject", w.Subject)
	}
	r.warnings = append(r.warnings, ws...)
}

// Build packages the configured capture files into a container at
// cfg.Output. Configuration and pre-check failures return before any
// output is created. The container is assembled in a temporary file next
// to the output and renamed into place only when complete.
func Build(ctx context.Context, cfg Config, opts ...Option) (*types.BundleResult, error) {
	// 1. Configure
	o := &config{
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.timestamp = o.timestamp.UTC().Truncate(time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &run{cfg: cfg, opts: o, log: o.logger}
	r.log.Debug("packaging", "config", cfg)

	// 2. Pre-checks
	logs, err := r.precheck()
	if err != nil {
		return nil, err
	}
	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	// 3. Index captures
	indexer := o.indexer
	if indexer == nil {
		indexer = warc.NewIndexer(warc.Options{
			Algorithm:   cfg.Algorithm,
			DetectPages: cfg.DetectPages || (cfg.PageMode == PagesGenerated && cfg.PagesFile != ""),
			ExtractText: cfg.ExtractText,
			Logger:      r.log,
		})
	}
	r.log.Info("indexing captures", "files", len(cfg.Inputs))
	idx, err := indexer.Index(ctx, cfg.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to index captures: %w", err)
	}
	r.warn(idx.Warnings...)

	// 4. Page lists
	lists, err := r.pageLists(idx.Pages)
	if err != nil {
		return nil, err
	}

	// 5. Assemble
	dir := filepath.Dir(cfg.Output)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(cfg.Output)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary container: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	mb := NewManifestBuilder(cfg.Algorithm, o.timestamp, cfg.Software)
	if err := mb.SetProvenance(r.provenance(lists.defaultPages)); err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(tmp, 1<<20)
	cw := NewContainerWriter(bw, mb, o.timestamp)

	if err := r.writeArchives(cw); err != nil {
		return nil, err
	}
	if err := r.writeIndexes(ctx, cw, dir, idx.Records); err != nil {
		return nil, err
	}
	for _, l := range lists.files {
		if l.src != "" {
			err = addFile(cw, l.path, zip.Deflate, l.src)
		} else {
			_, err = cw.AddResource(l.path, zip.Deflate, bytes.NewReader(l.data))
		}
		if err != nil {
			return nil, err
		}
	}
	for _, name := range logs {
		if err := addFile(cw, LogPath(name), zip.Store, filepath.Join(cfg.LogDir, name)); err != nil {
			return nil, err
		}
	}

	// 6. Finalize manifest and digest
	manifestBytes, err := mb.Finalize()
	if err != nil {
		return nil, err
	}
	if err := cw.AddFile(ManifestFile, manifestBytes); err != nil {
		return nil, err
	}
	env, warns, err := mb.SignDigest(ctx, manifestBytes, signer)
	if err != nil {
		return nil, err
	}
	r.warn(warns...)
	envBytes, err := marshalIndent(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal digest: %w", err)
	}
	if err := cw.AddFile(DigestFile, envBytes); err != nil {
		return nil, err
	}

	// 7. Commit
	if err := cw.Close(); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write container: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close container: %w", err)
	}
	if err := os.Rename(tmp.Name(), cfg.Output); err != nil {
		return nil, fmt.Errorf("failed to move container into place: %w", err)
	}
	committed = true

	absPath, err := filepath.Abs(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	r.log.Info("container written",
		"path", absPath,
		"members", cw.Members(),
		"size", humanize.Bytes(uint64(info.Size())),
		"content", humanize.Bytes(uint64(cw.Written())),
		"warnings", len(r.warnings))

	return &types.BundleResult{
		ArchivePath: absPath,
		FileCount:   cw.Members(),
		Manifest:    mb.Manifest(),
		Digest:      env,
		SizeBytes:   info.Size(),
		Records:     len(idx.Records),
		Pages:       len(lists.defaultPages),
		Warnings:    r.warnings,
	}, nil
}

// precheck verifies every input before anything is written and returns
// the names of the log files to attach.
func (r *run) precheck() ([]string, error) {
	seen := make(map[string]string, len(r.cfg.Inputs))
	for _, in := range r.cfg.Inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, &types.ConfigurationError{Option: "inputs", Reason: err.Error()}
		}
		if !info.Mode().IsRegular() {
			return nil, &types.ConfigurationError{Option: "inputs", Reason: in + " is not a regular file"}
		}
		base := filepath.Base(in)
		if prev, ok := seen[base]; ok {
			return nil, &types.ConfigurationError{Option: "inputs", Reason: fmt.Sprintf("%s and %s would both be stored as %s", prev, in, ArchivePath(base))}
		}
		seen[base] = in
	}

	supplied := []string{r.cfg.PagesFile, r.cfg.ExtraPagesFile}
	for _, pl := range r.cfg.PageLists {
		supplied = append(supplied, pl.Path)
	}
	for _, p := range supplied {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, &types.ConfigurationError{Option: "pages", Reason: err.Error()}
		}
	}

	if r.cfg.PageMode == PagesCopied {
		if err := pages.ValidateFile(r.cfg.PagesFile); err != nil {
			return nil, err
		}
	}

	if r.cfg.LogDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.cfg.LogDir)
	if err != nil {
		return nil, &types.ConfigurationError{Option: "log-directory", Reason: err.Error()}
	}
	var logs []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			logs = append(logs, e.Name())
		}
	}
	sort.Strings(logs)
	return logs, nil
}

func (r *run) signer() (signing.Signer, error) {
	switch {
	case r.opts.signer != nil:
		return r.opts.signer, nil
	case r.cfg.SigningKey != "":
		s, err := signing.LoadKeySigner(r.cfg.SigningKey, r.cfg.SigningCert)
		if err != nil {
			return nil, &types.ConfigurationError{Option: "signing-key", Reason: err.Error()}
		}
		s.Software = r.cfg.Software
		return s, nil
	case r.cfg.SigningURL != "":
		return &signing.RemoteSigner{
			URL:     r.cfg.SigningURL,
			Token:   r.cfg.SigningToken,
			Client:  r.opts.httpClient,
			Timeout: r.cfg.SigningTimeout,
		}, nil
	}
	return nil, nil
}

func (r *run) provenance(list []types.Page) Provenance {
	p := Provenance{
		Title:        r.cfg.Title,
		Description:  r.cfg.Description,
		MainPageURL:  r.cfg.MainPageURL,
		MainPageDate: r.cfg.MainPageDate,
	}
	if p.MainPageURL == "" || p.MainPageDate != "" {
		return p
	}
	ts := r.cfg.MainPageTS
	if ts == "" {
		for _, pg := range list {
			if pages.StripFragment(pg.URL) == pages.StripFragment(p.MainPageURL) && pg.TS != "" {
				ts = pg.TS
				break
			}
		}
	}
	if ts == "" {
		return p
	}
	if t, err := cdx.ParseTimestamp(ts); err == nil {
		p.MainPageDate = t.UTC().Format(CreatedLayout)
	}
	return p
}

func (r *run) writeArchives(cw *ContainerWriter) error {
	for _, in := range r.cfg.Inputs {
		name := ArchivePath(in)
		if err := addFile(cw, name, zip.Store, in); err != nil {
			return err
		}
		r.log.Debug("archived", "member", name)
	}
	return nil
}

// writeIndexes writes the compressed CDX through a spool file in dir, so
// its size does not bound memory, then the sparse index.
func (r *run) writeIndexes(ctx context.Context, cw *ContainerWriter, dir string, records []types.CDXRecord) error {
	spool, err := os.CreateTemp(dir, ".wacz-index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create index spool: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	iw, err := cdx.NewIndexWriter(spool, r.cfg.LinesPerBlock, r.cfg.Algorithm)
	if err != nil {
		return err
	}
	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := iw.Write(rec); err != nil {
			return fmt.Errorf("failed to write index: %w", err)
		}
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := cw.AddResource(CDXFile, zip.Store, spool); err != nil {
		return err
	}

	var idxBuf bytes.Buffer
	if err := cdx.WriteIDX(&idxBuf, filepath.Base(CDXFile), iw.Entries()); err != nil {
		return fmt.Errorf("failed to write sparse index: %w", err)
	}
	if _, err := cw.AddResource(IDXFile, zip.Deflate, &idxBuf); err != nil {
		return err
	}
	r.log.Info("index written", "records", len(records), "blocks", len(iw.Entries()))
	return nil
}

func addFile(cw *ContainerWriter, name string, method uint16, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	_, err = cw.AddResource(name, method, f)
	return err
}

// pageFile is a page list member ready to be written. Copied lists
// are read from src.
type pageFile struct {
	path string
	data []byte
	src  string
}

type pageListSet struct {
	defaultPages []types.Page
	files        []pageFile
}

// pageLists produces the page list members in write order: the default
// list, the extra list, then named lists.
func (r *run) pageLists(detected []types.Page) (*pageListSet, error) {
	set := &pageListSet{}
	var extra []types.Page

	// Default list
	if r.cfg.PageMode == PagesCopied {
		set.files = append(set.files, pageFile{path: PagesFile, src: r.cfg.PagesFile})
	} else {
		var supplied *pages.Supplied
		if r.cfg.PagesFile != "" {
			f, err := os.Open(r.cfg.PagesFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open pages file: %w", err)
			}
			s, warns, err := pages.ParseSupplied(f, filepath.Base(r.cfg.PagesFile))
			f.Close()
			if err != nil {
				return nil, err
			}
			r.warn(warns...)
			supplied = s
		}
		res := pages.Reconcile(detected, supplied)
		r.warn(res.Warnings...)

		list := res.Pages
		if r.cfg.SplitSeeds {
			list, extra = pages.SplitSeeds(list)
		}
		set.defaultPages = list

		hasText := false
		for _, p := range list {
			if p.Text != "" {
				hasText = true
				break
			}
		}
		var buf bytes.Buffer
		if err := pages.Write(&buf, supplied.ListHeader(hasText), list); err != nil {
			return nil, fmt.Errorf("failed to encode page list: %w", err)
		}
		set.files = append(set.files, pageFile{path: PagesFile, data: buf.Bytes()})
		r.log.Info("page list built", "pages", len(list), "unmatched", len(res.Unmatched))
	}

	// Extra list
	extraFile, err := r.extraPages(extra)
	if err != nil {
		return nil, err
	}
	if extraFile != nil {
		set.files = append(set.files, *extraFile)
	}

	// Named lists
	for _, pl := range r.cfg.PageLists {
		f, err := r.namedList(pl)
		if err != nil {
			return nil, err
		}
		if f != nil {
			set.files = append(set.files, *f)
		}
	}
	return set, nil
}

func (r *run) extraPages(split []types.Page) (*pageFile, error) {
	if r.cfg.PageMode == PagesCopied {
		if r.cfg.ExtraPagesFile == "" {
			return nil, nil
		}
		if err := pages.ValidateFile(r.cfg.ExtraPagesFile); err != nil {
			r.warn(types.Warning{Kind: types.WarnInvalidPageList, Subject: r.cfg.ExtraPagesFile, Message: "ignoring invalid extra pages file: " + err.Error()})
			return nil, nil
		}
		return &pageFile{path: ExtraPagesFile, src: r.cfg.ExtraPagesFile}, nil
	}

	if r.cfg.ExtraPagesFile == "" && len(split) == 0 {
		return nil, nil
	}

	var lines [][]byte
	if r.cfg.ExtraPagesFile != "" {
		var err error
		lines, err = r.filterFile(r.cfg.ExtraPagesFile)
		if err != nil {
			return nil, err
		}
	}

	data, err := encodeList(lines, pages.Header(pages.ExtraID, pages.ExtraTitle, false), split)
	if err != nil {
		return nil, err
	}
	return &pageFile{path: ExtraPagesFile, data: data}, nil
}

func (r *run) namedList(pl PageList) (*pageFile, error) {
	path := pages.ListFileName(pl.Name)
	if r.cfg.PageMode == PagesCopied {
		if err := pages.ValidateFile(pl.Path); err != nil {
			r.warn(types.Warning{Kind: types.WarnInvalidPageList, Subject: pl.Path, Message: fmt.Sprintf("ignoring invalid page list %q: %v", pl.Name, err)})
			return nil, nil
		}
		return &pageFile{path: path, src: pl.Path}, nil
	}

	lines, err := r.filterFile(pl.Path)
	if err != nil {
		return nil, err
	}
	data, err := encodeList(lines, pages.Header(pl.Name, pl.Name, false), nil)
	if err != nil {
		return nil, err
	}
	return &pageFile{path: path, data: data}, nil
}

func (r *run) filterFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	lines, warns, err := pages.FilterJSONLines(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	r.warn(warns...)
	return lines, nil
}

// encodeList writes filtered page lines under their own header, or under
// fallback when the first line is not one, followed by extra pages.
func encodeList(lines [][]byte, fallback types.PageListHeader, extra []types.Page) ([]byte, error) {
	var buf bytes.Buffer
	enc := pages.NewEncoder(&buf)
	if len(lines) > 0 && pages.IsHeader(lines[0]) {
		if err := enc.Raw(lines[0]); err != nil {
			return nil, err
		}
		lines = lines[1:]
	} else if err := enc.Header(fallback); err != nil {
		return nil, err
	}
	for _, l := range lines {
		if pages.IsHeader(l) {
			continue
		}
		if err := enc.Raw(l); err != nil {
			return nil, err
		}
	}
	for _, p := range extra {
		if err := enc.Page(p); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to encode page list: %w", err)
	}
	return buf.Bytes(), nil
}
