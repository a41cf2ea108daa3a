// Package rewrite projects the record index of a container onto the
// container itself, so a replay system can read records straight out of
// the container file by byte range.
package rewrite

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/mrhapile/wacz/pkg/bundler"
	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/types"
)

// Options controls the rewritten index.
type Options struct {
	// Prefix is prepended to the container's base name in every record,
	// e.g. "/disk/path/" gives "/disk/path/example.wacz".
	Prefix string

	Logger *slog.Logger
}

// Rewrite streams the CDX index of the container at path to out. Each
// record's filename becomes the container name and its offset becomes
// absolute within the container. It returns the number of lines written.
//
// Every archive member is checked before any line is written: a
// compressed member has no fixed byte range and fails the whole call.
func Rewrite(ctx context.Context, path string, out io.Writer, opts Options) (int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, &types.StructuralError{Path: path, Reason: fmt.Sprintf("not a readable container: %v", err)}
	}
	defer zr.Close()

	// 1. Locate archive members
	offsets := make(map[string]int64)
	var index *zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == bundler.CDXFile:
			index = f
		case strings.HasPrefix(f.Name, bundler.ArchiveDir):
			if f.Method != zip.Store {
				return 0, &types.StructuralError{Path: f.Name, Reason: "archive member is compressed; record offsets cannot address it"}
			}
			off, err := f.DataOffset()
			if err != nil {
				return 0, &types.StructuralError{Path: f.Name, Reason: err.Error()}
			}
			offsets[strings.TrimPrefix(f.Name, bundler.ArchiveDir)] = off
		}
	}
	if index == nil {
		return 0, &types.StructuralError{Path: bundler.CDXFile, Reason: "container has no record index"}
	}
	log.Debug("archive members located", "count", len(offsets))

	// 2. Stream the index
	rc, err := index.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", bundler.CDXFile, err)
	}
	defer rc.Close()
	rd, err := cdx.NewReader(rc)
	if err != nil {
		return 0, &types.StructuralError{Path: bundler.CDXFile, Reason: err.Error()}
	}
	defer rd.Close()

	name := opts.Prefix + filepath.Base(path)
	bw := bufio.NewWriter(out)
	n := 0
	for {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, &types.StructuralError{Path: bundler.CDXFile, Reason: fmt.Sprintf("line %d: %v", rd.Line(), err)}
		}
		base, ok := offsets[rec.Filename]
		if !ok {
			return n, &types.StructuralError{Path: bundler.CDXFile, Reason: fmt.Sprintf("line %d: unknown archive file %q", rd.Line(), rec.Filename)}
		}
		rec.Filename = name
		rec.Offset = types.NumString(base + int64(rec.Offset))

		line, err := cdx.FormatFlatLine(rec)
		if err != nil {
			return n, err
		}
		if _, err := bw.Write(line); err != nil {
			return n, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, err
	}
	log.Info("index rewritten", "container", name, "lines", n)
	return n, nil
}
