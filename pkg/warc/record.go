// Package warc indexes WARC capture files. It reads plain and per-record
// gzip files and produces the CDX records and detected pages stored in a
// container.
package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// Record types that produce index entries.
const (
	TypeResponse = "response"
	TypeRevisit  = "revisit"
	TypeResource = "resource"
	TypeRequest  = "request"
	TypeMetadata = "metadata"
	TypeWarcinfo = "warcinfo"
)

// PageInfoPrefix marks resource records that describe a page.
const PageInfoPrefix = "urn:pageinfo:"

// Record is a parsed WARC record header with its content block.
type Record struct {
	Version       string
	Header        textproto.MIMEHeader
	ContentLength int64

	// Block yields exactly ContentLength bytes.
	Block io.Reader
}

func (r *Record) Type() string      { return strings.ToLower(r.Header.Get("WARC-Type")) }
func (r *Record) TargetURI() string { return strings.Trim(r.Header.Get("WARC-Target-URI"), "<> ") }
func (r *Record) Date() string      { return r.Header.Get("WARC-Date") }

var errNotWARC = errors.New("not a WARC record")

// skipBlank consumes CR and LF bytes. It returns io.EOF when nothing else
// remains.
func skipBlank(br *bufio.Reader) error {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return err
		}
		if b[0] != '\r' && b[0] != '\n' {
			return nil
		}
		if _, err := br.ReadByte(); err != nil {
			return err
		}
	}
}

// readRecord parses the header of the record at the current position of
// br. The caller must consume Block before reading the next record.
func readRecord(br *bufio.Reader) (*Record, error) {
	tp := textproto.NewReader(br)
	version, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(version, "WARC/") {
		return nil, fmt.Errorf("%w: unexpected version line %q", errNotWARC, version)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("reading record header: %w", err)
	}
	cl, err := strconv.ParseInt(strings.TrimSpace(hdr.Get("Content-Length")), 10, 64)
	if err != nil || cl < 0 {
		return nil, fmt.Errorf("%w: invalid Content-Length %q", errNotWARC, hdr.Get("Content-Length"))
	}
	return &Record{
		Version:       version,
		Header:        hdr,
		ContentLength: cl,
		Block:         io.LimitReader(br, cl),
	}, nil
}

// countingReader counts the bytes consumed through it. It implements
// io.ByteReader so a gzip decoder reads exactly one member and no further.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
