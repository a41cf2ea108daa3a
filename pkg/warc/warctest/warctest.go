// Package warctest builds small WARC files for tests.
package warctest

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Record is one WARC record to be written.
type Record struct {
	Type        string
	TargetURI   string
	Date        string
	ContentType string
	Headers     map[string]string
	Block       []byte
}

// Span locates a written record within its file.
type Span struct {
	Offset int64
	Length int64
}

// Response returns a response record wrapping an HTTP/1.1 response with
// the given status, content type and body.
func Response(uri, date string, status int, contentType, body string) Record {
	var http bytes.Buffer
	fmt.Fprintf(&http, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	if contentType != "" {
		fmt.Fprintf(&http, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&http, "Content-Length: %d\r\n\r\n", len(body))
	http.WriteString(body)
	return Record{
		Type:        "response",
		TargetURI:   uri,
		Date:        date,
		ContentType: "application/http; msgtype=response",
		Block:       http.Bytes(),
	}
}

// Request returns a GET request record for uri.
func Request(uri, date string) Record {
	host := strings.TrimPrefix(strings.TrimPrefix(uri, "https://"), "http://")
	host, path, _ := strings.Cut(host, "/")
	return Record{
		Type:        "request",
		TargetURI:   uri,
		Date:        date,
		ContentType: "application/http; msgtype=request",
		Block:       []byte(fmt.Sprintf("GET /%s HTTP/1.1\r\nHost: %s\r\n\r\n", path, host)),
	}
}

// Resource returns a resource record.
func Resource(uri, date, contentType string, body []byte) Record {
	return Record{
		Type:        "resource",
		TargetURI:   uri,
		Date:        date,
		ContentType: contentType,
		Block:       body,
	}
}

// PageInfo returns a urn:pageinfo: resource record carrying a JSON page
// description.
func PageInfo(url, date, json string) Record {
	return Resource("urn:pageinfo:"+url, date, "application/json", []byte(json))
}

// Bytes serializes the record. The record id is derived from its content
// so output is reproducible.
func (r Record) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("WARC/1.1\r\n")
	fmt.Fprintf(&buf, "WARC-Type: %s\r\n", r.Type)
	fmt.Fprintf(&buf, "WARC-Record-ID: <urn:uuid:%s>\r\n", uuid.NewSHA1(uuid.NameSpaceURL, append([]byte(r.TargetURI+r.Date+r.Type), r.Block...)))
	if r.TargetURI != "" {
		fmt.Fprintf(&buf, "WARC-Target-URI: %s\r\n", r.TargetURI)
	}
	if r.Date != "" {
		fmt.Fprintf(&buf, "WARC-Date: %s\r\n", r.Date)
	}
	if r.ContentType != "" {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", r.ContentType)
	}
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, r.Headers[k])
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(r.Block))
	buf.Write(r.Block)
	buf.WriteString("\r\n\r\n")
	return buf.Bytes()
}

// Encode serializes records, compressing each one as its own gzip member
// when gz is set, and returns where each record landed.
func Encode(gz bool, records ...Record) ([]byte, []Span, error) {
	var (
		out   bytes.Buffer
		spans []Span
	)
	for _, r := range records {
		start := int64(out.Len())
		if gz {
			zw := gzip.NewWriter(&out)
			if _, err := zw.Write(r.Bytes()); err != nil {
				return nil, nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, nil, err
			}
		} else {
			out.Write(r.Bytes())
		}
		spans = append(spans, Span{Offset: start, Length: int64(out.Len()) - start})
	}
	return out.Bytes(), spans, nil
}

// WriteFile writes records to path. See Encode.
func WriteFile(path string, gz bool, records ...Record) ([]Span, error) {
	data, spans, err := Encode(gz, records...)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return spans, nil
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 404:
		return "Not Found"
	default:
		return "Status"
	}
}
