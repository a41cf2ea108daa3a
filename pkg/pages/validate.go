package pages

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mrhapile/wacz/pkg/types"
)

// ValidateFile checks that the page list at path can be copied into a
// container verbatim: the first line is a header with format and id, and
// every later non-empty line is a page with url and ts.
func ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &types.StructuralError{Path: path, Reason: fmt.Sprintf("cannot open page list: %v", err)}
	}
	defer f.Close()
	return Validate(f, path)
}

// Validate is ValidateFile over a reader.
func Validate(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	sawHeader := false
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			return &types.StructuralError{Path: name, Reason: fmt.Sprintf("line %d is not a JSON object: %v", lineNo, err)}
		}
		required := []string{"url", "ts"}
		if !sawHeader {
			required = []string{"format", "id"}
		}
		for _, k := range required {
			if _, ok := fields[k]; !ok {
				return &types.StructuralError{Path: name, Reason: fmt.Sprintf("line %d has no %q field", lineNo, k)}
			}
		}
		sawHeader = true
	}
	if err := sc.Err(); err != nil {
		return &types.StructuralError{Path: name, Reason: fmt.Sprintf("reading page list: %v", err)}
	}
	if !sawHeader {
		return &types.StructuralError{Path: name, Reason: "page list is empty"}
	}
	return nil
}

// FilterJSONLines returns the lines of r that are JSON objects, compacted,
// in order. Every other non-empty line is dropped with a warning.
func FilterJSONLines(r io.Reader, name string) ([][]byte, []types.Warning, error) {
	var (
		lines    [][]byte
		warnings []types.Warning
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(line, &obj); err != nil {
			warnings = append(warnings, types.Warning{
				Kind:    types.WarnInvalidExtraPage,
				Subject: fmt.Sprintf("%s:%d", name, lineNo),
				Message: fmt.Sprintf("ignoring invalid page: %v", err),
			})
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, line); err != nil {
			return nil, warnings, err
		}
		lines = append(lines, buf.Bytes())
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("reading %s: %w", name, err)
	}
	return lines, warnings, nil
}

// IsHeader reports whether a page list line is a header.
func IsHeader(line []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return false
	}
	_, ok := fields["format"]
	return ok
}
