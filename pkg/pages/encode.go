package pages

import (
	"bufio"
	"io"

	"github.com/mrhapile/wacz/pkg/types"
)

// Encoder writes a page list one line at a time.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Header writes the header line. It must be called first.
func (e *Encoder) Header(h types.PageListHeader) error {
	if h.Format == "" {
		h.Format = Format
	}
	return e.encode(h)
}

func (e *Encoder) Page(p types.Page) error {
	return e.encode(p)
}

// Raw writes a pre-encoded JSON line.
func (e *Encoder) Raw(line []byte) error {
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	return e.w.WriteByte('\n')
}

// Flush writes any buffered lines to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

func (e *Encoder) encode(v any) error {
	b, err := types.MarshalCompact(v)
	if err != nil {
		return err
	}
	return e.Raw(b)
}

// Write serializes a complete page list.
func Write(w io.Writer, header types.PageListHeader, list []types.Page) error {
	enc := NewEncoder(w)
	if err := enc.Header(header); err != nil {
		return err
	}
	for _, p := range list {
		if err := enc.Page(p); err != nil {
			return err
		}
	}
	return enc.Flush()
}
