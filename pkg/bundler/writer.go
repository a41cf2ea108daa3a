package bundler

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/mrhapile/wacz/pkg/types"
)

// ContainerWriter writes container members in the order they are added.
// Every member carries the same modification time, so identical inputs
// produce identical containers.
type ContainerWriter struct {
	zw       *zip.Writer
	manifest *ManifestBuilder
	ts       time.Time
	members  int
	written  int64
}

// NewContainerWriter creates a new writer instance. Resources written
// through it are recorded in manifest.
func NewContainerWriter(w io.Writer, manifest *ManifestBuilder, ts time.Time) *ContainerWriter {
	return &ContainerWriter{
		zw:       zip.NewWriter(w),
		manifest: manifest,
		ts:       ts,
	}
}

func (cw *ContainerWriter) create(name string, method uint16) (io.Writer, error) {
	header := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: cw.ts,
	}
	header.SetMode(0o644)
	w, err := cw.zw.CreateHeader(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create member %s: %w", name, err)
	}
	cw.members++
	return w, nil
}

// AddResource copies r into a new member and lists it in the manifest.
// Stored members keep their bytes at a fixed offset in the container,
// which is what archive/ and the compressed index require.
func (cw *ContainerWriter) AddResource(name string, method uint16, r io.Reader) (types.Resource, error) {
	w, err := cw.create(name, method)
	if err != nil {
		return types.Resource{}, err
	}
	res, err := cw.manifest.AddResource(name, io.TeeReader(r, w))
	if err != nil {
		return types.Resource{}, fmt.Errorf("failed to write member %s: %w", name, err)
	}
	cw.written += res.Bytes
	return res, nil
}

// AddFile writes a member that is not listed in the manifest. Only the
// manifest and its digest are written this way.
func (cw *ContainerWriter) AddFile(name string, content []byte) error {
	w, err := cw.create(name, zip.Deflate)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("failed to write member %s: %w", name, err)
	}
	cw.written += int64(len(content))
	return nil
}

// Members returns the number of members written so far.
func (cw *ContainerWriter) Members() int {
	return cw.members
}

// Written returns the total uncompressed size of all members.
func (cw *ContainerWriter) Written() int64 {
	return cw.written
}

// Close writes the central directory.
func (cw *ContainerWriter) Close() error {
	if err := cw.zw.Close(); err != nil {
		return fmt.Errorf("failed to finish container: %w", err)
	}
	return nil
}
