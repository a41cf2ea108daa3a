package validate

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/mrhapile/wacz/pkg/types"
)

// maxControlFileSize bounds the manifest, digest and marker files, which
// are read into memory.
const maxControlFileSize = 64 << 20

// Container is the state shared by the stages of one validation run.
// Members are read straight from the ZIP; nothing is extracted to disk.
type Container struct {
	Path string

	// Version is the format version found by detection.
	Version string

	// Legacy is set for containers that predate the manifest.
	Legacy bool

	// Manifest and ManifestBytes are set once the version is detected.
	Manifest      *types.Manifest
	ManifestBytes []byte

	zr      *zip.ReadCloser
	files   map[string]*zip.File
	names   []string
	dups    []string
	notices []string
}

func openContainer(path string) (*Container, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &types.StructuralError{Path: path, Reason: fmt.Sprintf("not a readable container: %v", err)}
	}
	c := &Container{
		Path:  path,
		zr:    zr,
		files: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if _, ok := c.files[f.Name]; ok {
			c.dups = append(c.dups, f.Name)
			continue
		}
		c.files[f.Name] = f
		c.names = append(c.names, f.Name)
	}
	return c, nil
}

func (c *Container) Close() error {
	return c.zr.Close()
}

// Has reports whether the container holds a member called name.
func (c *Container) Has(name string) bool {
	_, ok := c.files[name]
	return ok
}

// Members returns the member names in container order, directories
// excluded.
func (c *Container) Members() []string {
	return c.names
}

// Open returns a reader over the uncompressed bytes of a member.
func (c *Container) Open(name string) (io.ReadCloser, error) {
	f, ok := c.files[name]
	if !ok {
		return nil, &types.StructuralError{Path: name, Reason: "member not found"}
	}
	return f.Open()
}

// ReadFile reads a small member into memory.
func (c *Container) ReadFile(name string) ([]byte, error) {
	rc, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxControlFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > maxControlFileSize {
		return nil, &types.StructuralError{Path: name, Reason: "member is too large"}
	}
	return data, nil
}

// Notice records an informational message for the report.
func (c *Container) Notice(format string, args ...any) {
	c.notices = append(c.notices, fmt.Sprintf(format, args...))
}
