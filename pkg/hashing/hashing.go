// Package hashing computes the "<algorithm>:<hex>" digests that identify
// every resource in a container.
//
// Digests are computed over a fixed 64 KiB buffer, so memory use does not
// depend on input size. Packaging and validation use the same functions,
// which keeps recorded and re-derived hashes comparable byte for byte.
package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mrhapile/wacz/pkg/types"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// BufferSize is the chunk size used when streaming input through a hash.
const BufferSize = 64 * 1024

// Algorithm names a supported digest algorithm. The name is the prefix of
// every digest string it produces.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA512     Algorithm = "sha512"
	SHA1       Algorithm = "sha1"
	MD5        Algorithm = "md5"
	BLAKE3     Algorithm = "blake3"
	BLAKE2b256 Algorithm = "blake2b-256"
	SHA3_256   Algorithm = "sha3-256"

	// Default is used when no algorithm is selected.
	Default = SHA256
)

var constructors = map[Algorithm]func() hash.Hash{
	SHA256: sha256.New,
	SHA512: sha512.New,
	SHA1:   sha1.New,
	MD5:    md5.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
	BLAKE2b256: func() hash.Hash {
		// Only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	},
	SHA3_256: sha3.New256,
}

// Supported returns the supported algorithm names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for a := range constructors {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// ParseAlgorithm resolves a name to an Algorithm. The empty name selects
// Default. Unknown names fail with a *types.ConfigurationError; there is
// no fallback.
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	a := Algorithm(name)
	if _, ok := constructors[a]; !ok {
		return "", &types.ConfigurationError{
			Option: "hash-type",
			Reason: fmt.Sprintf("unsupported hash algorithm %q (supported: %s)", name, strings.Join(Supported(), ", ")),
		}
	}
	return a, nil
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	ctor, ok := constructors[a]
	if !ok {
		return nil, &types.ConfigurationError{
			Option: "hash-type",
			Reason: fmt.Sprintf("unsupported hash algorithm %q", string(a)),
		}
	}
	return ctor(), nil
}

// Format renders a raw digest as "<algorithm>:<hex>".
func (a Algorithm) Format(sum []byte) string {
	return string(a) + ":" + hex.EncodeToString(sum)
}

// Digest streams r through the algorithm and returns the number of bytes
// read and the digest string.
func Digest(a Algorithm, r io.Reader) (int64, string, error) {
	h, err := NewHasher(a)
	if err != nil {
		return 0, "", err
	}
	buf := make([]byte, BufferSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return h.Size(), "", readErr
		}
	}
	return h.Size(), h.Sum(), nil
}

// DigestBytes hashes an in-memory buffer.
func DigestBytes(a Algorithm, data []byte) (string, error) {
	h, err := a.New()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return a.Format(h.Sum(nil)), nil
}

// DigestFile hashes the file at path.
func DigestFile(a Algorithm, path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	n, digest, err := Digest(a, f)
	if err != nil {
		return n, "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return n, digest, nil
}

// Split separates a digest string into its algorithm and hex parts. The
// algorithm must be supported.
func Split(digest string) (Algorithm, string, error) {
	name, hexPart, ok := strings.Cut(digest, ":")
	if !ok || hexPart == "" {
		return "", "", fmt.Errorf("malformed digest %q: want <algorithm>:<hex>", digest)
	}
	a, err := ParseAlgorithm(name)
	if err != nil {
		return "", "", err
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", "", fmt.Errorf("malformed digest %q: %w", digest, err)
	}
	return a, hexPart, nil
}

// Hasher is an io.Writer that hashes and counts everything written to it.
// It is used to hash member bytes while they are being copied.
type Hasher struct {
	algorithm Algorithm
	h         hash.Hash
	n         int64
}

// NewHasher returns a Hasher for the algorithm.
func NewHasher(a Algorithm) (*Hasher, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	return &Hasher{algorithm: a, h: h}, nil
}

func (h *Hasher) Write(p []byte) (int, error) {
	h.n += int64(len(p))
	return h.h.Write(p)
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 { return h.n }

// Sum returns the digest string of everything written so far.
func (h *Hasher) Sum() string {
	return h.algorithm.Format(h.h.Sum(nil))
}
