package hashing

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/mrhapile/wacz/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestDigest(t *testing.T) {
	t.Run("sha256 and md5 match the standard digests", func(t *testing.T) {
		sha := sha256.Sum256([]byte("test"))
		n, digest, err := Digest(SHA256, strings.NewReader("test"))
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		assert.Equal(t, "sha256:"+hex.EncodeToString(sha[:]), digest)

		md := md5.Sum([]byte("test"))
		n, digest, err = Digest(MD5, strings.NewReader("test"))
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		assert.Equal(t, "md5:"+hex.EncodeToString(md[:]), digest)
	})

	t.Run("empty stream", func(t *testing.T) {
		for _, name := range Supported() {
			a := Algorithm(name)
			n, digest, err := Digest(a, bytes.NewReader(nil))
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			h, err := a.New()
			require.NoError(t, err)
			assert.Equal(t, a.Format(h.Sum(nil)), digest, name)
		}
	})

	t.Run("blake3", func(t *testing.T) {
		sum := blake3.Sum256([]byte("capture"))
		_, digest, err := Digest(BLAKE3, strings.NewReader("capture"))
		require.NoError(t, err)
		assert.Equal(t, "blake3:"+hex.EncodeToString(sum[:]), digest)
	})

	t.Run("streams inputs larger than the buffer", func(t *testing.T) {
		content := make([]byte, 3*BufferSize+17)
		for i := range content {
			content[i] = byte(i % 251)
		}
		want := sha256.Sum256(content)

		n, digest, err := Digest(SHA256, iotest.HalfReader(bytes.NewReader(content)))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), n)
		assert.Equal(t, "sha256:"+hex.EncodeToString(want[:]), digest)
	})

	t.Run("read errors are returned", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := Digest(SHA256, iotest.ErrReader(boom))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unsupported algorithm is a configuration error", func(t *testing.T) {
		_, _, err := Digest(Algorithm("crc32"), strings.NewReader("x"))
		var cfgErr *types.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestDigestIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "member.warc")
	require.NoError(t, os.WriteFile(path, []byte("determinism check"), 0o644))

	_, first, err := DigestFile(SHA256, path)
	require.NoError(t, err)
	_, second, err := DigestFile(SHA256, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Default, a)

	a, err = ParseAlgorithm(" MD5 ")
	require.NoError(t, err)
	assert.Equal(t, MD5, a)

	_, err = ParseAlgorithm("whirlpool")
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "hash-type", cfgErr.Option)
}

func TestSplit(t *testing.T) {
	digest, err := DigestBytes(SHA256, []byte("abc"))
	require.NoError(t, err)

	a, hexPart, err := Split(digest)
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)
	assert.Len(t, hexPart, 64)

	for _, bad := range []string{"", "sha256", "sha256:", "sha256:zz", "nope:abcd"} {
		_, _, err := Split(bad)
		assert.Error(t, err, bad)
	}
}

func TestHasher(t *testing.T) {
	h, err := NewHasher(SHA256)
	require.NoError(t, err)
	_, _ = h.Write([]byte("te"))
	_, _ = h.Write([]byte("st"))

	want, err := DigestBytes(SHA256, []byte("test"))
	require.NoError(t, err)
	assert.Equal(t, want, h.Sum())
	assert.Equal(t, int64(4), h.Size())
}
