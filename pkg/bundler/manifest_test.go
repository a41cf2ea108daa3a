package bundler_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mrhapile/wacz/pkg/bundler"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signerFunc func(ctx context.Context, hash, created string) (json.RawMessage, error)

func (f signerFunc) Sign(ctx context.Context, hash, created string) (json.RawMessage, error) {
	return f(ctx, hash, created)
}

func TestManifestBuilder(t *testing.T) {
	mb := bundler.NewManifestBuilder(hashing.SHA256, fixedTime, "test 1.0")

	res, err := mb.AddResource("archive/Data.WARC", strings.NewReader("test"))
	require.NoError(t, err)
	assert.Equal(t, types.Resource{
		Name:  "data.warc",
		Path:  "archive/Data.WARC",
		Hash:  "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Bytes: 4,
	}, res)

	_, err = mb.AddResource("archive/Data.WARC", strings.NewReader("again"))
	assert.ErrorIs(t, err, bundler.ErrDuplicateResource)

	require.NoError(t, mb.SetProvenance(bundler.Provenance{Title: "T"}))

	t.Run("digest requires a finalized manifest", func(t *testing.T) {
		_, _, err := mb.SignDigest(context.Background(), nil, nil)
		var stateErr *types.StateError
		require.ErrorAs(t, err, &stateErr)
		assert.ErrorIs(t, err, bundler.ErrManifestOpen)
	})

	first, err := mb.Finalize()
	require.NoError(t, err)
	second, err := mb.Finalize()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var m types.Manifest
	require.NoError(t, json.Unmarshal(first, &m))
	assert.Equal(t, "2024-01-01T12:00:00Z", m.Created)
	assert.Equal(t, "test 1.0", m.Software)
	assert.Equal(t, "T", m.Title)
	assert.Len(t, m.Resources, 1)

	t.Run("finalized manifest rejects changes", func(t *testing.T) {
		_, err := mb.AddResource("logs/late.log", strings.NewReader("late"))
		var stateErr *types.StateError
		require.ErrorAs(t, err, &stateErr)
		assert.ErrorIs(t, err, bundler.ErrManifestFinalized)
		assert.ErrorIs(t, mb.SetProvenance(bundler.Provenance{}), bundler.ErrManifestFinalized)

		again, err := mb.Finalize()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("unsigned digest", func(t *testing.T) {
		env, warns, err := mb.SignDigest(context.Background(), first, nil)
		require.NoError(t, err)
		assert.Empty(t, warns)
		want, err := hashing.DigestBytes(hashing.SHA256, first)
		require.NoError(t, err)
		assert.Equal(t, types.DigestEnvelope{Path: bundler.ManifestFile, Hash: want}, env)
	})

	t.Run("signer receives hash and creation time", func(t *testing.T) {
		var gotHash, gotCreated string
		signer := signerFunc(func(_ context.Context, hash, created string) (json.RawMessage, error) {
			gotHash, gotCreated = hash, created
			return json.Marshal(map[string]string{"hash": hash, "created": created, "signature": "c2ln"})
		})
		env, warns, err := mb.SignDigest(context.Background(), first, signer)
		require.NoError(t, err)
		assert.Empty(t, warns)
		assert.Equal(t, env.Hash, gotHash)
		assert.Equal(t, mb.Created(), gotCreated)
		assert.True(t, env.HasSignature())
	})

	t.Run("signature for another hash is rejected", func(t *testing.T) {
		signer := signerFunc(func(_ context.Context, _, created string) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"hash": "sha256:00", "created": created})
		})
		env, warns, err := mb.SignDigest(context.Background(), first, signer)
		require.NoError(t, err)
		require.Len(t, warns, 1)
		assert.Equal(t, types.WarnSigning, warns[0].Kind)
		assert.False(t, env.HasSignature())
	})
}
