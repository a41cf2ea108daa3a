package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/signing"
	"github.com/mrhapile/wacz/pkg/types"
)

// CreatedLayout formats the manifest creation time.
const CreatedLayout = "2006-01-02T15:04:05Z"

var (
	// ErrManifestFinalized is wrapped in a StateError when a finalized
	// manifest is modified.
	ErrManifestFinalized = errors.New("manifest already finalized")

	// ErrManifestOpen is wrapped in a StateError when a digest is requested
	// before the manifest is finalized.
	ErrManifestOpen = errors.New("manifest not finalized")

	// ErrDuplicateResource is returned when a path is added twice.
	ErrDuplicateResource = errors.New("duplicate resource path")
)

// Provenance holds the optional descriptive fields of a manifest.
type Provenance struct {
	Title        string
	Description  string
	MainPageURL  string
	MainPageDate string
}

// ManifestBuilder accumulates resources as members are written and
// serializes the manifest once every member is in place.
type ManifestBuilder struct {
	algorithm hashing.Algorithm
	created   time.Time
	manifest  types.Manifest
	paths     map[string]bool
	finalized []byte
}

func NewManifestBuilder(algorithm hashing.Algorithm, created time.Time, software string) *ManifestBuilder {
	return &ManifestBuilder{
		algorithm: algorithm,
		created:   created.UTC(),
		manifest: types.Manifest{
			Profile:   types.DataPackageProfile,
			Resources: []types.Resource{},
			Version:   types.FormatVersion,
			Software:  software,
			Created:   created.UTC().Format(CreatedLayout),
		},
		paths: make(map[string]bool),
	}
}

// Created returns the manifest creation time as written.
func (mb *ManifestBuilder) Created() string {
	return mb.manifest.Created
}

// SetProvenance sets the descriptive fields.
func (mb *ManifestBuilder) SetProvenance(p Provenance) error {
	if mb.finalized != nil {
		return &types.StateError{Op: "set provenance", Err: ErrManifestFinalized}
	}
	mb.manifest.Title = p.Title
	mb.manifest.Description = p.Description
	mb.manifest.MainPageURL = p.MainPageURL
	mb.manifest.MainPageDate = p.MainPageDate
	return nil
}

// AddResource hashes r to its end and records it under path. Callers pass
// the same bytes they write into the container, typically through an
// io.TeeReader.
func (mb *ManifestBuilder) AddResource(path string, r io.Reader) (types.Resource, error) {
	if mb.finalized != nil {
		return types.Resource{}, &types.StateError{Op: "add resource " + path, Err: ErrManifestFinalized}
	}
	if mb.paths[path] {
		return types.Resource{}, fmt.Errorf("%w: %s", ErrDuplicateResource, path)
	}
	size, digest, err := hashing.Digest(mb.algorithm, r)
	if err != nil {
		return types.Resource{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	res := types.Resource{
		Name:  resourceName(path),
		Path:  path,
		Hash:  digest,
		Bytes: size,
	}
	mb.paths[path] = true
	mb.manifest.Resources = append(mb.manifest.Resources, res)
	return res, nil
}

// Resources returns the resources added so far, in insertion order.
func (mb *ManifestBuilder) Resources() []types.Resource {
	return mb.manifest.Resources
}

// Manifest returns the manifest as it stands.
func (mb *ManifestBuilder) Manifest() types.Manifest {
	return mb.manifest
}

// Finalize freezes the manifest and returns its JSON bytes. Later calls
// return the same bytes.
func (mb *ManifestBuilder) Finalize() ([]byte, error) {
	if mb.finalized != nil {
		return mb.finalized, nil
	}
	data, err := marshalIndent(mb.manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	mb.finalized = data
	return data, nil
}

// SignDigest builds the digest envelope over manifestBytes. With a signer
// the hash and creation time are submitted for signing; a failed call or
// a signature bound to a different hash or time leaves the envelope
// unsigned and is reported as a warning.
func (mb *ManifestBuilder) SignDigest(ctx context.Context, manifestBytes []byte, signer signing.Signer) (types.DigestEnvelope, []types.Warning, error) {
	if mb.finalized == nil {
		return types.DigestEnvelope{}, nil, &types.StateError{Op: "sign digest", Err: ErrManifestOpen}
	}
	digest, err := hashing.DigestBytes(mb.algorithm, manifestBytes)
	if err != nil {
		return types.DigestEnvelope{}, nil, err
	}
	env := types.DigestEnvelope{Path: ManifestFile, Hash: digest}
	if signer == nil {
		return env, nil, nil
	}

	warn := func(format string, args ...any) []types.Warning {
		return []types.Warning{{Kind: types.WarnSigning, Subject: DigestFile, Message: fmt.Sprintf(format, args...)}}
	}
	signed, err := signer.Sign(ctx, digest, mb.manifest.Created)
	if err != nil {
		return env, warn("signing failed, container left unsigned: %v", err), nil
	}
	var sd types.SignedData
	if err := json.Unmarshal(signed, &sd); err != nil {
		return env, warn("signer returned invalid data, container left unsigned: %v", err), nil
	}
	if sd.Hash != digest || sd.Created != mb.manifest.Created {
		return env, warn("signature is for hash %q at %q, expected %q at %q; container left unsigned",
			sd.Hash, sd.Created, digest, mb.manifest.Created), nil
	}
	env.SignedData = signed
	return env, nil, nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
