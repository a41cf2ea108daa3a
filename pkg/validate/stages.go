package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mrhapile/wacz/pkg/bundler"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/signing"
	"github.com/mrhapile/wacz/pkg/types"
	yaml "gopkg.in/yaml.v2"
)

// Stage is one check of the validation pipeline. Run returns nil to pass,
// SkipRemaining to pass and end the run, or an error to fail it.
type Stage struct {
	Name string
	Run  func(ctx context.Context, c *Container) error
}

// SkipRemaining is returned by a stage when the container is valid and
// the remaining stages do not apply to it.
var SkipRemaining = errors.New("skip remaining stages")

// Stage names, in pipeline order.
const (
	StageDetectVersion    = "detect_version"
	StageRequiredContents = "check_required_contents"
	StageSchema           = "schema_validate"
	StageFilePaths        = "check_file_paths"
	StageFileHashes       = "check_file_hashes"
	StageDigest           = "check_digest_and_signature"
)

// Stages returns the pipeline in the order it runs.
func (v *Validator) Stages() []Stage {
	return []Stage{
		{Name: StageDetectVersion, Run: v.detectVersion},
		{Name: StageRequiredContents, Run: v.checkRequiredContents},
		{Name: StageSchema, Run: v.checkSchema},
		{Name: StageFilePaths, Run: v.checkFilePaths},
		{Name: StageFileHashes, Run: v.checkFileHashes},
		{Name: StageDigest, Run: v.checkDigestAndSignature},
	}
}

// legacyMarker is the part of webarchive.yaml that is reported.
type legacyMarker struct {
	Title string `yaml:"title"`
}

func (v *Validator) detectVersion(_ context.Context, c *Container) error {
	if !c.Has(bundler.ManifestFile) {
		if !c.Has(bundler.LegacyMarkerFile) {
			return &types.StructuralError{Path: bundler.ManifestFile, Reason: "neither a manifest nor a legacy marker is present"}
		}
		c.Version = types.LegacyVersion
		c.Legacy = true
		if data, err := c.ReadFile(bundler.LegacyMarkerFile); err == nil {
			var marker legacyMarker
			if err := yaml.Unmarshal(data, &marker); err == nil && marker.Title != "" {
				v.log.Debug("legacy marker", "title", marker.Title)
			}
		}
		c.Notice("container uses the outdated %s format and was accepted without integrity checks", types.LegacyVersion)
		return SkipRemaining
	}

	data, err := c.ReadFile(bundler.ManifestFile)
	if err != nil {
		return err
	}
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	c.Manifest = &m
	c.ManifestBytes = data
	c.Version = m.Version

	switch m.Version {
	case types.LegacyVersion:
		c.Legacy = true
		c.Notice("container uses the outdated %s format and was accepted without integrity checks", types.LegacyVersion)
		return SkipRemaining
	case types.FormatVersion:
		return nil
	case "":
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: "format version is missing"}
	default:
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: fmt.Sprintf("unsupported format version %q", m.Version)}
	}
}

func (v *Validator) checkRequiredContents(_ context.Context, c *Container) error {
	if !c.Has(bundler.ManifestFile) {
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: "manifest is missing"}
	}
	hasArchive := false
	for _, name := range c.Members() {
		if strings.HasPrefix(name, bundler.ArchiveDir) {
			hasArchive = true
			break
		}
	}
	if !hasArchive {
		return &types.StructuralError{Path: bundler.ArchiveDir, Reason: "no archive file is present"}
	}
	hasIndex := false
	for _, name := range bundler.IndexFiles {
		if c.Has(name) {
			hasIndex = true
			break
		}
	}
	if !hasIndex {
		return &types.StructuralError{Path: bundler.IndexesDir, Reason: "no record index is present; expected one of " + strings.Join(bundler.IndexFiles, ", ")}
	}
	if !c.Has(bundler.PagesFile) {
		return &types.StructuralError{Path: bundler.PagesFile, Reason: "default page list is missing"}
	}
	return nil
}

func (v *Validator) checkSchema(_ context.Context, c *Container) error {
	doc, err := decodeDocument(c.ManifestBytes)
	if err != nil {
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := v.schema.Validate(doc); err != nil {
		return &types.StructuralError{Path: bundler.ManifestFile, Reason: fmt.Sprintf("does not conform to schema: %v", err)}
	}
	return nil
}

func (v *Validator) checkFilePaths(_ context.Context, c *Container) error {
	if len(c.dups) > 0 {
		return &types.StructuralError{Path: c.dups[0], Reason: "member appears more than once"}
	}
	listed := make(map[string]bool, len(c.Manifest.Resources))
	for _, r := range c.Manifest.Resources {
		if listed[r.Path] {
			return &types.StructuralError{Path: r.Path, Reason: "resource is listed more than once"}
		}
		listed[r.Path] = true
	}
	for _, name := range c.Members() {
		if bundler.IsControlFile(name) {
			continue
		}
		if !listed[name] {
			return &types.StructuralError{Path: name, Reason: "file is not listed in the manifest"}
		}
	}
	return nil
}

// checkFileHashes re-hashes every resource with the algorithm of the first
// one and reports every mismatch, not only the first.
func (v *Validator) checkFileHashes(ctx context.Context, c *Container) error {
	resources := c.Manifest.Resources
	if len(resources) == 0 {
		return nil
	}
	alg, _, err := hashing.Split(resources[0].Hash)
	if err != nil {
		return &types.StructuralError{Path: resources[0].Path, Reason: err.Error()}
	}

	var mismatches []types.HashMismatch
	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		actual, err := v.hashMember(c, alg, r.Path)
		if err != nil {
			v.log.Warn("resource unreadable", "path", r.Path, "error", err)
		}
		if actual != r.Hash {
			mismatches = append(mismatches, types.HashMismatch{Path: r.Path, Expected: r.Hash, Actual: actual})
		}
	}
	if len(mismatches) > 0 {
		return &types.IntegrityError{Reason: "resource hashes do not match the manifest", Mismatches: mismatches}
	}
	return nil
}

func (v *Validator) hashMember(c *Container, alg hashing.Algorithm, name string) (string, error) {
	rc, err := c.Open(name)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	_, digest, err := hashing.Digest(alg, rc)
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (v *Validator) checkDigestAndSignature(ctx context.Context, c *Container) error {
	if !c.Has(bundler.DigestFile) {
		return nil
	}
	data, err := c.ReadFile(bundler.DigestFile)
	if err != nil {
		return err
	}
	var env types.DigestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &types.StructuralError{Path: bundler.DigestFile, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	alg, _, err := hashing.Split(env.Hash)
	if err != nil {
		return &types.StructuralError{Path: bundler.DigestFile, Reason: err.Error()}
	}
	actual, err := hashing.DigestBytes(alg, c.ManifestBytes)
	if err != nil {
		return err
	}
	if actual != env.Hash {
		return &types.IntegrityError{
			Reason:     "manifest does not match its digest",
			Mismatches: []types.HashMismatch{{Path: bundler.ManifestFile, Expected: env.Hash, Actual: actual}},
		}
	}

	if !env.HasSignature() {
		return nil
	}
	sd, err := env.ParseSignedData()
	if err != nil {
		return &types.StructuralError{Path: bundler.DigestFile, Reason: fmt.Sprintf("invalid signed data: %v", err)}
	}
	if sd.Created != c.Manifest.Created {
		return &types.IntegrityError{Reason: fmt.Sprintf("signature time %q does not match manifest creation time %q", sd.Created, c.Manifest.Created)}
	}
	if sd.Hash != "" && sd.Hash != env.Hash {
		return &types.IntegrityError{Reason: fmt.Sprintf("signature covers %q, not the manifest digest %q", sd.Hash, env.Hash)}
	}

	if !v.verify {
		c.Notice("container is signed but the signature was not verified; request verification to check it")
		return nil
	}

	verifier, via := v.signatureVerifier()
	if err := verifier.Verify(ctx, env.SignedData); err != nil {
		return &types.TrustError{Reason: "signature not verified via " + via, Err: err}
	}
	c.Notice("signature verified via %s", via)
	return nil
}

// signatureVerifier picks the remote verifier when one is configured and
// the local one otherwise.
func (v *Validator) signatureVerifier() (signing.Verifier, string) {
	if v.verifierURL != "" {
		return &signing.RemoteVerifier{URL: v.verifierURL, Client: v.httpClient, Timeout: v.timeout}, bundler.RedactURL(v.verifierURL)
	}
	if v.verifier != nil {
		return v.verifier, "local check"
	}
	return &signing.CertVerifier{}, "local check"
}
