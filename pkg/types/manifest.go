package types

import "encoding/json"

const (
	// FormatVersion is the container format version written by this tool.
	FormatVersion = "1.1.1"

	// LegacyVersion identifies pre-manifest containers. They are accepted
	// by validation without the integrity checks.
	LegacyVersion = "0.1.0"

	// DataPackageProfile is the profile declared by every manifest.
	DataPackageProfile = "data-package"
)

// Manifest describes the contents of a container. It is serialized as
// datapackage.json.
type Manifest struct {
	// Profile is always "data-package".
	Profile string `json:"profile"`

	// Resources lists every member of the container except the manifest
	// and its digest, in the order they were written.
	Resources []Resource `json:"resources"`

	// Version is the container format version.
	Version string `json:"wacz_version"`

	// Software names the producer.
	Software string `json:"software,omitempty"`

	// Created is the packaging time, formatted as 2006-01-02T15:04:05Z.
	Created string `json:"created"`

	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	MainPageURL  string `json:"mainPageURL,omitempty"`
	MainPageDate string `json:"mainPageDate,omitempty"`
}

// Resource represents a single file inside the container.
type Resource struct {
	// Name is the lowercased base name of Path.
	Name string `json:"name"`

	// Path is the container-relative member name.
	Path string `json:"path"`

	// Hash is "<algorithm>:<hex>" of the uncompressed member bytes.
	Hash string `json:"hash"`

	// Bytes is the uncompressed member size.
	Bytes int64 `json:"bytes"`

	Format    string `json:"format,omitempty"`
	MediaType string `json:"mediatype,omitempty"`
}

// DigestEnvelope is serialized as datapackage-digest.json. It binds the
// exact manifest bytes to a hash and, optionally, a signature.
type DigestEnvelope struct {
	Path string `json:"path"`
	Hash string `json:"hash"`

	// SignedData is kept raw so that a remote verifier receives exactly
	// what the signer produced, including fields this package does not
	// model. Use ParseSignedData for a typed view.
	SignedData json.RawMessage `json:"signedData,omitempty"`
}

// SignedData is the typed view of a signature block.
type SignedData struct {
	Hash            string `json:"hash"`
	Created         string `json:"created"`
	Software        string `json:"software,omitempty"`
	Signature       string `json:"signature,omitempty"`
	Domain          string `json:"domain,omitempty"`
	DomainCert      string `json:"domainCert,omitempty"`
	TimeSignature   string `json:"timeSignature,omitempty"`
	TimestampCert   string `json:"timestampCert,omitempty"`
	CrossSignedCert string `json:"crossSignedCert,omitempty"`
	PublicKey       string `json:"publicKey,omitempty"`
}

// HasSignature reports whether the envelope carries a non-empty
// signature block.
func (d DigestEnvelope) HasSignature() bool {
	trimmed := string(d.SignedData)
	return trimmed != "" && trimmed != "null" && trimmed != "{}"
}

// ParseSignedData decodes the envelope's signature block.
func (d DigestEnvelope) ParseSignedData() (SignedData, error) {
	var sd SignedData
	if err := json.Unmarshal(d.SignedData, &sd); err != nil {
		return SignedData{}, err
	}
	return sd, nil
}
