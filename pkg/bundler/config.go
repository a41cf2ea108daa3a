package bundler

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
)

// PageMode selects how the default page list is produced.
type PageMode int

const (
	// PagesGenerated builds the list from detected pages, reconciled with
	// a supplied list when one is given.
	PagesGenerated PageMode = iota

	// PagesCopied copies a supplied list verbatim after a structural check.
	PagesCopied
)

func (m PageMode) String() string {
	switch m {
	case PagesGenerated:
		return "generated"
	case PagesCopied:
		return "copied"
	default:
		return fmt.Sprintf("PageMode(%d)", int(m))
	}
}

func (m PageMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *PageMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "generated":
		*m = PagesGenerated
	case "copied", "copy":
		*m = PagesCopied
	default:
		return &types.ConfigurationError{Option: "page-mode", Reason: fmt.Sprintf("unknown mode %q", text)}
	}
	return nil
}

// PageList is an additional named page list supplied by the operator.
type PageList struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Config is the complete configuration of a packaging run. It is
// validated once, before any work starts.
type Config struct {
	// Inputs are the capture files, in the order they are archived.
	Inputs []string `json:"inputs"`

	// Output is the container path.
	Output string `json:"output"`

	// Algorithm hashes resources, record digests and the manifest. Empty
	// means hashing.Default.
	Algorithm hashing.Algorithm `json:"hash_type,omitempty"`

	PageMode PageMode `json:"page_mode"`

	// PagesFile is the supplied default page list. It is required when
	// PageMode is PagesCopied.
	PagesFile      string     `json:"pages,omitempty"`
	ExtraPagesFile string     `json:"extra_pages,omitempty"`
	PageLists      []PageList `json:"page_lists,omitempty"`

	// DetectPages turns successful HTML responses into pages.
	DetectPages bool `json:"detect_pages,omitempty"`
	ExtractText bool `json:"text,omitempty"`

	// SplitSeeds moves detected non-seed pages to the extra pages list.
	SplitSeeds bool `json:"split_seeds,omitempty"`

	// LogDir holds files attached verbatim under logs/.
	LogDir string `json:"log_directory,omitempty"`

	SigningURL     string        `json:"signing_url,omitempty"`
	SigningToken   string        `json:"signing_token,omitempty"`
	SigningTimeout time.Duration `json:"signing_timeout,omitempty"`
	SigningKey     string        `json:"signing_key,omitempty"`
	SigningCert    string        `json:"signing_cert,omitempty"`

	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	MainPageURL  string `json:"url,omitempty"`
	MainPageTS   string `json:"ts,omitempty"`
	MainPageDate string `json:"date,omitempty"`

	// LinesPerBlock is the number of CDX lines per compressed block.
	LinesPerBlock int `json:"lines_per_block,omitempty"`

	// Software is written to the manifest.
	Software string `json:"software,omitempty"`
}

// Validate checks the configuration and normalizes defaults. It returns
// a *types.ConfigurationError for the first problem found.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return &types.ConfigurationError{Option: "inputs", Reason: "at least one capture file is required"}
	}
	if c.Output == "" {
		return &types.ConfigurationError{Option: "output", Reason: "output path is required"}
	}

	alg, err := hashing.ParseAlgorithm(string(c.Algorithm))
	if err != nil {
		return err
	}
	c.Algorithm = alg

	switch c.PageMode {
	case PagesGenerated:
	case PagesCopied:
		if c.PagesFile == "" {
			return &types.ConfigurationError{Option: "copy-pages", Reason: "copying pages requires a pages file"}
		}
	default:
		return &types.ConfigurationError{Option: "page-mode", Reason: fmt.Sprintf("unknown mode %s", c.PageMode)}
	}
	if c.PagesFile != "" && c.DetectPages {
		return &types.ConfigurationError{Option: "detect-pages", Reason: "cannot be combined with a supplied pages file"}
	}

	names := make(map[string]bool, len(c.PageLists))
	for _, pl := range c.PageLists {
		if pl.Name == "" || pl.Path == "" {
			return &types.ConfigurationError{Option: "page-list", Reason: "both name and path are required"}
		}
		if names[pl.Name] {
			return &types.ConfigurationError{Option: "page-list", Reason: fmt.Sprintf("duplicate list name %q", pl.Name)}
		}
		names[pl.Name] = true
	}

	if c.MainPageTS != "" {
		if c.MainPageURL == "" {
			return &types.ConfigurationError{Option: "ts", Reason: "a main page url is required when a ts is given"}
		}
		if _, err := cdx.ParseTimestamp(c.MainPageTS); err != nil {
			return &types.ConfigurationError{Option: "ts", Reason: err.Error()}
		}
	}

	if c.SigningToken != "" && c.SigningURL == "" {
		return &types.ConfigurationError{Option: "signing-token", Reason: "a signing url is required when a token is given"}
	}
	if (c.SigningKey == "") != (c.SigningCert == "") {
		return &types.ConfigurationError{Option: "signing-key", Reason: "key and certificate must be given together"}
	}
	if c.SigningURL != "" && c.SigningKey != "" {
		return &types.ConfigurationError{Option: "signing-url", Reason: "remote and local signing cannot both be set"}
	}
	if c.SigningTimeout < 0 {
		return &types.ConfigurationError{Option: "signing-timeout", Reason: "must not be negative"}
	}
	if c.LinesPerBlock < 0 {
		return &types.ConfigurationError{Option: "lines-per-block", Reason: "must not be negative"}
	}
	if c.LinesPerBlock == 0 {
		c.LinesPerBlock = cdx.DefaultLinesPerBlock
	}
	if c.Software == "" {
		c.Software = DefaultSoftware
	}
	return nil
}
