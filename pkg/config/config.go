// Package config loads the optional operator configuration file.
//
// The file holds the same settings as the command-line flags. YAML files
// (.yaml, .yml) and JSON files with comments and trailing commas (.json,
// .jsonc) are accepted. Durations are written as strings such as "30s".
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrhapile/wacz/pkg/bundler"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/tidwall/jsonc"
	yaml "gopkg.in/yaml.v2"
)

// File is the on-disk configuration.
type File struct {
	Create   Create   `yaml:"create" json:"create"`
	Validate Validate `yaml:"validate" json:"validate"`
}

// Create holds packaging settings.
type Create struct {
	Inputs         []string   `yaml:"inputs" json:"inputs"`
	Output         string     `yaml:"output" json:"output"`
	HashType       string     `yaml:"hash_type" json:"hash_type"`
	Pages          string     `yaml:"pages" json:"pages"`
	CopyPages      bool       `yaml:"copy_pages" json:"copy_pages"`
	ExtraPages     string     `yaml:"extra_pages" json:"extra_pages"`
	PageLists      []PageList `yaml:"page_lists" json:"page_lists"`
	DetectPages    bool       `yaml:"detect_pages" json:"detect_pages"`
	Text           bool       `yaml:"text" json:"text"`
	SplitSeeds     bool       `yaml:"split_seeds" json:"split_seeds"`
	LogDirectory   string     `yaml:"log_directory" json:"log_directory"`
	SigningURL     string     `yaml:"signing_url" json:"signing_url"`
	SigningToken   string     `yaml:"signing_token" json:"signing_token"`
	SigningTimeout string     `yaml:"signing_timeout" json:"signing_timeout"`
	SigningKey     string     `yaml:"signing_key" json:"signing_key"`
	SigningCert    string     `yaml:"signing_cert" json:"signing_cert"`
	Title          string     `yaml:"title" json:"title"`
	Description    string     `yaml:"desc" json:"desc"`
	URL            string     `yaml:"url" json:"url"`
	TS             string     `yaml:"ts" json:"ts"`
	Date           string     `yaml:"date" json:"date"`
	LinesPerBlock  int        `yaml:"lines_per_block" json:"lines_per_block"`
}

type PageList struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// Validate holds validation settings.
type Validate struct {
	VerifyAuth      bool   `yaml:"verify_auth" json:"verify_auth"`
	VerifierURL     string `yaml:"verifier_url" json:"verifier_url"`
	VerifierTimeout string `yaml:"verifier_timeout" json:"verifier_timeout"`
}

// Load reads and parses the file at path, choosing the format from its
// extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data in the format named by ext (".yaml", ".yml",
// ".json" or ".jsonc").
func Parse(data []byte, ext string) (*File, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, &types.ConfigurationError{Option: "config", Reason: fmt.Sprintf("unsupported config file type %q", ext)}
	}
	return &f, nil
}

// BundlerConfig converts the create section into a packaging
// configuration. Durations that do not parse are configuration errors.
func (f *File) BundlerConfig() (bundler.Config, error) {
	c := f.Create
	cfg := bundler.Config{
		Inputs:         c.Inputs,
		Output:         c.Output,
		Algorithm:      hashing.Algorithm(c.HashType),
		PagesFile:      c.Pages,
		ExtraPagesFile: c.ExtraPages,
		DetectPages:    c.DetectPages,
		ExtractText:    c.Text,
		SplitSeeds:     c.SplitSeeds,
		LogDir:         c.LogDirectory,
		SigningURL:     c.SigningURL,
		SigningToken:   c.SigningToken,
		SigningKey:     c.SigningKey,
		SigningCert:    c.SigningCert,
		Title:          c.Title,
		Description:    c.Description,
		MainPageURL:    c.URL,
		MainPageTS:     c.TS,
		MainPageDate:   c.Date,
		LinesPerBlock:  c.LinesPerBlock,
	}
	if c.CopyPages {
		cfg.PageMode = bundler.PagesCopied
	}
	for _, pl := range c.PageLists {
		cfg.PageLists = append(cfg.PageLists, bundler.PageList{Name: pl.Name, Path: pl.Path})
	}
	d, err := parseDuration("signing_timeout", c.SigningTimeout)
	if err != nil {
		return bundler.Config{}, err
	}
	cfg.SigningTimeout = d
	return cfg, nil
}

// VerifierTimeout returns the parsed verifier timeout, zero when unset.
func (f *File) VerifierTimeout() (time.Duration, error) {
	return parseDuration("verifier_timeout", f.Validate.VerifierTimeout)
}

func parseDuration(option, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &types.ConfigurationError{Option: option, Reason: fmt.Sprintf("invalid duration %q", s)}
	}
	if d < 0 {
		return 0, &types.ConfigurationError{Option: option, Reason: "must not be negative"}
	}
	return d, nil
}
