package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mrhapile/wacz/cmd/wacz/cli"
	"github.com/mrhapile/wacz/pkg/bundler"
	"github.com/mrhapile/wacz/pkg/config"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/spf13/pflag"
)

const defaultOutput = "archive.wacz"

type createOptions struct {
	config         string
	output         string
	hashType       string
	pages          string
	extraPages     string
	pageLists      []string
	copyPages      bool
	detectPages    bool
	text           bool
	splitSeeds     bool
	logDirectory   string
	url            string
	ts             string
	date           string
	title          string
	desc           string
	signingURL     string
	signingToken   string
	signingKey     string
	signingCert    string
	signingTimeout time.Duration
	verbose        bool
}

func (o *createOptions) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	fs.StringVar(&o.config, "config", "", "YAML or JSONC file with default settings")
	fs.StringVarP(&o.output, "output", "o", defaultOutput, "container to write")
	fs.StringVar(&o.hashType, "hash-type", string(hashing.Default), "hash algorithm ("+strings.Join(hashing.Supported(), ", ")+")")
	fs.StringVarP(&o.pages, "pages", "p", "", "supplied page list (JSON lines)")
	fs.StringVarP(&o.extraPages, "extra-pages", "e", "", "supplied extra page list (JSON lines)")
	fs.StringArrayVar(&o.pageLists, "page-list", nil, "additional named page list as name=path (repeatable)")
	fs.BoolVarP(&o.copyPages, "copy-pages", "c", false, "copy the supplied page lists verbatim")
	fs.BoolVarP(&o.detectPages, "detect-pages", "d", false, "detect pages from HTML responses")
	fs.BoolVarP(&o.text, "text", "t", false, "extract page text into the page list")
	fs.BoolVar(&o.splitSeeds, "split-seeds", false, "move non-seed pages to the extra page list")
	fs.StringVarP(&o.logDirectory, "log-directory", "l", "", "directory of log files to attach")
	fs.StringVar(&o.url, "url", "", "main page URL")
	fs.StringVar(&o.ts, "ts", "", "main page capture time")
	fs.StringVar(&o.date, "date", "", "main page date written to the manifest")
	fs.StringVar(&o.title, "title", "", "collection title")
	fs.StringVar(&o.desc, "desc", "", "collection description")
	fs.StringVar(&o.signingURL, "signing-url", "", "remote signing service")
	fs.StringVar(&o.signingToken, "signing-token", "", "bearer token for the signing service")
	fs.DurationVar(&o.signingTimeout, "signing-timeout", 0, "timeout for the signing request")
	fs.StringVar(&o.signingKey, "signing-key", "", "PEM private key for local signing")
	fs.StringVar(&o.signingCert, "signing-cert", "", "PEM certificate chain for local signing")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log debug detail")
	return fs
}

func (a *app) createCommand() *cli.Command {
	var (
		o       createOptions
		flagSet *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "create",
		Summary: "Package captures into a container",
		Usage:   "wacz create [flags] <captures...>",
		Examples: []cli.Example{
			{Description: "Package a crawl with detected pages", Command: "wacz create -d -o crawl.wacz crawl.warc.gz"},
			{Description: "Keep a curated page list exactly as supplied", Command: "wacz create -p pages.jsonl -c crawl.warc.gz"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = o.flags()
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := o.bundlerConfig(flagSet, args)
			if err != nil {
				return err
			}
			return a.create(cfg, o.verbose)
		},
	}
}

// bundlerConfig layers set flags and positional inputs over the config
// file, if any.
func (o *createOptions) bundlerConfig(fs *pflag.FlagSet, args []string) (bundler.Config, error) {
	var cfg bundler.Config
	if o.config != "" {
		f, err := config.Load(o.config)
		if err != nil {
			return cfg, err
		}
		if cfg, err = f.BundlerConfig(); err != nil {
			return cfg, err
		}
	}

	var err error
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output = o.output
		case "hash-type":
			cfg.Algorithm = hashing.Algorithm(o.hashType)
		case "pages":
			cfg.PagesFile = o.pages
		case "extra-pages":
			cfg.ExtraPagesFile = o.extraPages
		case "page-list":
			cfg.PageLists = nil
			for _, entry := range o.pageLists {
				name, path, ok := strings.Cut(entry, "=")
				if !ok && err == nil {
					err = &types.ConfigurationError{Option: "page-list", Reason: fmt.Sprintf("%q is not name=path", entry)}
				}
				cfg.PageLists = append(cfg.PageLists, bundler.PageList{Name: name, Path: path})
			}
		case "copy-pages":
			cfg.PageMode = bundler.PagesGenerated
			if o.copyPages {
				cfg.PageMode = bundler.PagesCopied
			}
		case "detect-pages":
			cfg.DetectPages = o.detectPages
		case "text":
			cfg.ExtractText = o.text
		case "split-seeds":
			cfg.SplitSeeds = o.splitSeeds
		case "log-directory":
			cfg.LogDir = o.logDirectory
		case "url":
			cfg.MainPageURL = o.url
		case "ts":
			cfg.MainPageTS = o.ts
		case "date":
			cfg.MainPageDate = o.date
		case "title":
			cfg.Title = o.title
		case "desc":
			cfg.Description = o.desc
		case "signing-url":
			cfg.SigningURL = o.signingURL
		case "signing-token":
			cfg.SigningToken = o.signingToken
		case "signing-timeout":
			cfg.SigningTimeout = o.signingTimeout
		case "signing-key":
			cfg.SigningKey = o.signingKey
		case "signing-cert":
			cfg.SigningCert = o.signingCert
		}
	})
	if err != nil {
		return cfg, err
	}

	if len(args) > 0 {
		cfg.Inputs = args
	}
	if cfg.Output == "" {
		cfg.Output = defaultOutput
	}
	cfg.Software = bundler.DefaultSoftware + " " + version
	return cfg, nil
}

func (a *app) create(cfg bundler.Config, verbose bool) error {
	log := cli.NewLogger(a.stderr, verbose)
	log.Debug("configuration", "config", cfg)

	result, err := bundler.Build(a.ctx, cfg, bundler.WithLogger(log))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "%s: %d files, %d records, %d pages, %s\n",
		result.ArchivePath, result.FileCount, result.Records, result.Pages, humanize.Bytes(uint64(result.SizeBytes)))
	if result.Digest.HasSignature() {
		fmt.Fprintln(a.stdout, "signed")
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(a.stdout, "warning: %s: %s: %s\n", w.Kind, w.Subject, w.Message)
	}
	return nil
}
