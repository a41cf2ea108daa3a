package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mrhapile/wacz/cmd/wacz/cli"
	"github.com/mrhapile/wacz/pkg/config"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/mrhapile/wacz/pkg/validate"
	"github.com/spf13/pflag"
)

type validateOptions struct {
	config          string
	file            string
	verifyAuth      bool
	verifierURL     string
	verifierTimeout time.Duration
	json            bool
	verbose         bool
}

func (o *validateOptions) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	fs.StringVar(&o.config, "config", "", "YAML or JSONC file with default settings")
	fs.StringVarP(&o.file, "file", "f", "", "container to validate")
	fs.BoolVar(&o.verifyAuth, "verify-auth", false, "verify the signature, if any")
	fs.StringVar(&o.verifierURL, "verifier-url", "", "remote verification service (default: local certificate check)")
	fs.DurationVar(&o.verifierTimeout, "verifier-timeout", 0, "timeout for the verification request")
	fs.BoolVar(&o.json, "json", false, "print the report as JSON")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log debug detail")
	return fs
}

func (a *app) validateCommand() *cli.Command {
	var (
		o       validateOptions
		flagSet *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a container's structure, hashes and signature",
		Usage:   "wacz validate -f <container> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet = o.flags()
			return flagSet
		},
		Run: func(args []string) error {
			if o.file == "" && len(args) == 1 {
				o.file = args[0]
			}
			if o.file == "" {
				return &types.ConfigurationError{Option: "file", Reason: "a container is required"}
			}
			opts, err := o.validatorOptions(flagSet)
			if err != nil {
				return err
			}
			return a.validate(o.file, o.json, append(opts, validate.WithLogger(cli.NewLogger(a.stderr, o.verbose)))...)
		},
	}
}

func (o *validateOptions) validatorOptions(fs *pflag.FlagSet) ([]validate.Option, error) {
	verify, url, timeout := o.verifyAuth, o.verifierURL, o.verifierTimeout
	if o.config != "" {
		f, err := config.Load(o.config)
		if err != nil {
			return nil, err
		}
		if !fs.Changed("verify-auth") {
			verify = f.Validate.VerifyAuth
		}
		if !fs.Changed("verifier-url") {
			url = f.Validate.VerifierURL
		}
		if !fs.Changed("verifier-timeout") {
			if timeout, err = f.VerifierTimeout(); err != nil {
				return nil, err
			}
		}
	}
	opts := []validate.Option{validate.WithVerifyAuth(verify), validate.WithVerifierURL(url)}
	if timeout > 0 {
		opts = append(opts, validate.WithTimeout(timeout))
	}
	return opts, nil
}

func (a *app) validate(path string, asJSON bool, opts ...validate.Option) error {
	v, err := validate.New(opts...)
	if err != nil {
		return err
	}
	report := v.Validate(a.ctx, path)

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(a, report)
	}

	if !report.Valid() {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

func printReport(a *app, r *validate.Report) {
	if r.Valid() {
		fmt.Fprintf(a.stdout, "%s %s (version %s)\n", validate.Valid, r.Path, r.Version)
	} else {
		fmt.Fprintf(a.stdout, "%s %s\n  %s: %s\n", validate.Invalid, r.Path, r.FailedStage, r.Message)
		for _, m := range r.Mismatches {
			fmt.Fprintf(a.stdout, "  %s: expected %s, got %s\n", m.Path, m.Expected, m.Actual)
		}
	}
	for _, n := range r.Notices {
		fmt.Fprintf(a.stdout, "  note: %s\n", n)
	}
}
