package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mrhapile/wacz/cmd/wacz/cli"
	"github.com/mrhapile/wacz/pkg/rewrite"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/spf13/pflag"
)

type indexOptions struct {
	file    string
	output  string
	prefix  string
	verbose bool
}

func (o *indexOptions) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("index", pflag.ContinueOnError)
	fs.StringVarP(&o.file, "file", "f", "", "container to read")
	fs.StringVarP(&o.output, "output", "o", "-", "index file to write, - for stdout")
	fs.StringVarP(&o.prefix, "prefix", "p", "", "prefix for the container name in each record")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log debug detail")
	return fs
}

func (a *app) indexCommand() *cli.Command {
	var o indexOptions
	return &cli.Command{
		Name:    "index",
		Summary: "Write a container-relative index for external replay",
		Usage:   "wacz index -f <container> [-o out] [-p prefix]",
		Examples: []cli.Example{
			{Command: "wacz index -f crawl.wacz -p /data/ -o crawl.cdxj"},
		},
		Flags: o.flags,
		Run: func([]string) error {
			if o.file == "" {
				return &types.ConfigurationError{Option: "file", Reason: "a container is required"}
			}
			return a.index(o)
		},
	}
}

func (a *app) index(o indexOptions) (err error) {
	log := cli.NewLogger(a.stderr, o.verbose)

	var out io.Writer = a.stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("failed to create index file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("failed to close index file: %w", cerr)
			}
			if err != nil {
				os.Remove(o.output)
			}
		}()
		out = f
	}

	n, err := rewrite.Rewrite(a.ctx, o.file, out, rewrite.Options{Prefix: o.prefix, Logger: log})
	if err != nil {
		return err
	}
	log.Info("index rewritten", "container", o.file, "records", n)
	return nil
}
