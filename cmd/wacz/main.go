// Command wacz packages web archive captures into WACZ containers,
// validates containers, and rewrites their indexes for external replay.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mrhapile/wacz/cmd/wacz/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds the streams shared by every command.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		// Commands that print their own outcome return an ExitError.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{ctx: ctx, stdout: stdout, stderr: stderr}
	return a.root().Execute(args)
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:        "wacz",
		Summary:     "Package and validate web archive collections",
		Description: "wacz bundles WARC captures, their index and page lists into a single\nverifiable WACZ container, and validates existing containers.",
		Help:        a.stderr,
		Subcommands: []*cli.Command{
			a.createCommand(),
			a.validateCommand(),
			a.indexCommand(),
			a.versionCommand(),
		},
	}
}
