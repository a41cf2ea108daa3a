package main

import (
	"fmt"

	"github.com/mrhapile/wacz/cmd/wacz/cli"
	"github.com/mrhapile/wacz/pkg/types"
)

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the tool and container format versions",
		Run: func([]string) error {
			fmt.Fprintf(a.stdout, "wacz %s (format %s)\n", version, types.FormatVersion)
			return nil
		},
	}
}
