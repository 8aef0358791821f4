package main

import (
	"github.com/spf13/cobra"
)

var (
	// Version is the current version of manna (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.emit(versionResult{Version: Version, Build: Build})
		},
	}
}
