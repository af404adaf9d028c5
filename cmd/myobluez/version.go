package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "myobluez %s (commit %s, built %s, %s/%s)\n",
			formatVersion(version), commit, date, runtime.GOOS, runtime.GOARCH)
	},
}
