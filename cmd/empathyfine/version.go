package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/empathyfine"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of empathyfine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "empathyfine version %s\n", strings.TrimSpace(empathyfine.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
