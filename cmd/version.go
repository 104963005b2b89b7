package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/candrapwr/meet-datasiber/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meet client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meet %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
