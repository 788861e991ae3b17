package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gitlab.com/mipimipi/cdscore/internal/server"
)

// runCmd represents the start command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run cdscore service",
	Long:  "Run the cdscore service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.Run(Version); err != nil {
			fmt.Printf("cdscore cannot be run: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
