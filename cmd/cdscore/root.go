package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var preamble = `cdscore ` + Version + `

cdscore is a UPnP and DLNA compatible media server built around a
content management core: filesystem discovery, a dual-tree catalog and
DIDL-Lite browsing.

cdscore comes with ABSOLUTELY NO WARRANTY. This is free software, and you
are welcome to redistribute it under certain conditions.  See the GNU
General Public Licence for details.`

var rootCmd = &cobra.Command{
	Use:     "cdscore",
	Short:   "cdscore media server",
	Long:    preamble,
	Version: Version,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
