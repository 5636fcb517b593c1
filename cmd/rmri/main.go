package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var root = &cobra.Command{
		Use:           "rmri",
		Short:         "Recursive multi-tier research analysis",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCMD(), migrateCMD(), runCMD(), watchCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
