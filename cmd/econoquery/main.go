package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "econoquery",
		Short: "Answer economics questions from government statistical datasets",
	}

	root.AddCommand(serveCMD(), mcpCMD(), askCMD(), refreshCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
