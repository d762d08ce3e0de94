package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/econoquery/econoquery/mcp"
)

func mcpCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP stdio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.refresher.Bootstrap(ctx, a.cfg.Refresh.Force); err != nil {
				return err
			}
			// Responses go to stdout; keep log output on stderr.
			mcpLogger := log.New(os.Stderr, "[MCP] ", log.LstdFlags)
			return mcp.NewServer(a.agent, a.catalog, mcpLogger).Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return cmd
}
