package main

import (
	"github.com/spf13/cobra"
)

func refreshCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the dataset metadata snapshot from the statistics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			return a.refresher.Refresh(ctx)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return cmd
}
