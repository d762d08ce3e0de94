package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func askCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.refresher.Bootstrap(ctx, a.cfg.Refresh.Force); err != nil {
				return err
			}
			payload := a.agent.Ask(ctx, strings.Join(args, " "))
			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return cmd
}
