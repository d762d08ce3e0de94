package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	srv "github.com/econoquery/econoquery/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.refresher.Bootstrap(ctx, a.cfg.Refresh.Force); err != nil {
				return err
			}
			if schedule := a.cfg.Refresh.Schedule; schedule != "" {
				go func() {
					if err := a.refresher.RunSchedule(context.Background(), schedule); err != nil {
						a.logger.Printf("refresh schedule stopped: %v", err)
					}
				}()
			}

			httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
			server := srv.New(a.agent, a.catalog, a.audit, a.cfg.Server.JWTSecret, httpLogger)
			return server.Start(a.cfg.Server.Address)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return serve
}
