package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/reload"
	"github.com/pario-ai/tollgate/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Listen = listen
			}

			metrics := server.NewMetrics()
			svc := a.service(
				[]reload.Option{reload.WithOutcomeHook(metrics.ObserveReload)},
				metering.WithObserver(metrics),
			)
			srv := server.New(a.cfg, svc, metrics, a.logger)

			a.logger.Info("starting tollgate",
				zap.String("config", *configPath),
				zap.String("store", a.cfg.Store.Driver),
				zap.Bool("redis", a.redis != nil),
				zap.Bool("jwt", a.cfg.Auth.JWTSecret != ""),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
