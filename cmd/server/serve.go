package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/sam-ai/internal/api"
	"github.com/RichardoC/sam-ai/internal/retention"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts, func(a *app) error { return serve(ctx, a) })
		},
	}
}

func serve(ctx context.Context, a *app) error {
	relay, err := a.relay(ctx)
	if err != nil {
		return err
	}

	var sweeper *retention.Sweeper
	if a.cfg.Retention.MaxAge > 0 {
		sweeper, err = retention.NewSweeper(a.database, a.cfg.Retention.MaxAge, a.cfg.Retention.SweepInterval, a.logger.Named("retention"))
		if err != nil {
			return err
		}
	}

	handler := api.NewHandler(relay, a.database, a.logger.Named("http"))
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler.Routes(a.cfg.StaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting server",
			zap.String("addr", a.cfg.ListenAddr),
			zap.String("provider", relay.Provider()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sweeper != nil {
		g.Go(func() error { return sweeper.Run(ctx) })
	}

	return g.Wait()
}
