package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/actor-profiler/internal/reporter"
	"github.com/iyulab/actor-profiler/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "listen port (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := reporter.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Generator:      a.generator,
		Store:          a.store,
		Sources:        a.sources,
		Reporter:       rep,
		Metrics:        a.metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        versionString(),
	}
	if a.reference != nil {
		deps.Reference = a.reference
	}
	srv := server.New(deps)
	addr, err := srv.Start(ctx, cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Listening on http://%s (Ctrl+C to stop)\n", addr)

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "[*] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
