package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/repvol/pkg/events"
	"github.com/cuemby/repvol/pkg/log"
	"github.com/cuemby/repvol/pkg/metrics"
	"github.com/cuemby/repvol/pkg/nvmf"
	"github.com/cuemby/repvol/pkg/volume"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the volume control-plane API and metrics endpoint",
	Long: `serve boots the volume Registry and Controller, exposes the control API
on --addr, a Prometheus /metrics endpoint on --metrics-addr, and optionally
applies a declarative config file. The API listener is started before the
config file is applied.

The process runs until SIGINT/SIGTERM, at which point every volume is
destructed under the global-shutdown rule before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP address")
	serveCmd.Flags().StringP("config", "f", "", "Declarative config file to apply at startup")
	serveCmd.Flags().String("base-dir", "./bdevd-data", "Directory for local FileDevice-backed replicas")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	configFile, _ := cmd.Flags().GetString("config")
	baseDir, _ := cmd.Flags().GetString("base-dir")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	reg := volume.NewRegistry(broker)
	ctrl := volume.NewController(reg)
	publisher := nvmf.NewLoggingPublisher()

	srv := newAPIServer(ctrl, publisher, baseDir)

	collector := metrics.NewCollector(func() []metrics.VolumeSnapshot {
		return srv.snapshot()
	})
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("registry", true, "ready")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

	apiServer := &http.Server{Addr: addr, Handler: srv.routes()}
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control API server error: %w", err)
		}
	}()
	fmt.Printf("✓ Control API listening on http://%s\n", addr)

	if configFile != "" {
		if err := applyFile(context.Background(), srv, configFile); err != nil {
			return fmt.Errorf("failed to apply %s: %w", configFile, err)
		}
		fmt.Printf("✓ Applied config from %s\n", configFile)
	}

	fmt.Println("bdevd running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	fmt.Println("✓ Shutdown complete")
	return nil
}
