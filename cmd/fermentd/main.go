package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rtgb/fermentd/internal/config"
	"github.com/rtgb/fermentd/internal/executor"
	"github.com/rtgb/fermentd/internal/log"
	"github.com/rtgb/fermentd/internal/metrics"
	"github.com/rtgb/fermentd/internal/orchestrator"
	"github.com/rtgb/fermentd/internal/publisher"
	"github.com/rtgb/fermentd/internal/scheduler"
	"github.com/rtgb/fermentd/internal/store"
	"github.com/rtgb/fermentd/internal/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fermentd",
		Short:   "Fermentation temperature-control daemon",
		Version: config.Version,
		RunE:    run,
	}

	f := rootCmd.Flags()
	f.String("config", "", "path to a config file (optional)")
	f.String("nats-host", "localhost", "NATS server host")
	f.Int("nats-port", 4222, "NATS server port")
	f.String("stream-name", "fermentation", "JetStream stream name")
	f.StringSlice("subjects", []string{"fermentation.>"}, "subjects captured by the stream")
	f.String("durable-name", "fermentd", "durable consumer name")
	f.String("command-topic-template", "shellies/{model}-{deviceid}/relay/0/command", "device command topic template")
	f.String("hardware-model", "shellyplug-s", "hardware model substituted into device topics")
	f.String("store-path", "fermentd.db", "path to the SQLite command store")
	f.String("tls-ca-file", "", "PEM CA bundle for mTLS")
	f.String("tls-cert-file", "", "PEM client certificate for mTLS")
	f.String("tls-key-file", "", "PEM client key for mTLS")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("metrics-addr", "", "Prometheus listen address, empty disables metrics")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the FERMENTD_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("config", "config")
	bindFlag("nats_host", "nats-host")
	bindFlag("nats_port", "nats-port")
	bindFlag("stream_name", "stream-name")
	bindFlag("subjects", "subjects")
	bindFlag("durable_name", "durable-name")
	bindFlag("command_topic_template", "command-topic-template")
	bindFlag("hardware_model", "hardware-model")
	bindFlag("store_path", "store-path")
	bindFlag("tls_ca_file", "tls-ca-file")
	bindFlag("tls_cert_file", "tls-cert-file")
	bindFlag("tls_key_file", "tls-key-file")
	bindFlag("log_level", "log-level")
	bindFlag("metrics_addr", "metrics-addr")

	// FERMENTD_NATS_HOST -> "nats_host", FERMENTD_STORE_PATH -> "store_path".
	viper.SetEnvPrefix("FERMENTD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.Base()
	logger.Info().
		Str("version", config.Version).
		Str("nats_url", cfg.NATSURL()).
		Str("stream", cfg.StreamName).
		Str("store", cfg.StorePath).
		Bool("tls", cfg.TLSEnabled()).
		Msg("fermentd starting")

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open command store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	nc, err := transport.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := transport.NewQueue(ctx, nc, cfg)
	if err != nil {
		return fmt.Errorf("set up work queue: %w", err)
	}

	pub := publisher.New(nc, cfg.CommandTopicTemplate, cfg.HardwareModel)
	orch := orchestrator.New(queue, scheduler.New(st), executor.New(st, pub))

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics listener")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics shutdown")
		}
	}
	return nil
}
