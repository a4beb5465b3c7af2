package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphworks/spanners/pkg/config"
	"github.com/graphworks/spanners/pkg/events"
	"github.com/graphworks/spanners/pkg/handlers"
	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/metrics"
	"github.com/graphworks/spanners/pkg/mgmt"
	"github.com/graphworks/spanners/pkg/scheduler"
	"github.com/graphworks/spanners/pkg/security"
	"github.com/graphworks/spanners/pkg/server"
	"github.com/graphworks/spanners/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spannersd",
	Short: "Spanners - persistent graph algorithm job server",
	Long: `Spanners accepts graph algorithm jobs from remote clients, queues
them in the database, and runs each one in its own worker process under
configurable process, time and memory limits.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Spanners version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job server",
	Long: `Run the job server: the client I/O listener, the scheduler loop
and the local management plane, against the configured database.`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("config-file", "", "Config file path (overrides the default lookup)")
	flags.Int("server-port", 0, "TCP port for the client I/O server")
	flags.String("db-driver", "", "Database driver (postgres or memory)")
	flags.String("db-host", "", "Database host")
	flags.Int("db-port", 0, "Database port")
	flags.String("db-user", "", "Database user")
	flags.String("db-name", "", "Database name")
	flags.String("db-password", "", "Database password")
	flags.String("db-timeout", "", "Database connect timeout, e.g. 10s")
	flags.String("scheduler-exec-path", "", "Worker executable path")
	flags.Int("scheduler-process-limit", 0, "Maximum concurrent worker processes")
	flags.Int64("scheduler-time-limit", -1, "Per-job wall clock limit in ms (0 = unlimited)")
	flags.Int64("scheduler-resource-limit", -1, "Per-worker memory limit in bytes (0 = unlimited)")
	flags.Int64("scheduler-sleep", 0, "Scheduler poll interval in ms")
	flags.String("tls-cert-path", "", "TLS certificate for the client I/O server")
	flags.String("tls-key-path", "", "TLS key for the client I/O server")
	flags.String("mgmt-socket-path", "", "Management plane socket path")
	flags.Int("metrics-port", -1, "Prometheus endpoint port (0 = disabled)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Emit raw JSON log lines")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	handlers.Freeze()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sched := scheduler.New(store, broker, scheduler.Config{
		ExecPath:      cfg.SchedulerExecPath,
		DBConnString:  cfg.ConnString(),
		ProcessLimit:  cfg.SchedulerProcessLimit,
		TimeLimit:     cfg.SchedulerTimeLimitDuration(),
		ResourceLimit: cfg.SchedulerResourceLimit,
		Sleep:         cfg.SchedulerSleepDuration(),
	})
	sched.Start()

	tlsConfig, err := security.LoadServerTLSConfig(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)

	srv := server.NewServer(store, sched, broker, tlsConfig)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.ServerPort)); err != nil {
			errCh <- fmt.Errorf("client I/O server: %w", err)
		}
	}()

	mgmtSrv := mgmt.NewServer(store, sched, broker)
	go func() {
		if err := mgmtSrv.Start(cfg.MgmtSocketPath); err != nil {
			errCh <- fmt.Errorf("management plane: %w", err)
		}
	}()

	var collector *metrics.Collector
	if cfg.MetricsPort > 0 {
		collector = metrics.NewCollector(store, 0)
		collector.Start()
		go func() {
			if err := metrics.Serve(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
				errCh <- fmt.Errorf("metrics endpoint: %w", err)
			}
		}()
	}

	logger.Info().Int("port", cfg.ServerPort).Str("driver", cfg.DBDriver).Msg("Spanners is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Component failed, shutting down")
	}

	srv.Stop()
	mgmtSrv.Stop()
	if collector != nil {
		collector.Stop()
	}
	sched.Stop(true)

	logger.Info().Msg("Shutdown complete")
	return nil
}

// applyFlags lays explicitly set flags over the loaded config, completing
// the precedence chain.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("server-port") {
		cfg.ServerPort, _ = flags.GetInt("server-port")
	}
	if flags.Changed("db-driver") {
		cfg.DBDriver, _ = flags.GetString("db-driver")
	}
	if flags.Changed("db-host") {
		cfg.DBHost, _ = flags.GetString("db-host")
	}
	if flags.Changed("db-port") {
		cfg.DBPort, _ = flags.GetInt("db-port")
	}
	if flags.Changed("db-user") {
		cfg.DBUser, _ = flags.GetString("db-user")
	}
	if flags.Changed("db-name") {
		cfg.DBName, _ = flags.GetString("db-name")
	}
	if flags.Changed("db-password") {
		cfg.DBPassword, _ = flags.GetString("db-password")
	}
	if flags.Changed("db-timeout") {
		cfg.DBTimeout, _ = flags.GetString("db-timeout")
	}
	if flags.Changed("scheduler-exec-path") {
		cfg.SchedulerExecPath, _ = flags.GetString("scheduler-exec-path")
	}
	if flags.Changed("scheduler-process-limit") {
		cfg.SchedulerProcessLimit, _ = flags.GetInt("scheduler-process-limit")
	}
	if flags.Changed("scheduler-time-limit") {
		cfg.SchedulerTimeLimit, _ = flags.GetInt64("scheduler-time-limit")
	}
	if flags.Changed("scheduler-resource-limit") {
		cfg.SchedulerResourceLimit, _ = flags.GetInt64("scheduler-resource-limit")
	}
	if flags.Changed("scheduler-sleep") {
		cfg.SchedulerSleep, _ = flags.GetInt64("scheduler-sleep")
	}
	if flags.Changed("tls-cert-path") {
		cfg.TLSCertPath, _ = flags.GetString("tls-cert-path")
	}
	if flags.Changed("tls-key-path") {
		cfg.TLSKeyPath, _ = flags.GetString("tls-key-path")
	}
	if flags.Changed("mgmt-socket-path") {
		cfg.MgmtSocketPath, _ = flags.GetString("mgmt-socket-path")
	}
	if flags.Changed("metrics-port") {
		cfg.MetricsPort, _ = flags.GetInt("metrics-port")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DBDriver == "memory" {
		return storage.NewMemStore(), nil
	}
	timeout, err := cfg.DBTimeoutDuration()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return storage.Open(ctx, cfg.ConnString())
}
