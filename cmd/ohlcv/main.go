// OHLCV ingest CLI
// Fills and serves historical price bars for equities. Bars missing from the
// local store are fetched on demand through an ordered chain of providers;
// ranges nobody can supply are remembered and not requested again.
//
// Usage:
//
//	ohlcv ensure SPY --timeframe 1d --start 2025-01-01 --end 2025-01-31
//	ohlcv query SPY --timeframe 1h --start 2025-01-02 --end 2025-01-03 --limit 50
//	ohlcv backfill --symbols SPY,QQQ --timeframes 1d,1h --start 2024-01-01
//	ohlcv export SPY --timeframe 1d --format parquet --out spy.parquet --upload
//	ohlcv quality SPY --days 365
//	ohlcv watch --symbols SPY,QQQ --timeframes 1d,1h
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-ingest/internal/acquisition"
	"github.com/johnayoung/go-ohlcv-ingest/internal/calendar"
	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/logger"
	"github.com/johnayoung/go-ohlcv-ingest/internal/provider"
	"github.com/johnayoung/go-ohlcv-ingest/internal/storage"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "ohlcv"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// CLI holds the components shared by every command. Components are built
// once, in initialize, before the first command that needs them runs.
type CLI struct {
	configPath string
	envFile    string
	verbose    bool

	// logOutput replaces the configured log destination when set
	logOutput io.Writer

	config       *config.AppConfig
	logs         *logger.LoggerManager
	logger       *slog.Logger
	store        storage.Store
	calendar     *calendar.Registry
	chain        *provider.Chain
	orchestrator *acquisition.Orchestrator
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	err := cli.rootCommand().ExecuteContext(ctx)
	cli.close()

	if err == nil {
		os.Exit(ExitSuccess)
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(ExitInterrupt)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(ExitUsageError)
}

// loadConfig reads configuration only; commands such as "config show" need
// nothing else.
func (cli *CLI) loadConfig() error {
	if cli.config != nil {
		return nil
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	manager := config.NewConfigManager(cli.configPath, bootstrap)
	if cli.envFile != "" {
		manager.SetEnvFile(cli.envFile)
	}

	cfg, err := manager.LoadConfig()
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	if cli.verbose {
		cfg.Logging.Level = "debug"
	}
	cli.config = cfg
	return nil
}

// initialize sets up logging, storage, calendars, providers and the
// orchestrator.
func (cli *CLI) initialize(ctx context.Context) error {
	if cli.orchestrator != nil {
		return nil
	}
	if err := cli.loadConfig(); err != nil {
		return err
	}
	cfg := cli.config

	var logs *logger.LoggerManager
	if cli.logOutput != nil {
		logs = logger.NewLoggerManagerWithWriter(cfg.Logging, cli.logOutput)
	} else {
		var err error
		if logs, err = logger.NewLoggerManager(cfg.Logging); err != nil {
			return withExit(ExitConfigError, fmt.Errorf("failed to setup logging: %w", err))
		}
	}
	cli.logs = logs
	cli.logger = logs.GetComponentLogger(logger.ComponentCLI)
	slog.SetDefault(logs.GetLogger())

	store, err := storage.New(ctx, storage.Config{
		Backend:        cfg.Storage.Type,
		DuckDBPath:     cfg.Storage.DatabaseURL,
		PostgresDSN:    cfg.Storage.PostgresDSN,
		MaxConnections: cfg.Storage.MaxConns,
	})
	if err != nil {
		return withExit(ExitConnectionErr, fmt.Errorf("failed to open storage: %w", err))
	}
	cli.store = store
	if err := store.Initialize(ctx); err != nil {
		return withExit(ExitConnectionErr, fmt.Errorf("failed to initialize storage schema: %w", err))
	}

	cli.calendar, err = calendar.NewRegistry(cfg.Calendar.DefaultExchange, logs.GetComponentLogger(logger.ComponentCalendar))
	if err != nil {
		return withExit(ExitConfigError, fmt.Errorf("failed to load calendars: %w", err))
	}

	cli.chain, err = provider.NewChainFromConfig(cfg, logs.GetComponentLogger(logger.ComponentProvider))
	if err != nil {
		return withExit(ExitConfigError, fmt.Errorf("failed to configure providers: %w", err))
	}

	cli.orchestrator = acquisition.NewOrchestrator(
		store,
		cli.calendar,
		cli.chain,
		acquisition.ConfigFromApp(cfg.Acquisition),
		logs.GetComponentLogger(logger.ComponentAcquisition),
	)

	cli.logger.Debug("cli initialized",
		"storage", cfg.Storage.Type,
		"providers", cli.chain.Names(),
		"default_exchange", cfg.Calendar.DefaultExchange)
	return nil
}

func (cli *CLI) close() {
	if cli.store != nil {
		if err := cli.store.Close(); err != nil && cli.logger != nil {
			cli.logger.Warn("failed to close storage", "error", err)
		}
	}
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}

func (cli *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "Fill and serve historical OHLCV bars",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "config file (.json or .toml)")
	root.PersistentFlags().StringVar(&cli.envFile, "env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		cli.ensureCommand(),
		cli.queryCommand(),
		cli.backfillCommand(),
		cli.unobtainableCommand(),
		cli.calendarCommand(),
		cli.instrumentCommand(),
		cli.exportCommand(),
		cli.qualityCommand(),
		cli.watchCommand(),
		cli.migrateCommand(),
		cli.statusCommand(),
		cli.configCommand(),
		versionCommand(),
	)
	return root
}

// needsEngine is a PreRunE that builds every component.
func (cli *CLI) needsEngine(cmd *cobra.Command, _ []string) error {
	return cli.initialize(cmd.Context())
}
