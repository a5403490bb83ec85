package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayoung/go-ohlcv-ingest/internal/acquisition"
	"github.com/johnayoung/go-ohlcv-ingest/internal/archive"
	"github.com/johnayoung/go-ohlcv-ingest/internal/collector"
	"github.com/johnayoung/go-ohlcv-ingest/internal/logger"
	"github.com/johnayoung/go-ohlcv-ingest/internal/metrics"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
	"github.com/johnayoung/go-ohlcv-ingest/internal/storage"
	"github.com/johnayoung/go-ohlcv-ingest/internal/validator"
)

// rangeFlags are the date-range flags shared by most commands.
type rangeFlags struct {
	timeframe string
	start     string
	end       string
	days      int
}

func (f *rangeFlags) register(cmd *cobra.Command, days int) {
	cmd.Flags().StringVarP(&f.timeframe, "timeframe", "t", "1d", "timeframe (5min, 15min, 1h, 1d, 1month)")
	cmd.Flags().StringVar(&f.start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.end, "end", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&f.days, "days", days, "days back from --end when --start is not given")
}

// dates resolves the flags against now.
func (f *rangeFlags) dates(now time.Time) (time.Time, time.Time, error) {
	return parseRange(f.start, f.end, f.days, now)
}

func parseRange(startFlag, endFlag string, days int, now time.Time) (time.Time, time.Time, error) {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if endFlag != "" {
		t, err := time.Parse(time.DateOnly, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date format, use YYYY-MM-DD: %w", err)
		}
		end = t
	}

	if startFlag == "" {
		if days <= 0 {
			return time.Time{}, time.Time{}, errors.New("specify either --days or --start")
		}
		return end.AddDate(0, 0, -days), end, nil
	}

	start, err := time.Parse(time.DateOnly, startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date format, use YYYY-MM-DD: %w", err)
	}
	return start, end, nil
}

// splitList splits a comma separated flag, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cli *CLI) traced(ctx context.Context) context.Context {
	return logger.WithTraceID(ctx, logger.NewTraceID())
}

func (cli *CLI) ensureCommand() *cobra.Command {
	var rf rangeFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "ensure SYMBOL",
		Short:   "Fetch whatever bars are missing for a symbol and date range",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := rf.dates(time.Now().UTC())
			if err != nil {
				return err
			}

			res, err := cli.orchestrator.EnsureDetailed(cli.traced(cmd.Context()), acquisition.Request{
				Symbol:    args[0],
				Timeframe: rf.timeframe,
				Start:     start,
				End:       end,
			})
			if err != nil {
				return withExit(exitCodeFor(err), err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			printResult(out, res)
			if !res.OK {
				return withExit(ExitDataError, errors.New("range is not complete"))
			}
			return nil
		},
	}
	rf.register(cmd, 30)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the detailed result as JSON")
	return cmd
}

func (cli *CLI) queryCommand() *cobra.Command {
	var rf rangeFlags
	var limit int
	var ensure bool
	var format string

	cmd := &cobra.Command{
		Use:     "query SYMBOL",
		Short:   "Show stored bars, newest first",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := rf.dates(time.Now().UTC())
			if err != nil {
				return err
			}
			ctx := cli.traced(cmd.Context())
			req := acquisition.Request{
				Symbol:    args[0],
				Timeframe: rf.timeframe,
				Start:     start,
				End:       end,
				Limit:     limit,
			}

			if ensure {
				ok, err := cli.orchestrator.EnsureData(ctx, req)
				if err != nil {
					return withExit(exitCodeFor(err), err)
				}
				if !ok {
					cli.logger.Warn("range incomplete, showing what is stored", "request", req.String())
				}
			}

			bars, err := cli.orchestrator.QueryBars(ctx, req)
			if err != nil {
				return withExit(exitCodeFor(err), err)
			}

			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), toRecords(bars))
			case "table", "":
				printBars(cmd.OutOrStdout(), bars)
				return nil
			default:
				return fmt.Errorf("unknown output format %q (table or json)", format)
			}
		},
	}
	rf.register(cmd, 30)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum bars (default 100, max 200)")
	cmd.Flags().BoolVar(&ensure, "ensure", true, "fill gaps before querying")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json)")
	return cmd
}

func (cli *CLI) backfillCommand() *cobra.Command {
	var symbols, timeframes, startFlag, endFlag string
	var days int

	cmd := &cobra.Command{
		Use:     "backfill",
		Short:   "Ensure data for several symbols and timeframes concurrently",
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(startFlag, endFlag, days, time.Now().UTC())
			if err != nil {
				return err
			}
			syms, tfs := splitList(symbols), splitList(timeframes)
			if len(syms) == 0 || len(tfs) == 0 {
				return errors.New("--symbols and --timeframes are required")
			}

			var reqs []acquisition.Request
			for _, s := range syms {
				for _, tf := range tfs {
					reqs = append(reqs, acquisition.Request{Symbol: s, Timeframe: tf, Start: start, End: end})
				}
			}

			outcomes := cli.orchestrator.EnsureBatch(cli.traced(cmd.Context()), reqs)
			printBatch(cmd.OutOrStdout(), outcomes)

			for _, o := range outcomes {
				if o.Err != nil || !o.Result.OK {
					return withExit(ExitDataError, errors.New("backfill incomplete"))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma separated symbols")
	cmd.Flags().StringVar(&timeframes, "timeframes", "1d", "comma separated timeframes")
	cmd.Flags().StringVar(&startFlag, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endFlag, "end", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 365, "days back from --end when --start is not given")
	return cmd
}

func (cli *CLI) unobtainableCommand() *cobra.Command {
	var rf rangeFlags

	cmd := &cobra.Command{
		Use:     "unobtainable SYMBOL",
		Short:   "List ranges no provider could supply",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := models.ParseTimeframe(rf.timeframe)
			if err != nil {
				return err
			}
			start, end, err := rf.dates(time.Now().UTC())
			if err != nil {
				return err
			}

			ranges, err := cli.store.ListUnobtainable(cmd.Context(), args[0], tf, start, end.AddDate(0, 0, 1))
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}
			printUnobtainable(cmd.OutOrStdout(), ranges)
			return nil
		},
	}
	rf.register(cmd, 3650)
	return cmd
}

func (cli *CLI) calendarCommand() *cobra.Command {
	var exchange, startFlag, endFlag string
	var days int

	cmd := &cobra.Command{
		Use:     "calendar",
		Short:   "Show trading sessions for an exchange",
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(startFlag, endFlag, days, time.Now().UTC())
			if err != nil {
				return err
			}
			if exchange == "" {
				exchange = cli.config.Calendar.DefaultExchange
			}

			sessions, err := cli.calendar.Sessions(exchange, start, end)
			if err != nil {
				return withExit(ExitDataError, err)
			}
			printSessions(cmd.OutOrStdout(), exchange, cli.calendar.Location(exchange), sessions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&exchange, "exchange", "e", "", "exchange identifier (default from config)")
	cmd.Flags().StringVar(&startFlag, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endFlag, "end", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 14, "days back from --end when --start is not given")
	return cmd
}

func (cli *CLI) instrumentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instrument",
		Short: "Inspect or update instruments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "show SYMBOL",
		Short:   "Show an instrument",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := cli.store.GetInstrument(cmd.Context(), args[0])
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}
			if inst == nil {
				return withExit(ExitDataError, fmt.Errorf("instrument %s not found", models.NormalizeSymbol(args[0])))
			}
			return printJSON(cmd.OutOrStdout(), inst)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set-exchange SYMBOL EXCHANGE",
		Short:   "Assign the listing exchange used to pick the trading calendar",
		Args:    cobra.ExactArgs(2),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			exchange := strings.ToUpper(strings.TrimSpace(args[1]))
			if _, ok := cli.calendar.Lookup(exchange); !ok {
				cli.logger.Warn("no calendar for exchange, the default calendar will be used",
					"exchange", exchange,
					"default", cli.config.Calendar.DefaultExchange)
			}
			if err := cli.store.SetExchange(cmd.Context(), args[0], exchange); err != nil {
				return withExit(ExitConnectionErr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", models.NormalizeSymbol(args[0]), exchange)
			return nil
		},
	})
	return cmd
}

func (cli *CLI) exportCommand() *cobra.Command {
	var rf rangeFlags
	var format, out string
	var upload, ensure bool

	cmd := &cobra.Command{
		Use:     "export SYMBOL",
		Short:   "Write stored bars to csv, json or parquet, optionally uploading to S3",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			writer, err := archive.NewWriter(format)
			if err != nil {
				return err
			}
			tf, err := models.ParseTimeframe(rf.timeframe)
			if err != nil {
				return err
			}
			start, end, err := rf.dates(time.Now().UTC())
			if err != nil {
				return err
			}
			ctx := cli.traced(cmd.Context())

			if ensure {
				if _, err := cli.orchestrator.EnsureData(ctx, acquisition.Request{
					Symbol: args[0], Timeframe: rf.timeframe, Start: start, End: end,
				}); err != nil {
					return withExit(exitCodeFor(err), err)
				}
			}

			bars, err := cli.storedBars(ctx, args[0], tf, start, end)
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}

			if out == "" {
				out = fmt.Sprintf("%s_%s_%s_%s.%s", models.NormalizeSymbol(args[0]), tf,
					start.Format("20060102"), end.Format("20060102"), writer.Extension())
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := writer.Write(bars, out); err != nil {
				return withExit(ExitDataError, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bars to %s\n", len(bars), out)

			if !upload {
				return nil
			}
			if !cli.config.Archive.Enabled {
				return withExit(ExitConfigError, errors.New("archive upload is disabled in configuration"))
			}
			uploader, err := archive.NewS3Uploader(cli.config.Archive, cli.logs.GetComponentLogger(logger.ComponentStorage))
			if err != nil {
				return withExit(ExitConfigError, err)
			}
			key, err := uploader.Upload(ctx, out)
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded to s3://%s/%s\n", cli.config.Archive.Bucket, key)
			return nil
		},
	}
	rf.register(cmd, 30)
	cmd.Flags().StringVarP(&format, "format", "f", archive.FormatCSV, "file format (csv, json, parquet)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default derived from the request)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the file to the configured S3 bucket")
	cmd.Flags().BoolVar(&ensure, "ensure", false, "fill gaps before exporting")
	return cmd
}

// storedBars reads every stored bar of a range oldest first, without the
// query limit. Intraday ranges cover the whole end date.
func (cli *CLI) storedBars(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.Bar, error) {
	if tf.IsIntraday() {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return cli.store.Query(ctx, storage.QueryRequest{
		Symbol:    models.NormalizeSymbol(symbol),
		Timeframe: tf,
		Start:     start,
		End:       end,
		Order:     storage.OrderAsc,
	})
}

func (cli *CLI) qualityCommand() *cobra.Command {
	var rf rangeFlags
	var ensure, asJSON bool
	vcfg := validator.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "quality SYMBOL",
		Short:   "Report data-quality anomalies in stored bars",
		Args:    cobra.ExactArgs(1),
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := models.ParseTimeframe(rf.timeframe)
			if err != nil {
				return withExit(ExitUsageError, err)
			}
			start, end, err := rf.dates(time.Now().UTC())
			if err != nil {
				return err
			}
			ctx := cli.traced(cmd.Context())

			if ensure {
				if _, err := cli.orchestrator.EnsureData(ctx, acquisition.Request{
					Symbol: args[0], Timeframe: rf.timeframe, Start: start, End: end,
				}); err != nil {
					return withExit(exitCodeFor(err), err)
				}
			}

			bars, err := cli.storedBars(ctx, args[0], tf, start, end)
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}

			v := validator.NewValidator(vcfg, cli.logs.GetComponentLogger(logger.ComponentQuality))
			report, err := v.ValidateBars(ctx, models.NormalizeSymbol(args[0]), tf, bars)
			if err != nil {
				return withExit(ExitDataError, err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	rf.register(cmd, 365)
	cmd.Flags().Float64Var(&vcfg.PriceSpikeThreshold, "spike", vcfg.PriceSpikeThreshold, "close-to-close return flagged as a spike")
	cmd.Flags().Float64Var(&vcfg.VolumeSurgeThreshold, "surge", vcfg.VolumeSurgeThreshold, "volume ratio flagged as a surge")
	cmd.Flags().BoolVar(&vcfg.FlagZeroVolume, "zero-volume", vcfg.FlagZeroVolume, "flag bars with zero volume")
	cmd.Flags().BoolVar(&ensure, "ensure", false, "fill gaps before checking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (cli *CLI) watchCommand() *cobra.Command {
	var symbols, timeframes string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a watchlist current, serving health and metrics over HTTP",
		Long: `Runs until interrupted. Every symbol and timeframe is ensured on start and
again whenever a new bar completes, over the configured lookback window.
The watchlist comes from [schedule] unless --symbols is given.`,
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := cli.config.Schedule
			if symbols != "" {
				sc.Symbols = splitList(symbols)
			}
			if timeframes != "" {
				sc.Timeframes = splitList(timeframes)
			}
			schedCfg, err := collector.ConfigFromApp(sc, cli.config.Acquisition)
			if err != nil {
				return withExit(ExitUsageError, err)
			}
			scheduler, err := collector.NewScheduler(schedCfg, cli.orchestrator, cli.logs.GetComponentLogger(logger.ComponentScheduler))
			if err != nil {
				return withExit(ExitUsageError, err)
			}

			ctx := cmd.Context()
			server := metrics.NewServer(cli.config.Metrics, cli.logs.GetComponentLogger(logger.ComponentMetrics))
			server.RegisterHealthChecker("storage", cli.store)
			server.RegisterSource("acquisition", func() any { return cli.orchestrator.Metrics() })
			server.RegisterSource("scheduler", func() any { return scheduler.Stats() })
			server.RegisterSource("jobs", func() any { return scheduler.Jobs() })
			if err := server.Start(ctx); err != nil {
				return withExit(ExitConfigError, err)
			}

			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %d jobs, press Ctrl+C to stop\n", len(scheduler.Jobs()))

			<-ctx.Done()

			shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := scheduler.Stop(shutdown); err != nil {
				cli.logger.Warn("scheduler did not stop cleanly", "error", err)
			}
			if err := server.Stop(shutdown); err != nil {
				cli.logger.Warn("metrics server did not stop cleanly", "error", err)
			}

			stats := scheduler.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "stopped: %d completed, %d incomplete, %d failed\n",
				stats.CompletedJobs, stats.IncompleteJobs, stats.FailedJobs)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma separated symbols (default [schedule].symbols)")
	cmd.Flags().StringVar(&timeframes, "timeframes", "", "comma separated timeframes (default [schedule].timeframes)")
	return cmd
}

func (cli *CLI) migrateCommand() *cobra.Command {
	var target int
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect DuckDB schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.loadConfig(); err != nil {
				return err
			}
			if cli.config.Storage.Type != storage.BackendDuckDB {
				return withExit(ExitConfigError, fmt.Errorf("migrations are managed for duckdb only, storage type is %q", cli.config.Storage.Type))
			}

			db, err := storage.NewDuckDBStore(cli.config.Storage.DatabaseURL)
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}
			defer db.Close()

			ctx := cmd.Context()
			migrations := db.Migrations()
			if !statusOnly {
				if target > 0 {
					err = migrations.Migrate(ctx, target)
				} else {
					err = migrations.MigrateToLatest(ctx)
				}
				if err != nil {
					return withExit(ExitDataError, err)
				}
			}

			status, err := migrations.Status(ctx)
			if err != nil {
				return withExit(ExitConnectionErr, err)
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "target version (default latest)")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only report the schema status")
	return cmd
}

func (cli *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Check storage health and show the provider chain",
		PreRunE: cli.needsEngine,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.store.HealthCheck(cmd.Context()); err != nil {
				return withExit(ExitConnectionErr, fmt.Errorf("storage unhealthy: %w", err))
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"storage":   cli.config.Storage.Type,
				"providers": cli.chain.Names(),
				"calendars": cli.calendar.Names(),
				"metrics":   cli.orchestrator.Metrics(),
			})
		},
	}
}

func (cli *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.config.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid, providers: %s\n", strings.Join(cli.chain.Names(), ", "))
			return nil
		},
	})
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", AppName, Version)
		},
	}
}

// exitCodeFor maps engine errors onto exit codes.
func exitCodeFor(err error) int {
	var se *storage.StorageError
	switch {
	case models.IsValidationError(err):
		return ExitUsageError
	case errors.As(err, &se):
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}
