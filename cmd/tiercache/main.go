package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/tiercache/cache"
	"github.com/agentuity/tiercache/config"
	"github.com/agentuity/tiercache/logger"
	"github.com/spf13/cobra"
)

type app struct {
	configFile string
	logLevel   string
	logFormat  string
	facade     *cache.Facade
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tiercache",
		Short:         "Inspect and manage a two-tier cache",
		Long:          "tiercache reads and writes the cache configured by TIERCACHE_CONFIG, .env and CACHE_*/REDIS_* environment variables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.facade == nil {
				return nil
			}
			return a.facade.Close()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (default $"+logger.EnvLogLevel+" or info)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log output format: console or json")

	root.AddCommand(a.getCmd(), a.setCmd(), a.purgeCmd(), a.pingCmd(), a.statsCmd())
	return root
}

func (a *app) open(ctx context.Context) error {
	level := logger.GetLevelFromEnv()
	if a.logLevel != "" {
		level = logger.ParseLevel(a.logLevel)
	}
	var log logger.Logger
	switch a.logFormat {
	case "console", "":
		log = logger.NewConsoleLogger(level)
	case "json":
		log = logger.NewJSONLogger(level)
	default:
		return fmt.Errorf("unknown log format %q", a.logFormat)
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	f, err := cache.FromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.facade = f
	return nil
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the cached value for key as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, val := a.facade.Get(cmd.Context(), args[0])
			if !found {
				return fmt.Errorf("%s: not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(val)
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	var ttlHours int
	cmd := &cobra.Command{
		Use:     "set <key> <json>",
		Short:   "Cache a JSON value under key",
		Example: "tiercache set user:1 '{\"name\":\"ada\"}' --ttl-hours 6",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("invalid JSON value: %w", err)
			}
			return a.facade.Set(cmd.Context(), args[0], value, ttlHours)
		},
	}
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "durable TTL in hours (0 uses the configured default)")
	return cmd
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [key]",
		Short: "Remove key, or every key when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				a.facade.PurgeAll(cmd.Context())
				return nil
			}
			a.facade.Purge(cmd.Context(), args[0])
			return nil
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the durable tier is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.facade.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.facade.Durable())
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the cache counters for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.facade.Stats())
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
