package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticktalk/balance-engine/api"
	"github.com/ticktalk/balance-engine/config"
	"github.com/ticktalk/balance-engine/ledger"
)

var (
	configPath string
	dbPath     string
	port       int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Prepaid balance ledger service",
	Long: `ledgerd tracks prepaid hours and credits balances, logs work against
them atomically and notifies customers about low or expiring balances.

Running ledgerd without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		handler := api.NewHandler(a.Ledger, a.Timers, a.Log)
		router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: a.Config.Server.AllowedOrigins})

		server := &http.Server{
			Addr:         a.Config.Server.Addr(),
			Handler:      router,
			ReadTimeout:  a.Config.Server.ReadTimeout,
			WriteTimeout: a.Config.Server.WriteTimeout,
			IdleTimeout:  a.Config.Server.IdleTimeout,
		}

		a.StartBackground()

		errCh := make(chan error, 1)
		go func() {
			a.Log.Info().Str("addr", server.Addr).Msg("server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}

		a.Log.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		a.Log.Info().Msg("server stopped")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Scheduler.Sweep(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, warned %d, deactivated %d, failed %d\n",
			res.Checked, res.Warned, res.Deactivated, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("sweep finished with %d failures", res.Failed)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <balance-id>",
	Short: "Compare a balance's current amount with its transaction history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Ledger.Reconcile(cmd.Context(), ledger.SystemActor, ledger.BalanceID(args[0]))
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", args[0], err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ledger.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (\":memory:\" for in-memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "HTTP server port")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.Version = version
}

// loadConfig applies command-line flags over the loaded configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = dbPath
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}
