package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/atinyakov/declutter/internal/config"
	"github.com/atinyakov/declutter/internal/engine"
	"github.com/atinyakov/declutter/internal/logger"
)

// app carries state shared by every subcommand.
type app struct {
	opts *config.ClientOptions
	log  *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{opts: config.DefaultClientOptions(), log: logger.New()}
	interval := a.opts.ProbeInterval.Std()
	timeout := a.opts.RequestTimeout.Std()

	root := &cobra.Command{
		Use:           "declutter",
		Short:         "Offline-first sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("probe-interval") {
				a.opts.ProbeInterval = config.Duration(interval)
			}
			if cmd.Flags().Changed("request-timeout") {
				a.opts.RequestTimeout = config.Duration(timeout)
			}
			if err := a.opts.Load(); err != nil {
				return err
			}
			return a.log.InitWithFile(a.opts.LogLevel, a.opts.LogFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.log.Sync()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.Config, "config", "", "path to JSON config file")
	f.StringVar(&a.opts.StorePath, "store", a.opts.StorePath, "local SQLite database file")
	f.StringVar(&a.opts.ServerURL, "server", a.opts.ServerURL, "remote service base URL")
	f.StringVar(&a.opts.HealthURL, "health-url", "", "connectivity probe URL (default <server>/health)")
	f.DurationVar(&interval, "probe-interval", interval, "time between connectivity probes")
	f.DurationVar(&timeout, "request-timeout", timeout, "timeout for each remote request")
	f.BoolVar(&a.opts.AssumeOnline, "assume-online", false, "skip the startup probe and start online")
	f.StringVar(&a.opts.LogLevel, "log-level", a.opts.LogLevel, "log level")
	f.StringVar(&a.opts.LogFile, "log-file", "", "also write logs to this rotating file")
	f.StringVar(&a.opts.CAFile, "ca", "", "CA certificate for the remote service")
	f.StringVar(&a.opts.CertFile, "cert", "", "client certificate for mutual TLS")
	f.StringVar(&a.opts.KeyFile, "key", "", "client key for mutual TLS")

	root.AddCommand(
		a.serveCmd(),
		a.enqueueCmd(),
		a.pendingCmd(),
		a.discardCmd(),
		a.syncCmd(),
		a.statusCmd(),
		a.recordCmd(),
	)
	return root
}

// withEngine runs fn against a freshly built engine and closes it afterwards,
// waiting for drains triggered by fn.
func (a *app) withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	e, err := engine.New(ctx, a.opts, a.log.Log)
	if err != nil {
		return err
	}
	runErr := fn(e)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
