// groundedrag answers questions about university regulations with grounded,
// cited answers.
//
// Usage:
//
//	groundedrag ask "¿Cual es el PAPA minimo para doble titulacion?"
//	groundedrag ask --trace --max-iterations 3 "..."
//	groundedrag ask --server localhost:50051 "..."
//	groundedrag serve --addr :50051 --metrics-addr :9090
//	groundedrag ingest --reset
//	groundedrag doctor --strict
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/logging"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
)

// exitError carries a process exit code without printing an error.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// cli holds what every command shares once the root pre-run has resolved it.
type cli struct {
	configFile string
	logLevel   string

	settings *config.Settings
	logger   *logging.ZapLogger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "groundedrag",
		Short:         "Grounded question answering over university regulations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "settings file (default groundedrag.yaml in . or ./config)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newAskCmd(c),
		newServeCmd(c),
		newIngestCmd(c),
		newDoctorCmd(c),
	)
	return root
}

// setup loads settings, builds the logger and starts tracing when enabled.
func (c *cli) setup() error {
	settings, err := config.LoadSettings(c.configFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		settings.Logging.Level = c.logLevel
	}
	c.settings = settings

	logger, err := logging.New(logging.Options{
		Level: settings.Logging.Level,
		File:  settings.Logging.File,
		JSON:  settings.Logging.JSON,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	c.logger = logger

	if settings.Tracing.Enabled {
		shutdown, err := observability.InitTracer(settings.Tracing.ServiceName, settings.Tracing.Endpoint)
		if err != nil {
			logger.Warn("tracing_disabled", "error", err.Error())
		} else {
			c.shutdown = shutdown
		}
	}
	return nil
}

func (c *cli) teardown(ctx context.Context) error {
	if c.shutdown != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.shutdown(ctx); err != nil {
			c.logger.Warn("tracer_shutdown_failed", "error", err.Error())
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
