package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and attaches all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	tailFlags := &TailFlags{}
	scrapeFlags := &ScrapeFlags{}
	clearFlags := &ProducerFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createTailCommand(globalFlags, tailFlags),
		createScrapeCommand(globalFlags, scrapeFlags),
		createClearCommand(globalFlags, clearFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "resultstream",
		Short: "Realtime test result collection and streaming service",
		Long: `Resultstream ingests test lifecycle events, application logs and host
metrics, persists them per tenant and streams them live over SSE.

Examples:
  resultstream serve --config=config.toml         # Run the ingest service
  resultstream tail --name=www --path=access.log  # Ship a log file
  resultstream scrape --interval=5s               # Ship host metrics
  resultstream clear --tenant=ci                  # Wipe one tenant's records`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the ingest and streaming service",
		Long: `Run the HTTP service: ingestion endpoints, cursor reads, SSE streams
and the Prometheus listener. Configuration comes from the TOML file.

Examples:
  resultstream serve                    # Defaults, in-process sqlite file
  resultstream serve config.toml       # Explicit config file
  resultstream serve --config=config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := serveFlags.ConfigPath
			if configPath == "" {
				configPath = globalFlags.ConfigPath
			}
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file (overrides the root flag)")
	return cmd
}

// createTailCommand creates the tail subcommand.
func createTailCommand(globalFlags *GlobalFlags, tailFlags *TailFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Watch log files and ship new lines to the ingest service",
		Long: `Watch one or more log files and push every new line to the ingest
service as an application log record. Sources come from the config file's
[[sources]] tables; --name/--path adds one more.

Examples:
  resultstream tail --config=config.toml
  resultstream tail --name=www --path=/var/log/nginx/access.log
  resultstream tail --name=app --path=app.log --api-url=http://remote:8000/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(globalFlags.ConfigPath, *tailFlags)
		},
	}

	cmd.Flags().StringVar(&tailFlags.Name, "name", "", "source label for an extra watched file")
	cmd.Flags().StringVar(&tailFlags.Path, "path", "", "path of an extra watched file")
	cmd.Flags().DurationVar(&tailFlags.Interval, "interval", 0, "poll interval for the extra file")
	addProducerFlags(cmd, &tailFlags.ProducerFlags)
	return cmd
}

// createScrapeCommand creates the scrape subcommand.
func createScrapeCommand(globalFlags *GlobalFlags, scrapeFlags *ScrapeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Sample host CPU/memory and ship them as metrics",
		Long: `Sample host CPU and memory usage on an interval and push the samples
to the ingest service as metric records.

Examples:
  resultstream scrape
  resultstream scrape --interval=10s --api-url=http://remote:8000/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(globalFlags.ConfigPath, *scrapeFlags)
		},
	}

	cmd.Flags().DurationVar(&scrapeFlags.Interval, "interval", 0, "sample interval (default from config, 5s)")
	addProducerFlags(cmd, &scrapeFlags.ProducerFlags)
	return cmd
}

// createClearCommand creates the clear subcommand.
func createClearCommand(globalFlags *GlobalFlags, clearFlags *ProducerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe every stored record of one tenant",
		Long: `Ask the ingest service to delete all stored records of the calling
tenant. Other tenants are untouched.

Examples:
  resultstream clear --tenant=ci
  resultstream clear --token=eyJ... --api-url=http://remote:8000/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(globalFlags.ConfigPath, *clearFlags)
		},
	}

	addProducerFlags(cmd, clearFlags)
	return cmd
}

func addProducerFlags(cmd *cobra.Command, flags *ProducerFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "ingest service URL (e.g. http://host:8000/api)")
	cmd.Flags().StringVar(&flags.Tenant, "tenant", "", "tenant sent as X-Tenant-ID")
	cmd.Flags().StringVar(&flags.Token, "token", "", "bearer token carrying the tenant claim")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 2*time.Second, "request timeout")
}
