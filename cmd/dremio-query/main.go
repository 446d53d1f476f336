// Command dremio-query runs one SQL query against a Dremio Flight endpoint and
// prints the result or writes it to an Arrow IPC file.
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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	dremio "github.com/hugr-lab/dremio-flight-go"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		cli        configCLIInputs
		configFile string
	)

	cmd := &cobra.Command{
		Use:           "dremio-query",
		Short:         "Run a SQL query against Dremio over Arrow Flight",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fileCfg *FileConfig
			if configFile != "" {
				var err error
				if fileCfg, err = loadConfigFile(configFile); err != nil {
					return err
				}
			}

			cli.Set = map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { cli.Set[f.Name] = true })

			warn := func(msg string) { fmt.Fprintln(stderr, "warning: "+msg) }
			cfg, err := resolveEffectiveConfig(fileCfg, cli, os.Getenv, fileExists, warn)
			if err != nil {
				return err
			}
			if cfg.Query == "" {
				return errors.New("no query given: use --query or the query key of the config file")
			}

			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, stdout, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "Path to a YAML config file")
	f.StringVar(&cli.Hostname, "hostname", dremio.DefaultHostname, "Dremio coordinator hostname")
	f.IntVar(&cli.Port, "port", dremio.DefaultPort, "Dremio Flight port")
	f.StringVar(&cli.Username, "username", "", "Dremio username")
	f.StringVar(&cli.Password, "password", "", "Dremio password")
	f.StringVar(&cli.Token, "token", "", "Personal access token, used as password when a username is given")
	f.BoolVar(&cli.TLS, "tls", false, "Use an encrypted connection")
	f.BoolVar(&cli.DisableCertVerification, "disable-cert-verification", false, "Do not verify the server certificate")
	f.StringVar(&cli.Certs, "certs", "", "PEM bundle of trusted roots (default: the system bundle)")
	f.StringArrayVar(&cli.SessionProperties, "session-property", nil, "Session property as key=value (repeatable)")
	f.StringVar(&cli.Engine, "engine", "", "Engine to route the query to")
	f.StringVar(&cli.ProjectID, "project-id", "", "Dremio Cloud project ID")
	f.StringVar(&cli.Query, "query", "", "SQL query to run")
	f.StringVar(&cli.Output, "output", "", "Write the result to this Arrow IPC file instead of printing it")
	f.BoolVar(&cli.Zstd, "zstd", false, "Compress the IPC output with zstd")
	f.StringVar(&cli.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, cfg resolvedConfig, stdout io.Writer, logger *slog.Logger) (err error) {
	sess, err := dremio.Connect(ctx, cfg.Conn, dremio.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("Failed to close session", "error", cerr)
		}
	}()

	stream, err := sess.Execute(ctx, cfg.Query)
	if err != nil {
		return err
	}

	if cfg.Output != "" {
		return writeIPC(ctx, stream, cfg.Output, cfg.Zstd, logger)
	}

	fmt.Fprintln(stdout, stream.Schema())
	stats, err := dremio.Drain(ctx, stream, printSink(stdout))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d rows in %d batches\n", stats.Rows, stats.Batches)
	return nil
}

func writeIPC(ctx context.Context, stream *dremio.RecordBatchStream, path string, zstd bool, logger *slog.Logger) (err error) {
	f, err := os.Create(path)
	if err != nil {
		stream.Close()
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	sink, err := dremio.NewIPCSink(f, stream.Schema(), dremio.IPCSinkOptions{Zstd: zstd})
	if err != nil {
		stream.Close()
		return err
	}
	stats, err := dremio.Drain(ctx, stream, sink)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info("Result written", "path", path, "rows", stats.Rows, "batches", stats.Batches)
	return nil
}

// printSink prints every batch column by column.
func printSink(w io.Writer) dremio.SinkFunc {
	var n int
	return func(rec arrow.RecordBatch) error {
		fmt.Fprintf(w, "batch %d: %d rows\n", n, rec.NumRows())
		for i, field := range rec.Schema().Fields() {
			if _, err := fmt.Fprintf(w, "  %s: %v\n", field.Name, rec.Column(i)); err != nil {
				return err
			}
		}
		n++
		return nil
	}
}
