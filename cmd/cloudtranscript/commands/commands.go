package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/app"
	"github.com/iaforte/cloud-transcript/pkg/config"
	"github.com/iaforte/cloud-transcript/pkg/mcp"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/orchestrator"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"github.com/iaforte/cloud-transcript/pkg/watch"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

// NewRoot builds the command tree. Every call returns fresh flag state.
func NewRoot(version string) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "cloudtranscript",
		Short:         "Transcribe WhatsApp voice messages with local and cloud speech engines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		transcribeCommand(flags),
		retranscribeCommand(flags),
		cacheCommand(flags),
		watchCommand(flags),
		mcpCommand(flags, version),
		configCommand(flags),
	)
	return root
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:     f.configPath,
		EnvFiles: []string{f.envFile},
	})
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

func (f *rootFlags) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, app.WithLogOutput(cmd.ErrOrStderr()))
}

func withApp(flags *rootFlags, run func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := flags.open(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return run(cmd, args, a)
	}
}

type batchFlags struct {
	order     string
	language  string
	skipCache bool
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.order, "order", app.OrderUpload, "conversation order: upload, recorded or name")
	cmd.Flags().StringVar(&b.language, "language", "", "language hint, e.g. pt or pt-BR (default from config)")
	cmd.Flags().BoolVar(&b.skipCache, "skip-cache", false, "transcribe again even when a cached transcript exists")
}

func (b *batchFlags) options() []model.BatchOption {
	var opts []model.BatchOption
	if b.language != "" {
		opts = append(opts, model.WithLanguageHint(b.language))
	}
	if b.skipCache {
		opts = append(opts, model.WithSkipCache(true))
	}
	return opts
}

func transcribeCommand(flags *rootFlags) *cobra.Command {
	batch := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "transcribe <files...>",
		Short: "Transcribe voice messages and print the ordered conversation as JSON",
		Args:  cobra.MinimumNArgs(1),
	}
	batch.register(cmd)
	cmd.RunE = withApp(flags, func(cmd *cobra.Command, args []string, a *app.App) error {
		stderr := cmd.ErrOrStderr()
		report, err := a.Transcribe(cmd.Context(), app.TranscribeRequest{
			Paths:    args,
			Order:    batch.order,
			Options:  batch.options(),
			Progress: progressPrinter(stderr),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, report.Summary.String())
		return writeJSON(cmd.OutOrStdout(), report)
	})
	return cmd
}

func progressPrinter(w io.Writer) func(orchestrator.Event) {
	return func(event orchestrator.Event) {
		result := event.Result
		line := fmt.Sprintf("[%d/%d] %s %s", event.Completed, event.Total, result.ItemID, result.Status)
		if result.EngineUsed != "" {
			line += " via " + string(result.EngineUsed)
		}
		if result.ErrorKind != "" {
			line += " (" + string(result.ErrorKind) + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func retranscribeCommand(flags *rootFlags) *cobra.Command {
	batch := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "retranscribe <file>",
		Short: "Transcribe one file again and replace its cached transcript",
		Args:  cobra.ExactArgs(1),
	}
	batch.register(cmd)
	cmd.RunE = withApp(flags, func(cmd *cobra.Command, args []string, a *app.App) error {
		result, err := a.Retranscribe(cmd.Context(), args[0], batch.options()...)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), result)
	})
	return cmd
}

func cacheCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate cached transcripts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <files...>",
			Short: "Show the cached transcript of each file",
			Args:  cobra.MinimumNArgs(1),
			RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app.App) error {
				statuses, err := a.CacheStatus(cmd.Context(), args)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), statuses)
			}),
		},
		&cobra.Command{
			Use:   "invalidate <files...>",
			Short: "Drop the cached transcripts of the given files",
			Args:  cobra.MinimumNArgs(1),
			RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app.App) error {
				fingerprints, err := a.Invalidate(cmd.Context(), args)
				if err != nil {
					return err
				}
				for i, fingerprint := range fingerprints {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", fingerprint, args[i])
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print the number of cached transcripts",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app.App) error {
				n, err := a.CacheLen(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"backend": a.Config.Cache.Backend,
					"path":    a.Config.Cache.Path,
					"entries": n,
				})
			}),
		},
	)
	return cmd
}

func watchCommand(flags *rootFlags) *cobra.Command {
	batch := &batchFlags{}
	var (
		settle      time.Duration
		initialScan bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Transcribe voice messages as they are dropped into a directory",
		Args:  cobra.ExactArgs(1),
	}
	batch.register(cmd)
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "how long a file must stay unchanged before it is transcribed")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", false, "also transcribe the files already in the directory")

	cmd.RunE = withApp(flags, func(cmd *cobra.Command, args []string, a *app.App) error {
		out := cmd.OutOrStdout()
		stderr := cmd.ErrOrStderr()
		handler := func(ctx context.Context, paths []string) {
			report, err := a.Transcribe(ctx, app.TranscribeRequest{
				Paths:    paths,
				Order:    batch.order,
				Options:  batch.options(),
				Progress: progressPrinter(stderr),
			})
			if err != nil {
				fmt.Fprintf(stderr, "transcription failed: %v\n", err)
				return
			}
			fmt.Fprintln(stderr, report.Summary.String())
			if err := writeJSON(out, report); err != nil {
				fmt.Fprintf(stderr, "unable to write report: %v\n", err)
			}
		}

		w, err := watch.New(args[0], handler, watch.WithSettle(settle), watch.WithInitialScan(initialScan))
		if err != nil {
			return err
		}
		return w.Run(cmd.Context())
	})
	return cmd
}

func mcpCommand(flags *rootFlags, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app.App) error {
			return mcp.ServeStdio(cmd.Context(), a, version, cmd.InOrStdin(), cmd.OutOrStdout())
		}),
	}
}

func configCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON schema of the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				schema, err := config.Schema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return utils.WrapIfNotNil(err)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := flags.load()
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"config":          cfg.Redacted(),
					"engine_priority": cfg.EnginePriority(),
				})
			},
		},
	)
	return cmd
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return utils.WrapIfNotNil(encoder.Encode(value))
}
