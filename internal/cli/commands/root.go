package commands

import (
	"context"
	"errors"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/weaver/internal/cli/ui"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPath string
	verbose    bool
	noColor    bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weaver",
		Short: "Build-time hook instrumentation for JVM archives",
		Long: color.CyanString(`Weaver - build-time instrumentation for jar, war and zip archives

Weaver rewrites annotated methods of compiled classes to call your hooks:
  • @LogCall    logs each call on entry
  • @Lifecycle  reports thrown exceptions and every completion
  • @Benchmark  checks execution time against warn/fail budgets

Everything else in the archive is copied byte for byte.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: weaver.yaml in this or a parent directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log each pipeline step to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.MarkPersistentFlagFilename("config", "yaml", "yml")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewInstrumentCommand())
	rootCmd.AddCommand(NewMarkersCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the weaver version, Git commit, build date, and Go version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), noColor)
			kv.AddRow("Weaver version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", goVer)
			kv.Render()
		},
	}
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return ExecuteCommand(ctx, NewRootCommand())
}

// ExecuteCommand runs cmd and reports a failure on its error stream.
func ExecuteCommand(ctx context.Context, cmd *cobra.Command) error {
	if err := cmd.ExecuteContext(ctx); err != nil {
		reportError(cmd, err)
		return err
	}
	return nil
}

func reportError(cmd *cobra.Command, err error) {
	var werr *weaveerr.Error
	if errors.As(err, &werr) {
		ui.WriteError(cmd.ErrOrStderr(), ui.PipelineError(werr, noColor))
		return
	}
	errorColor := color.New(color.FgRed, color.Bold)
	if noColor {
		errorColor.DisableColor()
	}
	errorColor.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
