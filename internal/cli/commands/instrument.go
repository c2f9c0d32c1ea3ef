package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/weaver/internal/cli/config"
	"github.com/conduit-lang/weaver/internal/cli/ui"
	"github.com/conduit-lang/weaver/internal/transform"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

var (
	instrumentInput  string
	instrumentOutput string
	instrumentJobs   int
	instrumentJSON   bool
)

// NewInstrumentCommand creates the instrument command
func NewInstrumentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instrument",
		Short: "Instrument the annotated methods of an archive",
		Long: `Read a jar, war or zip archive, rewrite every method carrying an enabled
marker so it calls the configured hooks, and write the result to --output.

The output is written to a temporary file and only replaces --output when
the whole archive was processed. Methods that cannot be instrumented safely
are left as they are and reported as warnings.`,
		Example: `  # Instrument using weaver.yaml from the current directory
  weaver instrument --input build/libs/app.jar --output build/libs/app-woven.jar

  # Use an explicit config and four workers
  weaver instrument -i app.jar -o app.jar --config ci/weaver.yaml --jobs 4

  # Machine-readable summary
  weaver instrument -i app.jar -o out.jar --json`,
		Args: cobra.NoArgs,
		RunE: runInstrument,
	}

	cmd.Flags().StringVarP(&instrumentInput, "input", "i", "", "Archive to read")
	cmd.Flags().StringVarP(&instrumentOutput, "output", "o", "", "Archive to write (replaced if it exists)")
	cmd.Flags().IntVarP(&instrumentJobs, "jobs", "j", 0, "Entries processed in parallel (default: config jobs, else one per CPU)")
	cmd.Flags().BoolVar(&instrumentJSON, "json", false, "Print the summary as JSON")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	archiveFlag(cmd, "input")
	archiveFlag(cmd, "output")

	return cmd
}

// instrumentSummary is the --json document.
type instrumentSummary struct {
	Success             bool               `json:"success"`
	RunID               string             `json:"run_id,omitempty"`
	Input               string             `json:"input"`
	Output              string             `json:"output"`
	Entries             int                `json:"entries"`
	Classes             int                `json:"classes"`
	RewrittenClasses    int                `json:"rewritten_classes"`
	InstrumentedMethods int                `json:"instrumented_methods"`
	DurationMillis      int64              `json:"duration_ms"`
	Warnings            weaveerr.ErrorList `json:"warnings"`
	Error               *weaveerr.Error    `json:"error,omitempty"`
}

func runInstrument(cmd *cobra.Command, args []string) error {
	summary := instrumentSummary{Input: instrumentInput, Output: instrumentOutput, Warnings: weaveerr.ErrorList{}}
	result, err := instrument(cmd)
	if err != nil {
		if instrumentJSON {
			var werr *weaveerr.Error
			if !errors.As(err, &werr) {
				werr = &weaveerr.Error{Severity: weaveerr.SeverityError, Message: err.Error()}
			}
			summary.Error = werr
			writeJSON(cmd.OutOrStdout(), summary)
		}
		return err
	}

	if instrumentJSON {
		summary.Success = true
		summary.RunID = result.RunID.String()
		summary.Entries = result.Entries
		summary.Classes = result.Classes
		summary.RewrittenClasses = result.RewrittenClasses
		summary.InstrumentedMethods = result.InstrumentedMethods
		summary.DurationMillis = result.Duration.Milliseconds()
		if result.Warnings != nil {
			summary.Warnings = result.Warnings
		}
		return writeJSON(cmd.OutOrStdout(), summary)
	}

	out := cmd.OutOrStdout()
	if result.Warnings.HasWarnings() {
		for _, w := range result.Warnings {
			ui.WriteError(cmd.ErrOrStderr(), ui.PipelineError(w, noColor))
		}
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Run", result.RunID.String())
	kv.AddRow("Entries", strconv.Itoa(result.Entries))
	kv.AddRow("Classes", strconv.Itoa(result.Classes))
	kv.AddRow("Rewritten classes", strconv.Itoa(result.RewrittenClasses))
	kv.AddRow("Instrumented methods", strconv.Itoa(result.InstrumentedMethods))
	kv.AddRow("Warnings", strconv.Itoa(len(result.Warnings)))
	kv.AddRow("Duration", result.Duration.Round(time.Millisecond).String())
	kv.Render()
	ui.WriteSuccess(out, fmt.Sprintf("Wrote %s", instrumentOutput), noColor)
	return nil
}

func instrument(cmd *cobra.Command) (*transform.Result, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	pol, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	defer logger.Sync()
	if cfg.File != "" {
		logger.Debug("config loaded", zap.String("file", cfg.File))
	}

	opts := transform.DefaultOptions()
	opts.Logger = logger
	if cfg.Jobs > 0 {
		opts.Jobs = cfg.Jobs
	}
	if instrumentJobs > 0 {
		opts.Jobs = instrumentJobs
	}

	var bar *ui.ProgressBar
	if !instrumentJSON && !verbose {
		bar = ui.NewProgressBar(cmd.ErrOrStderr(), ui.ProgressBarOptions{NoColor: noColor})
		opts.Progress = bar.Update
	}

	result, err := transform.New(pol, opts).Transform(cmd.Context(), instrumentInput, instrumentOutput)
	if bar != nil {
		if err != nil {
			bar.Abandon()
		} else {
			bar.Finish("")
		}
	}
	return result, err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
