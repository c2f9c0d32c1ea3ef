package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/weaver/internal/cli/config"
	"github.com/conduit-lang/weaver/internal/cli/ui"
	"github.com/conduit-lang/weaver/internal/transform"
)

var (
	markersInput string
	markersJSON  bool
)

// NewMarkersCommand creates the markers command
func NewMarkersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "List the markers found in an archive",
		Long: `List every method carrying a marker, with the marker's parameters and
whether its kind is enabled in the configuration. Nothing is written.`,
		Example: `  weaver markers --input build/libs/app.jar
  weaver markers -i app.jar --json`,
		Args: cobra.NoArgs,
		RunE: runMarkers,
	}

	cmd.Flags().StringVarP(&markersInput, "input", "i", "", "Archive to read")
	cmd.Flags().BoolVar(&markersJSON, "json", false, "Output in JSON format")
	cmd.MarkFlagRequired("input")
	archiveFlag(cmd, "input")

	return cmd
}

func runMarkers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pol, err := cfg.Policy()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), verbose)
	defer logger.Sync()

	found, err := transform.New(pol, &transform.Options{Logger: logger, Jobs: cfg.Jobs}).Inspect(cmd.Context(), markersInput)
	if err != nil {
		return err
	}

	if markersJSON {
		if found == nil {
			found = []transform.ClassMarkers{}
		}
		return writeJSON(cmd.OutOrStdout(), found)
	}

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintf(out, "No markers found in %s\n", markersInput)
		return nil
	}
	count, methods := 0, 0
	for _, class := range found {
		ui.Header(out, class.Entry, noColor)
		table := ui.NewTable(out, noColor, "METHOD", "MARKER", "STATUS")
		for _, m := range class.Methods {
			methods++
			for _, mk := range m.Markers {
				count++
				status := "disabled"
				if pol.Enabled(mk.Kind) {
					status = "enabled"
				}
				table.AddRow(m.Method.Name+m.Method.Descriptor, mk.String(), status)
			}
		}
		table.Render()
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d marker(s) on %d method(s) in %d class(es)\n", count, methods, len(found))
	return nil
}
