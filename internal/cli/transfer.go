package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every table of the server storage to JSONL files",
		Long: `Export writes fields.jsonl, field_options.jsonl, subjects.jsonl, and
field_values.jsonl into dir. Each file is replaced atomically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			if err := backend.ExportJSONL(args[0]); err != nil {
				return sysError(fmt.Errorf("export: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[0])
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Replace the server storage with the JSONL files in dir",
		Long: `Import clears every table and loads the JSONL files written by export.
Missing files leave their table empty; malformed lines are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attachBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			if err := backend.ImportJSONL(args[0]); err != nil {
				return sysError(fmt.Errorf("import: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported from %s\n", args[0])
			return nil
		},
	}
}
