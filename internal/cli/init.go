package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fieldkit/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and server storage",
		Long: `Init writes config.yaml to the config directory when it is missing, then
attaches the configured backend once so the schema exists. When seed_file is
set and no fields exist yet, the seed definitions are loaded.`,
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	path := paths.ConfigFile(a.settings.ConfigDir)
	wrote, err := writeConfigIfMissing(path, a.settings)
	if err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}

	backend, err := a.attachBackend()
	if err != nil {
		return err
	}
	if err := backend.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize storage: %w", err))
	}

	out := cmd.OutOrStdout()
	if wrote {
		fmt.Fprintf(out, "Wrote %s\n", path)
	}
	fmt.Fprintf(out, "fieldkit initialized (backend %s)\n", a.settings.Backend)
	return nil
}
