package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOptionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "option",
		Short: "Manage the options of button fields",
	}
	cmd.AddCommand(newOptionAddCmd(a), newOptionDeleteCmd(a))
	return cmd
}

func newOptionAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <field> <label>",
		Short: "Add an option to a button field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			def, err := resolveField(reg, args[0])
			if err != nil {
				return err
			}
			opt, err := reg.AddOption(cmd.Context(), def.ID, args[1])
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), opt)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added option %s (%s) to %s\n", opt.Value, opt.ID, def.Name)
			return nil
		},
	}
}

func newOptionDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <field> <option>",
		Short: "Delete an option and remove it from every selection",
		Long:  "Delete removes an option addressed by id, value, or label.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			def, err := resolveField(reg, args[0])
			if err != nil {
				return err
			}
			opt, err := resolveOption(def, args[1])
			if err != nil {
				return err
			}
			if err := reg.DeleteOption(cmd.Context(), def.ID, opt.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted option %s from %s\n", opt.Value, def.Name)
			return nil
		},
	}
}
