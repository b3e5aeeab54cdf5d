package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

func newFieldCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Manage field definitions",
	}
	cmd.AddCommand(
		newFieldListCmd(a),
		newFieldAddCmd(a),
		newFieldUpdateCmd(a),
		newFieldDeleteCmd(a),
	)
	return cmd
}

func newFieldListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List field definitions in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defs := reg.List()
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), defs)
			}
			printFieldTable(cmd.OutOrStdout(), defs)
			return nil
		},
	}
}

func newFieldAddCmd(a *app) *cobra.Command {
	var (
		fieldType string
		required  bool
		multi     bool
	)
	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Create a field definition",
		Long: `Add creates a field. The name is derived from the label: lower-cased,
spaces become underscores, other punctuation is dropped, and a numeric suffix
is added when the name is taken.

Example:
  fieldkit field add "Due Date" --type textbox --required
  fieldkit field add Color --type button`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := types.ParseFieldType(fieldType)
			if err != nil {
				return types.Validation("add field", "", err)
			}
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			def, err := reg.Add(cmd.Context(), args[0], ft, required, multi)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), def)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added field %s (%s)\n", def.Name, def.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldType, "type", string(types.FieldTypeTextbox), "field type (textbox, number, email, textarea, button)")
	cmd.Flags().BoolVar(&required, "required", false, "mark the field as required")
	cmd.Flags().BoolVar(&multi, "multi", false, "allow several options (button fields only)")
	return cmd
}

func newFieldUpdateCmd(a *app) *cobra.Command {
	var (
		label    string
		required bool
		multi    bool
	)
	cmd := &cobra.Command{
		Use:   "update <field>",
		Short: "Change the label, required, or multi-select flag of a field",
		Long: `Update changes a field addressed by id or name. Flags left unset keep
their current value. The field type cannot change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			current, err := resolveField(reg, args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("label") {
				label = current.Label
			}
			if !flags.Changed("required") {
				required = current.IsRequired
			}
			if !flags.Changed("multi") {
				multi = current.IsMultiSelect
			}
			def, err := reg.Update(cmd.Context(), current.ID, label, required, multi)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), def)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated field %s\n", def.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "new label")
	cmd.Flags().BoolVar(&required, "required", false, "required flag")
	cmd.Flags().BoolVar(&multi, "multi", false, "multi-select flag (button fields only)")
	return cmd
}

func newFieldDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <field>",
		Short: "Delete a field with its options and every stored value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			def, err := resolveField(reg, args[0])
			if err != nil {
				return err
			}
			if err := reg.Delete(cmd.Context(), def.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted field %s\n", def.Name)
			return nil
		},
	}
}

// printFieldTable prints definitions in a human-readable table.
func printFieldTable(out io.Writer, defs []types.FieldDefinition) {
	if len(defs) == 0 {
		fmt.Fprintln(out, "No fields defined.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLABEL\tTYPE\tREQUIRED\tMULTI\tOPTIONS")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			d.ID, d.Name, d.Label, d.Type, d.IsRequired, d.IsMultiSelect, optionLabels(d.Options))
	}
	w.Flush()
}

func optionLabels(opts []types.FieldOption) string {
	if len(opts) == 0 {
		return "-"
	}
	labels := make([]string, len(opts))
	for i, o := range opts {
		labels[i] = o.Label
	}
	return strings.Join(labels, ", ")
}
