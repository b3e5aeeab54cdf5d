package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fieldkit/internal/controller"
	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/internal/store"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// valueEdits collects the edits requested on the values set command line.
type valueEdits struct {
	set       []string
	clear     []string
	choose    []string
	unchoose  []string
	missing   []string
	available []string
}

func newValuesCmd(a *app) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "values",
		Short: "Read and edit the field values of a subject record",
	}
	cmd.PersistentFlags().StringVar(&variant, "variant", "", "value variant: standard or client_data (default: variant from config)")
	cmd.AddCommand(newValuesGetCmd(a, &variant), newValuesSetCmd(a, &variant))
	return cmd
}

func newValuesGetCmd(a *app, variant *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <subject>",
		Short: "Show the saved values of a subject",
		Long:  "Get lists every field with the subject's saved value. A subject that was\nnever saved shows no values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.openController(cmd.Context(), args[0], *variant)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), ctrl.Store().Authoritative())
			}
			printValues(cmd.OutOrStdout(), ctrl.Registry().List(), ctrl.Store())
			warnMissingRequired(cmd.ErrOrStderr(), ctrl.Store())
			return nil
		},
	}
}

func newValuesSetCmd(a *app, variant *string) *cobra.Command {
	var e valueEdits
	cmd := &cobra.Command{
		Use:   "set <subject>",
		Short: "Edit values of a subject and save them",
		Long: `Set loads the subject, applies the edits, and saves every field in one
request. Fields are addressed by id or name; options by id, value, or label.
Presence flags need the client_data variant.

Example:
  fieldkit values set task-42 --value due_date=2026-05-01 --choose color=red
  fieldkit values set task-42 --variant client_data --missing phone`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.openController(cmd.Context(), args[0], *variant)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := applyEdits(ctrl, e); err != nil {
				return err
			}
			snap, err := ctrl.Save(cmd.Context())
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printValues(cmd.OutOrStdout(), ctrl.Registry().List(), ctrl.Store())
			warnMissingRequired(cmd.ErrOrStderr(), ctrl.Store())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&e.set, "value", nil, "set a scalar field: field=value (repeatable)")
	f.StringArrayVar(&e.clear, "clear", nil, "clear a field's value or selection (repeatable)")
	f.StringArrayVar(&e.choose, "choose", nil, "select an option: field=option (repeatable)")
	f.StringArrayVar(&e.unchoose, "unchoose", nil, "deselect an option: field=option (repeatable)")
	f.StringArrayVar(&e.missing, "missing", nil, "mark a field missing (client_data only, repeatable)")
	f.StringArrayVar(&e.available, "available", nil, "mark a field available (client_data only, repeatable)")
	return cmd
}

// openController builds a controller over the remote API and loads subject.
func (a *app) openController(ctx context.Context, subject, variant string) (*controller.Controller, error) {
	if variant == "" {
		variant = a.settings.Variant
	}
	v, err := store.ParseVariant(variant)
	if err != nil {
		return nil, types.Validation("load values", "", err)
	}
	client, err := a.remote()
	if err != nil {
		return nil, err
	}
	reg := registry.New(client, registry.WithLogger(a.log))
	ctrl := controller.New(client, reg,
		controller.WithLogger(a.log),
		controller.WithVariant(v))
	if err := ctrl.SetSubject(ctx, subject); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

// applyEdits resolves references against the loaded registry and applies
// every edit to the controller's store. Presence is applied last so a field
// named by both --missing and --available ends up missing.
func applyEdits(ctrl *controller.Controller, e valueEdits) error {
	reg := ctrl.Registry()

	for _, arg := range e.set {
		ref, value, err := splitAssignment(arg)
		if err != nil {
			return err
		}
		def, err := resolveField(reg, ref)
		if err != nil {
			return err
		}
		if err := ctrl.SetValue(def.ID, value); err != nil {
			return err
		}
	}

	for _, ref := range e.clear {
		def, err := resolveField(reg, ref)
		if err != nil {
			return err
		}
		if def.Type.IsChoice() {
			err = ctrl.SetChoices(def.ID, nil)
		} else {
			err = ctrl.SetValue(def.ID, "")
		}
		if err != nil {
			return err
		}
	}

	choices := []struct {
		args     []string
		selected bool
	}{
		{e.choose, true},
		{e.unchoose, false},
	}
	for _, c := range choices {
		for _, arg := range c.args {
			ref, optRef, err := splitAssignment(arg)
			if err != nil {
				return err
			}
			def, err := resolveField(reg, ref)
			if err != nil {
				return err
			}
			opt, err := resolveOption(def, optRef)
			if err != nil {
				return err
			}
			if err := ctrl.SetChoice(def.ID, opt.ID, c.selected); err != nil {
				return err
			}
		}
	}

	missing := make(map[string]bool)
	available := make(map[string]bool)
	var order []string
	mark := func(refs []string, into map[string]bool) error {
		for _, ref := range refs {
			def, err := resolveField(reg, ref)
			if err != nil {
				return err
			}
			if !missing[def.ID] && !available[def.ID] {
				order = append(order, def.ID)
			}
			into[def.ID] = true
		}
		return nil
	}
	if err := mark(e.missing, missing); err != nil {
		return err
	}
	if err := mark(e.available, available); err != nil {
		return err
	}
	for _, id := range order {
		if err := ctrl.SetPresence(id, missing[id], available[id]); err != nil {
			return err
		}
	}
	return nil
}

// printValues prints one row per definition with the store's current value.
func printValues(out io.Writer, defs []types.FieldDefinition, st *store.Store) {
	if len(defs) == 0 {
		fmt.Fprintln(out, "No fields defined.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tTYPE\tVALUE\tFLAGS")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Type, displayValue(d, st), displayFlags(d, st))
	}
	w.Flush()
}

func displayValue(d types.FieldDefinition, st *store.Store) string {
	v, ok := st.Value(d.ID)
	if !ok {
		return "-"
	}
	if !d.Type.IsChoice() {
		if v.Value == nil {
			return "-"
		}
		return *v.Value
	}
	if len(v.SelectedOptionIDs) == 0 {
		return "-"
	}
	labels := make([]string, 0, len(v.SelectedOptionIDs))
	for _, id := range v.SelectedOptionIDs {
		if o, ok := d.Option(id); ok {
			labels = append(labels, o.Label)
		}
	}
	return strings.Join(labels, ", ")
}

func displayFlags(d types.FieldDefinition, st *store.Store) string {
	var flags []string
	if d.IsRequired {
		flags = append(flags, "required")
	}
	missing, available := st.Presence(d.ID)
	if missing {
		flags = append(flags, "missing")
	}
	if available {
		flags = append(flags, "available")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// warnMissingRequired reports required fields without a value. It never
// fails the command.
func warnMissingRequired(w io.Writer, st *store.Store) {
	defs := st.MissingRequired()
	if len(defs) == 0 {
		return
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	fmt.Fprintf(w, "warning: required fields without a value: %s\n", strings.Join(names, ", "))
}
