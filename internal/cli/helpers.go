package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mesh-intelligence/fieldkit/internal/httpapi"
	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/pkg/sqlstore"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// attachBackend opens the configured server storage. The caller must
// Detach it. A malformed backend configuration is a user error; everything
// else is a system error.
func (a *app) attachBackend() (*sqlstore.Backend, error) {
	backend := sqlstore.NewBackend(a.log)
	if err := backend.Attach(a.settings.BackendConfig()); err != nil {
		err = fmt.Errorf("attach backend: %w", err)
		if errors.Is(err, types.ErrBackendEmpty) ||
			errors.Is(err, types.ErrBackendUnknown) ||
			errors.Is(err, types.ErrDSNRequired) {
			return nil, err
		}
		return nil, sysError(err)
	}
	return backend, nil
}

// remote returns an HTTP client for the configured API.
func (a *app) remote() (*httpapi.Client, error) {
	return httpapi.NewClient(a.settings.APIURL,
		httpapi.WithTimeout(a.settings.Timeout),
		httpapi.WithLogger(a.log))
}

// loadRegistry builds a registry over the remote API and loads it.
func (a *app) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	client, err := a.remote()
	if err != nil {
		return nil, err
	}
	reg := registry.New(client, registry.WithLogger(a.log))
	if err := reg.Load(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// resolveField finds a definition by id or name.
func resolveField(reg *registry.Registry, ref string) (types.FieldDefinition, error) {
	if d, ok := reg.Get(ref); ok {
		return d, nil
	}
	for _, d := range reg.List() {
		if d.Name == ref {
			return d, nil
		}
	}
	return types.FieldDefinition{}, types.Validation("resolve field", ref, types.ErrFieldNotFound)
}

// resolveOption finds an option of def by id, value, or label. Labels match
// case-insensitively.
func resolveOption(def types.FieldDefinition, ref string) (types.FieldOption, error) {
	if o, ok := def.Option(ref); ok {
		return o, nil
	}
	for _, o := range def.Options {
		if o.Value == ref || strings.EqualFold(o.Label, ref) {
			return o, nil
		}
	}
	return types.FieldOption{}, types.Validation("resolve option", def.Name, types.ErrOptionNotFound)
}

// splitAssignment parses "field=value".
func splitAssignment(arg string) (string, string, error) {
	ref, value, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(ref) == "" {
		return "", "", fmt.Errorf("invalid assignment %q (expected field=value)", arg)
	}
	return strings.TrimSpace(ref), value, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError(fmt.Errorf("marshal output: %w", err))
	}
	fmt.Fprintln(w, string(data))
	return nil
}
