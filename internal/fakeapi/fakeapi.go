// Package fakeapi is an in-memory types.RemoteAPI with failure injection and
// call counting. Tests across fieldkit use it in place of the HTTP client.
package fakeapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// Operation names accepted by Fail, SetHook, and Calls.
const (
	OpListFields   = "list fields"
	OpCreateField  = "create field"
	OpUpdateField  = "update field"
	OpDeleteField  = "delete field"
	OpCreateOption = "create option"
	OpDeleteOption = "delete option"
	OpGetValues    = "get values"
	OpSaveValues   = "save values"
)

var _ types.RemoteAPI = (*API)(nil)

// Hook runs before an operation. A non-nil error fails the call.
type Hook func(ctx context.Context) error

// API is the in-memory remote. The zero value is not usable; call New.
type API struct {
	mu       sync.Mutex
	fields   []types.FieldDefinition
	values   map[string]types.Snapshot
	failures map[string][]error
	hooks    map[string]Hook
	calls    map[string]int
	saves    []types.SavePayload

	// OmitNames makes create and update responses leave Name empty.
	OmitNames bool
}

// New returns an empty remote.
func New() *API {
	return &API{
		values:   make(map[string]types.Snapshot),
		failures: make(map[string][]error),
		hooks:    make(map[string]Hook),
		calls:    make(map[string]int),
	}
}

// Fail queues err as the result of the next call to op. Several calls queue
// several failures.
func (a *API) Fail(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[op] = append(a.failures[op], err)
}

// FailStatus queues a RemoteError with the given HTTP status for op.
func (a *API) FailStatus(op string, status int) {
	a.Fail(op, &types.RemoteError{Op: op, StatusCode: status, Message: http.StatusText(status)})
}

// SetHook installs fn to run before every call to op. A nil fn removes it.
func (a *API) SetHook(op string, fn Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn == nil {
		delete(a.hooks, op)
		return
	}
	a.hooks[op] = fn
}

// Calls returns how many times op has been invoked.
func (a *API) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// Saves returns every payload passed to SaveValues, oldest first.
func (a *API) Saves() []types.SavePayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.SavePayload, len(a.saves))
	copy(out, a.saves)
	return out
}

// SeedField stores def directly, bypassing failures and hooks. An empty ID
// is generated. Returns the stored definition.
func (a *API) SeedField(def types.FieldDefinition) types.FieldDefinition {
	a.mu.Lock()
	defer a.mu.Unlock()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	for i := range def.Options {
		if def.Options[i].ID == "" {
			def.Options[i].ID = uuid.NewString()
		}
		def.Options[i].FieldID = def.ID
	}
	a.fields = append(a.fields, def.Clone())
	return def
}

// SeedValues stores a snapshot for subjectID directly.
func (a *API) SeedValues(subjectID string, fields ...types.FieldValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[subjectID] = types.Snapshot{SubjectID: subjectID, Fields: cloneValues(fields)}
}

// begin records the call, runs the hook outside the lock, and pops a queued
// failure.
func (a *API) begin(ctx context.Context, op string) error {
	a.mu.Lock()
	a.calls[op]++
	hook := a.hooks[op]
	var queued error
	if q := a.failures[op]; len(q) > 0 {
		queued = q[0]
		a.failures[op] = q[1:]
	}
	a.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if queued != nil {
		return queued
	}
	return ctx.Err()
}

func (a *API) ListFields(ctx context.Context) ([]types.FieldDefinition, error) {
	if err := a.begin(ctx, OpListFields); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.FieldDefinition, len(a.fields))
	for i, f := range a.fields {
		out[i] = f.Clone()
	}
	return out, nil
}

func (a *API) CreateField(ctx context.Context, in types.FieldInput) (types.FieldDefinition, error) {
	if err := a.begin(ctx, OpCreateField); err != nil {
		return types.FieldDefinition{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	order := 0
	for _, f := range a.fields {
		if f.Order >= order {
			order = f.Order + 1
		}
	}
	def := types.FieldDefinition{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Label:         in.Label,
		Type:          in.Type,
		IsRequired:    in.IsRequired,
		IsMultiSelect: in.IsMultiSelect,
		Order:         order,
	}
	def.Normalize()
	a.fields = append(a.fields, def.Clone())
	if a.OmitNames {
		def.Name = ""
	}
	return def, nil
}

func (a *API) UpdateField(ctx context.Context, id string, in types.FieldInput) (types.FieldDefinition, error) {
	if err := a.begin(ctx, OpUpdateField); err != nil {
		return types.FieldDefinition{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(id)
	if i < 0 {
		return types.FieldDefinition{}, notFound(OpUpdateField)
	}
	f := &a.fields[i]
	f.Label = in.Label
	f.IsRequired = in.IsRequired
	f.IsMultiSelect = in.IsMultiSelect
	f.Normalize()
	out := f.Clone()
	if a.OmitNames {
		out.Name = ""
	}
	return out, nil
}

func (a *API) DeleteField(ctx context.Context, id string) error {
	if err := a.begin(ctx, OpDeleteField); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(id)
	if i < 0 {
		return notFound(OpDeleteField)
	}
	a.fields = append(a.fields[:i], a.fields[i+1:]...)
	for subject, snap := range a.values {
		kept := snap.Fields[:0]
		for _, v := range snap.Fields {
			if v.FieldID != id {
				kept = append(kept, v)
			}
		}
		snap.Fields = kept
		a.values[subject] = snap
	}
	return nil
}

func (a *API) CreateOption(ctx context.Context, in types.OptionInput) (types.FieldOption, error) {
	if err := a.begin(ctx, OpCreateOption); err != nil {
		return types.FieldOption{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(in.FieldID)
	if i < 0 {
		return types.FieldOption{}, notFound(OpCreateOption)
	}
	opt := types.FieldOption{ID: uuid.NewString(), FieldID: in.FieldID, Label: in.Label, Value: in.Value}
	a.fields[i].Options = append(a.fields[i].Options, opt)
	return opt, nil
}

func (a *API) DeleteOption(ctx context.Context, id string) error {
	if err := a.begin(ctx, OpDeleteOption); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for fi := range a.fields {
		opts := a.fields[fi].Options
		for oi := range opts {
			if opts[oi].ID == id {
				a.fields[fi].Options = append(opts[:oi], opts[oi+1:]...)
				return nil
			}
		}
	}
	return notFound(OpDeleteOption)
}

func (a *API) GetValues(ctx context.Context, subjectID string) (types.Snapshot, error) {
	if err := a.begin(ctx, OpGetValues); err != nil {
		return types.Snapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.values[subjectID]
	if !ok {
		return types.Snapshot{}, notFound(OpGetValues)
	}
	return types.Snapshot{SubjectID: subjectID, Fields: cloneValues(snap.Fields)}, nil
}

// SaveValues stores the payload and echoes it back as the authoritative
// snapshot.
func (a *API) SaveValues(ctx context.Context, payload types.SavePayload) (types.Snapshot, error) {
	if err := a.begin(ctx, OpSaveValues); err != nil {
		return types.Snapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves = append(a.saves, types.SavePayload{SubjectID: payload.SubjectID, Fields: cloneValues(payload.Fields)})
	snap := types.Snapshot{SubjectID: payload.SubjectID, Fields: cloneValues(payload.Fields)}
	a.values[payload.SubjectID] = snap
	return types.Snapshot{SubjectID: snap.SubjectID, Fields: cloneValues(snap.Fields)}, nil
}

func (a *API) indexOf(id string) int {
	for i, f := range a.fields {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func notFound(op string) error {
	return &types.RemoteError{Op: op, StatusCode: http.StatusNotFound, Message: "not found"}
}

func cloneValues(in []types.FieldValue) []types.FieldValue {
	out := make([]types.FieldValue, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}
