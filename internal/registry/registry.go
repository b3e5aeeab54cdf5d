// Package registry holds the process-wide set of field definitions and their
// options. Every mutation is confirmed by the remote API before it is applied
// locally, so a failed call leaves the registry exactly as the server last
// confirmed it.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// EventKind identifies a registry change that value stores must follow.
type EventKind int

const (
	// FieldDeleted is published after a definition is removed.
	FieldDeleted EventKind = iota + 1
	// OptionDeleted is published after an option is removed from a definition.
	OptionDeleted
)

// Event describes a confirmed deletion.
type Event struct {
	Kind     EventKind
	FieldID  string
	OptionID string
}

// Registry is safe for concurrent use. Locks are never held across a remote call.
type Registry struct {
	api types.FieldAPI
	log *zap.Logger
	now func() time.Time

	mu      sync.RWMutex
	defs    []types.FieldDefinition // insertion order
	pending map[string]bool         // names reserved by in-flight Adds
	loaded  bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock replaces time.Now for the timestamp fallback of name derivation.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns an empty registry backed by api.
func New(api types.FieldAPI, opts ...Option) *Registry {
	r := &Registry{
		api:  api,
		log:  zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]bool),
		subs:    make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the registry contents with the definitions the remote API
// currently holds. On failure the previous contents stay.
func (r *Registry) Load(ctx context.Context) error {
	defs, err := r.api.ListFields(ctx)
	if err != nil {
		return err
	}
	loaded := make([]types.FieldDefinition, 0, len(defs))
	for _, d := range defs {
		d = d.Clone()
		d.Normalize()
		loaded = append(loaded, d)
	}

	r.mu.Lock()
	r.defs = loaded
	r.loaded = true
	r.mu.Unlock()

	r.log.Debug("field definitions loaded", zap.Int("count", len(loaded)))
	return nil
}

// Loaded reports whether Load has completed at least once.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// List returns copies of all definitions ordered by Order ascending; equal
// orders keep insertion order. Empty before the first Load.
func (r *Registry) List() []types.FieldDefinition {
	r.mu.RLock()
	out := make([]types.FieldDefinition, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Clone()
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Get returns a copy of the definition with the given id.
func (r *Registry) Get(id string) (types.FieldDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(id)
	if i < 0 {
		return types.FieldDefinition{}, false
	}
	return r.defs[i].Clone(), true
}

// DeriveName returns the name a new field with this label would get against
// the current registry contents.
func (r *Registry) DeriveName(label string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.DeriveName(label, r.nameTakenLocked, r.now())
}

// Add creates a field definition. The name is derived from label and
// disambiguated against every loaded definition and every name reserved by
// another Add still in flight. The definition is appended only after the
// remote API confirms it; a confirmed name that collides with another entry
// is rejected with ErrDuplicateName.
func (r *Registry) Add(ctx context.Context, label string, fieldType types.FieldType, isRequired, isMultiSelect bool) (types.FieldDefinition, error) {
	const op = "add field"
	label = strings.TrimSpace(label)
	if label == "" {
		return types.FieldDefinition{}, types.Validation(op, "", types.ErrInvalidLabel)
	}
	if !fieldType.Valid() {
		return types.FieldDefinition{}, types.Validation(op, "", types.ErrInvalidFieldType)
	}
	if !fieldType.IsChoice() {
		isMultiSelect = false
	}

	r.mu.Lock()
	name := types.DeriveName(label, r.nameTakenLocked, r.now())
	r.pending[name] = true
	r.mu.Unlock()

	in := types.FieldInput{
		Name:          name,
		Label:         label,
		Type:          fieldType,
		IsRequired:    isRequired,
		IsMultiSelect: isMultiSelect,
	}

	created, err := r.api.CreateField(ctx, in)
	if err != nil {
		r.release(name)
		r.log.Warn("create field failed", zap.String("label", label), zap.Error(err))
		return types.FieldDefinition{}, err
	}
	if created.Name == "" {
		created.Name = name
	}
	if created.Type == "" {
		created.Type = fieldType
	}
	created.Normalize()

	r.mu.Lock()
	delete(r.pending, name)
	if r.nameOwnerLocked(created.Name, created.ID) {
		r.mu.Unlock()
		r.log.Warn("confirmed field name already in use", zap.String("id", created.ID), zap.String("name", created.Name))
		return types.FieldDefinition{}, types.Validation(op, created.ID, types.ErrDuplicateName)
	}
	if i := r.indexLocked(created.ID); i >= 0 {
		// A Load that ran meanwhile already picked it up.
		r.defs[i] = created.Clone()
	} else {
		r.defs = append(r.defs, created.Clone())
	}
	r.mu.Unlock()

	r.log.Info("field added", zap.String("id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// Update changes label, required, and multi-select of a definition. The field
// type is immutable. The server response is merged by id; a response without a
// name or options keeps the locally known ones.
func (r *Registry) Update(ctx context.Context, id, label string, isRequired, isMultiSelect bool) (types.FieldDefinition, error) {
	const op = "update field"
	current, ok := r.Get(id)
	if !ok {
		return types.FieldDefinition{}, types.Validation(op, id, types.ErrFieldNotFound)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return types.FieldDefinition{}, types.Validation(op, id, types.ErrInvalidLabel)
	}
	if !current.Type.IsChoice() {
		isMultiSelect = false
	}

	updated, err := r.api.UpdateField(ctx, id, types.FieldInput{
		Name:          current.Name,
		Label:         label,
		Type:          current.Type,
		IsRequired:    isRequired,
		IsMultiSelect: isMultiSelect,
	})
	if err != nil {
		r.log.Warn("update field failed", zap.String("id", id), zap.Error(err))
		return types.FieldDefinition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		// Deleted while the request was in flight; nothing to merge into.
		return types.FieldDefinition{}, types.Validation(op, id, types.ErrFieldNotFound)
	}
	merged := r.defs[i]
	merged.Label = updated.Label
	merged.IsRequired = updated.IsRequired
	merged.IsMultiSelect = updated.IsMultiSelect
	if updated.Name != "" {
		merged.Name = updated.Name
	}
	if updated.Options != nil {
		merged.Options = updated.Options
	}
	if updated.Order != 0 {
		merged.Order = updated.Order
	}
	merged.Normalize()
	r.defs[i] = merged.Clone()

	r.log.Info("field updated", zap.String("id", id))
	return merged, nil
}

// Delete removes a definition after the remote API confirms it, then tells
// every subscriber to drop values that referenced it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	const op = "delete field"
	if _, ok := r.Get(id); !ok {
		return types.Validation(op, id, types.ErrFieldNotFound)
	}
	if err := r.api.DeleteField(ctx, id); err != nil {
		r.log.Warn("delete field failed", zap.String("id", id), zap.Error(err))
		return err
	}

	r.mu.Lock()
	if i := r.indexLocked(id); i >= 0 {
		r.defs = append(r.defs[:i], r.defs[i+1:]...)
	}
	r.mu.Unlock()

	r.log.Info("field deleted", zap.String("id", id))
	r.publish(Event{Kind: FieldDeleted, FieldID: id})
	return nil
}

// AddOption creates an option on a choice field. The option value is derived
// from label; uniqueness among options is not enforced.
func (r *Registry) AddOption(ctx context.Context, fieldID, label string) (types.FieldOption, error) {
	const op = "add option"
	def, ok := r.Get(fieldID)
	if !ok {
		return types.FieldOption{}, types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	if !def.Type.IsChoice() {
		return types.FieldOption{}, types.Validation(op, fieldID, types.ErrNotChoiceField)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return types.FieldOption{}, types.Validation(op, fieldID, types.ErrInvalidLabel)
	}

	in := types.OptionInput{FieldID: fieldID, Label: label, Value: types.OptionValue(label, r.now())}
	created, err := r.api.CreateOption(ctx, in)
	if err != nil {
		r.log.Warn("create option failed", zap.String("field_id", fieldID), zap.Error(err))
		return types.FieldOption{}, err
	}
	if created.FieldID == "" {
		created.FieldID = fieldID
	}
	if created.Value == "" {
		created.Value = in.Value
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(fieldID)
	if i < 0 {
		return types.FieldOption{}, types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	r.defs[i].Options = append(r.defs[i].Options, created)
	return created, nil
}

// DeleteOption removes an option after the remote API confirms it.
func (r *Registry) DeleteOption(ctx context.Context, fieldID, optionID string) error {
	const op = "delete option"
	def, ok := r.Get(fieldID)
	if !ok {
		return types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	if _, ok := def.Option(optionID); !ok {
		return types.Validation(op, fieldID, types.ErrOptionNotFound)
	}
	if err := r.api.DeleteOption(ctx, optionID); err != nil {
		r.log.Warn("delete option failed", zap.String("option_id", optionID), zap.Error(err))
		return err
	}

	r.mu.Lock()
	if i := r.indexLocked(fieldID); i >= 0 {
		opts := r.defs[i].Options
		for oi := range opts {
			if opts[oi].ID == optionID {
				r.defs[i].Options = append(opts[:oi:oi], opts[oi+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	r.publish(Event{Kind: OptionDeleted, FieldID: fieldID, OptionID: optionID})
	return nil
}

// Subscribe registers fn for deletion events. The returned function removes
// the subscription. fn is called without registry locks held.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.defs {
		if r.defs[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

func (r *Registry) nameTakenLocked(name string) bool {
	if r.pending[name] {
		return true
	}
	for i := range r.defs {
		if r.defs[i].Name == name {
			return true
		}
	}
	return false
}

// nameOwnerLocked reports whether a definition other than id holds name.
func (r *Registry) nameOwnerLocked(name, id string) bool {
	for i := range r.defs {
		if r.defs[i].Name == name && r.defs[i].ID != id {
			return true
		}
	}
	return false
}
