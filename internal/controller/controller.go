// Package controller drives the load, edit, and save cycle of one subject
// record at a time against the remote API.
package controller

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/internal/store"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// State is the lifecycle state of the controller.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateSaving
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSaving:
		return "saving"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Controller owns the value store of the current subject. Every subject
// switch bumps a generation; responses for an older generation are dropped.
type Controller struct {
	api      types.ValueAPI
	registry *registry.Registry
	variant  store.Variant
	notifier Notifier
	log      *zap.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	subjectID string
	store     *store.Store
	lastErr   error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithNotifier sets where remote failures are reported.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithVariant selects the store variant used for every subject.
func WithVariant(v store.Variant) Option {
	return func(c *Controller) { c.variant = v }
}

// New returns an uninitialized controller sharing reg.
func New(api types.ValueAPI, reg *registry.Registry, opts ...Option) *Controller {
	c := &Controller{
		api:      api,
		registry: reg,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Log: c.log}
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubjectID returns the current subject.
func (c *Controller) SubjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectID
}

// Err returns the error that moved the controller into StateError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Registry returns the shared definition registry.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Store returns the store of the current subject, or nil before the first
// SetSubject.
func (c *Controller) Store() *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// SetSubject switches to subjectID, discarding every unsaved edit of the
// previous subject, and loads definitions and values. Asking for the current
// subject is a no-op once it is loaded, fails with ErrNotReady while its load
// is still running, and retries after a failed load.
func (c *Controller) SetSubject(ctx context.Context, subjectID string) error {
	const op = "load values"
	if subjectID == "" {
		return types.Validation(op, "", types.ErrInvalidID)
	}

	c.mu.Lock()
	if subjectID == c.subjectID {
		switch c.state {
		case StateReady, StateSaving:
			c.mu.Unlock()
			return nil
		case StateLoading:
			c.mu.Unlock()
			return types.Validation(op, "", types.ErrNotReady)
		}
	}
	if c.store != nil {
		c.store.Close()
	}
	c.gen++
	gen := c.gen
	st := store.New(c.api, c.registry, c.variant, c.log)
	c.subjectID = subjectID
	c.store = st
	c.state = StateLoading
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Debug("loading subject", zap.String("subject_id", subjectID))
	err := st.LoadForSubject(ctx, subjectID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		st.Close()
		c.log.Debug("discarding stale load", zap.String("subject_id", subjectID))
		return types.ErrSubjectChanged
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err
		c.mu.Unlock()
		c.report(op, err)
		return err
	}
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// readyStore returns the current store when edits are allowed.
func (c *Controller) readyStore(op string) (*store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateSaving {
		return nil, types.Validation(op, "", types.ErrNotReady)
	}
	return c.store, nil
}

// SetValue edits a scalar field of the current subject.
func (c *Controller) SetValue(fieldID, value string) error {
	st, err := c.readyStore("set value")
	if err != nil {
		return err
	}
	return st.SetValue(fieldID, value)
}

// SetChoice selects or deselects one option.
func (c *Controller) SetChoice(fieldID, optionID string, selected bool) error {
	st, err := c.readyStore("set choice")
	if err != nil {
		return err
	}
	return st.SetChoice(fieldID, optionID, selected)
}

// SetChoices replaces the selection of a choice field.
func (c *Controller) SetChoices(fieldID string, optionIDs []string) error {
	st, err := c.readyStore("set choices")
	if err != nil {
		return err
	}
	return st.SetChoices(fieldID, optionIDs)
}

// SetPresence sets the missing and available flags of a field.
func (c *Controller) SetPresence(fieldID string, missing, available bool) error {
	st, err := c.readyStore("set presence")
	if err != nil {
		return err
	}
	return st.SetPresence(fieldID, missing, available)
}

// Save sends the current subject's values. Only one save runs at a time; a
// second call while one is in flight fails with ErrSaveInFlight and sends
// nothing.
func (c *Controller) Save(ctx context.Context) (types.Snapshot, error) {
	const op = "save values"
	c.mu.Lock()
	switch c.state {
	case StateSaving:
		c.mu.Unlock()
		return types.Snapshot{}, types.Validation(op, "", types.ErrSaveInFlight)
	case StateReady:
	default:
		c.mu.Unlock()
		return types.Snapshot{}, types.Validation(op, "", types.ErrNotReady)
	}
	c.state = StateSaving
	gen := c.gen
	st := c.store
	c.mu.Unlock()

	snap, err := st.Save(ctx)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug("discarding stale save response")
		return types.Snapshot{}, types.ErrSubjectChanged
	}
	c.state = StateReady
	c.mu.Unlock()

	if err != nil {
		c.report(op, err)
		return types.Snapshot{}, err
	}
	return snap, nil
}

// AddField creates a definition through the shared registry.
func (c *Controller) AddField(ctx context.Context, label string, fieldType types.FieldType, isRequired, isMultiSelect bool) (types.FieldDefinition, error) {
	def, err := c.registry.Add(ctx, label, fieldType, isRequired, isMultiSelect)
	c.report("add field", err)
	return def, err
}

// UpdateField edits a definition through the shared registry.
func (c *Controller) UpdateField(ctx context.Context, id, label string, isRequired, isMultiSelect bool) (types.FieldDefinition, error) {
	def, err := c.registry.Update(ctx, id, label, isRequired, isMultiSelect)
	c.report("update field", err)
	return def, err
}

// DeleteField removes a definition. The current store drops its value.
func (c *Controller) DeleteField(ctx context.Context, id string) error {
	err := c.registry.Delete(ctx, id)
	c.report("delete field", err)
	return err
}

// AddOption adds an option to a choice field.
func (c *Controller) AddOption(ctx context.Context, fieldID, label string) (types.FieldOption, error) {
	opt, err := c.registry.AddOption(ctx, fieldID, label)
	c.report("add option", err)
	return opt, err
}

// DeleteOption removes an option. The current store drops it from the
// selection.
func (c *Controller) DeleteOption(ctx context.Context, fieldID, optionID string) error {
	err := c.registry.DeleteOption(ctx, fieldID, optionID)
	c.report("delete option", err)
	return err
}

// Close releases the current store.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		c.store.Close()
	}
}

// report notifies once for a remote failure, 404 responses included.
// Validation errors and stale results stay silent. The one silent not-found,
// values of a never-saved subject, is absorbed by the store before it gets
// here.
func (c *Controller) report(op string, err error) {
	if err == nil || errors.Is(err, types.ErrSubjectChanged) {
		return
	}
	kind := types.KindOf(err)
	if kind == types.KindValidation {
		return
	}
	c.log.Warn("remote operation failed", zap.String("op", op), zap.Error(err))
	c.notifier.Notify(Notification{Kind: kind, Op: op, Message: err.Error()})
}
