// Package store holds the live-edited field values of one subject record
// together with the last snapshot the remote API confirmed.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// Variant selects which flags a store tracks.
type Variant int

const (
	// VariantStandard tracks scalar values and option selections.
	VariantStandard Variant = iota
	// VariantClientData also tracks the missing/available presence flags.
	VariantClientData
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return VariantStandard, nil
	case "client_data", "client-data", "clientdata":
		return VariantClientData, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

func (v Variant) String() string {
	if v == VariantClientData {
		return "client_data"
	}
	return "standard"
}

// Store is safe for concurrent use. Edits never touch the network.
type Store struct {
	api      types.ValueAPI
	registry *registry.Registry
	variant  Variant
	log      *zap.Logger

	mu            sync.RWMutex
	subjectID     string
	values        map[string]types.FieldValue // fieldID -> value or selection
	missing       map[string]bool
	available     map[string]bool
	authoritative types.Snapshot
	edits         map[string]uint64 // fieldID -> edit sequence
	seq           uint64

	unsubscribe func()
}

// New returns an empty store bound to reg. The store follows registry
// deletions until Close is called.
func New(api types.ValueAPI, reg *registry.Registry, variant Variant, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		api:      api,
		registry: reg,
		variant:  variant,
		log:      log,
	}
	s.resetLocked("")
	s.unsubscribe = reg.Subscribe(s.onRegistryEvent)
	return s
}

// Close detaches the store from registry events.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Variant returns the store's variant.
func (s *Store) Variant() Variant { return s.variant }

// SubjectID returns the subject whose values are held.
func (s *Store) SubjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjectID
}

func (s *Store) resetLocked(subjectID string) {
	s.subjectID = subjectID
	s.values = make(map[string]types.FieldValue)
	s.missing = make(map[string]bool)
	s.available = make(map[string]bool)
	s.edits = make(map[string]uint64)
	s.authoritative = types.Snapshot{SubjectID: subjectID, Fields: []types.FieldValue{}}
}

// LoadForSubject fetches the field definitions and the subject's saved values
// concurrently and replaces the store contents. A values fetch that reports
// not-found leaves the store empty without error.
func (s *Store) LoadForSubject(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return types.Validation("load values", "", types.ErrInvalidID)
	}

	var snap types.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.registry.Load(gctx)
	})
	g.Go(func() error {
		got, err := s.api.GetValues(gctx, subjectID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				s.log.Debug("no saved values", zap.String("subject_id", subjectID))
				return nil
			}
			return err
		}
		snap = got
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(subjectID)
	for _, v := range snap.Fields {
		v, ok := s.sanitize(v)
		if !ok {
			continue
		}
		s.applyLocked(v)
	}
	s.authoritative = s.snapshotLocked(snap.Fields)
	s.log.Debug("values loaded", zap.String("subject_id", subjectID), zap.Int("count", len(s.values)))
	return nil
}

// sanitize drops values for unknown fields and trims over-full single-select
// selections.
func (s *Store) sanitize(v types.FieldValue) (types.FieldValue, bool) {
	def, ok := s.registry.Get(v.FieldID)
	if !ok {
		s.log.Debug("dropping value for unknown field", zap.String("field_id", v.FieldID))
		return v, false
	}
	v = v.Clone()
	if def.IsSingleSelect() && len(v.SelectedOptionIDs) > 1 {
		s.log.Warn("single-select field holds several options; keeping the first",
			zap.String("field_id", v.FieldID), zap.Strings("option_ids", v.SelectedOptionIDs))
		v.SelectedOptionIDs = v.SelectedOptionIDs[:1]
	}
	if types.BoolValue(v.IsMissing) && types.BoolValue(v.IsAvailable) {
		v.IsAvailable = types.BoolPtr(false)
	}
	return v, true
}

// applyLocked writes v into the three maps. Empty values remove the entry.
func (s *Store) applyLocked(v types.FieldValue) {
	id := v.FieldID
	data := types.FieldValue{
		FieldID:           id,
		Value:             v.Value,
		SelectedOptionIDs: v.SelectedOptionIDs,
	}
	if data.IsEmpty() {
		delete(s.values, id)
	} else {
		s.values[id] = data
	}
	if s.variant != VariantClientData {
		return
	}
	s.setFlagLocked(s.missing, id, types.BoolValue(v.IsMissing))
	s.setFlagLocked(s.available, id, types.BoolValue(v.IsAvailable))
}

func (s *Store) setFlagLocked(m map[string]bool, id string, on bool) {
	if on {
		m[id] = true
	} else {
		delete(m, id)
	}
}

func (s *Store) touchLocked(fieldID string) {
	s.seq++
	s.edits[fieldID] = s.seq
}

// SetValue sets the scalar value of a non-choice field. Number and email
// values are trimmed; a number must parse as a decimal. An empty result
// clears the field.
func (s *Store) SetValue(fieldID, value string) error {
	const op = "set value"
	def, ok := s.registry.Get(fieldID)
	if !ok {
		return types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	coerced, err := coerce(def.Type, value)
	if err != nil {
		return types.Validation(op, fieldID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if coerced == "" {
		delete(s.values, fieldID)
	} else {
		s.values[fieldID] = types.FieldValue{FieldID: fieldID, Value: types.StringPtr(coerced)}
	}
	s.touchLocked(fieldID)
	return nil
}

func coerce(ft types.FieldType, value string) (string, error) {
	switch ft {
	case types.FieldTypeTextbox, types.FieldTypeTextarea:
		return value, nil
	case types.FieldTypeEmail:
		return strings.TrimSpace(value), nil
	case types.FieldTypeNumber:
		v := strings.TrimSpace(value)
		if v == "" {
			return v, nil
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", types.ErrTypeMismatch
		}
		return v, nil
	case types.FieldTypeButton:
		return "", types.ErrTypeMismatch
	default:
		return "", types.ErrInvalidFieldType
	}
}

// SetChoice selects or deselects one option. Multi-select fields toggle
// membership and keep selection order. Single-select fields replace the
// selection on select and clear it when the held option is deselected.
func (s *Store) SetChoice(fieldID, optionID string, selected bool) error {
	const op = "set choice"
	def, err := s.choiceField(op, fieldID)
	if err != nil {
		return err
	}
	if _, ok := def.Option(optionID); !ok {
		return types.Validation(op, fieldID, types.ErrOptionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.values[fieldID].SelectedOptionIDs
	var next []string
	switch {
	case def.IsMultiSelect && selected:
		if contains(current, optionID) {
			return nil
		}
		next = append(append([]string{}, current...), optionID)
	case def.IsMultiSelect:
		next = without(current, optionID)
	case selected:
		next = []string{optionID}
	default:
		next = without(current, optionID)
	}
	s.setSelectionLocked(fieldID, next)
	return nil
}

// SetChoices replaces the whole selection of a choice field.
func (s *Store) SetChoices(fieldID string, optionIDs []string) error {
	const op = "set choices"
	def, err := s.choiceField(op, fieldID)
	if err != nil {
		return err
	}
	var next []string
	for _, id := range optionIDs {
		if _, ok := def.Option(id); !ok {
			return types.Validation(op, fieldID, types.ErrOptionNotFound)
		}
		if !contains(next, id) {
			next = append(next, id)
		}
	}
	if def.IsSingleSelect() && len(next) > 1 {
		return types.Validation(op, fieldID, types.ErrTooManyOptions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSelectionLocked(fieldID, next)
	return nil
}

func (s *Store) choiceField(op, fieldID string) (types.FieldDefinition, error) {
	def, ok := s.registry.Get(fieldID)
	if !ok {
		return def, types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	if !def.Type.IsChoice() {
		return def, types.Validation(op, fieldID, types.ErrNotChoiceField)
	}
	return def, nil
}

func (s *Store) setSelectionLocked(fieldID string, ids []string) {
	if len(ids) == 0 {
		delete(s.values, fieldID)
	} else {
		s.values[fieldID] = types.FieldValue{FieldID: fieldID, SelectedOptionIDs: ids}
	}
	s.touchLocked(fieldID)
}

// SetPresence sets the missing and available flags together. The flags are
// mutually exclusive: when both are requested, missing wins.
func (s *Store) SetPresence(fieldID string, missing, available bool) error {
	const op = "set presence"
	if s.variant != VariantClientData {
		return types.Validation(op, fieldID, types.ErrPresenceUnsupported)
	}
	if _, ok := s.registry.Get(fieldID); !ok {
		return types.Validation(op, fieldID, types.ErrFieldNotFound)
	}
	if missing {
		available = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFlagLocked(s.missing, fieldID, missing)
	s.setFlagLocked(s.available, fieldID, available)
	s.touchLocked(fieldID)
	return nil
}

// DropField removes every trace of fieldID from the live maps and the
// authoritative snapshot.
func (s *Store) DropField(fieldID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, fieldID)
	delete(s.missing, fieldID)
	delete(s.available, fieldID)
	delete(s.edits, fieldID)
	kept := make([]types.FieldValue, 0, len(s.authoritative.Fields))
	for _, v := range s.authoritative.Fields {
		if v.FieldID != fieldID {
			kept = append(kept, v)
		}
	}
	s.authoritative.Fields = kept
}

// DropOption removes optionID from the selection of fieldID.
func (s *Store) DropOption(fieldID, optionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[fieldID]
	if !ok || !contains(v.SelectedOptionIDs, optionID) {
		return
	}
	s.setSelectionLocked(fieldID, without(v.SelectedOptionIDs, optionID))
}

func (s *Store) onRegistryEvent(ev registry.Event) {
	switch ev.Kind {
	case registry.FieldDeleted:
		s.DropField(ev.FieldID)
	case registry.OptionDeleted:
		s.DropOption(ev.FieldID, ev.OptionID)
	}
}

// Value returns a copy of the live value of fieldID.
func (s *Store) Value(fieldID string) (types.FieldValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[fieldID]
	return v.Clone(), ok
}

// Values returns a copy of the live value map.
func (s *Store) Values() map[string]types.FieldValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.FieldValue, len(s.values))
	for k, v := range s.values {
		out[k] = v.Clone()
	}
	return out
}

// Presence returns the missing and available flags of fieldID.
func (s *Store) Presence(fieldID string) (missing, available bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing[fieldID], s.available[fieldID]
}

// PresenceMaps returns copies of the missing and available maps. Only fields
// with a flag set appear.
func (s *Store) PresenceMaps() (missing, available map[string]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	missing = make(map[string]bool, len(s.missing))
	for k, v := range s.missing {
		missing[k] = v
	}
	available = make(map[string]bool, len(s.available))
	for k, v := range s.available {
		available[k] = v
	}
	return missing, available
}

// Authoritative returns a copy of the last snapshot the server confirmed.
func (s *Store) Authoritative() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.authoritative)
}

// MissingRequired lists required fields that hold no value, in display order.
// It is advisory: Save does not consult it.
func (s *Store) MissingRequired() []types.FieldDefinition {
	defs := s.registry.List()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.FieldDefinition
	for _, d := range defs {
		if !d.IsRequired {
			continue
		}
		if _, ok := s.values[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// BuildSavePayload serialises the live state: one entry per known field
// definition in display order, including fields that hold no value.
func (s *Store) BuildSavePayload() types.SavePayload {
	payload, _ := s.buildPayload()
	return payload
}

// buildPayload also returns the edit sequence the payload reflects.
func (s *Store) buildPayload() (types.SavePayload, uint64) {
	defs := s.registry.List()
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields := make([]types.FieldValue, 0, len(defs))
	for _, d := range defs {
		fields = append(fields, s.entryLocked(d))
	}
	return types.SavePayload{SubjectID: s.subjectID, Fields: fields}, s.seq
}

func (s *Store) entryLocked(d types.FieldDefinition) types.FieldValue {
	live := s.values[d.ID]
	entry := types.FieldValue{FieldID: d.ID}
	if d.Type.IsChoice() {
		entry.SelectedOptionIDs = append([]string{}, live.SelectedOptionIDs...)
	} else if live.Value != nil {
		entry.Value = types.StringPtr(*live.Value)
	}
	if s.variant == VariantClientData {
		entry.IsMissing = types.BoolPtr(s.missing[d.ID])
		entry.IsAvailable = types.BoolPtr(s.available[d.ID])
	}
	return entry
}

// Save sends the full value set and, on success, makes the response the
// authoritative snapshot. Server values are merged into the live maps except
// for fields edited after the payload was built. On failure the live edits
// stay so the caller can retry.
func (s *Store) Save(ctx context.Context) (types.Snapshot, error) {
	payload, seq := s.buildPayload()
	if payload.SubjectID == "" {
		return types.Snapshot{}, types.Validation("save values", "", types.ErrNotReady)
	}

	snap, err := s.api.SaveValues(ctx, payload)
	if err != nil {
		s.log.Warn("save failed", zap.String("subject_id", payload.SubjectID), zap.Error(err))
		return types.Snapshot{}, err
	}
	if snap.SubjectID == "" {
		snap.SubjectID = payload.SubjectID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subjectID != payload.SubjectID {
		return types.Snapshot{}, types.ErrSubjectChanged
	}
	byField := make(map[string]types.FieldValue, len(snap.Fields))
	for _, v := range snap.Fields {
		byField[v.FieldID] = v
	}
	for _, entry := range payload.Fields {
		if s.edits[entry.FieldID] > seq {
			continue
		}
		v, ok := byField[entry.FieldID]
		if !ok {
			v = types.FieldValue{FieldID: entry.FieldID}
		}
		if v, ok := s.sanitize(v); ok {
			s.applyLocked(v)
		}
	}
	s.authoritative = s.snapshotLocked(snap.Fields)
	s.log.Info("values saved", zap.String("subject_id", payload.SubjectID), zap.Int("fields", len(payload.Fields)))
	return cloneSnapshot(s.authoritative), nil
}

// snapshotLocked builds the authoritative snapshot from server values, keeping
// only fields the registry still knows.
func (s *Store) snapshotLocked(fields []types.FieldValue) types.Snapshot {
	out := types.Snapshot{SubjectID: s.subjectID, Fields: make([]types.FieldValue, 0, len(fields))}
	for _, v := range fields {
		if v, ok := s.sanitize(v); ok {
			out.Fields = append(out.Fields, v)
		}
	}
	return out
}

func cloneSnapshot(in types.Snapshot) types.Snapshot {
	out := types.Snapshot{SubjectID: in.SubjectID, Fields: make([]types.FieldValue, len(in.Fields))}
	for i, v := range in.Fields {
		out.Fields[i] = v.Clone()
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// without returns a new slice holding ids minus id.
func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
