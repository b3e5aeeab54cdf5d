package sqlstore

import "github.com/mesh-intelligence/fieldkit/pkg/types"

// table implements types.Table for one entity type. The backend lock is held
// for the whole operation; reads share it, writes take it exclusively.
type table struct {
	name    string
	backend *Backend
}

// Get retrieves an entity by ID. For field_values the ID is a subject ID and
// the result is that subject's *types.Snapshot.
func (t *table) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	if !t.backend.attached {
		return nil, types.ErrBackendDetached
	}

	switch t.name {
	case types.TableFields:
		return t.backend.getField(id)
	case types.TableOptions:
		return t.backend.getOption(id)
	case types.TableValues:
		return t.backend.getSnapshot(id)
	case types.TableSubjects:
		return t.backend.getSubject(id)
	default:
		return nil, types.ErrTableNotFound
	}
}

// Set creates or updates an entity. An empty id on fields and options
// generates a UUID v7. Returns the ID used.
func (t *table) Set(id string, data any) (string, error) {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	if !t.backend.attached {
		return "", types.ErrBackendDetached
	}

	switch t.name {
	case types.TableFields:
		def, ok := data.(*types.FieldDefinition)
		if !ok {
			return "", types.ErrInvalidData
		}
		return t.backend.setField(id, def)
	case types.TableOptions:
		opt, ok := data.(*types.FieldOption)
		if !ok {
			return "", types.ErrInvalidData
		}
		return t.backend.setOption(id, opt)
	case types.TableValues:
		return t.backend.setValues(id, data)
	case types.TableSubjects:
		s, ok := data.(*types.Subject)
		if !ok {
			return "", types.ErrInvalidData
		}
		return t.backend.setSubject(id, s)
	default:
		return "", types.ErrTableNotFound
	}
}

// Delete removes an entity and everything that references it.
func (t *table) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	if !t.backend.attached {
		return types.ErrBackendDetached
	}

	switch t.name {
	case types.TableFields:
		return t.backend.deleteField(id)
	case types.TableOptions:
		return t.backend.deleteOption(id)
	case types.TableValues, types.TableSubjects:
		return t.backend.deleteSubject(id)
	default:
		return types.ErrTableNotFound
	}
}

// Fetch returns entities matching the filter. Empty filter matches all.
func (t *table) Fetch(filter types.Filter) ([]any, error) {
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	if !t.backend.attached {
		return nil, types.ErrBackendDetached
	}

	switch t.name {
	case types.TableFields:
		return t.backend.fetchFields(filter)
	case types.TableOptions:
		return t.backend.fetchOptions(filter)
	case types.TableValues:
		return t.backend.fetchSnapshots(filter)
	case types.TableSubjects:
		return t.backend.fetchSubjects(filter)
	default:
		return nil, types.ErrTableNotFound
	}
}

// stringFilter extracts an optional string filter value.
func stringFilter(filter types.Filter, key string) (string, bool, error) {
	v, ok := filter[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, types.ErrInvalidFilter
	}
	return s, true, nil
}
