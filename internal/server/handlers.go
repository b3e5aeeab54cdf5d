package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps backend sentinels to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrFieldNotFound),
		errors.Is(err, types.ErrOptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrInvalidFilter),
		errors.Is(err, types.ErrInvalidLabel),
		errors.Is(err, types.ErrInvalidFieldType),
		errors.Is(err, types.ErrNotChoiceField),
		errors.Is(err, types.ErrTypeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrBackendDetached):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return err
	}
	return nil
}

func (s *Server) table(w http.ResponseWriter, name string) (types.Table, bool) {
	t, err := s.backend.GetTable(name)
	if err != nil {
		s.respondError(w, err)
		return nil, false
	}
	return t, true
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.table(w, types.TableFields)
	if !ok {
		return
	}
	items, err := fields.Fetch(nil)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defs := make([]*types.FieldDefinition, 0, len(items))
	for _, item := range items {
		defs = append(defs, item.(*types.FieldDefinition))
	}
	respondJSON(w, http.StatusOK, defs)
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var in types.FieldInput
	if decode(w, r, &in) != nil {
		return
	}
	fields, ok := s.table(w, types.TableFields)
	if !ok {
		return
	}
	def := &types.FieldDefinition{
		Name:          in.Name,
		Label:         in.Label,
		Type:          in.Type,
		IsRequired:    in.IsRequired,
		IsMultiSelect: in.IsMultiSelect,
	}
	id, err := fields.Set("", def)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondField(w, fields, id, http.StatusCreated)
}

// handleUpdateField edits label and flags. The type may be omitted; a
// different type is rejected.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in types.FieldInput
	if decode(w, r, &in) != nil {
		return
	}
	fields, ok := s.table(w, types.TableFields)
	if !ok {
		return
	}
	current, err := fields.Get(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	existing := current.(*types.FieldDefinition)
	if in.Type == "" {
		in.Type = existing.Type
	}
	def := &types.FieldDefinition{
		ID:            id,
		Name:          in.Name,
		Label:         in.Label,
		Type:          in.Type,
		IsRequired:    in.IsRequired,
		IsMultiSelect: in.IsMultiSelect,
		Order:         existing.Order,
	}
	if _, err := fields.Set(id, def); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondField(w, fields, id, http.StatusOK)
}

func (s *Server) respondField(w http.ResponseWriter, fields types.Table, id string, status int) {
	got, err := fields.Get(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, status, got)
}

func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, types.TableFields, mux.Vars(r)["id"])
}

func (s *Server) handleDeleteOption(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, types.TableOptions, mux.Vars(r)["id"])
}

func (s *Server) handleDelete(w http.ResponseWriter, tableName, id string) {
	t, ok := s.table(w, tableName)
	if !ok {
		return
	}
	if err := t.Delete(id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateOption(w http.ResponseWriter, r *http.Request) {
	var in types.OptionInput
	if decode(w, r, &in) != nil {
		return
	}
	options, ok := s.table(w, types.TableOptions)
	if !ok {
		return
	}
	opt := &types.FieldOption{FieldID: in.FieldID, Label: in.Label, Value: in.Value}
	if _, err := options.Set("", opt); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, opt)
}

// handleGetValues answers 404 for a subject that has never been saved.
func (s *Server) handleGetValues(w http.ResponseWriter, r *http.Request) {
	values, ok := s.table(w, types.TableValues)
	if !ok {
		return
	}
	snap, err := values.Get(mux.Vars(r)["subjectId"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleSaveValues replaces the subject's values and echoes what was stored.
func (s *Server) handleSaveValues(w http.ResponseWriter, r *http.Request) {
	subjectID := mux.Vars(r)["subjectId"]
	var payload types.SavePayload
	if decode(w, r, &payload) != nil {
		return
	}
	values, ok := s.table(w, types.TableValues)
	if !ok {
		return
	}
	if _, err := values.Set(subjectID, &payload); err != nil {
		s.respondError(w, err)
		return
	}
	snap, err := values.Get(subjectID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.backend.(Pinger); ok {
		if err := p.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
