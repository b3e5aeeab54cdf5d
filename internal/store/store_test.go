package store

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fieldkit/internal/fakeapi"
	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

const subject = "task-1"

type fixture struct {
	api   *fakeapi.API
	reg   *registry.Registry
	text  types.FieldDefinition
	num   types.FieldDefinition
	color types.FieldDefinition // single-select
	tags  types.FieldDefinition // multi-select
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := fakeapi.New()
	f := &fixture{api: api}
	f.text = api.SeedField(types.FieldDefinition{ID: "f-text", Name: "notes", Label: "Notes", Type: types.FieldTypeTextbox, Order: 0})
	f.num = api.SeedField(types.FieldDefinition{ID: "f-num", Name: "count", Label: "Count", Type: types.FieldTypeNumber, Order: 1, IsRequired: true})
	f.color = api.SeedField(types.FieldDefinition{
		ID: "f-color", Name: "color", Label: "Color", Type: types.FieldTypeButton, Order: 2,
		Options: []types.FieldOption{{ID: "red", Label: "Red", Value: "red"}, {ID: "blue", Label: "Blue", Value: "blue"}},
	})
	f.tags = api.SeedField(types.FieldDefinition{
		ID: "f-tags", Name: "tags", Label: "Tags", Type: types.FieldTypeButton, Order: 3, IsMultiSelect: true,
		Options: []types.FieldOption{{ID: "a", Label: "A", Value: "a"}, {ID: "b", Label: "B", Value: "b"}, {ID: "c", Label: "C", Value: "c"}},
	})
	f.reg = registry.New(api)
	return f
}

func (f *fixture) open(t *testing.T, variant Variant) *Store {
	t.Helper()
	s := New(f.api, f.reg, variant, nil)
	t.Cleanup(s.Close)
	require.NoError(t, s.LoadForSubject(context.Background(), subject))
	return s
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"", VariantStandard, false},
		{"standard", VariantStandard, false},
		{"Client_Data", VariantClientData, false},
		{"client-data", VariantClientData, false},
		{"other", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVariant(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadNotFoundIsEmpty(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantClientData)

	assert.Equal(t, subject, s.SubjectID())
	assert.Empty(t, s.Values())
	missing, available := s.PresenceMaps()
	assert.Empty(t, missing)
	assert.Empty(t, available)
	assert.Empty(t, s.Authoritative().Fields)
	assert.Len(t, f.reg.List(), 4, "definitions load alongside values")
}

func TestLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.api.FailStatus(fakeapi.OpGetValues, http.StatusInternalServerError)

	s := New(f.api, f.reg, VariantStandard, nil)
	defer s.Close()
	err := s.LoadForSubject(context.Background(), subject)
	require.Error(t, err)
	assert.Equal(t, types.KindRemote, types.KindOf(err))
}

func TestLoadRequiresSubject(t *testing.T) {
	f := newFixture(t)
	s := New(f.api, f.reg, VariantStandard, nil)
	defer s.Close()
	err := s.LoadForSubject(context.Background(), "")
	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.Zero(t, f.api.Calls(fakeapi.OpGetValues))
}

func TestLoadSanitizesServerValues(t *testing.T) {
	f := newFixture(t)
	f.api.SeedValues(subject,
		types.FieldValue{FieldID: "f-text", Value: types.StringPtr("hello")},
		types.FieldValue{FieldID: "gone", Value: types.StringPtr("orphan")},
		types.FieldValue{FieldID: "f-color", SelectedOptionIDs: []string{"red", "blue"}},
		types.FieldValue{FieldID: "f-num", IsMissing: types.BoolPtr(true), IsAvailable: types.BoolPtr(true)},
	)
	s := f.open(t, VariantClientData)

	values := s.Values()
	assert.Len(t, values, 2)
	_, ok := values["gone"]
	assert.False(t, ok, "values for unknown fields are dropped")
	assert.Equal(t, []string{"red"}, values["f-color"].SelectedOptionIDs)

	missing, available := s.Presence("f-num")
	assert.True(t, missing)
	assert.False(t, available, "missing and available are never both set")

	_, ok = s.Authoritative().Field("gone")
	assert.False(t, ok)
}

func TestLoadDropsEmptyServerValues(t *testing.T) {
	f := newFixture(t)
	f.api.SeedValues(subject,
		types.FieldValue{FieldID: "f-text", Value: types.StringPtr("")},
		types.FieldValue{FieldID: "f-color", SelectedOptionIDs: []string{}},
	)
	s := f.open(t, VariantStandard)
	assert.Empty(t, s.Values())
}

func TestSetValueCoercion(t *testing.T) {
	tests := []struct {
		name    string
		fieldID string
		in      string
		want    *string
		wantErr error
	}{
		{"text kept verbatim", "f-text", "  spaced  ", types.StringPtr("  spaced  "), nil},
		{"number trimmed", "f-num", " 42.5 ", types.StringPtr("42.5"), nil},
		{"number rejected", "f-num", "forty", nil, types.ErrTypeMismatch},
		{"empty clears", "f-num", "   ", nil, nil},
		{"choice rejected", "f-color", "red", nil, types.ErrTypeMismatch},
		{"unknown field", "nope", "x", nil, types.ErrFieldNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.open(t, VariantStandard)

			err := s.SetValue(tt.fieldID, tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, types.KindValidation, types.KindOf(err))
				return
			}
			require.NoError(t, err)
			v, ok := s.Value(tt.fieldID)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, *tt.want, *v.Value)
		})
	}
}

func TestSetValueEmailTrimmed(t *testing.T) {
	api := fakeapi.New()
	api.SeedField(types.FieldDefinition{ID: "e", Name: "email", Label: "Email", Type: types.FieldTypeEmail})
	reg := registry.New(api)
	s := New(api, reg, VariantStandard, nil)
	defer s.Close()
	require.NoError(t, s.LoadForSubject(context.Background(), subject))

	require.NoError(t, s.SetValue("e", " a@b.com "))
	v, _ := s.Value("e")
	assert.Equal(t, "a@b.com", *v.Value)
}

func TestSetValueNoNetwork(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	require.NoError(t, s.SetValue("f-text", "x"))
	require.NoError(t, s.SetChoice("f-color", "red", true))
	assert.Zero(t, f.api.Calls(fakeapi.OpSaveValues))
	assert.Equal(t, 1, f.api.Calls(fakeapi.OpGetValues))
}

func TestSetChoiceSingleSelect(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	require.NoError(t, s.SetChoice("f-color", "red", true))
	require.NoError(t, s.SetChoice("f-color", "blue", true))
	v, _ := s.Value("f-color")
	assert.Equal(t, []string{"blue"}, v.SelectedOptionIDs, "select replaces")

	require.NoError(t, s.SetChoice("f-color", "red", false))
	v, _ = s.Value("f-color")
	assert.Equal(t, []string{"blue"}, v.SelectedOptionIDs, "deselecting an unheld option changes nothing")

	require.NoError(t, s.SetChoice("f-color", "blue", false))
	_, ok := s.Value("f-color")
	assert.False(t, ok)
}

func TestSetChoiceMultiSelectToggles(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	for _, id := range []string{"c", "a", "b", "a"} {
		require.NoError(t, s.SetChoice("f-tags", id, true))
	}
	v, _ := s.Value("f-tags")
	assert.Equal(t, []string{"c", "a", "b"}, v.SelectedOptionIDs, "selection order kept, no duplicates")

	require.NoError(t, s.SetChoice("f-tags", "a", false))
	v, _ = s.Value("f-tags")
	assert.Equal(t, []string{"c", "b"}, v.SelectedOptionIDs)
}

func TestSetChoiceErrors(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	assert.ErrorIs(t, s.SetChoice("f-text", "red", true), types.ErrNotChoiceField)
	assert.ErrorIs(t, s.SetChoice("f-color", "a", true), types.ErrOptionNotFound)
	assert.ErrorIs(t, s.SetChoice("nope", "a", true), types.ErrFieldNotFound)
}

func TestSetChoices(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	err := s.SetChoices("f-color", []string{"red", "blue"})
	require.ErrorIs(t, err, types.ErrTooManyOptions)
	_, ok := s.Value("f-color")
	assert.False(t, ok, "rejected replacement leaves state alone")

	require.NoError(t, s.SetChoices("f-tags", []string{"b", "a", "b"}))
	v, _ := s.Value("f-tags")
	assert.Equal(t, []string{"b", "a"}, v.SelectedOptionIDs)

	require.NoError(t, s.SetChoices("f-tags", nil))
	_, ok = s.Value("f-tags")
	assert.False(t, ok)
}

func TestSetPresence(t *testing.T) {
	f := newFixture(t)

	std := f.open(t, VariantStandard)
	assert.ErrorIs(t, std.SetPresence("f-text", true, false), types.ErrPresenceUnsupported)

	s := f.open(t, VariantClientData)
	require.NoError(t, s.SetPresence("f-text", false, true))
	missing, available := s.Presence("f-text")
	assert.False(t, missing)
	assert.True(t, available)

	require.NoError(t, s.SetPresence("f-text", true, true))
	missing, available = s.Presence("f-text")
	assert.True(t, missing, "missing wins")
	assert.False(t, available)
}

func TestRegistryDeletionsPropagate(t *testing.T) {
	f := newFixture(t)
	f.api.SeedValues(subject, types.FieldValue{FieldID: "f-text", Value: types.StringPtr("saved")})
	s := f.open(t, VariantClientData)
	require.NoError(t, s.SetPresence("f-text", true, false))
	require.NoError(t, s.SetChoices("f-tags", []string{"a", "b"}))

	ctx := context.Background()
	require.NoError(t, f.reg.Delete(ctx, "f-text"))
	require.NoError(t, f.reg.DeleteOption(ctx, "f-tags", "a"))

	_, ok := s.Value("f-text")
	assert.False(t, ok)
	missing, _ := s.Presence("f-text")
	assert.False(t, missing)
	_, ok = s.Authoritative().Field("f-text")
	assert.False(t, ok)

	v, _ := s.Value("f-tags")
	assert.Equal(t, []string{"b"}, v.SelectedOptionIDs)

	for _, e := range s.BuildSavePayload().Fields {
		assert.NotEqual(t, "f-text", e.FieldID)
	}
}

func TestClosedStoreIgnoresEvents(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)
	require.NoError(t, s.SetValue("f-text", "x"))
	s.Close()

	require.NoError(t, f.reg.Delete(context.Background(), "f-text"))
	_, ok := s.Value("f-text")
	assert.True(t, ok)
}

func TestBuildSavePayload(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)
	require.NoError(t, s.SetValue("f-num", "7"))
	require.NoError(t, s.SetChoice("f-tags", "b", true))

	want := types.SavePayload{
		SubjectID: subject,
		Fields: []types.FieldValue{
			{FieldID: "f-text"},
			{FieldID: "f-num", Value: types.StringPtr("7")},
			{FieldID: "f-color", SelectedOptionIDs: []string{}},
			{FieldID: "f-tags", SelectedOptionIDs: []string{"b"}},
		},
	}
	if diff := cmp.Diff(want, s.BuildSavePayload()); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSavePayloadClientData(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantClientData)
	require.NoError(t, s.SetPresence("f-num", true, false))

	p := s.BuildSavePayload()
	require.Len(t, p.Fields, 4)
	for _, e := range p.Fields {
		require.NotNil(t, e.IsMissing)
		require.NotNil(t, e.IsAvailable)
		assert.Equal(t, e.FieldID == "f-num", *e.IsMissing)
		assert.False(t, *e.IsAvailable)
	}
}

func TestSaveRoundTripKeepsState(t *testing.T) {
	for _, variant := range []Variant{VariantStandard, VariantClientData} {
		t.Run(variant.String(), func(t *testing.T) {
			f := newFixture(t)
			s := f.open(t, variant)
			require.NoError(t, s.SetValue("f-text", "hello"))
			require.NoError(t, s.SetValue("f-num", "3"))
			require.NoError(t, s.SetChoices("f-tags", []string{"c", "a"}))
			if variant == VariantClientData {
				require.NoError(t, s.SetPresence("f-color", false, true))
			}

			beforeValues := s.Values()
			beforeMissing, beforeAvailable := s.PresenceMaps()

			snap, err := s.Save(context.Background())
			require.NoError(t, err)

			assert.Empty(t, cmp.Diff(beforeValues, s.Values()))
			afterMissing, afterAvailable := s.PresenceMaps()
			assert.Equal(t, beforeMissing, afterMissing)
			assert.Equal(t, beforeAvailable, afterAvailable)
			assert.Empty(t, cmp.Diff(snap, s.Authoritative()))
		})
	}
}

func TestSaveFailureKeepsEdits(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)
	require.NoError(t, s.SetValue("f-text", "draft"))

	f.api.FailStatus(fakeapi.OpSaveValues, http.StatusServiceUnavailable)
	_, err := s.Save(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindRemote, types.KindOf(err))
	assert.Equal(t, "save values: 503 Service Unavailable: Service Unavailable", err.Error())

	v, ok := s.Value("f-text")
	require.True(t, ok)
	assert.Equal(t, "draft", *v.Value)
	assert.Empty(t, s.Authoritative().Fields)

	_, err = s.Save(context.Background())
	require.NoError(t, err)
	got, ok := s.Authoritative().Field("f-text")
	require.True(t, ok)
	assert.Equal(t, "draft", *got.Value)
}

func TestSaveKeepsEditsMadeInFlight(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)
	require.NoError(t, s.SetValue("f-text", "first"))

	f.api.SetHook(fakeapi.OpSaveValues, func(context.Context) error {
		return s.SetValue("f-text", "second")
	})
	snap, err := s.Save(context.Background())
	require.NoError(t, err)

	got, _ := snap.Field("f-text")
	assert.Equal(t, "first", *got.Value, "server confirmed the payload")
	v, _ := s.Value("f-text")
	assert.Equal(t, "second", *v.Value, "later edit is not overwritten")
}

func TestSaveRequiresLoad(t *testing.T) {
	f := newFixture(t)
	s := New(f.api, f.reg, VariantStandard, nil)
	defer s.Close()
	_, err := s.Save(context.Background())
	assert.True(t, errors.Is(err, types.ErrNotReady))
	assert.Zero(t, f.api.Calls(fakeapi.OpSaveValues))
}

func TestMissingRequiredIsAdvisory(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, VariantStandard)

	req := s.MissingRequired()
	require.Len(t, req, 1)
	assert.Equal(t, "f-num", req[0].ID)

	_, err := s.Save(context.Background())
	require.NoError(t, err, "required fields never block save")

	require.NoError(t, s.SetValue("f-num", "1"))
	assert.Empty(t, s.MissingRequired())
}
