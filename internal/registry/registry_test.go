package registry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fieldkit/internal/fakeapi"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

func newLoaded(t *testing.T, api *fakeapi.API, opts ...Option) *Registry {
	t.Helper()
	r := New(api, opts...)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestListEmptyBeforeLoad(t *testing.T) {
	api := fakeapi.New()
	api.SeedField(types.FieldDefinition{Name: "a", Label: "A", Type: types.FieldTypeTextbox})

	r := New(api)
	assert.Empty(t, r.List())
	assert.False(t, r.Loaded())

	require.NoError(t, r.Load(context.Background()))
	assert.Len(t, r.List(), 1)
	assert.True(t, r.Loaded())
}

func TestListOrdering(t *testing.T) {
	api := fakeapi.New()
	api.SeedField(types.FieldDefinition{ID: "c", Name: "c", Order: 2, Type: types.FieldTypeTextbox})
	api.SeedField(types.FieldDefinition{ID: "a", Name: "a", Order: 1, Type: types.FieldTypeTextbox})
	api.SeedField(types.FieldDefinition{ID: "b", Name: "b", Order: 1, Type: types.FieldTypeTextbox})
	api.SeedField(types.FieldDefinition{ID: "z", Name: "z", Type: types.FieldTypeTextbox})

	r := newLoaded(t, api)

	var ids []string
	for _, d := range r.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"z", "a", "b", "c"}, ids, "sorted by order, ties keep insertion order")
}

func TestLoadFailureKeepsContents(t *testing.T) {
	api := fakeapi.New()
	api.SeedField(types.FieldDefinition{ID: "a", Name: "a", Type: types.FieldTypeTextbox})
	r := newLoaded(t, api)

	api.FailStatus(fakeapi.OpListFields, http.StatusInternalServerError)
	err := r.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindRemote, types.KindOf(err))
	assert.Len(t, r.List(), 1)
}

func TestAddDerivesName(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)

	def, err := r.Add(context.Background(), "Email Address", types.FieldTypeEmail, true, false)
	require.NoError(t, err)

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, "email_address", def.Name)
	assert.Equal(t, "Email Address", def.Label)
	assert.True(t, def.IsRequired)
	assert.Len(t, r.List(), 1)
}

func TestAddDuplicateLabelGetsSuffix(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	first, err := r.Add(ctx, "New Field", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	second, err := r.Add(ctx, "New Field", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	third, err := r.Add(ctx, "new   field", types.FieldTypeTextarea, false, false)
	require.NoError(t, err)

	assert.Equal(t, "new_field", first.Name)
	assert.Equal(t, "new_field_1", second.Name)
	assert.Equal(t, "new_field_2", third.Name)

	seen := map[string]bool{}
	for _, d := range r.List() {
		assert.False(t, seen[d.Name], "name %q duplicated", d.Name)
		seen[d.Name] = true
	}
}

func TestAddKeepsLocalNameWhenServerOmitsIt(t *testing.T) {
	api := fakeapi.New()
	api.OmitNames = true
	r := newLoaded(t, api)

	def, err := r.Add(context.Background(), "Phone Number", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	assert.Equal(t, "phone_number", def.Name)

	got, ok := r.Get(def.ID)
	require.True(t, ok)
	assert.Equal(t, "phone_number", got.Name)
}

func TestAddTimestampFallback(t *testing.T) {
	api := fakeapi.New()
	clock := func() time.Time { return time.UnixMilli(1234) }
	r := newLoaded(t, api, WithClock(clock))

	def, err := r.Add(context.Background(), "???", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	assert.Equal(t, "field_1234", def.Name)
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		ft      types.FieldType
		wantErr error
	}{
		{"blank label", "   ", types.FieldTypeTextbox, types.ErrInvalidLabel},
		{"unknown type", "Colour", types.FieldType("radio"), types.ErrInvalidFieldType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := fakeapi.New()
			r := newLoaded(t, api)

			_, err := r.Add(context.Background(), tt.label, tt.ft, false, false)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
			assert.Zero(t, api.Calls(fakeapi.OpCreateField), "validation must block the remote call")
		})
	}
}

func TestAddNormalizesMultiSelect(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)

	def, err := r.Add(context.Background(), "Notes", types.FieldTypeTextarea, false, true)
	require.NoError(t, err)
	assert.False(t, def.IsMultiSelect)
}

func TestAddRemoteFailureDoesNotInsert(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	api.FailStatus(fakeapi.OpCreateField, http.StatusBadGateway)

	_, err := r.Add(context.Background(), "Name", types.FieldTypeTextbox, false, false)
	require.Error(t, err)
	assert.Equal(t, types.KindRemote, types.KindOf(err))
	assert.Empty(t, r.List())
}

// holdFirstCreate parks the first CreateField call until release is closed.
func holdFirstCreate(api *fakeapi.API) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	api.SetHook(fakeapi.OpCreateField, func(ctx context.Context) error {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return nil
	})
	return entered, release
}

func TestConcurrentAddsGetDistinctNames(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	entered, release := holdFirstCreate(api)
	type result struct {
		def types.FieldDefinition
		err error
	}
	done := make(chan result, 1)
	go func() {
		def, err := r.Add(ctx, "New Field", types.FieldTypeTextbox, false, false)
		done <- result{def, err}
	}()
	<-entered

	second, err := r.Add(ctx, "New Field", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	close(release)
	first := <-done
	require.NoError(t, first.err)

	assert.Equal(t, "new_field", first.def.Name)
	assert.Equal(t, "new_field_1", second.Name)
	names := map[string]bool{}
	for _, d := range r.List() {
		assert.False(t, names[d.Name], "duplicate name %s", d.Name)
		names[d.Name] = true
	}
	assert.Len(t, names, 2)
}

func TestAddFailureReleasesName(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	api.FailStatus(fakeapi.OpCreateField, http.StatusBadGateway)

	_, err := r.Add(context.Background(), "Notes", types.FieldTypeTextarea, false, false)
	require.Error(t, err)
	assert.Equal(t, "notes", r.DeriveName("Notes"))
}

func TestAddRejectsConfirmedNameCollision(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	entered, release := holdFirstCreate(api)
	done := make(chan error, 1)
	go func() {
		_, err := r.Add(ctx, "Status", types.FieldTypeTextbox, false, false)
		done <- err
	}()
	<-entered

	// Another client creates the same name; a reload picks it up.
	api.SeedField(types.FieldDefinition{ID: "other", Name: "status", Label: "Status", Type: types.FieldTypeTextbox})
	require.NoError(t, r.Load(ctx))
	close(release)

	err := <-done
	require.ErrorIs(t, err, types.ErrDuplicateName)
	require.Len(t, r.List(), 1)
	assert.Equal(t, "other", r.List()[0].ID)
}

func TestRemoteErrorsKeepOneOperationPrefix(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()
	def, err := r.Add(ctx, "Size", types.FieldTypeButton, false, false)
	require.NoError(t, err)

	api.FailStatus(fakeapi.OpDeleteField, http.StatusNotFound)
	err = r.Delete(ctx, def.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, strings.Count(err.Error(), "delete field"), err.Error())
}

func TestUpdate(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	def, err := r.Add(ctx, "Colour", types.FieldTypeButton, false, false)
	require.NoError(t, err)
	_, err = r.AddOption(ctx, def.ID, "Red")
	require.NoError(t, err)

	api.OmitNames = true
	updated, err := r.Update(ctx, def.ID, "Favourite Colour", true, true)
	require.NoError(t, err)

	assert.Equal(t, "colour", updated.Name, "name is fixed at creation")
	assert.Equal(t, "Favourite Colour", updated.Label)
	assert.True(t, updated.IsRequired)
	assert.True(t, updated.IsMultiSelect)
	assert.Equal(t, types.FieldTypeButton, updated.Type)
	assert.Len(t, updated.Options, 1)
}

func TestUpdateUnknownAndFailure(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	_, err := r.Update(ctx, "nope", "X", false, false)
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
	assert.Zero(t, api.Calls(fakeapi.OpUpdateField))

	def, err := r.Add(ctx, "Age", types.FieldTypeNumber, false, false)
	require.NoError(t, err)

	api.FailStatus(fakeapi.OpUpdateField, http.StatusInternalServerError)
	_, err = r.Update(ctx, def.ID, "Age in years", true, false)
	require.Error(t, err)

	got, _ := r.Get(def.ID)
	assert.Equal(t, "Age", got.Label, "failed update leaves the registry untouched")
	assert.False(t, got.IsRequired)
}

func TestDeletePublishesEvent(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	def, err := r.Add(ctx, "Temp", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)

	var events []Event
	unsubscribe := r.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, r.Delete(ctx, def.ID))
	assert.Empty(t, r.List())
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: FieldDeleted, FieldID: def.ID}, events[0])

	unsubscribe()
	def2, err := r.Add(ctx, "Temp", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)
	assert.Equal(t, "temp", def2.Name, "deleted name is free again")
	require.NoError(t, r.Delete(ctx, def2.ID))
	assert.Len(t, events, 1, "unsubscribed listener is not called")
}

func TestDeleteFailureLeavesEntry(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	def, err := r.Add(ctx, "Keep", types.FieldTypeTextbox, false, false)
	require.NoError(t, err)

	called := false
	r.Subscribe(func(Event) { called = true })

	api.FailStatus(fakeapi.OpDeleteField, http.StatusServiceUnavailable)
	require.Error(t, r.Delete(ctx, def.ID))
	assert.Len(t, r.List(), 1)
	assert.False(t, called)

	assert.ErrorIs(t, r.Delete(ctx, "unknown"), types.ErrFieldNotFound)
}

func TestOptions(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	choice, err := r.Add(ctx, "Size", types.FieldTypeButton, true, false)
	require.NoError(t, err)
	text, err := r.Add(ctx, "Notes", types.FieldTypeTextarea, false, false)
	require.NoError(t, err)

	small, err := r.AddOption(ctx, choice.ID, "Extra Small")
	require.NoError(t, err)
	assert.Equal(t, "extra_small", small.Value)
	assert.Equal(t, choice.ID, small.FieldID)

	dup, err := r.AddOption(ctx, choice.ID, "Extra  Small")
	require.NoError(t, err)
	assert.Equal(t, "extra_small", dup.Value, "option values are not disambiguated")

	_, err = r.AddOption(ctx, text.ID, "Nope")
	assert.ErrorIs(t, err, types.ErrNotChoiceField)
	_, err = r.AddOption(ctx, choice.ID, " ")
	assert.ErrorIs(t, err, types.ErrInvalidLabel)

	var events []Event
	r.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, r.DeleteOption(ctx, choice.ID, small.ID))
	got, _ := r.Get(choice.ID)
	require.Len(t, got.Options, 1)
	assert.Equal(t, dup.ID, got.Options[0].ID)
	assert.Equal(t, []Event{{Kind: OptionDeleted, FieldID: choice.ID, OptionID: small.ID}}, events)

	assert.ErrorIs(t, r.DeleteOption(ctx, choice.ID, small.ID), types.ErrOptionNotFound)
}

func TestOptionRemoteFailure(t *testing.T) {
	api := fakeapi.New()
	r := newLoaded(t, api)
	ctx := context.Background()

	choice, err := r.Add(ctx, "Size", types.FieldTypeButton, false, true)
	require.NoError(t, err)

	api.FailStatus(fakeapi.OpCreateOption, http.StatusInternalServerError)
	_, err = r.AddOption(ctx, choice.ID, "Large")
	require.Error(t, err)
	got, _ := r.Get(choice.ID)
	assert.Empty(t, got.Options)

	opt, err := r.AddOption(ctx, choice.ID, "Large")
	require.NoError(t, err)
	api.FailStatus(fakeapi.OpDeleteOption, http.StatusInternalServerError)
	require.Error(t, r.DeleteOption(ctx, choice.ID, opt.ID))
	got, _ = r.Get(choice.ID)
	assert.Len(t, got.Options, 1)
}

func TestListReturnsCopies(t *testing.T) {
	api := fakeapi.New()
	api.SeedField(types.FieldDefinition{ID: "f", Name: "f", Label: "F", Type: types.FieldTypeButton,
		Options: []types.FieldOption{{ID: "o", Label: "O"}}})
	r := newLoaded(t, api)

	list := r.List()
	list[0].Label = "mutated"
	list[0].Options[0].Label = "mutated"

	got, _ := r.Get("f")
	assert.Equal(t, "F", got.Label)
	assert.Equal(t, "O", got.Options[0].Label)
}
