package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mesh-intelligence/fieldkit/internal/controller"
	"github.com/mesh-intelligence/fieldkit/internal/httpapi"
	"github.com/mesh-intelligence/fieldkit/internal/registry"
	"github.com/mesh-intelligence/fieldkit/internal/sqlstore"
	"github.com/mesh-intelligence/fieldkit/internal/store"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// newTestAPI starts a server over a fresh SQLite backend and returns a client
// for it.
func newTestAPI(t *testing.T) (*httpapi.Client, *httptest.Server) {
	t.Helper()
	backend := sqlstore.NewBackend(nil)
	require.NoError(t, backend.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))

	srv := httptest.NewServer(New(backend).Handler())
	t.Cleanup(func() {
		srv.Close()
		backend.Detach()
	})

	client, err := httpapi.NewClient(srv.URL)
	require.NoError(t, err)
	return client, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestAPI(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFieldLifecycle(t *testing.T) {
	client, _ := newTestAPI(t)
	ctx := context.Background()

	created, err := client.CreateField(ctx, types.FieldInput{Label: "Color", Type: types.FieldTypeButton})
	require.NoError(t, err)
	assert.Equal(t, "color", created.Name)
	assert.Equal(t, 0, created.Order)

	opt, err := client.CreateOption(ctx, types.OptionInput{FieldID: created.ID, Label: "Light Blue"})
	require.NoError(t, err)
	assert.Equal(t, "light_blue", opt.Value)
	assert.NotEmpty(t, opt.ID)

	updated, err := client.UpdateField(ctx, created.ID, types.FieldInput{Label: "Colour", Type: types.FieldTypeButton, IsMultiSelect: true})
	require.NoError(t, err)
	assert.Equal(t, "Colour", updated.Label)
	assert.Equal(t, "color", updated.Name)
	assert.True(t, updated.IsMultiSelect)
	require.Len(t, updated.Options, 1)

	list, err := client.ListFields(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, client.DeleteOption(ctx, opt.ID))
	require.NoError(t, client.DeleteField(ctx, created.ID))

	err = client.DeleteField(ctx, created.ID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
	list, err = client.ListFields(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestErrorStatuses(t *testing.T) {
	client, srv := newTestAPI(t)
	ctx := context.Background()
	text, err := client.CreateField(ctx, types.FieldInput{Name: "text", Label: "Text", Type: types.FieldTypeTextbox})
	require.NoError(t, err)

	tests := []struct {
		name   string
		call   func() error
		status int
	}{
		{"blank label", func() error {
			_, err := client.CreateField(ctx, types.FieldInput{Label: " ", Type: types.FieldTypeTextbox})
			return err
		}, http.StatusBadRequest},
		{"duplicate name", func() error {
			_, err := client.CreateField(ctx, types.FieldInput{Name: "text", Label: "Other", Type: types.FieldTypeTextbox})
			return err
		}, http.StatusConflict},
		{"type change", func() error {
			_, err := client.UpdateField(ctx, text.ID, types.FieldInput{Label: "Text", Type: types.FieldTypeNumber})
			return err
		}, http.StatusBadRequest},
		{"update unknown", func() error {
			_, err := client.UpdateField(ctx, "nope", types.FieldInput{Label: "X", Type: types.FieldTypeTextbox})
			return err
		}, http.StatusNotFound},
		{"option on text field", func() error {
			_, err := client.CreateOption(ctx, types.OptionInput{FieldID: text.ID, Label: "A"})
			return err
		}, http.StatusBadRequest},
		{"option on unknown field", func() error {
			_, err := client.CreateOption(ctx, types.OptionInput{FieldID: "nope", Label: "A"})
			return err
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			var re *types.RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.StatusCode)
		})
	}

	resp, err := http.Post(srv.URL+"/api/fields", "application/json", strings.NewReader(`{"label":"X","fieldType":"radio"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValuesRoundTrip(t *testing.T) {
	client, _ := newTestAPI(t)
	ctx := context.Background()

	_, err := client.GetValues(ctx, "task-1")
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err), "unsaved subject is not found")

	text, err := client.CreateField(ctx, types.FieldInput{Label: "Text", Type: types.FieldTypeTextbox})
	require.NoError(t, err)
	tags, err := client.CreateField(ctx, types.FieldInput{Label: "Tags", Type: types.FieldTypeButton, IsMultiSelect: true})
	require.NoError(t, err)
	a, err := client.CreateOption(ctx, types.OptionInput{FieldID: tags.ID, Label: "A"})
	require.NoError(t, err)

	snap, err := client.SaveValues(ctx, types.SavePayload{SubjectID: "task-1", Fields: []types.FieldValue{
		{FieldID: text.ID, Value: types.StringPtr("hello")},
		{FieldID: tags.ID, SelectedOptionIDs: []string{a.ID}},
	}})
	require.NoError(t, err)
	require.Len(t, snap.Fields, 2)

	got, err := client.GetValues(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

// TestControllerOverHTTP drives the full add, fill, save cycle through the
// controller, the HTTP client, the server, and SQLite.
func TestControllerOverHTTP(t *testing.T) {
	client, _ := newTestAPI(t)
	ctx := context.Background()

	var notes []controller.Notification
	reg := registry.New(client)
	c := controller.New(client, reg,
		controller.WithVariant(store.VariantClientData),
		controller.WithNotifier(controller.NotifierFunc(func(n controller.Notification) { notes = append(notes, n) })))
	defer c.Close()

	require.NoError(t, c.SetSubject(ctx, "task-7"))
	assert.Equal(t, controller.StateReady, c.State())

	email, err := c.AddField(ctx, "Email Address", types.FieldTypeEmail, true, false)
	require.NoError(t, err)
	assert.Equal(t, "email_address", email.Name)
	size, err := c.AddField(ctx, "Size", types.FieldTypeButton, false, false)
	require.NoError(t, err)
	large, err := c.AddOption(ctx, size.ID, "Large")
	require.NoError(t, err)

	require.NoError(t, c.SetValue(email.ID, " a@b.com "))
	require.NoError(t, c.SetChoice(size.ID, large.ID, true))
	require.NoError(t, c.SetPresence(email.ID, false, true))

	snap, err := c.Save(ctx)
	require.NoError(t, err)
	got, ok := snap.Field(email.ID)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", *got.Value)
	assert.True(t, types.BoolValue(got.IsAvailable))

	// A fresh controller sees the saved state.
	c2 := controller.New(client, registry.New(client))
	defer c2.Close()
	require.NoError(t, c2.SetSubject(ctx, "task-7"))
	v, ok := c2.Store().Value(size.ID)
	require.True(t, ok)
	assert.Equal(t, []string{large.ID}, v.SelectedOptionIDs)
	assert.Empty(t, notes)
}

func TestRunStopsOnCancel(t *testing.T) {
	backend := sqlstore.NewBackend(nil)
	require.NoError(t, backend.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	defer backend.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(backend).Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(types.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(types.ErrDuplicateName))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.ErrNotChoiceField))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(types.ErrBackendDetached))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestSaveValuesSubjectMismatch(t *testing.T) {
	_, srv := newTestAPI(t)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/subjects/one/values",
		strings.NewReader(`{"subjectId":"two","fields":[]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
