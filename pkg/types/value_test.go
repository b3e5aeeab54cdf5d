package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValueJSONShape(t *testing.T) {
	payload := SavePayload{
		SubjectID: "task-1",
		Fields: []FieldValue{
			{FieldID: "f1", Value: StringPtr("a@b.com")},
			{FieldID: "f2", SelectedOptionIDs: []string{}},
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subjectId":"task-1","fields":[
		{"fieldId":"f1","value":"a@b.com","selectedOptionIds":null},
		{"fieldId":"f2","value":null,"selectedOptionIds":[]}
	]}`, string(data))
}

func TestFieldValuePresenceFlagsSerialised(t *testing.T) {
	v := FieldValue{FieldID: "f1", IsMissing: BoolPtr(true), IsAvailable: BoolPtr(false)}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fieldId":"f1","value":null,"selectedOptionIds":null,"isMissing":true,"isAvailable":false}`, string(data))
}

func TestFieldValueIsEmpty(t *testing.T) {
	assert.True(t, FieldValue{FieldID: "f"}.IsEmpty())
	assert.True(t, FieldValue{FieldID: "f", SelectedOptionIDs: []string{}, IsMissing: BoolPtr(false)}.IsEmpty())
	assert.True(t, FieldValue{FieldID: "f", Value: StringPtr("")}.IsEmpty(), "empty text holds nothing")
	assert.False(t, FieldValue{FieldID: "f", Value: StringPtr("x")}.IsEmpty())
	assert.False(t, FieldValue{FieldID: "f", SelectedOptionIDs: []string{"a"}}.IsEmpty())
	assert.False(t, FieldValue{FieldID: "f", IsAvailable: BoolPtr(true)}.IsEmpty())
}

func TestFieldValueClone(t *testing.T) {
	v := FieldValue{FieldID: "f", Value: StringPtr("x"), SelectedOptionIDs: []string{"a"}}
	c := v.Clone()
	*c.Value = "y"
	c.SelectedOptionIDs[0] = "b"
	assert.Equal(t, "x", *v.Value)
	assert.Equal(t, "a", v.SelectedOptionIDs[0])
}

func TestSnapshotField(t *testing.T) {
	s := Snapshot{Fields: []FieldValue{{FieldID: "f1"}, {FieldID: "f2", Value: StringPtr("v")}}}
	got, ok := s.Field("f2")
	require.True(t, ok)
	assert.Equal(t, "v", *got.Value)
	_, ok = s.Field("f3")
	assert.False(t, ok)
}

func TestPointerHelpers(t *testing.T) {
	assert.Equal(t, "", StringValue(nil))
	assert.Equal(t, "x", StringValue(StringPtr("x")))
	assert.False(t, BoolValue(nil))
	assert.True(t, BoolValue(BoolPtr(true)))
}
