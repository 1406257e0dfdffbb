package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashedSubset_WithoutPoSW_OmitsPoswKey(t *testing.T) {
	ev := &Event{Sequence: 3, Timestamp: 10, Type: TypeContentChange, Data: "x", PreviousHash: "p"}
	subset := ev.HashedSubset(false)
	_, ok := subset["posw"]
	assert.False(t, ok)
}

func TestHashedSubset_WithPoSW_IncludesPoswKey(t *testing.T) {
	ev := &Event{
		Sequence: 3, Timestamp: 10, Type: TypeContentChange, Data: "x", PreviousHash: "p",
		PoSW: &PoSW{Iterations: 10000, Nonce: "n", IntermediateHash: "h"},
	}
	subset := ev.HashedSubset(true)
	poswVal, ok := subset["posw"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, 10000, poswVal["iterations"])
	assert.NotContains(t, poswVal, "computeTimeMs")
}

func TestHashedSubset_AbsentOptionalFieldsAreExplicitNil(t *testing.T) {
	ev := &Event{Sequence: 0, Timestamp: 0, Type: TypeContentChange, Data: nil, PreviousHash: "p"}
	subset := ev.HashedSubset(false)

	assert.Nil(t, subset["rangeOffset"])
	assert.Nil(t, subset["rangeLength"])
	assert.Nil(t, subset["range"])
	assert.Nil(t, subset["inputType"])
}

func TestHashedSubset_RangePresent(t *testing.T) {
	ev := &Event{
		Sequence: 0, Timestamp: 0, Type: TypeContentChange, Data: "x", PreviousHash: "p",
		Range: &Range{StartLine: 1, StartColumn: 2, EndLine: 1, EndColumn: 3},
	}
	subset := ev.HashedSubset(false)
	rv, ok := subset["range"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, 2, rv["startColumn"])
}

func TestHashedSubset_MetadataFieldsNeverAppear(t *testing.T) {
	text := "pasted text"
	ev := &Event{
		Sequence: 0, Timestamp: 0, Type: TypeContentChange, Data: "x", PreviousHash: "p",
		Description: "a description", InsertedText: text, SelectedText: "sel",
	}
	subset := ev.HashedSubset(true)
	for _, key := range []string{"description", "insertedText", "selectedText", "isMultiLine", "deletedLength", "insertLength", "deleteDirection"} {
		_, ok := subset[key]
		assert.False(t, ok, "metadata key %q must never enter the hashed subset", key)
	}
}

func TestRecordEventInput_IsPasteIsDrop(t *testing.T) {
	assert.True(t, RecordEventInput{InputType: InputTypeInsertFromPaste}.IsPaste())
	assert.False(t, RecordEventInput{InputType: InputTypeInsertFromPaste}.IsDrop())
	assert.True(t, RecordEventInput{InputType: InputTypeInsertFromDrop}.IsDrop())
	assert.False(t, RecordEventInput{InputType: InputTypeInsertText}.IsPaste())
}
