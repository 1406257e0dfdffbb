package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typingproof/internal/typingproof/event"
)

func fakeEvents(n int) []*event.Event {
	out := make([]*event.Event, n)
	for i := 0; i < n; i++ {
		out[i] = &event.Event{Sequence: uint64(i), Hash: "hash-" + string(rune('a'+i%26))}
	}
	return out
}

func TestShouldCreateCheckpoint(t *testing.T) {
	assert.True(t, ShouldCreateCheckpoint(49))
	assert.True(t, ShouldCreateCheckpoint(99))
	assert.False(t, ShouldCreateCheckpoint(48))
	assert.False(t, ShouldCreateCheckpoint(50))
}

func TestCreateCheckpoint_IdempotentAtSameIndex(t *testing.T) {
	events := fakeEvents(60)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	require.NoError(t, m.CreateCheckpoint(49, events))
	assert.Len(t, m.List(), 1)
}

func TestCreateCheckpoint_Invariant(t *testing.T) {
	events := fakeEvents(60)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	cps := m.List()
	require.Len(t, cps, 1)
	assert.Equal(t, events[49].Hash, cps[0].Hash)
}

func TestCleanupForExport_RemovesOffGridKeepsFinal(t *testing.T) {
	events := fakeEvents(120)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	require.NoError(t, m.CreateCheckpoint(99, events))
	require.NoError(t, m.CreateCheckpoint(70, events)) // off-grid

	require.NoError(t, m.CleanupForExport(events))

	cps := m.List()
	indices := make([]int, len(cps))
	for i, cp := range cps {
		indices[i] = cp.EventIndex
	}
	assert.Equal(t, []int{49, 99, 119}, indices)
}

func TestCleanupForExport_NoOpWhenFinalAlreadyOnGrid(t *testing.T) {
	events := fakeEvents(100)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	require.NoError(t, m.CreateCheckpoint(99, events))

	require.NoError(t, m.CleanupForExport(events))
	assert.Len(t, m.List(), 2)
}

func TestSetCheckpoints_RejectsDuplicateIndex(t *testing.T) {
	m := NewManager()
	err := m.SetCheckpoints([]Checkpoint{{EventIndex: 1, Hash: "a"}, {EventIndex: 1, Hash: "b"}})
	assert.Error(t, err)
}

func TestGetLastCheckpoint(t *testing.T) {
	events := fakeEvents(120)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	require.NoError(t, m.CreateCheckpoint(99, events))
	last, ok := m.GetLastCheckpoint()
	require.True(t, ok)
	assert.Equal(t, 99, last.EventIndex)
}

func TestClearCheckpoints(t *testing.T) {
	events := fakeEvents(60)
	m := NewManager()
	require.NoError(t, m.CreateCheckpoint(49, events))
	m.ClearCheckpoints()
	assert.Empty(t, m.List())
}
