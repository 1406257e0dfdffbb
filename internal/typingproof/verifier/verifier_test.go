package verifier

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typingproof/internal/typingproof/chain"
	"typingproof/internal/typingproof/checkpoint"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/posw"
)

// buildChain commits n honest events atop initialHash, mirroring what
// engine.commit does, without depending on the engine package.
func buildChain(t *testing.T, initialHash string, n int) []*event.Event {
	t.Helper()
	events := make([]*event.Event, 0, n)
	running := initialHash
	var lastTs float64 = -1

	for i := 0; i < n; i++ {
		ts := lastTs + 10
		ev := &event.Event{
			Sequence:     uint64(i),
			Timestamp:    ts,
			Type:         event.TypeContentChange,
			InputType:    event.InputTypeInsertText,
			Data:         "x",
			PreviousHash: running,
		}
		withoutPoSW, err := chain.DeterministicStringify(ev.HashedSubset(false))
		require.NoError(t, err)
		p, err := posw.Compute(running, withoutPoSW, 8)
		require.NoError(t, err)
		ev.PoSW = p

		full, err := chain.DeterministicStringify(ev.HashedSubset(true))
		require.NoError(t, err)
		ev.Hash = chain.ComputeHash([]byte(running + full))

		events = append(events, ev)
		running = ev.Hash
		lastTs = ts
	}
	return events
}

func TestVerifyFull_ValidChain(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 120)
	res := VerifyFull(initial, events, nil)
	assert.True(t, res.Valid)
}

// A data flip is caught at the PoSW check (step 4), which runs before the
// hash check (step 5): data is part of HashedSubset(false), the PoSW
// preimage, so tampering it invalidates the stored intermediate hash before
// the final hash comparison is ever reached. See DESIGN.md Open Questions
// for the resulting tension with spec.md's hashMismatch scenario.
func TestVerifyFull_DetectsDataTamper(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 120)
	events[73].Data = "tampered"

	res := VerifyFull(initial, events, nil)
	require.False(t, res.Valid)
	require.NotNil(t, res.Failure)
	assert.Equal(t, KindPoswInvalid, res.Failure.Kind)
	assert.Equal(t, 73, res.Failure.ErrorAt)
}

func TestVerifyFull_DetectsSequenceMismatch(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 10)
	events[5].Sequence = 99

	res := VerifyFull(initial, events, nil)
	require.False(t, res.Valid)
	assert.Equal(t, KindSequenceMismatch, res.Failure.Kind)
	assert.Equal(t, 5, res.Failure.ErrorAt)
}

func TestVerifyFull_DetectsTimestampViolation(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 10)
	events[5].Timestamp = -1000
	// re-point downstream previousHash/hash would also break, but the
	// timestamp check runs before hash checks so this still isolates it.

	res := VerifyFull(initial, events, nil)
	require.False(t, res.Valid)
	assert.Equal(t, KindTimestampViolation, res.Failure.Kind)
}

func TestVerifyFull_DetectsPreviousHashMismatch(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 10)
	events[4].PreviousHash = "bogus"

	res := VerifyFull(initial, events, nil)
	require.False(t, res.Valid)
	assert.Equal(t, KindPreviousHashMismatch, res.Failure.Kind)
	assert.Equal(t, 4, res.Failure.ErrorAt)
}

func TestVerifyFull_ProgressAbort(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 10)
	seen := 0
	res := VerifyFull(initial, events, func(i int) bool {
		seen++
		return i < 3
	})
	assert.True(t, res.Aborted)
	assert.Equal(t, 4, seen)
}

func TestBuildSegments_CoversWholeLog(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 500)
	cm := checkpoint.NewManager()
	for i := range events {
		if checkpoint.ShouldCreateCheckpoint(i) {
			require.NoError(t, cm.CreateCheckpoint(i, events))
		}
	}
	segs := BuildSegments(initial, events, cm.List())
	require.Len(t, segs, 10)
	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, 49, segs[0].End)
	assert.Equal(t, 499, segs[len(segs)-1].End)
}

func TestVerifySampled_ValidChainAcceptsAnySampleSet(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 500)
	cm := checkpoint.NewManager()
	for i := range events {
		if checkpoint.ShouldCreateCheckpoint(i) {
			require.NoError(t, cm.CreateCheckpoint(i, events))
		}
	}
	res := VerifySampled(initial, events, cm.List(), 3, rand.New(rand.NewSource(42)), nil)
	assert.True(t, res.Valid)
	assert.Equal(t, 150, res.EventsVerified) // 3 of 10 segments, 50 events each
	assert.Len(t, res.SegmentIndices, 3)
}

func TestVerifySampled_NoCheckpointsFallsBackToFull(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 10)
	res := VerifySampled(initial, events, nil, 3, nil, nil)
	assert.True(t, res.Valid)
	assert.Equal(t, 10, res.EventsVerified)
}

func TestVerifySampled_DetectsTamperInSampledSegment(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 150)
	events[10].Data = "tampered"

	cm := checkpoint.NewManager()
	for i := range events {
		if checkpoint.ShouldCreateCheckpoint(i) {
			require.NoError(t, cm.CreateCheckpoint(i, events))
		}
	}
	// sample all segments to guarantee the tampered one is included.
	res := VerifySampled(initial, events, cm.List(), len(cm.List()), nil, nil)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Failures)
}

func TestIfFullVerifyAccepts_SampledAlsoAccepts(t *testing.T) {
	initial := "init"
	events := buildChain(t, initial, 300)
	full := VerifyFull(initial, events, nil)
	require.True(t, full.Valid)

	cm := checkpoint.NewManager()
	for i := range events {
		if checkpoint.ShouldCreateCheckpoint(i) {
			require.NoError(t, cm.CreateCheckpoint(i, events))
		}
	}
	for seed := int64(0); seed < 5; seed++ {
		res := VerifySampled(initial, events, cm.List(), 3, rand.New(rand.NewSource(seed)), nil)
		assert.True(t, res.Valid)
	}
}
