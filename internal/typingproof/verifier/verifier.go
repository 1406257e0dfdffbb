// Package verifier implements ChainVerifier: full and sampled verification
// of a committed typing-proof log, built on chain.DeterministicStringify
// and posw.Verify.
package verifier

import (
	"fmt"
	"math/rand"

	"go.uber.org/multierr"

	"typingproof/internal/typingproof/chain"
	"typingproof/internal/typingproof/checkpoint"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/posw"
)

// Kind enumerates the ways a VerificationFailure can be sub-kinded, per
// spec.md §7.
type Kind string

const (
	KindSequenceMismatch       Kind = "sequenceMismatch"
	KindTimestampViolation     Kind = "timestampViolation"
	KindPreviousHashMismatch   Kind = "previousHashMismatch"
	KindPoswInvalid            Kind = "poswInvalid"
	KindHashMismatch           Kind = "hashMismatch"
	KindSegmentEndpointMismatch Kind = "segmentEndpointMismatch"
)

// Failure describes one verification failure: the sub-kind, the offending
// index, and the offending event for caller-side reporting.
type Failure struct {
	Kind    Kind
	ErrorAt int
	Event   *event.Event
}

func (f Failure) Error() string {
	return fmt.Sprintf("verification failure: %s at index %d", f.Kind, f.ErrorAt)
}

// ProgressFunc is invoked after each event during a verification walk. A
// false return aborts the walk at the next opportunity, giving callers a
// cooperative cancellation point.
type ProgressFunc func(index int) bool

// Result is the outcome of a full verification run.
type Result struct {
	Valid    bool
	Aborted  bool
	Failure  *Failure
}

// VerifyFull walks the entire committed log from index 0, per spec.md §4.4.
func VerifyFull(initialHash string, events []*event.Event, progress ProgressFunc) Result {
	runningHash := initialHash
	haveLast := false
	var lastTimestamp float64

	for i, ev := range events {
		if fail := checkEvent(i, ev, runningHash, haveLast, lastTimestamp); fail != nil {
			return Result{Valid: false, Failure: fail}
		}
		runningHash = ev.Hash
		lastTimestamp = ev.Timestamp
		haveLast = true

		if progress != nil && !progress(i) {
			return Result{Aborted: true}
		}
	}
	return Result{Valid: true}
}

// checkEvent applies the five per-event checks from spec.md §4.4 steps
// 1-5, advancing no state itself.
func checkEvent(i int, ev *event.Event, runningHash string, haveLast bool, lastTimestamp float64) *Failure {
	if ev.Sequence != uint64(i) {
		return &Failure{Kind: KindSequenceMismatch, ErrorAt: i, Event: ev}
	}
	if haveLast && ev.Timestamp < lastTimestamp {
		return &Failure{Kind: KindTimestampViolation, ErrorAt: i, Event: ev}
	}
	if ev.PreviousHash != runningHash {
		return &Failure{Kind: KindPreviousHashMismatch, ErrorAt: i, Event: ev}
	}

	withoutPoSW, err := chain.DeterministicStringify(ev.HashedSubset(false))
	if err != nil {
		return &Failure{Kind: KindPoswInvalid, ErrorAt: i, Event: ev}
	}
	if !posw.Verify(runningHash, withoutPoSW, ev.PoSW) {
		return &Failure{Kind: KindPoswInvalid, ErrorAt: i, Event: ev}
	}

	full, err := chain.DeterministicStringify(ev.HashedSubset(true))
	if err != nil {
		return &Failure{Kind: KindHashMismatch, ErrorAt: i, Event: ev}
	}
	newHash := chain.ComputeHash([]byte(runningHash + full))
	if newHash != ev.Hash {
		return &Failure{Kind: KindHashMismatch, ErrorAt: i, Event: ev}
	}
	return nil
}

// Segment is one checkpoint-bounded (or initial-to-first-checkpoint, or
// last-checkpoint-to-tail) range of the log, with the hash its replay must
// start from and end at.
type Segment struct {
	Start        int
	End          int
	StartHash    string
	EndpointHash string
	// IsCheckpointEnd is false only for a trailing segment ending at the
	// final event when no checkpoint yet covers it (mid-session replay).
	IsCheckpointEnd bool
}

// BuildSegments partitions events into checkpoint-bounded segments, per
// spec.md §4.4.
func BuildSegments(initialHash string, events []*event.Event, checkpoints []checkpoint.Checkpoint) []Segment {
	if len(events) == 0 {
		return nil
	}
	var segs []Segment
	startHash := initialHash
	prevEnd := -1
	for _, cp := range checkpoints {
		segs = append(segs, Segment{
			Start:           prevEnd + 1,
			End:             cp.EventIndex,
			StartHash:       startHash,
			EndpointHash:    cp.Hash,
			IsCheckpointEnd: true,
		})
		startHash = cp.Hash
		prevEnd = cp.EventIndex
	}
	finalIndex := len(events) - 1
	if prevEnd != finalIndex {
		segs = append(segs, Segment{
			Start:           prevEnd + 1,
			End:             finalIndex,
			StartHash:       startHash,
			EndpointHash:    events[finalIndex].Hash,
			IsCheckpointEnd: false,
		})
	}
	return segs
}

// ChooseSegments selects up to k segment indices: always the first and
// last, filling the remainder by uniform random sampling without
// replacement from the middle. rng may be nil, in which case a
// package-default source is used (sampling choice carries no security
// weight — only coverage).
func ChooseSegments(segments []Segment, k int, rng *rand.Rand) []int {
	n := len(segments)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if n <= 2 || k <= 2 {
		chosen := map[int]bool{0: true, n - 1: true}
		out := make([]int, 0, len(chosen))
		for i := 0; i < n; i++ {
			if chosen[i] {
				out = append(out, i)
			}
		}
		return out
	}

	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	chosen := map[int]bool{0: true, n - 1: true}
	middle := make([]int, 0, n-2)
	for i := 1; i < n-1; i++ {
		middle = append(middle, i)
	}
	shuffle(len(middle), func(i, j int) { middle[i], middle[j] = middle[j], middle[i] })

	remaining := k - 2
	for i := 0; i < remaining && i < len(middle); i++ {
		chosen[middle[i]] = true
	}

	out := make([]int, 0, len(chosen))
	for i := 0; i < n; i++ {
		if chosen[i] {
			out = append(out, i)
		}
	}
	return out
}

// SampledResult is the outcome of a sampled verification run.
type SampledResult struct {
	Valid          bool
	Failures       []Failure
	Err            error
	Segments       []Segment
	SegmentIndices []int
	EventsVerified int
}

// VerifySampled verifies up to sampleCount checkpoint-bounded segments
// instead of the entire chain, per spec.md §4.4. If checkpoints is empty it
// falls back to full verification.
func VerifySampled(initialHash string, events []*event.Event, checkpoints []checkpoint.Checkpoint, sampleCount int, rng *rand.Rand, progress ProgressFunc) SampledResult {
	if len(checkpoints) == 0 {
		full := VerifyFull(initialHash, events, progress)
		res := SampledResult{Valid: full.Valid, EventsVerified: len(events)}
		if full.Failure != nil {
			res.Failures = []Failure{*full.Failure}
		}
		return res
	}

	segments := BuildSegments(initialHash, events, checkpoints)
	chosenIdx := ChooseSegments(segments, sampleCount, rng)

	var failures []Failure
	var aggErr error
	verified := 0

	for _, si := range chosenIdx {
		seg := segments[si]
		runningHash := seg.StartHash
		haveLast := seg.Start > 0
		var lastTimestamp float64
		if haveLast {
			lastTimestamp = events[seg.Start-1].Timestamp
		}

		segmentFailed := false
		for i := seg.Start; i <= seg.End; i++ {
			ev := events[i]
			if fail := checkEvent(i, ev, runningHash, haveLast, lastTimestamp); fail != nil {
				failures = append(failures, *fail)
				aggErr = multierr.Append(aggErr, fail)
				segmentFailed = true
				break
			}
			runningHash = ev.Hash
			lastTimestamp = ev.Timestamp
			haveLast = true
			verified++
			if progress != nil && !progress(i) {
				return SampledResult{Segments: segments, SegmentIndices: chosenIdx, EventsVerified: verified}
			}
		}
		if !segmentFailed && runningHash != seg.EndpointHash {
			fail := Failure{Kind: KindSegmentEndpointMismatch, ErrorAt: seg.End, Event: events[seg.End]}
			failures = append(failures, fail)
			aggErr = multierr.Append(aggErr, fail)
		}
	}

	return SampledResult{
		Valid:          len(failures) == 0,
		Failures:       failures,
		Err:            aggErr,
		Segments:       segments,
		SegmentIndices: chosenIdx,
		EventsVerified: verified,
	}
}
