// Package engine implements TypingProof, the façade that owns the event
// log, mediates ordered appends through a serial queue, and exposes
// record/export/restore/verify operations with a two-phase
// pending-to-committed lifecycle.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typingproof/internal/typingproof/chain"
	"typingproof/internal/typingproof/checkpoint"
	"typingproof/internal/typingproof/event"
	"typingproof/internal/typingproof/posw"
	"typingproof/internal/typingproof/stats"
	"typingproof/internal/typingproof/verifier"
)

// Sentinel errors for the fatal, caller-surfaced initialization path. Per
// spec.md §7, recording errors never propagate this way — only
// initialization and ordering violations do.
var (
	ErrAlreadyInitialized          = errors.New("typingproof: already initialized")
	ErrNotInitialized              = errors.New("typingproof: not initialized")
	ErrHumanAttestationOrderViolation = errors.New("typingproof: humanAttestation must be the first event")
)

// PendingChangeSink is called on every pending-list mutation, so an
// external session store can persist without waiting for commit.
type PendingChangeSink func(pending []*event.PendingEvent)

// Result is what RecordEvent and RecordHumanAttestation resolve to.
type Result struct {
	Hash  string
	Index int
}

// Metadata holds the user agent, export time and pure-typing flag that
// describe an exported proof alongside the hash chain.
type Metadata struct {
	UserAgent    string
	Timestamp    time.Time
	IsPureTyping bool
}

// TypingProof is the façade described in spec.md §4.6. The zero value is
// not usable; construct with New.
type TypingProof struct {
	log *zap.SugaredLogger

	mu               sync.Mutex
	deviceID         string
	deviceComponents map[string]any
	initialHash      string
	currentHash      string
	startTime        time.Time
	initialized      bool

	events      []*event.Event
	pending     []*event.PendingEvent
	checkpoints *checkpoint.Manager
	posw        *posw.Manager

	onPendingChange PendingChangeSink

	tasks  chan *commitTask
	closed chan struct{}
	wg     sync.WaitGroup
}

type commitTask struct {
	pe     *event.PendingEvent
	result chan Result
}

// New constructs an uninitialized TypingProof façade. Call Initialize
// before recording or verifying anything.
func New(poswManager *posw.Manager, log *zap.SugaredLogger) *TypingProof {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TypingProof{
		log:         log,
		checkpoints: checkpoint.NewManager(),
		posw:        poswManager,
	}
}

// Initialize computes the session's initial hash and starts the serial
// commit queue. It is idempotent-guarded: calling it twice without an
// intervening Reset fails.
func (tp *TypingProof) Initialize(deviceID string, deviceComponents map[string]any, onPendingChange PendingChangeSink) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.initialized {
		return ErrAlreadyInitialized
	}

	initHash, err := chain.InitialHash(deviceID)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	tp.deviceID = deviceID
	tp.deviceComponents = deviceComponents
	tp.initialHash = initHash
	tp.currentHash = initHash
	tp.startTime = time.Now()
	tp.onPendingChange = onPendingChange
	tp.events = nil
	tp.pending = nil
	tp.checkpoints = checkpoint.NewManager()

	tp.startQueue()
	tp.initialized = true
	return nil
}

func (tp *TypingProof) startQueue() {
	tp.tasks = make(chan *commitTask, 256)
	tp.closed = make(chan struct{})
	tp.wg.Add(1)
	go tp.runQueue()
}

// runQueue is the single-consumer serial executor: commits are applied in
// exactly the order tasks were enqueued (spec.md §5, FIFO ordering).
func (tp *TypingProof) runQueue() {
	defer tp.wg.Done()
	for {
		select {
		case task, ok := <-tp.tasks:
			if !ok {
				return
			}
			task.result <- tp.commit(task.pe)
		case <-tp.closed:
			return
		}
	}
}

// RecordHumanAttestation records the unique, log-opening human attestation
// event. It fails if the log is already non-empty.
func (tp *TypingProof) RecordHumanAttestation(ctx context.Context, attestation any) (Result, error) {
	tp.mu.Lock()
	if !tp.initialized {
		tp.mu.Unlock()
		return Result{}, ErrNotInitialized
	}
	if len(tp.events) != 0 || len(tp.pending) != 0 {
		tp.mu.Unlock()
		return Result{}, ErrHumanAttestationOrderViolation
	}
	tp.mu.Unlock()

	return tp.RecordEvent(ctx, event.RecordEventInput{
		Type: event.TypeHumanAttestation,
		Data: attestation,
	}, "")
}

// RecordEvent captures the input as a PendingEvent synchronously, then
// enqueues the PoSW-and-hash commit onto the serial queue and waits for it
// to finish (the Go analogue of the spec's "future that resolves when
// committed"). Commit-time failures never surface here: per spec.md §4.6
// item 4, a failed task still returns the current chain tip so later
// events keep chaining cleanly.
func (tp *TypingProof) RecordEvent(ctx context.Context, input event.RecordEventInput, tabID string) (Result, error) {
	tp.mu.Lock()
	if !tp.initialized {
		tp.mu.Unlock()
		return Result{}, ErrNotInitialized
	}

	ts := tp.elapsedMs()
	if input.Timestamp != nil {
		ts = *input.Timestamp
	}
	if tabID == "" {
		tabID = uuid.NewString()
	}

	pe := &event.PendingEvent{
		Input:        input,
		Sequence:     uint64(len(tp.events) + len(tp.pending)),
		Timestamp:    ts,
		PreviousHash: tp.currentHash,
		TabID:        tabID,
	}
	tp.pending = append(tp.pending, pe)
	snapshot := tp.pendingSnapshotLocked()
	tp.mu.Unlock()

	tp.firePendingChange(snapshot)

	task := &commitTask{pe: pe, result: make(chan Result, 1)}
	select {
	case tp.tasks <- task:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-task.result:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (tp *TypingProof) elapsedMs() float64 {
	return float64(time.Since(tp.startTime).Milliseconds())
}

// commit runs on the serial queue goroutine only. It validates and
// self-heals sequence/timestamp/previousHash, computes PoSW and the new
// chain hash, appends the committed event, and removes the matching
// pending entry.
func (tp *TypingProof) commit(pe *event.PendingEvent) Result {
	tp.mu.Lock()

	expectedSeq := uint64(len(tp.events))
	seq, corrected := chain.ValidateSequence(pe.Sequence, expectedSeq)
	if corrected {
		tp.log.Debugw("self-healed pending event sequence", "claimed", pe.Sequence, "expected", expectedSeq)
	}

	lastTimestamp := -1.0
	if len(tp.events) > 0 {
		lastTimestamp = tp.events[len(tp.events)-1].Timestamp
	}
	ts, adjusted := chain.EnsureMonotonicTimestamp(pe.Timestamp, lastTimestamp)
	if adjusted {
		tp.log.Debugw("self-healed pending event timestamp", "claimed", pe.Timestamp, "adjustedTo", ts)
	}

	prevHash := chain.ValidatePreviousHash(pe.PreviousHash, tp.currentHash)

	ev := &event.Event{
		Sequence:        seq,
		Timestamp:       ts,
		Type:            pe.Input.Type,
		InputType:       pe.Input.InputType,
		Data:            pe.Input.Data,
		RangeOffset:     pe.Input.RangeOffset,
		RangeLength:     pe.Input.RangeLength,
		Range:           pe.Input.Range,
		PreviousHash:    prevHash,
		Description:     pe.Input.Description,
		IsMultiLine:     pe.Input.IsMultiLine,
		DeletedLength:   pe.Input.DeletedLength,
		InsertedText:    pe.Input.InsertedText,
		InsertLength:    pe.Input.InsertLength,
		DeleteDirection: pe.Input.DeleteDirection,
		SelectedText:    pe.Input.SelectedText,
	}

	fallbackResult := Result{Hash: tp.currentHash, Index: len(tp.events) - 1}

	withoutPoSW, err := chain.DeterministicStringify(ev.HashedSubset(false))
	if err != nil {
		tp.log.Errorw("canonicalize event without posw failed", "error", err)
		tp.removePendingLocked(pe)
		tp.mu.Unlock()
		tp.firePendingChange(tp.pendingSnapshot())
		return fallbackResult
	}

	tp.mu.Unlock()
	poswResult, err := tp.posw.Compute(context.Background(), prevHash, withoutPoSW)
	tp.mu.Lock()

	if err != nil {
		tp.log.Errorw("posw computation failed, dropping event from pending", "error", err)
		tp.removePendingLocked(pe)
		tp.mu.Unlock()
		tp.firePendingChange(tp.pendingSnapshot())
		return fallbackResult
	}
	ev.PoSW = poswResult

	full, err := chain.DeterministicStringify(ev.HashedSubset(true))
	if err != nil {
		tp.log.Errorw("canonicalize event failed", "error", err)
		tp.removePendingLocked(pe)
		tp.mu.Unlock()
		tp.firePendingChange(tp.pendingSnapshot())
		return fallbackResult
	}
	ev.Hash = chain.ComputeHash([]byte(prevHash + full))

	tp.events = append(tp.events, ev)
	tp.currentHash = ev.Hash
	idx := len(tp.events) - 1

	if checkpoint.ShouldCreateCheckpoint(idx) {
		if err := tp.checkpoints.CreateCheckpoint(idx, tp.events); err != nil {
			tp.log.Warnw("checkpoint creation failed", "index", idx, "error", err)
		}
	}

	tp.removePendingLocked(pe)
	snapshot := tp.pendingSnapshotLocked()
	tp.mu.Unlock()

	tp.firePendingChange(snapshot)

	return Result{Hash: ev.Hash, Index: idx}
}

func (tp *TypingProof) removePendingLocked(pe *event.PendingEvent) {
	for i, p := range tp.pending {
		if p == pe {
			tp.pending = append(tp.pending[:i], tp.pending[i+1:]...)
			return
		}
	}
}

func (tp *TypingProof) pendingSnapshotLocked() []*event.PendingEvent {
	out := make([]*event.PendingEvent, len(tp.pending))
	copy(out, tp.pending)
	return out
}

func (tp *TypingProof) pendingSnapshot() []*event.PendingEvent {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.pendingSnapshotLocked()
}

func (tp *TypingProof) firePendingChange(pending []*event.PendingEvent) {
	if tp.onPendingChange != nil {
		tp.onPendingChange(pending)
	}
}

// Verify runs full chain verification over the committed log.
func (tp *TypingProof) Verify(progress verifier.ProgressFunc) verifier.Result {
	tp.mu.Lock()
	events := append([]*event.Event(nil), tp.events...)
	initHash := tp.initialHash
	tp.mu.Unlock()

	return verifier.VerifyFull(initHash, events, progress)
}

// VerifySampled runs sampled verification against the given checkpoints
// (typically tp.Checkpoints()), per spec.md §4.4.
func (tp *TypingProof) VerifySampled(checkpoints []checkpoint.Checkpoint, sampleCount int, rng *rand.Rand, progress verifier.ProgressFunc) verifier.SampledResult {
	tp.mu.Lock()
	events := append([]*event.Event(nil), tp.events...)
	initHash := tp.initialHash
	tp.mu.Unlock()

	return verifier.VerifySampled(initHash, events, checkpoints, sampleCount, rng, progress)
}

// Checkpoints returns the currently held checkpoint list.
func (tp *TypingProof) Checkpoints() []checkpoint.Checkpoint {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.checkpoints.List()
}

// Events returns a read-only snapshot of the committed log.
func (tp *TypingProof) Events() []*event.Event {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]*event.Event(nil), tp.events...)
}

// Stats derives StatisticsCalculator's metrics over the current committed
// log.
func (tp *TypingProof) Stats() *stats.Stats {
	return stats.Calculate(tp.Events())
}

// ExportedProof is the bit-exact external format from spec.md §6.
type ExportedProof struct {
	Version         string                 `json:"version"`
	TypingProofHash string                 `json:"typingProofHash"`
	TypingProofData TypingProofData        `json:"typingProofData"`
	Proof           Proof                  `json:"proof"`
	Fingerprint     Fingerprint            `json:"fingerprint"`
	Metadata        ExportMetadata         `json:"metadata"`
	Checkpoints     []checkpoint.Checkpoint `json:"checkpoints"`
}

type TypingProofData struct {
	FinalContentHash    string         `json:"finalContentHash"`
	FinalEventChainHash string         `json:"finalEventChainHash"`
	DeviceID            string         `json:"deviceId"`
	Metadata            map[string]any `json:"metadata"`
}

type Proof struct {
	TotalEvents int            `json:"totalEvents"`
	FinalHash   *string        `json:"finalHash"`
	StartTime   float64        `json:"startTime"`
	EndTime     float64        `json:"endTime"`
	Signature   string         `json:"signature"`
	Events      []*event.Event `json:"events"`
}

type Fingerprint struct {
	Hash       string         `json:"hash"`
	Components map[string]any `json:"components"`
}

type ExportMetadata struct {
	UserAgent    string `json:"userAgent"`
	Timestamp    string `json:"timestamp"`
	IsPureTyping bool   `json:"isPureTyping"`
}

// ProofFormatVersion is the version string stamped onto every exported
// proof.
const ProofFormatVersion = "1"

// ExportProof builds the bit-exact exported proof for finalContent, per
// spec.md §4.6 and §6.
func (tp *TypingProof) ExportProof(finalContent string, userAgent string) (*ExportedProof, error) {
	tp.mu.Lock()
	events := append([]*event.Event(nil), tp.events...)
	deviceID := tp.deviceID
	startTimeMs := 0.0
	endTimeMs := tp.elapsedMs()
	currentHash := tp.currentHash
	// CleanupForExport and List both touch checkpoints.Manager's internal
	// slice, which has no lock of its own — they must run under tp.mu so
	// they can't race with a concurrent commit's CreateCheckpoint.
	cleanupErr := tp.checkpoints.CleanupForExport(events)
	checkpoints := tp.checkpoints.List()
	tp.mu.Unlock()

	if cleanupErr != nil {
		return nil, fmt.Errorf("export proof: %w", cleanupErr)
	}

	st := stats.Calculate(events)

	sigPreimage, err := chain.DeterministicStringify(map[string]any{
		"totalEvents": len(events),
		"finalHash":   finalHashOrNull(currentHash, len(events)),
		"startTime":   startTimeMs,
		"endTime":     endTimeMs,
	})
	if err != nil {
		return nil, fmt.Errorf("export proof: canonicalize signature preimage: %w", err)
	}
	signature := chain.ComputeHash([]byte(sigPreimage))

	finalContentHash := sha256Hex(finalContent)
	proofData := TypingProofData{
		FinalContentHash:    finalContentHash,
		FinalEventChainHash: currentHash,
		DeviceID:            deviceID,
		Metadata:            st.SummaryMap(),
	}
	proofDataPreimage, err := chain.DeterministicStringify(map[string]any{
		"finalContentHash":    proofData.FinalContentHash,
		"finalEventChainHash": proofData.FinalEventChainHash,
		"deviceId":            proofData.DeviceID,
		"metadata":            proofData.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("export proof: canonicalize proof data: %w", err)
	}
	typingProofHash := chain.ComputeHash([]byte(proofDataPreimage))

	var finalHashPtr *string
	if len(events) > 0 {
		finalHashPtr = &currentHash
	}

	return &ExportedProof{
		Version:         ProofFormatVersion,
		TypingProofHash: typingProofHash,
		TypingProofData: proofData,
		Proof: Proof{
			TotalEvents: len(events),
			FinalHash:   finalHashPtr,
			StartTime:   startTimeMs,
			EndTime:     endTimeMs,
			Signature:   signature,
			Events:      events,
		},
		Fingerprint: Fingerprint{
			Hash:       sha256Hex(deviceID),
			Components: tp.deviceComponents,
		},
		Metadata: ExportMetadata{
			UserAgent:    userAgent,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			IsPureTyping: st.IsPureTyping,
		},
		Checkpoints: checkpoints,
	}, nil
}

func finalHashOrNull(currentHash string, totalEvents int) any {
	if totalEvents == 0 {
		return nil
	}
	return currentHash
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// VerifyTypingProofHash re-derives finalContentHash and the proof hash and
// checks them against the claims in an exported proof, per spec.md §4.6.
func VerifyTypingProofHash(claimedHash string, data TypingProofData, finalContent string) (bool, error) {
	if sha256Hex(finalContent) != data.FinalContentHash {
		return false, nil
	}
	preimage, err := chain.DeterministicStringify(map[string]any{
		"finalContentHash":    data.FinalContentHash,
		"finalEventChainHash": data.FinalEventChainHash,
		"deviceId":            data.DeviceID,
		"metadata":            data.Metadata,
	})
	if err != nil {
		return false, fmt.Errorf("verify typing proof hash: %w", err)
	}
	return chain.ComputeHash([]byte(preimage)) == claimedHash, nil
}

// SessionStateV1 is the full session snapshot with events inline.
type SessionStateV1 struct {
	Events        []*event.Event         `json:"events"`
	CurrentHash   string                  `json:"currentHash"`
	StartTime     float64                 `json:"startTime"`
	PendingEvents []*event.PendingEvent   `json:"pendingEvents"`
	Checkpoints   []checkpoint.Checkpoint `json:"checkpoints"`
}

// SessionStateV2 externalizes events into a separate store and carries a
// cursor instead, for use when a small serialization budget rules out
// inlining the whole log.
type SessionStateV2 struct {
	CurrentHash        string                  `json:"currentHash"`
	StartTime          float64                 `json:"startTime"`
	PendingEvents       []*event.PendingEvent   `json:"pendingEvents"`
	Checkpoints         []checkpoint.Checkpoint `json:"checkpoints"`
	LastEventSequence   *uint64                 `json:"lastEventSequence"`
}

// SerializeState returns the full session snapshot (spec.md §3).
func (tp *TypingProof) SerializeState() SessionStateV1 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return SessionStateV1{
		Events:        append([]*event.Event(nil), tp.events...),
		CurrentHash:   tp.currentHash,
		StartTime:     0,
		PendingEvents: tp.pendingSnapshotLocked(),
		Checkpoints:   tp.checkpoints.List(),
	}
}

// SerializeLightweightState returns the events-omitting projection used
// when events are persisted separately.
func (tp *TypingProof) SerializeLightweightState() SessionStateV2 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	var cursor *uint64
	if len(tp.events) > 0 {
		seq := tp.events[len(tp.events)-1].Sequence
		cursor = &seq
	}
	return SessionStateV2{
		CurrentHash:       tp.currentHash,
		StartTime:         0,
		PendingEvents:     tp.pendingSnapshotLocked(),
		Checkpoints:       tp.checkpoints.List(),
		LastEventSequence: cursor,
	}
}

// RestoreState replaces the engine's state wholesale from a full
// SessionStateV1 snapshot. The engine is left initialized.
func (tp *TypingProof) RestoreState(state SessionStateV1) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := tp.checkpoints.SetCheckpoints(state.Checkpoints); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	tp.events = append([]*event.Event(nil), state.Events...)
	tp.pending = append([]*event.PendingEvent(nil), state.PendingEvents...)
	tp.currentHash = state.CurrentHash
	tp.initialHash = state.CurrentHash
	if len(tp.events) > 0 {
		// The authoritative chain tip is the last committed event's hash,
		// not whatever currentHash the envelope carried (spec.md §9).
		tp.currentHash = tp.events[len(tp.events)-1].Hash
		// The envelope carries no initial hash; the first event's
		// previousHash is the one the chain was seeded with.
		tp.initialHash = tp.events[0].PreviousHash
	}
	if !tp.initialized {
		tp.initialized = true
		tp.startTime = time.Now()
		tp.startQueue()
	}
	return nil
}

// RestoreLightweightState restores from a SessionStateV2 envelope plus the
// events fetched separately from an external store, per spec.md §9's
// recovery path: the last external event's hash wins over the envelope's
// currentHash on any disagreement.
func (tp *TypingProof) RestoreLightweightState(state SessionStateV2, externalEvents []*event.Event) error {
	full := SessionStateV1{
		Events:        externalEvents,
		CurrentHash:   state.CurrentHash,
		PendingEvents: state.PendingEvents,
		Checkpoints:   state.Checkpoints,
	}
	return tp.RestoreState(full)
}

// SetDevice overrides the device identity used by ExportProof's
// fingerprint. It exists for offline tooling that restores a session from
// serialized state (which never carries the device identity — spec.md §3)
// and must supply it out of band before exporting.
func (tp *TypingProof) SetDevice(deviceID string, deviceComponents map[string]any) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.deviceID = deviceID
	tp.deviceComponents = deviceComponents
}

// Reset clears the log, checkpoints, and pending list, recomputes the
// initial hash, and resets the session start time. The engine remains
// initialized afterward.
func (tp *TypingProof) Reset() error {
	tp.mu.Lock()
	deviceID := tp.deviceID
	onPendingChange := tp.onPendingChange
	tp.mu.Unlock()

	tp.Close()

	tp.mu.Lock()
	tp.initialized = false
	tp.mu.Unlock()

	return tp.Initialize(deviceID, tp.deviceComponents, onPendingChange)
}

// Close stops the serial commit queue goroutine. Safe to call multiple
// times.
func (tp *TypingProof) Close() {
	tp.mu.Lock()
	closed := tp.closed
	tp.mu.Unlock()
	if closed == nil {
		return
	}
	select {
	case <-closed:
		// already closed
	default:
		close(closed)
	}
	tp.wg.Wait()
}
