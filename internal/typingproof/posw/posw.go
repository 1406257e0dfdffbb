// Package posw implements PoswManager: per-event Proof of Sequential Work
// construction and verification, with an optional background-worker
// offload path built on sourcegraph/conc's structured worker pool.
package posw

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"typingproof/internal/typingproof/event"
)

// Iterations is the fixed, non-configurable design constant every producer
// uses. Verifiers MUST use the stored iterations field on the event instead
// of assuming this value.
const Iterations = 10000

// RequestTimeout bounds how long a caller waits for a background worker to
// answer a compute or verify request before it fails with ErrTimeout.
const RequestTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when an outstanding worker request is not
	// answered within RequestTimeout.
	ErrTimeout = errors.New("posw: worker request timed out")
	// ErrWorkerFault is returned to every outstanding request when the
	// background worker pool faults.
	ErrWorkerFault = errors.New("posw: worker fault")
)

// Compute runs the PoSW construction inline: a fresh nonce, then an
// iterations-long sequential SHA-256 walk anchored to previousHash and
// eventDataString. This is the fallback path required for verifier-only
// deployments without a worker, and is also what a Manager's background
// worker calls under the hood.
func Compute(previousHash, eventDataString string, iterations int) (*event.PoSW, error) {
	nonceBytes := make([]byte, 16) // 128 bits
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("read posw nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	start := time.Now()
	intermediate := walk(previousHash, eventDataString, nonce, iterations)
	elapsed := time.Since(start)

	return &event.PoSW{
		Iterations:       iterations,
		Nonce:            nonce,
		IntermediateHash: intermediate,
		ComputeTimeMs:    elapsed.Milliseconds(),
	}, nil
}

// Verify recomputes the sequential hash walk using the stored nonce and
// iterations and reports whether it matches the stored intermediate hash.
// computeTimeMs is informational only and is never checked.
func Verify(previousHash, eventDataString string, p *event.PoSW) bool {
	if p == nil {
		return false
	}
	return walk(previousHash, eventDataString, p.Nonce, p.Iterations) == p.IntermediateHash
}

func walk(previousHash, eventDataString, nonce string, iterations int) string {
	h := sha256.Sum256([]byte(previousHash + eventDataString + nonce))
	for k := 1; k < iterations; k++ {
		h = sha256.Sum256(h[:])
	}
	return hex.EncodeToString(h[:])
}

// request/response plumbing for the background worker path.

type result struct {
	posw *event.PoSW
	err  error
}

// Manager offers PoswManager's offload contract: requests carry a
// monotonically increasing requestId and are matched to responses by that
// id; each has its own timeout, and a worker fault atomically rejects every
// outstanding request. With no worker pool configured it degrades to the
// inline fallback.
type Manager struct {
	iterations int

	pool      *pool.Pool
	nextID    atomic.Uint64
	mu        sync.Mutex
	pending   map[uint64]chan result
	faulted   atomic.Bool
}

// NewInlineManager returns a Manager with no background worker: every
// Compute call runs synchronously on the caller's goroutine. This is the
// required fallback for verifier-only deployments.
func NewInlineManager(iterations int) *Manager {
	return &Manager{iterations: iterations}
}

// NewWorkerManager returns a Manager backed by a bounded conc worker pool
// with maxWorkers goroutines, offloading PoSW computation off the caller.
func NewWorkerManager(iterations, maxWorkers int) *Manager {
	m := &Manager{
		iterations: iterations,
		pending:    make(map[uint64]chan result),
	}
	p := pool.New().WithMaxGoroutines(maxWorkers)
	m.pool = p
	return m
}

// Iterations reports the iteration count this manager stamps onto newly
// computed PoSWs.
func (m *Manager) Iterations() int {
	return m.iterations
}

// Compute produces a PoSW for (previousHash, eventDataString), either
// inline or via the background worker pool. A ctx that is already done
// fails the call at once on either path. On the worker path, cancellation
// while waiting and the fixed per-request timeout are also honored; the
// inline path runs to completion once started.
func (m *Manager) Compute(ctx context.Context, previousHash, eventDataString string) (*event.PoSW, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.pool == nil {
		return Compute(previousHash, eventDataString, m.iterations)
	}
	if m.faulted.Load() {
		return nil, ErrWorkerFault
	}

	id := m.nextID.Add(1)
	reply := make(chan result, 1)

	m.mu.Lock()
	m.pending[id] = reply
	m.mu.Unlock()

	m.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				m.failAll(fmt.Errorf("%w: %v", ErrWorkerFault, r))
			}
		}()
		posw, err := Compute(previousHash, eventDataString, m.iterations)
		m.deliver(id, result{posw: posw, err: err})
	})

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.posw, res.err
	case <-timer.C:
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, ErrTimeout
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (m *Manager) deliver(id uint64, res result) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if ok {
		ch <- res
	}
}

// failAll atomically rejects every outstanding request when the worker
// pool faults, per spec.md §4.2's concurrency contract.
func (m *Manager) failAll(err error) {
	m.faulted.Store(true)
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint64]chan result)
	m.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// Close waits for any in-flight worker goroutines to finish. Safe to call
// on an inline manager.
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Wait()
	}
}
