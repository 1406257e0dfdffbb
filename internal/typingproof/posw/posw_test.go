package posw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeVerify_RoundTrip(t *testing.T) {
	p, err := Compute("prevhash", "eventdata", 64)
	require.NoError(t, err)
	assert.True(t, Verify("prevhash", "eventdata", p))
}

func TestVerify_RejectsTamperedIntermediateHash(t *testing.T) {
	p, err := Compute("prevhash", "eventdata", 64)
	require.NoError(t, err)
	p.IntermediateHash = "0000000000000000000000000000000000000000000000000000000000000000"
	assert.False(t, Verify("prevhash", "eventdata", p))
}

func TestVerify_UsesStoredIterationsNotAssumedConstant(t *testing.T) {
	p, err := Compute("prevhash", "eventdata", 17)
	require.NoError(t, err)
	assert.Equal(t, 17, p.Iterations)
	assert.True(t, Verify("prevhash", "eventdata", p))
}

func TestManager_InlineCompute(t *testing.T) {
	m := NewInlineManager(32)
	p, err := m.Compute(context.Background(), "ph", "eds")
	require.NoError(t, err)
	assert.True(t, Verify("ph", "eds", p))
}

func TestManager_WorkerCompute(t *testing.T) {
	m := NewWorkerManager(32, 2)
	defer m.Close()
	p, err := m.Compute(context.Background(), "ph", "eds")
	require.NoError(t, err)
	assert.True(t, Verify("ph", "eds", p))
}

func TestManager_WorkerCompute_ContextCancelled(t *testing.T) {
	m := NewWorkerManager(32, 1)
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Compute(ctx, "ph", "eds")
	assert.Error(t, err)
}

func TestRequestTimeout_IsThirtySeconds(t *testing.T) {
	assert.Equal(t, 30*time.Second, RequestTimeout)
}
