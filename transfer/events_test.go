package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/sharecore/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterOrdering(t *testing.T) {
	sink := &recordingSink{}
	em := newEmitter(sink, newMockTimeProvider(), uuid.New(), RoleClient, "127.0.0.1:1")

	em.progress(10, 1) // before Started: dropped
	em.begin(OpDownload, catalog.FileInfo{RelativePath: "share/a"}, 100, 0)
	em.begin(OpDownload, catalog.FileInfo{RelativePath: "share/a"}, 100, 0)
	em.progress(50, 1)
	em.finish(EventCompleted, 100, nil, nil)
	em.finish(EventFailed, 100, errors.New("late"), nil)
	em.progress(100, 1)

	assert.Equal(t, []EventKind{EventStarted, EventCompleted}, sink.kinds())
	all := sink.all()
	require.Len(t, all, 3)
	assert.Equal(t, EventProgress, all[1].Kind)
	assert.Equal(t, uint64(50), all[1].Bytes)
	assert.Equal(t, uint64(100), all[2].Total)
	assert.Equal(t, "share/a", all[2].File.RelativePath)
}

func TestEmitterFinishWithoutBeginEmitsStarted(t *testing.T) {
	sink := &recordingSink{}
	em := newEmitter(sink, newMockTimeProvider(), uuid.New(), RoleServer, "peer")

	em.finish(EventFailed, 0, errors.New("boom"), nil)

	assert.Equal(t, []EventKind{EventStarted, EventFailed}, sink.kinds())
	assert.Equal(t, OpUnknown, sink.all()[1].Op)
}

func TestEventKindTerminal(t *testing.T) {
	assert.False(t, EventStarted.Terminal())
	assert.False(t, EventProgress.Terminal())
	assert.True(t, EventCompleted.Terminal())
	assert.True(t, EventAborted.Terminal())
	assert.True(t, EventFailed.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateReceiving.Terminal())
}

func TestErrorKindAndUnwrap(t *testing.T) {
	err := error(&Error{Kind: KindProtocol, Op: "resume", Err: ErrSizeMismatch})

	assert.True(t, IsKind(err, KindProtocol))
	assert.False(t, IsKind(err, KindIO))
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, "protocol error: resume: source size changed since partial download", err.Error())
}

func TestEstimateRemaining(t *testing.T) {
	assert.Equal(t, 3*time.Second, EstimateRemaining(600, 200))
	assert.Equal(t, 1500*time.Millisecond, EstimateRemaining(300, 200))
	assert.Zero(t, EstimateRemaining(600, 0))
	assert.Zero(t, EstimateRemaining(0, 200))
}
