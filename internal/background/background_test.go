package background

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partikv/internal/appadapter"
	"partikv/internal/config"
	"partikv/internal/logadapter"
	"partikv/internal/mutation"
)

func TestCoordinatorFiresCheckpointWithinJitterBounds(t *testing.T) {
	var fired int32
	c := NewCoordinator(20*time.Millisecond, func() error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, 1)
	defer c.CancelCheckpointTimer()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) >= 1 }, time.Second, time.Millisecond)
}

func TestCancelCheckpointTimerStopsFurtherFires(t *testing.T) {
	var fired int32
	c := NewCoordinator(10*time.Millisecond, func() error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, 2)
	c.CancelCheckpointTimer()
	time.Sleep(50 * time.Millisecond)
	snapshot := atomic.LoadInt32(&fired)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, snapshot, atomic.LoadInt32(&fired))
}

func TestCoordinatorIsDuplicationPausedDelegatesToDuplicationManager(t *testing.T) {
	c := NewCoordinator(time.Hour, nil, 3)
	defer c.CancelCheckpointTimer()

	assert.False(t, c.IsDuplicationPaused())
	c.Duplication().Pause()
	assert.True(t, c.IsDuplicationPaused())
}

func TestCancelCheckpointTimerJoinsInFlightFire(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var fired int32

	c := NewCoordinator(time.Hour, func() error {
		atomic.AddInt32(&fired, 1)
		close(started)
		<-release
		return nil
	}, 4)

	c.mu.Lock()
	c.timer.Stop()
	c.mu.Unlock()
	go c.fire()

	<-started
	done := make(chan struct{})
	go func() {
		c.CancelCheckpointTimer()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("CancelCheckpointTimer returned before the in-flight fire finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestCheckpointJitterIsReproducibleForAFixedSeed(t *testing.T) {
	c1 := NewCoordinator(time.Hour, nil, 42)
	defer c1.CancelCheckpointTimer()
	c2 := NewCoordinator(time.Hour, nil, 42)
	defer c2.CancelCheckpointTimer()

	draw1 := c1.rng.Int63n(int64(30 * time.Minute))
	draw2 := c2.rng.Int63n(int64(30 * time.Minute))
	assert.Equal(t, draw1, draw2)

	c3 := NewCoordinator(time.Hour, nil, 7)
	defer c3.CancelCheckpointTimer()
	draw3 := c3.rng.Int63n(int64(30 * time.Minute))
	assert.NotEqual(t, draw1, draw3)
}

func TestBackupManagerEnforcesConcurrencyCap(t *testing.T) {
	b := &BackupManager{}
	b.Configure(1, 0, 0)

	id1, ok := b.Begin()
	require.True(t, ok)
	require.NotEmpty(t, id1)

	_, ok = b.Begin()
	assert.False(t, ok)

	b.Finish(id1)
	_, ok = b.Begin()
	assert.True(t, ok)
}

func TestBackupManagerProgressEnforcesUploadCap(t *testing.T) {
	b := &BackupManager{}
	b.Configure(2, 0, 100)

	id, ok := b.Begin()
	require.True(t, ok)

	ok2, over := b.Progress(id, 50, 0)
	assert.True(t, ok2)
	assert.False(t, over)

	ok3, over2 := b.Progress(id, 60, 0)
	assert.True(t, ok3)
	assert.True(t, over2)
}

func TestBackupManagerReleaseClearsSessions(t *testing.T) {
	b := &BackupManager{}
	b.Configure(5, 0, 0)
	id, _ := b.Begin()
	require.Equal(t, 1, b.RunningCount())

	b.Release()
	assert.Equal(t, 0, b.RunningCount())
	_, over := b.Progress(id, 0, 0)
	assert.False(t, over)
}

func TestBulkLoadManagerAllowsOnlyOneActiveSession(t *testing.T) {
	m := &BulkLoadManager{}
	id, cancel, ok := m.Begin()
	require.True(t, ok)
	require.NotNil(t, cancel)

	_, _, ok2 := m.Begin()
	assert.False(t, ok2)

	m.Finish(id)
	assert.False(t, m.Active())

	_, _, ok3 := m.Begin()
	assert.True(t, ok3)
}

func TestBulkLoadManagerReleaseClosesCancelChannel(t *testing.T) {
	m := &BulkLoadManager{}
	_, cancel, ok := m.Begin()
	require.True(t, ok)

	m.Release()

	select {
	case <-cancel:
	default:
		t.Fatal("expected cancel channel to be closed")
	}
	assert.False(t, m.Active())
}

func TestSplitManagerGenerationIncrementsOnEachBegin(t *testing.T) {
	s := &SplitManager{}
	g1 := s.Begin()
	g2 := s.Begin()
	assert.Equal(t, int64(1), g1)
	assert.Equal(t, int64(2), g2)
	assert.True(t, s.InProgress())

	s.Release()
	assert.False(t, s.InProgress())
	assert.Equal(t, int64(2), s.Generation())
}

func TestDuplicationManagerPauseResume(t *testing.T) {
	d := &DuplicationManager{}
	assert.False(t, d.IsPaused())
	d.Pause()
	assert.True(t, d.IsPaused())
	d.Resume()
	assert.False(t, d.IsPaused())
}

func TestRestoreEnvSetsForceRestoreWithoutMutatingInput(t *testing.T) {
	in := map[string]string{"a": "1"}
	out := RestoreEnv(in)
	assert.Equal(t, "true", out["FORCE_RESTORE"])
	assert.Equal(t, "1", out["a"])
	_, present := in["FORCE_RESTORE"]
	assert.False(t, present)
}

type checkpointableApp struct {
	decree config.Decree
	err    error
}

func (a *checkpointableApp) OnRequest(req *appadapter.Request) (*appadapter.Response, error) {
	return nil, nil
}
func (a *checkpointableApp) ApplyMutation(mu *mutation.Mutation) error { return nil }
func (a *checkpointableApp) LastCommittedDecree() config.Decree       { return a.decree }
func (a *checkpointableApp) LastFlushedDecree() config.Decree         { return a.decree }
func (a *checkpointableApp) LastDurableDecree() config.Decree         { return a.decree }
func (a *checkpointableApp) QueryDataVersion() uint32                 { return 1 }
func (a *checkpointableApp) QueryCompactState() string                { return "" }
func (a *checkpointableApp) OnDetectHotkey(req *appadapter.HotkeyRequest) *appadapter.HotkeyResponse {
	return &appadapter.HotkeyResponse{}
}
func (a *checkpointableApp) CancelBackgroundWork(wait bool) {}
func (a *checkpointableApp) Close(clearState bool) error    { return nil }
func (a *checkpointableApp) Checkpoint() (config.Decree, error) {
	if a.err != nil {
		return 0, a.err
	}
	return a.decree, nil
}
func (a *checkpointableApp) RestoreCheckpoint(blob []byte) error { return nil }

type fakeLog struct {
	gcUpTo config.Decree
	called bool
}

func (l *fakeLog) Append(rec logadapter.Record) (int64, error) { return 0, nil }
func (l *fakeLog) Replay() ([]logadapter.Record, error)        { return nil, nil }
func (l *fakeLog) GarbageCollect(upTo config.Decree) error {
	l.called = true
	l.gcUpTo = upTo
	return nil
}
func (l *fakeLog) Size() int64  { return 0 }
func (l *fakeLog) Close() error { return nil }

func TestNewCheckpointFuncGarbageCollectsUpToDurableDecree(t *testing.T) {
	app := &checkpointableApp{decree: 7}
	wal := &fakeLog{}

	fn := NewCheckpointFunc(app, wal)
	require.NoError(t, fn())

	assert.True(t, wal.called)
	assert.Equal(t, config.Decree(7), wal.gcUpTo)
}

func TestNewCheckpointFuncPropagatesEngineError(t *testing.T) {
	app := &checkpointableApp{err: errors.New("boom")}
	wal := &fakeLog{}

	fn := NewCheckpointFunc(app, wal)
	err := fn()
	assert.Error(t, err)
	assert.False(t, wal.called)
}
