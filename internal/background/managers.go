package background

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackupManager tracks cold backup sessions (§4.4): the number of running
// sessions is capped per manager (each Coordinator, and so each replica,
// owns one), with per-session duration and upload-size limits and bytes
// accounted toward chkpt_total_size.
type BackupManager struct {
	mu sync.Mutex

	maxConcurrent  int
	maxDuration    time.Duration
	maxUploadBytes int64

	running map[string]*backupSession
}

type backupSession struct {
	id          string
	startedAt   time.Time
	uploaded    int64
	chkptBytes  int64
}

func (b *BackupManager) Configure(maxConcurrent int, maxDuration time.Duration, maxUploadBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxConcurrent = maxConcurrent
	b.maxDuration = maxDuration
	b.maxUploadBytes = maxUploadBytes
	if b.running == nil {
		b.running = make(map[string]*backupSession)
	}
}

// Begin starts a new backup session, returning its id, or ok=false if this
// manager's concurrency cap is already reached.
func (b *BackupManager) Begin() (id string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running == nil {
		b.running = make(map[string]*backupSession)
	}
	if b.maxConcurrent > 0 && len(b.running) >= b.maxConcurrent {
		return "", false
	}
	sid := uuid.NewString()
	b.running[sid] = &backupSession{id: sid, startedAt: time.Now()}
	return sid, true
}

// Progress records bytes uploaded and bytes folded into chkpt_total_size
// for an in-flight session, enforcing the max-upload-size and max-duration
// caps.
func (b *BackupManager) Progress(id string, uploadedDelta, chkptDelta int64) (ok bool, overLimit bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, exists := b.running[id]
	if !exists {
		return false, false
	}
	s.uploaded += uploadedDelta
	s.chkptBytes += chkptDelta
	if b.maxDuration > 0 && time.Since(s.startedAt) > b.maxDuration {
		return true, true
	}
	if b.maxUploadBytes > 0 && s.uploaded > b.maxUploadBytes {
		return true, true
	}
	return true, false
}

func (b *BackupManager) Finish(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.running, id)
}

func (b *BackupManager) RunningCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.running)
}

// Release cancels every in-flight session, the way close() tears down
// whatever cold backup was in progress.
func (b *BackupManager) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = make(map[string]*backupSession)
}

// BulkLoadManager tracks a single in-flight bulk-load session for the
// partition (ingest-from-external-files, gated the same way a checkpoint
// is: cooperative, cancellable between files).
type BulkLoadManager struct {
	mu      sync.Mutex
	active  bool
	id      string
	cancel  chan struct{}
}

func (m *BulkLoadManager) Begin() (id string, cancel <-chan struct{}, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return "", nil, false
	}
	m.active = true
	m.id = uuid.NewString()
	m.cancel = make(chan struct{})
	return m.id, m.cancel, true
}

func (m *BulkLoadManager) Finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active && m.id == id {
		m.active = false
		m.id = ""
		m.cancel = nil
	}
}

func (m *BulkLoadManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Release cancels any in-flight bulk load cooperatively and marks the
// manager idle, satisfying close()'s cancellation requirement.
func (m *BulkLoadManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active && m.cancel != nil {
		close(m.cancel)
	}
	m.active = false
	m.id = ""
	m.cancel = nil
}

// SplitManager tracks a parent-to-child partition split (§9 REDESIGN
// FLAGS: only the child side's is_caught_up gate is specified; the parent
// side here is limited to bookkeeping the split's generation number;
// ReplicaCore does not read it).
type SplitManager struct {
	mu         sync.Mutex
	inProgress bool
	generation int64
}

func (s *SplitManager) Begin() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = true
	s.generation++
	return s.generation
}

func (s *SplitManager) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *SplitManager) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

func (s *SplitManager) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
}

// DuplicationManager tracks whether non-idempotent writes are currently
// paused for the partition because a duplication target can't keep up
// (§4.6's duplication-disabled-write counter).
type DuplicationManager struct {
	mu      sync.Mutex
	paused  bool
}

func (d *DuplicationManager) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

func (d *DuplicationManager) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

func (d *DuplicationManager) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *DuplicationManager) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}
