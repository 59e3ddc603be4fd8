// Package replica implements ReplicaCore (component §4.1), the per-
// partition execution core: on_client_read, on_client_write,
// update_configuration and close, plus the glue that drives
// CommitPipeline.execute_mutation in decree order.
//
// Grounded on original_source/src/replica/replica.cpp (on_client_read /
// on_client_write / update_configuration / close) for the operation
// semantics, and on the teacher's single-goroutine-per-shard executor and
// wait-channel-per-op pattern (Allen1211-mrkv internal/replica/server.go's
// raftStartCmdWait/getWaitCh/opApplied) for the concurrency shape: every
// externally-visible operation is submitted onto one task channel drained
// by a single goroutine, and a caller blocks on a buffered per-decree
// channel for the commit outcome instead of polling.
package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"partikv/internal/access"
	"partikv/internal/appadapter"
	"partikv/internal/commit"
	"partikv/internal/config"
	"partikv/internal/logadapter"
	"partikv/internal/metrics"
	"partikv/internal/mutation"
	"partikv/internal/pid"
	"partikv/internal/rolestate"
	"partikv/internal/throttle"
	"partikv/pkg/common"
)

// writeTimeout bounds how long on_client_write blocks waiting for a
// commit outcome before returning BUSY so the client can retry — no retry
// happens inside the pipeline itself (§7).
const writeTimeout = 2 * time.Second

// PrepareFunc fans a newly-logged mutation out to the current
// configuration's secondaries; it must eventually call onAck exactly once
// per secondary with whether that secondary accepted the prepare. The
// transport mechanics (RPC, retries, peer discovery) live in the netw/stub
// layer, not here — §4.1 on_client_write is explicitly summarized,
// "protocol detail lives in protocol layer".
type PrepareFunc func(mu *mutation.Mutation, cfg *config.Configuration, onAck func(ok bool))

// BackgroundHooks lets Close release the coordinator's manager handles in
// the fixed order §4.1 specifies: duplication, backup, bulk-load, split,
// and lets the write path observe whether duplication is currently paused
// for §4.6's duplication-disabled-write counter.
type BackgroundHooks interface {
	CancelCheckpointTimer()
	CancelTrackedTasks()
	ReleaseDuplication()
	ReleaseBackup()
	ReleaseBulkLoad()
	ReleaseSplit()
	IsDuplicationPaused() bool
}

type noopHooks struct{}

func (noopHooks) CancelCheckpointTimer()  {}
func (noopHooks) CancelTrackedTasks()     {}
func (noopHooks) ReleaseDuplication()     {}
func (noopHooks) ReleaseBackup()          {}
func (noopHooks) ReleaseBulkLoad()        {}
func (noopHooks) ReleaseSplit()           {}
func (noopHooks) IsDuplicationPaused() bool { return false }

type pendingWrite struct {
	mu   *mutation.Mutation
	acks int
	done chan common.Err
}

// ReplicaCore is the execution core for exactly one partition. All of its
// externally-visible operations run on a single internal goroutine (§5:
// "single-threaded per replica"); callers never touch role state or the
// PrepareList directly.
type ReplicaCore struct {
	PID       pid.PID
	TableName string

	log *logrus.Entry

	cfgMu sync.RWMutex
	cfg   *config.Configuration

	state       *rolestate.State
	prepareList *mutation.PrepareList
	app         appadapter.AppAdapter
	wal         logadapter.LogAdapter
	throttler   *throttle.Throttler
	gate        access.Gate
	metrics     *metrics.Metrics
	pipeline    *commit.Pipeline
	prepareFn   PrepareFunc
	hooks       BackgroundHooks

	nextDecree      config.Decree
	splitGeneration int64
	pending         map[config.Decree]*pendingWrite

	tasks     chan func()
	closeOnce sync.Once
	closeErr  error
	stopped   bool
}

type Options struct {
	PID             pid.PID
	TableName       string
	Ballot          config.Ballot
	PrepareCapacity int
	App             appadapter.AppAdapter
	Log             logadapter.LogAdapter
	Throttler       *throttle.Throttler
	Gate            access.Gate
	Metrics         *metrics.Metrics
	PrepareFn       PrepareFunc
	Hooks           BackgroundHooks
	Logger          *logrus.Logger
}

func New(opt Options) *ReplicaCore {
	if opt.Gate == nil {
		opt.Gate = access.AllowAll{}
	}
	if opt.Hooks == nil {
		opt.Hooks = noopHooks{}
	}
	logger := opt.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	lastCommitted := opt.App.LastCommittedDecree()
	c := &ReplicaCore{
		PID:       opt.PID,
		TableName: opt.TableName,
		log:       logger.WithField("partition", opt.PID.String()),
		cfg: &config.Configuration{
			PID:    opt.PID,
			Ballot: opt.Ballot,
			Status: config.StatusInactive,
		},
		state:       rolestate.New(),
		prepareList: mutation.NewPrepareList(opt.PrepareCapacity, lastCommitted),
		app:         opt.App,
		wal:         opt.Log,
		throttler:   opt.Throttler,
		gate:        opt.Gate,
		metrics:     opt.Metrics,
		prepareFn:   opt.PrepareFn,
		hooks:       opt.Hooks,
		nextDecree:  lastCommitted,
		pending:     make(map[config.Decree]*pendingWrite),
		tasks:       make(chan func(), 256),
	}
	c.pipeline = commit.New(c.app, c.prepareList, c.wal, c.onNextPrepare, c.handleLocalFailure, c.onLatency)

	go c.run()
	return c
}

func (c *ReplicaCore) run() {
	for task := range c.tasks {
		task()
	}
}

// submit runs fn on the replica's single executor goroutine and blocks
// the calling goroutine for the result — the Go analogue of the teacher's
// wait-channel-per-op pattern, minus the extra channel bookkeeping since
// the result type is known at the call site.
func submit[T any](c *ReplicaCore, fn func() T) T {
	resCh := make(chan T, 1)
	c.tasks <- func() { resCh <- fn() }
	return <-resCh
}

func submitVoid(c *ReplicaCore, fn func()) {
	done := make(chan struct{})
	c.tasks <- func() { fn(); close(done) }
	<-done
}

// --- on_client_read ---------------------------------------------------

type readResult struct {
	resp *appadapter.Response
	err  common.Err
}

// OnClientRead admits and executes a read. A Delay throttle outcome does
// not hold the executor goroutine: the request is re-enqueued after the
// reservation's delay elapses instead of sleeping inline (§5).
func (c *ReplicaCore) OnClientRead(req *appadapter.Request, identity string, ignoreThrottling, isBackupRead bool, splitGeneration int64) (*appadapter.Response, common.Err) {
	resCh := make(chan readResult, 1)
	var attempt func()
	attempt = func() {
		c.tasks <- func() {
			res, retryAfter := c.onClientRead(req, identity, ignoreThrottling, isBackupRead, splitGeneration)
			if retryAfter > 0 {
				time.AfterFunc(retryAfter, attempt)
				return
			}
			resCh <- res
		}
	}
	attempt()
	r := <-resCh
	return r.resp, r.err
}

// onClientRead runs on the executor goroutine; a positive retryAfter means
// the request was throttle-delayed and must be re-submitted later rather
// than answered from res.
func (c *ReplicaCore) onClientRead(req *appadapter.Request, identity string, ignoreThrottling, isBackupRead bool, splitGeneration int64) (res readResult, retryAfter time.Duration) {
	if !c.gate.Allow(c.TableName, identity, access.CapRead) {
		return readResult{nil, common.ErrACLDeny}, 0
	}
	if c.state.Status == config.StatusPartitionSplit && splitGeneration != 0 && splitGeneration < c.splitGeneration {
		return readResult{nil, common.ErrSplitting}, 0
	}
	if c.state.Status == config.StatusInactive || c.state.Status == config.StatusPotentialSecondary {
		return readResult{nil, common.ErrInvalidState}, 0
	}
	if !ignoreThrottling {
		switch outcome, d := c.throttler.AllowRead(context.Background()); outcome {
		case throttle.Delay:
			if c.metrics != nil {
				c.metrics.IncThrottleDelay(c.TableName, c.PID.String(), "read")
			}
			return readResult{}, d
		case throttle.Reject:
			if c.metrics != nil {
				c.metrics.IncThrottleReject(c.TableName, c.PID.String(), "read")
			}
			return readResult{nil, common.ErrBusy}, 0
		}
	}
	if !isBackupRead {
		if c.state.Status != config.StatusPrimary ||
			c.app.LastCommittedDecree() < c.state.PrimaryState.LastPrepareDecreeOnNewPrimary {
			return readResult{nil, common.ErrInvalidState}, 0
		}
	} else if c.metrics != nil {
		c.metrics.BackupRequestTotal.WithLabelValues(c.TableName, c.PID.String()).Inc()
	}

	start := time.Now()
	resp, err := c.app.OnRequest(req)
	if c.metrics != nil {
		c.metrics.ObserveStorageLatency(c.TableName, req.RPCCode, time.Since(start).Seconds())
	}
	if err != nil {
		return readResult{nil, common.CodeOf(err)}, 0
	}
	return readResult{resp, common.OK}, 0
}

// --- on_client_write ----------------------------------------------------

func quorumNeeded(secondaries int) int {
	total := 1 + secondaries
	return total/2 + 1
}

type writeAdmission struct {
	done chan common.Err
	err  common.Err
}

// OnClientWrite admits, logs and prepares updates as one decree, then
// blocks until the commit either completes or times out. No retry happens
// once admitted: a timeout or BUSY simply tells the caller to retry at the
// RPC layer (§7). A Delay throttle outcome during admission re-enqueues on
// the executor rather than holding it (§5).
func (c *ReplicaCore) OnClientWrite(identity string, updates []mutation.Update) common.Err {
	admCh := make(chan writeAdmission, 1)
	var attempt func()
	attempt = func() {
		c.tasks <- func() {
			adm, retryAfter := c.admitWrite(identity, updates)
			if retryAfter > 0 {
				time.AfterFunc(retryAfter, attempt)
				return
			}
			admCh <- adm
		}
	}
	attempt()
	adm := <-admCh
	if adm.err != common.OK {
		return adm.err
	}

	select {
	case err := <-adm.done:
		return err
	case <-time.After(writeTimeout):
		return common.ErrBusy
	}
}

// admitWrite runs on the executor goroutine; a positive retryAfter means
// the request was throttle-delayed and must be re-submitted later rather
// than answered from adm.
func (c *ReplicaCore) admitWrite(identity string, updates []mutation.Update) (adm writeAdmission, retryAfter time.Duration) {
	if !c.gate.Allow(c.TableName, identity, access.CapWrite) {
		return writeAdmission{nil, common.ErrACLDeny}, 0
	}
	if c.state.Status != config.StatusPrimary {
		return writeAdmission{nil, common.ErrInvalidState}, 0
	}
	switch outcome, d := c.throttler.AllowWrite(context.Background()); outcome {
	case throttle.Delay:
		if c.metrics != nil {
			c.metrics.IncThrottleDelay(c.TableName, c.PID.String(), "write")
		}
		return writeAdmission{}, d
	case throttle.Reject:
		if c.metrics != nil {
			c.metrics.IncThrottleReject(c.TableName, c.PID.String(), "write")
		}
		return writeAdmission{nil, common.ErrBusy}, 0
	}

	if c.hooks.IsDuplicationPaused() && c.metrics != nil {
		c.metrics.IncDupDisabledWrite(c.TableName, c.PID.String())
	}

	c.nextDecree++
	decree := c.nextDecree
	mu := mutation.New(c.PID, c.cfg.Ballot, decree)
	mu.Updates = updates

	window := int(decree) - int(c.app.LastCommittedDecree())
	if window > c.prepareList.Capacity() {
		pw := &pendingWrite{mu: mu, done: make(chan common.Err, 1)}
		c.pending[decree] = pw
		c.state.PrimaryState.Enqueue(mu)
		return writeAdmission{pw.done, common.OK}, 0
	}

	return writeAdmission{c.beginPrepare(mu), common.OK}, 0
}

// beginPrepare logs mu locally, counts the local copy as the first ack,
// and fans out to secondaries. Runs only on the executor goroutine.
//
// admitWrite may already have registered a pendingWrite for mu.Decree (the
// over-capacity enqueue path, §4.3's write_queue): a caller blocked on that
// entry's done channel, so beginPrepare must adopt it rather than replace
// it with a fresh channel nobody is listening on.
func (c *ReplicaCore) beginPrepare(mu *mutation.Mutation) chan common.Err {
	c.prepareList.Put(mu)

	offset, err := c.wal.Append(logadapter.Record{Ballot: mu.Ballot, Decree: mu.Decree, Updates: mu.Updates})

	pw, exists := c.pending[mu.Decree]
	if !exists {
		pw = &pendingWrite{mu: mu, done: make(chan common.Err, 1)}
		c.pending[mu.Decree] = pw
	}

	if err != nil {
		c.handleLocalFailure(common.NewCodedError(common.ErrLogIO, err))
		pw.done <- common.ErrLogIO
		return pw.done
	}
	mu.MarkLogged(offset)
	pw.acks = 1
	if c.metrics != nil {
		c.metrics.SetPrivateLogBytes(c.TableName, c.PID.String(), c.wal.Size())
	}

	if pw.acks >= quorumNeeded(len(c.cfg.Secondaries)) {
		c.drainCommits()
		return pw.done
	}

	if c.prepareFn != nil {
		cfgCopy := c.cloneCfg()
		c.prepareFn(mu, cfgCopy, func(ok bool) {
			c.tasks <- func() { c.onPrepareAck(mu.Decree, ok) }
		})
	}
	return pw.done
}

func (c *ReplicaCore) onPrepareAck(decree config.Decree, ok bool) {
	pw, exists := c.pending[decree]
	if !exists {
		return
	}
	if ok {
		pw.acks++
	}
	if pw.acks >= quorumNeeded(len(c.cfg.Secondaries)) {
		c.drainCommits()
	}
}

// drainCommits applies every contiguous decree, starting just past
// last_committed, that has reached quorum, in strictly increasing order
// (§4.3's order law).
func (c *ReplicaCore) drainCommits() {
	for {
		next := c.app.LastCommittedDecree() + 1
		pw, ok := c.pending[next]
		if !ok || pw.acks < quorumNeeded(len(c.cfg.Secondaries)) {
			return
		}
		c.pipeline.Execute(c.state, pw.mu)
		delete(c.pending, next)
		pw.done <- common.OK
	}
}

// onNextPrepare is CommitPipeline's hook for §4.3's "if write_queue has
// more work ... initiate the next prepare", invoked synchronously from
// inside Execute, itself already running on the executor goroutine.
func (c *ReplicaCore) onNextPrepare(mu *mutation.Mutation) {
	c.beginPrepare(mu)
}

func (c *ReplicaCore) onLatency(latencyNs int64) {
	// CommitPipeline reports per-update latency here; the sample is
	// discarded, and no write-latency series is published.
	_ = latencyNs
}

// --- update_configuration ----------------------------------------------

func (c *ReplicaCore) UpdateConfiguration(newCfg *config.Configuration) common.Err {
	return submit(c, func() common.Err {
		if newCfg.Ballot < c.cfg.Ballot {
			return common.ErrInvalidState
		}
		oldStatus := c.state.Status
		if newCfg.Status != oldStatus {
			if !rolestate.CanTransition(oldStatus, newCfg.Status) {
				return common.ErrInvalidState
			}
			c.state.Transition(newCfg.Status)
			if newCfg.Status == config.StatusPrimary {
				c.state.PrimaryState.LastPrepareDecreeOnNewPrimary = c.prepareList.MaxDecree()
			}
		}
		c.setCfg(newCfg)
		return common.OK
	})
}

func (c *ReplicaCore) setCfg(cfg *config.Configuration) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg = cfg
}

func (c *ReplicaCore) cloneCfg() *config.Configuration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	cp := *c.cfg
	cp.Secondaries = append([]string(nil), c.cfg.Secondaries...)
	return &cp
}

// --- handle_local_failure / close ---------------------------------------

// handleLocalFailure converts the replica to ERROR; it is called either
// from inside the executor (CommitPipeline's onFatal, beginPrepare's log
// error) and must never itself submit back onto c.tasks.
func (c *ReplicaCore) handleLocalFailure(err error) {
	if c.state.Status == config.StatusError {
		return
	}
	c.log.Errorf("handle_local_failure: %v", err)
	c.state.Transition(config.StatusError)
}

// Close performs the idempotent teardown described in §4.1. It must never
// be invoked concurrently with itself; sync.Once enforces that the body
// runs exactly once regardless of how many goroutines call Close.
func (c *ReplicaCore) Close() error {
	c.closeOnce.Do(func() {
		submitVoid(c, c.doClose)
	})
	return c.closeErr
}

func (c *ReplicaCore) doClose() {
	if c.state.Status != config.StatusInactive && c.state.Status != config.StatusError &&
		c.state.DiskMigration < config.DiskMigrationMoved {
		c.log.Fatalf("close() precondition violated: status=%v migration=%v", c.state.Status, c.state.DiskMigration)
	}

	c.hooks.CancelCheckpointTimer()
	c.app.CancelBackgroundWork(true)
	c.hooks.CancelTrackedTasks()

	for decree, pw := range c.pending {
		pw.done <- common.ErrClosed
		delete(c.pending, decree)
	}
	c.prepareList.Reset(c.app.LastCommittedDecree())

	force := c.state.Status == config.StatusError
	if !c.state.IsCleanFor(config.StatusInactive, force) {
		c.log.Fatalf("close() invariant violated: role-specific state not clean")
	}

	if err := c.wal.Close(); err != nil {
		c.log.Errorf("close(): log close error: %v", err)
	}
	if err := c.app.Close(false); err != nil {
		c.log.Errorf("close(): app close error (not propagated): %v", err)
	}

	c.hooks.ReleaseDuplication()
	c.hooks.ReleaseBackup()
	c.hooks.ReleaseBulkLoad()
	c.hooks.ReleaseSplit()

	c.stopped = true
	close(c.tasks)
}

// --- introspection --------------------------------------------------

func (c *ReplicaCore) LastPreparedDecree() config.Decree {
	return submit(c, func() config.Decree {
		return c.prepareList.LastPreparedDecree(c.app.LastCommittedDecree())
	})
}

func (c *ReplicaCore) Status() config.Status {
	return submit(c, func() config.Status { return c.state.Status })
}

func (c *ReplicaCore) String() string {
	return fmt.Sprintf("replica(%s, table=%s)", c.PID, c.TableName)
}
