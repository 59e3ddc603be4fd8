// Package commit implements CommitPipeline.execute_mutation (component
// §4.3): the single entry point through which a decided mutation reaches
// the storage engine, with behavior conditioned on the replica's current
// role.
//
// Grounded on original_source/src/replica/replica.cpp's
// replica::execute_mutation, which switches on partition_status exactly
// this way (INACTIVE/PRIMARY/SECONDARY/POTENTIAL_SECONDARY/PARTITION_SPLIT/
// ERROR), and on the teacher's single-goroutine-per-replica apply loop
// (Allen1211-mrkv internal/raft's applyer-over-channel pattern) for the
// "exactly one executor touches this" discipline, now expressed as a plain
// method instead of a channel-fed loop (the caller is ReplicaCore, already
// running on the per-partition executor per §5).
package commit

import (
	"time"

	"partikv/internal/appadapter"
	"partikv/internal/config"
	"partikv/internal/logadapter"
	"partikv/internal/mutation"
	"partikv/internal/rolestate"
	"partikv/pkg/common"
)

// NextPrepareFunc is invoked when, after a successful PRIMARY apply, the
// write queue has more work that now fits within the prepare window. The
// pipeline itself never talks to secondaries; that belongs to ReplicaCore.
type NextPrepareFunc func(mu *mutation.Mutation)

// FatalFunc is invoked when execute_mutation must transition the replica
// to ERROR (handle_local_failure, §7). The pipeline never mutates role
// state itself beyond what §4.3 names.
type FatalFunc func(err error)

// LatencyFunc records per-update latency on the PRIMARY path
// (now_ns - update.start_time_ns, §4.3 post-apply).
type LatencyFunc func(latencyNs int64)

type Pipeline struct {
	app         appadapter.AppAdapter
	prepareList *mutation.PrepareList
	wal         logadapter.LogAdapter

	onNextPrepare NextPrepareFunc
	onFatal       FatalFunc
	onLatency     LatencyFunc
}

func New(app appadapter.AppAdapter, pl *mutation.PrepareList, wal logadapter.LogAdapter, onNextPrepare NextPrepareFunc, onFatal FatalFunc, onLatency LatencyFunc) *Pipeline {
	return &Pipeline{
		app:           app,
		prepareList:   pl,
		wal:           wal,
		onNextPrepare: onNextPrepare,
		onFatal:       onFatal,
		onLatency:     onLatency,
	}
}

// Execute applies mu against the app if state's role's protocol admits it,
// per the table in §4.3. It must be called in strictly increasing decree
// order for a given partition, from the partition's single executor.
func (p *Pipeline) Execute(state *rolestate.State, mu *mutation.Mutation) {
	lastCommitted := p.app.LastCommittedDecree()
	if lastCommitted >= mu.Decree {
		return // idempotent re-entry from recovery
	}

	switch state.Status {
	case config.StatusInactive:
		// Never fatal: a gap here is expected, replayed later by the learner.
		if lastCommitted+1 != mu.Decree {
			return
		}
		p.apply(state, mu)

	case config.StatusPrimary:
		if lastCommitted+1 != mu.Decree {
			p.fatal(mu, common.ErrInconsistentState)
			return
		}
		if !p.apply(state, mu) {
			return
		}
		free := int(p.prepareList.MaxDecree()) - int(mu.Decree)
		if next := state.PrimaryState.CheckPossibleWork(free); next != nil && p.onNextPrepare != nil {
			p.onNextPrepare(next)
		}

	case config.StatusSecondary:
		if state.SecondaryState.CheckpointIsRunning {
			if p.wal == nil {
				p.fatal(mu, common.ErrInconsistentState)
			}
			return // retained in the private log, replayed after checkpoint
		}
		if lastCommitted+1 != mu.Decree {
			p.fatal(mu, common.ErrInconsistentState)
			return
		}
		p.apply(state, mu)

	case config.StatusPotentialSecondary:
		switch state.PotentialSecondaryState.LearningStatus {
		case config.LearningSucceeded, config.LearningWithPrepareTransient:
			p.apply(state, mu)
		default:
			if p.wal == nil {
				p.fatal(mu, common.ErrInconsistentState)
			}
		}

	case config.StatusPartitionSplit:
		if state.SplitState.IsCaughtUp {
			p.apply(state, mu)
		}

	case config.StatusError:
		// drop

	default:
		p.fatal(mu, common.ErrInconsistentState)
	}
}

// apply invokes AppAdapter.ApplyMutation, evicts mu from the PrepareList on
// success, and converts any app error into handle_local_failure. It
// returns whether the apply succeeded.
func (p *Pipeline) apply(state *rolestate.State, mu *mutation.Mutation) bool {
	if err := p.app.ApplyMutation(mu); err != nil {
		p.fatal(mu, common.CodeOf(err))
		return false
	}
	p.prepareList.Evict(mu.Decree)

	if state.Status == config.StatusPrimary && p.onLatency != nil {
		nowNs := time.Now().UnixNano()
		for _, u := range mu.Updates {
			p.onLatency(nowNs - u.StartTimeNs)
		}
	}
	return true
}

func (p *Pipeline) fatal(mu *mutation.Mutation, code common.Err) {
	if p.onFatal != nil {
		p.onFatal(common.NewCodedError(code, nil))
	}
	_ = mu
}
