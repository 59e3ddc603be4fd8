// Package rolestate implements the tagged-variant role state machine
// (component L, §4.2): role-specific state lives in its own struct inside
// State, selected by Status (all four structs exist at once and stay
// readable whatever the status), replacing the source's
// dynamic-dispatch-on-partition-status pattern per the REDESIGN FLAGS in
// §9 of SPEC_FULL.md.
//
// Grounded on original_source/src/replica/replica.cpp's _primary_states /
// _secondary_states / _potential_secondary_states / _split_states fields
// and on the teacher's habit of keeping small role/status enums with a
// String() method (pkg/common/master_common.go's GroupStatus).
package rolestate

import (
	"sync"

	"partikv/internal/config"
	"partikv/internal/mutation"
)

// PendingWrite is a write waiting for a free prepare-list slot once the
// primary has room (§4.3: "if write_queue has more work ... initiate the
// next prepare").
type PendingWrite struct {
	Mu *mutation.Mutation
}

// Primary holds state that exists only while status == PRIMARY.
type Primary struct {
	mu sync.Mutex

	// LastPrepareDecreeOnNewPrimary is the post-election safety window: a
	// non-backup read is rejected until last_committed_decree reaches this
	// value (§4.1 on_client_read step 5).
	LastPrepareDecreeOnNewPrimary config.Decree

	writeQueue []PendingWrite
}

func NewPrimary() *Primary {
	return &Primary{}
}

func (p *Primary) Enqueue(mu *mutation.Mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeQueue = append(p.writeQueue, PendingWrite{Mu: mu})
}

// CheckPossibleWork returns the next pending write if there is room for it
// within `slots` free prepare-list entries, consuming it from the queue.
func (p *Primary) CheckPossibleWork(slots int) *mutation.Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slots <= 0 || len(p.writeQueue) == 0 {
		return nil
	}
	next := p.writeQueue[0]
	p.writeQueue = p.writeQueue[1:]
	return next.Mu
}

// Cleanup empties the write queue without committing untransmitted
// mutations (§4.2 "leaving PRIMARY empties the write queue"). Returns true
// once clean.
func (p *Primary) Cleanup(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if force {
		p.writeQueue = nil
	}
	return len(p.writeQueue) == 0
}

func (p *Primary) IsCleaned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writeQueue) == 0
}

func (p *Primary) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writeQueue)
}

// Secondary holds state that exists only while status == SECONDARY.
type Secondary struct {
	CheckpointIsRunning bool
}

func (s *Secondary) Cleanup(force bool) bool {
	if force {
		s.CheckpointIsRunning = false
	}
	return !s.CheckpointIsRunning
}

func (s *Secondary) IsCleaned() bool {
	return !s.CheckpointIsRunning
}

// PotentialSecondary holds state for a replica catching up via learning.
type PotentialSecondary struct {
	LearningStatus config.LearningStatus
}

func (ps *PotentialSecondary) Cleanup(force bool) bool {
	if force {
		ps.LearningStatus = config.LearningNotStarted
	}
	return ps.LearningStatus == config.LearningNotStarted
}

func (ps *PotentialSecondary) IsCleaned() bool {
	return ps.LearningStatus == config.LearningNotStarted
}

// Split holds state for a child-side partition split (§9 Open Question b:
// only the child side's is_caught_up gate is specified).
type Split struct {
	IsCaughtUp bool
}

func (sp *Split) Cleanup(force bool) bool {
	if force {
		sp.IsCaughtUp = false
	}
	return !sp.IsCaughtUp
}

func (sp *Split) IsCleaned() bool {
	return !sp.IsCaughtUp
}

// State is the tagged variant: exactly one of the role-specific pointers
// is meaningful at a time, selected by Status. All four are allocated
// eagerly (cheap, fixed-size) so role transitions never allocate on the
// hot path; only the active one is ever read by the commit pipeline.
type State struct {
	Status config.Status

	PrimaryState            *Primary
	SecondaryState          *Secondary
	PotentialSecondaryState *PotentialSecondary
	SplitState              *Split

	DiskMigration config.DiskMigrationStatus
}

func New() *State {
	return &State{
		Status:                  config.StatusInactive,
		PrimaryState:            NewPrimary(),
		SecondaryState:          &Secondary{},
		PotentialSecondaryState: &PotentialSecondary{},
		SplitState:              &Split{},
		DiskMigration:           config.DiskMigrationIdle,
	}
}

// transitions enumerates the allowed edges of §4.2's table. Entering
// ERROR or PARTITION_SPLIT is allowed from any role, so those two are
// checked separately below.
var transitions = map[config.Status]map[config.Status]bool{
	config.StatusInactive: {
		config.StatusPrimary:            true,
		config.StatusSecondary:          true,
		config.StatusPotentialSecondary: true,
	},
	config.StatusPrimary: {
		config.StatusInactive:  true,
		config.StatusSecondary: true,
	},
	config.StatusSecondary: {
		config.StatusInactive:           true,
		config.StatusPrimary:            true,
		config.StatusPotentialSecondary: true,
	},
	config.StatusPotentialSecondary: {
		config.StatusSecondary: true,
		config.StatusInactive:  true,
	},
}

// CanTransition reports whether the edge from -> to is allowed by the
// transition matrix in §4.2.
func CanTransition(from, to config.Status) bool {
	if from == to {
		return true
	}
	if to == config.StatusError || to == config.StatusPartitionSplit {
		return true
	}
	if edges, ok := transitions[from]; ok {
		return edges[to]
	}
	return false
}

// Transition moves the state to newStatus, running the transition actions
// named in §4.2 (leaving PRIMARY drains the write queue without
// committing; leaving POTENTIAL_SECONDARY cancels learning).
func (s *State) Transition(newStatus config.Status) {
	if s.Status == config.StatusPrimary && newStatus != config.StatusPrimary {
		s.PrimaryState.Cleanup(true)
	}
	if s.Status == config.StatusPotentialSecondary && newStatus != config.StatusPotentialSecondary {
		s.PotentialSecondaryState.Cleanup(true)
	}
	s.Status = newStatus
}

// IsCleanFor reports whether role-specific transient state is clear enough
// to satisfy close()'s invariant 4 for the given status (§4.1, §8).
// INACTIVE requires every arm clean; ERROR allows best-effort cleanup
// (force=true) at close time, matching the source's two-branch close().
func (s *State) IsCleanFor(status config.Status, force bool) bool {
	if force {
		s.SecondaryState.Cleanup(true)
		s.PotentialSecondaryState.Cleanup(true)
		s.SplitState.Cleanup(true)
	}
	ok := s.PrimaryState.IsCleaned()
	if status == config.StatusInactive {
		ok = ok && s.SecondaryState.IsCleaned() &&
			s.PotentialSecondaryState.IsCleaned() &&
			s.SplitState.IsCleaned()
	}
	return ok
}
