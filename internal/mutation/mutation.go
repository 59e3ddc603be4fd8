// Package mutation implements the in-memory ring of pending decrees
// (component L, §4.1 of SPEC_FULL.md): the Mutation record and the bounded
// PrepareList window over it.
//
// Grounded on original_source/src/replica/replica.cpp's mutation_ptr /
// prepare_list usage (new_mutation, last_prepared_decree) and on the
// teacher's KVCmd/CmdBase request-tracking shape (Allen1211-mrkv
// src/replica/common.go, server.go's opApplied wait-channel map) for the
// client-request reference bookkeeping.
package mutation

import (
	"fmt"
	"sync"

	"partikv/internal/config"
	"partikv/internal/pid"
)

const InvalidOffset int64 = -1

// Update is a single logical write folded into a mutation (a batch may
// carry more than one update in the original protocol; this core treats
// the decree as the unit of commit regardless of batch size).
type Update struct {
	Code        int32
	Payload     []byte
	StartTimeNs int64
}

// ClientRequestRef is an opaque handle back to the RPC request that must be
// replied to once this mutation commits (or fails). The core never
// inspects it beyond carrying it to the completion callback.
type ClientRequestRef struct {
	RequestID uint64
}

// Mutation is created by New (from ReplicaCore's write path) and destroyed once it has
// been durably checkpointed and evicted from the PrepareList.
type Mutation struct {
	PID            pid.PID
	Ballot         config.Ballot
	Decree         config.Decree
	LogOffset      int64
	Updates        []Update
	ClientRequests []ClientRequestRef

	logged bool
}

func New(p pid.PID, ballot config.Ballot, decree config.Decree) *Mutation {
	return &Mutation{
		PID:       p,
		Ballot:    ballot,
		Decree:    decree,
		LogOffset: InvalidOffset,
	}
}

// MarkLogged records that LogAdapter.Append has assigned this mutation an
// offset; last_prepared_decree's walk (§4.7) stops at the first unlogged
// entry.
func (m *Mutation) MarkLogged(offset int64) {
	m.LogOffset = offset
	m.logged = true
}

func (m *Mutation) IsLogged() bool {
	return m.logged
}

func (m *Mutation) Name() string {
	return fmt.Sprintf("%s@%d.%d", m.PID, m.Ballot, m.Decree)
}

// PrepareList is an ordered, bounded mapping from decree to mutation over
// the half-open window (last_committed, last_committed+capacity] (§3).
// It is mutated only by the per-replica executor (§5); callers outside
// that executor must use Snapshot.
type PrepareList struct {
	mu       sync.RWMutex
	capacity int
	entries  map[config.Decree]*Mutation
	maxDecree config.Decree
}

func NewPrepareList(capacity int, lastCommitted config.Decree) *PrepareList {
	return &PrepareList{
		capacity:  capacity,
		entries:   make(map[config.Decree]*Mutation),
		maxDecree: lastCommitted,
	}
}

func (pl *PrepareList) Capacity() int {
	return pl.capacity
}

// Put inserts or supersedes the entry at mu.Decree. If an entry is already
// present at that decree with a higher-or-equal ballot, the insert is a
// no-op: the tie-break between same-decree mutations of different ballots
// happens here, at prepare insertion, never at commit time (§4.3).
func (pl *PrepareList) Put(mu *Mutation) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if existing, ok := pl.entries[mu.Decree]; ok && existing.Ballot >= mu.Ballot {
		return
	}
	pl.entries[mu.Decree] = mu
	if mu.Decree > pl.maxDecree {
		pl.maxDecree = mu.Decree
	}
}

func (pl *PrepareList) Get(d config.Decree) *Mutation {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.entries[d]
}

// Evict removes every entry with decree <= d. Eviction is strictly by
// decree order after commit (§3 invariant).
func (pl *PrepareList) Evict(d config.Decree) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for decree := range pl.entries {
		if decree <= d {
			delete(pl.entries, decree)
		}
	}
}

func (pl *PrepareList) MaxDecree() config.Decree {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.maxDecree
}

// Reset re-anchors the window after a role transition or checkpoint that
// moved last_committed_decree out from under the list (e.g. on learn).
func (pl *PrepareList) Reset(lastCommitted config.Decree) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.entries = make(map[config.Decree]*Mutation)
	pl.maxDecree = lastCommitted
}

// Snapshot returns a decree-ordered copy of the current entries, safe for
// callers outside the per-replica executor to read.
func (pl *PrepareList) Snapshot() []*Mutation {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	out := make([]*Mutation, 0, len(pl.entries))
	for _, m := range pl.entries {
		out = append(out, m)
	}
	// simple insertion sort by decree; windows are small (bounded by capacity)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Decree > out[j].Decree; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// LastPreparedDecree walks upward from lastCommitted while the slot is
// populated, logged, and non-decreasing in ballot relative to the previous
// slot (initial lower bound 0). It returns the largest decree reached —
// the safe replay/catch-up horizon (§4.7).
func (pl *PrepareList) LastPreparedDecree(lastCommitted config.Decree) config.Decree {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	var lastBallot config.Ballot
	start := lastCommitted
	for {
		mu, ok := pl.entries[start+1]
		if !ok || mu.Ballot < lastBallot || !mu.IsLogged() {
			break
		}
		start++
		lastBallot = mu.Ballot
	}
	return start
}
