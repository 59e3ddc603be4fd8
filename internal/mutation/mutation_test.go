package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partikv/internal/config"
	"partikv/internal/pid"
)

func TestPrepareListPutTieBreakByBallot(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)

	low := New(p, config.Ballot(1), config.Decree(1))
	pl.Put(low)
	require.Equal(t, low, pl.Get(1))

	// A lower-or-equal ballot at the same decree must not overwrite.
	dup := New(p, config.Ballot(1), config.Decree(1))
	pl.Put(dup)
	assert.Same(t, low, pl.Get(1))

	// A higher ballot supersedes.
	high := New(p, config.Ballot(2), config.Decree(1))
	pl.Put(high)
	assert.Same(t, high, pl.Get(1))
}

func TestPrepareListEvictRemovesPrefix(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)

	for d := config.Decree(1); d <= 5; d++ {
		pl.Put(New(p, config.Ballot(1), d))
	}
	pl.Evict(3)

	assert.Nil(t, pl.Get(1))
	assert.Nil(t, pl.Get(2))
	assert.Nil(t, pl.Get(3))
	assert.NotNil(t, pl.Get(4))
	assert.NotNil(t, pl.Get(5))
}

func TestLastPreparedDecreeStopsAtGap(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)

	m1 := New(p, config.Ballot(1), config.Decree(1))
	m1.MarkLogged(0)
	m2 := New(p, config.Ballot(1), config.Decree(2))
	m2.MarkLogged(10)
	// decree 3 intentionally missing
	m4 := New(p, config.Ballot(1), config.Decree(4))
	m4.MarkLogged(20)

	pl.Put(m1)
	pl.Put(m2)
	pl.Put(m4)

	assert.Equal(t, config.Decree(2), pl.LastPreparedDecree(0))
}

func TestLastPreparedDecreeStopsAtUnlogged(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)

	m1 := New(p, config.Ballot(1), config.Decree(1))
	m1.MarkLogged(0)
	m2 := New(p, config.Ballot(1), config.Decree(2)) // never logged

	pl.Put(m1)
	pl.Put(m2)

	assert.Equal(t, config.Decree(1), pl.LastPreparedDecree(0))
}

func TestLastPreparedDecreeStopsAtBallotRegression(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)

	m1 := New(p, config.Ballot(2), config.Decree(1))
	m1.MarkLogged(0)
	m2 := New(p, config.Ballot(1), config.Decree(2)) // ballot regresses
	m2.MarkLogged(10)

	pl.Put(m1)
	pl.Put(m2)

	assert.Equal(t, config.Decree(1), pl.LastPreparedDecree(0))
}

func TestPrepareListResetReanchors(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)
	pl.Put(New(p, config.Ballot(1), config.Decree(1)))

	pl.Reset(config.Decree(10))

	assert.Nil(t, pl.Get(1))
	assert.Equal(t, config.Decree(10), pl.MaxDecree())
}

func TestPrepareListSnapshotIsDecreeOrdered(t *testing.T) {
	pl := NewPrepareList(8, 0)
	p := pid.New(1, 0)
	pl.Put(New(p, config.Ballot(1), config.Decree(3)))
	pl.Put(New(p, config.Ballot(1), config.Decree(1)))
	pl.Put(New(p, config.Ballot(1), config.Decree(2)))

	snap := pl.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, config.Decree(1), snap[0].Decree)
	assert.Equal(t, config.Decree(2), snap[1].Decree)
	assert.Equal(t, config.Decree(3), snap[2].Decree)
}
