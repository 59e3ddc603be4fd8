// Package config holds the partition data model: ballots, the partition
// status tag, learning/disk-migration sub-states, the configuration record
// pushed atomically by the meta collaborator, and the per-partition env map.
//
// Grounded on dsn::replication::partition_status / learner_status /
// disk_migration_status (original_source/src/replica/replica.cpp) and on
// the teacher's common.ConfigV1 struct (internal/master/common... /
// pkg/common/master_common.go) for the "delivered atomically, ballot never
// decreases" shape.
package config

//go:generate msgp

// Ballot is the monotone per-partition epoch assigned by the meta
// collaborator. It tags every mutation prepared under it.
type Ballot int64

// Decree is the monotone per-partition sequence number of a mutation.
type Decree int64

const InvalidDecree Decree = -1

// Status is the tagged variant naming a replica's role. It is the only
// authoritative role label — no other field may be consulted to decide
// role-dependent behavior.
type Status int

const (
	StatusInactive Status = iota
	StatusPrimary
	StatusSecondary
	StatusPotentialSecondary
	StatusPartitionSplit
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusPrimary:
		return "PRIMARY"
	case StatusSecondary:
		return "SECONDARY"
	case StatusPotentialSecondary:
		return "POTENTIAL_SECONDARY"
	case StatusPartitionSplit:
		return "PARTITION_SPLIT"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LearningStatus tracks a POTENTIAL_SECONDARY's catch-up progress.
type LearningStatus int

const (
	LearningNotStarted LearningStatus = iota
	LearningWithPrepare
	LearningWithPrepareTransient
	LearningSucceeded
	LearningFailed
)

func (s LearningStatus) String() string {
	switch s {
	case LearningNotStarted:
		return "NotStarted"
	case LearningWithPrepare:
		return "WithPrepare"
	case LearningWithPrepareTransient:
		return "WithPrepareTransient"
	case LearningSucceeded:
		return "Succeeded"
	case LearningFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DiskMigrationStatus tracks the replica-directory migration background
// task; close() accepts a replica outside INACTIVE and ERROR only once this
// has reached at least Moved.
type DiskMigrationStatus int

const (
	DiskMigrationIdle DiskMigrationStatus = iota
	DiskMigrationMoving
	DiskMigrationMoved
	DiskMigrationClosed
)

func (s DiskMigrationStatus) String() string {
	switch s {
	case DiskMigrationIdle:
		return "IDLE"
	case DiskMigrationMoving:
		return "MOVING"
	case DiskMigrationMoved:
		return "MOVED"
	case DiskMigrationClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
