// Package pid defines the partition identity shared by every component of
// the replica core.
package pid

import "fmt"

// PID is the immutable pair (app_id, partition_index) that names a single
// partition within a table. It is comparable and usable as a map key.
type PID struct {
	AppID         int64
	PartitionIndex int32
}

func New(appID int64, partitionIndex int32) PID {
	return PID{AppID: appID, PartitionIndex: partitionIndex}
}

func (p PID) String() string {
	return fmt.Sprintf("%d.%d", p.AppID, p.PartitionIndex)
}
