package netw

//go:generate msgp

type RpcFunc func(apiName string, args interface{}, reply interface{}, ids ...int) bool

const (
	// client-facing
	ApiClientRead  = "ClientRead"
	ApiClientWrite = "ClientWrite"

	// replica-to-replica, primary driving secondaries
	ApiPrepare = "Prepare"
	ApiLearn   = "Learn"

	// meta-to-replica
	ApiUpdateConfiguration = "UpdateConfiguration"

	// meta restore surface (S1/S2)
	ApiStartRestore = "StartRestore"
)

type IRPCArgBase interface {
	GetAppID()    int64
	GetPartIdx()  int32
	SetAppID(id int64)
	SetPartIdx(idx int32)
}

// RPCArgBase carries the partition identity on every replica-targeted RPC,
// mirroring the teacher's Gid/Peer envelope but keyed by (app_id, partition_index).
type RPCArgBase struct {
	AppID   int64
	PartIdx int32
}

func (b *RPCArgBase) GetAppID() int64 {
	return b.AppID
}

func (b *RPCArgBase) GetPartIdx() int32 {
	return b.PartIdx
}

func (b *RPCArgBase) SetAppID(id int64) {
	b.AppID = id
}

func (b *RPCArgBase) SetPartIdx(idx int32) {
	b.PartIdx = idx
}
