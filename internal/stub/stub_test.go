package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partikv/internal/appadapter"
	"partikv/internal/config"
	"partikv/internal/logadapter"
	"partikv/internal/mutation"
	"partikv/internal/netw"
	"partikv/internal/pid"
	"partikv/internal/replica"
	"partikv/internal/throttle"
	"partikv/pkg/common"
)

type memApp struct {
	lastCommitted config.Decree
	store         map[string][]byte
}

func newMemApp() *memApp { return &memApp{store: map[string][]byte{}} }

func (a *memApp) OnRequest(req *appadapter.Request) (*appadapter.Response, error) {
	return &appadapter.Response{Value: a.store[string(req.Key)]}, nil
}
func (a *memApp) ApplyMutation(mu *mutation.Mutation) error {
	for _, u := range mu.Updates {
		a.store[string(u.Payload)] = u.Payload
	}
	a.lastCommitted = mu.Decree
	return nil
}
func (a *memApp) LastCommittedDecree() config.Decree { return a.lastCommitted }
func (a *memApp) LastFlushedDecree() config.Decree   { return a.lastCommitted }
func (a *memApp) LastDurableDecree() config.Decree   { return a.lastCommitted }
func (a *memApp) QueryDataVersion() uint32           { return 1 }
func (a *memApp) QueryCompactState() string          { return "" }
func (a *memApp) OnDetectHotkey(req *appadapter.HotkeyRequest) *appadapter.HotkeyResponse {
	return &appadapter.HotkeyResponse{}
}
func (a *memApp) CancelBackgroundWork(wait bool) {}
func (a *memApp) Close(clearState bool) error    { return nil }

type memLog struct{ size int64 }

func (l *memLog) Append(rec logadapter.Record) (int64, error) {
	off := l.size
	l.size += 8
	return off, nil
}
func (l *memLog) Replay() ([]logadapter.Record, error) { return nil, nil }
func (l *memLog) GarbageCollect(config.Decree) error   { return nil }
func (l *memLog) Size() int64                          { return l.size }
func (l *memLog) Close() error                         { return nil }

func newCore(p pid.PID) *replica.ReplicaCore {
	return replica.New(replica.Options{
		PID:             p,
		TableName:       "t1",
		Ballot:          config.Ballot(1),
		PrepareCapacity: 8,
		App:             newMemApp(),
		Log:             &memLog{},
		Throttler:       throttle.New(throttle.Limits{}, throttle.Limits{}),
	})
}

// closeInactive demotes the hosted replica to INACTIVE before closing it:
// close() accepts an active role only once disk migration has reached MOVED.
func closeInactive(s *ReplicaStub, core *replica.ReplicaCore, p pid.PID) {
	core.UpdateConfiguration(&config.Configuration{PID: p, Ballot: 1, Status: config.StatusInactive})
	s.Close(p)
}

func TestOpenGetCloseLifecycle(t *testing.T) {
	s := NewReplicaStub(nil)
	p := pid.New(1, 0)
	core := newCore(p)
	s.Open(p, core)

	got, ok := s.Get(p)
	require.True(t, ok)
	assert.Same(t, core, got)

	require.NoError(t, s.Close(p))
	_, ok = s.Get(p)
	assert.False(t, ok)
}

func TestClientWriteDispatchesToHostedReplica(t *testing.T) {
	s := NewReplicaStub(nil)
	p := pid.New(1, 0)
	core := newCore(p)
	s.Open(p, core)
	defer closeInactive(s, core, p)

	require.Equal(t, common.OK, core.UpdateConfiguration(&config.Configuration{PID: p, Ballot: 1, Status: config.StatusPrimary}))

	var reply ClientWriteReply
	err := s.ClientWrite(ClientWriteArgs{
		RPCArgBase: rpcArgBase(p),
		Identity:   "u1",
		Updates:    []mutation.Update{{Code: 1, Payload: []byte("k1")}},
	}, &reply)
	require.NoError(t, err)
	assert.Equal(t, common.OK, reply.Err)

	var readReply ClientReadReply
	err = s.ClientRead(ClientReadArgs{
		RPCArgBase:       rpcArgBase(p),
		Identity:         "u1",
		Key:              []byte("k1"),
		IgnoreThrottling: true,
	}, &readReply)
	require.NoError(t, err)
	assert.Equal(t, common.OK, readReply.Err)
	assert.Equal(t, []byte("k1"), readReply.Value)
}

func TestClientWriteReturnsObjectNotFoundForUnhostedPartition(t *testing.T) {
	s := NewReplicaStub(nil)
	var reply ClientWriteReply
	err := s.ClientWrite(ClientWriteArgs{RPCArgBase: rpcArgBase(pid.New(9, 9))}, &reply)
	require.NoError(t, err)
	assert.Equal(t, common.ErrObjectNotFound, reply.Err)
}

func TestUpdateConfigurationDispatchesToHostedReplica(t *testing.T) {
	s := NewReplicaStub(nil)
	p := pid.New(1, 0)
	core := newCore(p)
	s.Open(p, core)
	defer closeInactive(s, core, p)

	var reply UpdateConfigurationReply
	err := s.UpdateConfiguration(UpdateConfigurationArgs{
		RPCArgBase: rpcArgBase(p),
		Config:     config.Configuration{PID: p, Ballot: 1, Status: config.StatusPrimary},
	}, &reply)
	require.NoError(t, err)
	assert.Equal(t, common.OK, reply.Err)
}

func TestPrepareAcksOnlyForHostedPartition(t *testing.T) {
	s := NewReplicaStub(nil)
	p := pid.New(1, 0)
	s.Open(p, newCore(p))
	defer s.Close(p)

	var reply PrepareReply
	require.NoError(t, s.Prepare(PrepareArgs{RPCArgBase: rpcArgBase(p)}, &reply))
	assert.True(t, reply.Ack)

	var reply2 PrepareReply
	require.NoError(t, s.Prepare(PrepareArgs{RPCArgBase: rpcArgBase(pid.New(9, 9))}, &reply2))
	assert.False(t, reply2.Ack)
}

func rpcArgBase(p pid.PID) netw.RPCArgBase {
	return netw.RPCArgBase{AppID: p.AppID, PartIdx: p.PartitionIndex}
}
