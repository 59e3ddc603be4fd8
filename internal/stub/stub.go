// Package stub implements ReplicaStub: the per-process host for every
// partition's ReplicaCore, and the RPC surface (netw.Api*) that a remote
// peer or the meta collaborator actually dials into.
//
// Grounded on the teacher's node.Group/node.Node (Allen1211-mrkv
// internal/node/group.go, node.go): one small wrapper type per hosted
// unit registered in a mutex-guarded map, with a Shutdown that tears the
// unit down and removes it from the map — generalized here from "one
// group per raft cluster membership" to "one ReplicaCore per partition".
package stub

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"partikv/internal/appadapter"
	"partikv/internal/config"
	"partikv/internal/mutation"
	"partikv/internal/netw"
	"partikv/internal/pid"
	"partikv/internal/replica"
	"partikv/pkg/common"
)

// ReplicaStub hosts every partition's ReplicaCore running in this process
// and exposes the RPC methods rpcx dispatches to by name (netw.Api*).
type ReplicaStub struct {
	mu       sync.RWMutex
	replicas map[pid.PID]*replica.ReplicaCore
	log      *logrus.Logger

	clientsMu sync.Mutex
	clients   map[string]*netw.ClientEnd
}

func NewReplicaStub(log *logrus.Logger) *ReplicaStub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReplicaStub{
		replicas: make(map[pid.PID]*replica.ReplicaCore),
		clients:  make(map[string]*netw.ClientEnd),
		log:      log,
	}
}

func (s *ReplicaStub) Open(p pid.PID, core *replica.ReplicaCore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[p] = core
}

func (s *ReplicaStub) Get(p pid.PID) (*replica.ReplicaCore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	core, ok := s.replicas[p]
	return core, ok
}

// Close tears down and unregisters a hosted partition.
func (s *ReplicaStub) Close(p pid.PID) error {
	s.mu.Lock()
	core, ok := s.replicas[p]
	delete(s.replicas, p)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return core.Close()
}

// ServiceName is what every ReplicaStub registers itself as and dials
// peers under; partitions are disambiguated by RPCArgBase, not by
// service name.
const ServiceName = "ReplicaStub"

func (s *ReplicaStub) clientFor(addr string) *netw.ClientEnd {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if ce, ok := s.clients[addr]; ok {
		return ce
	}
	ce := netw.MakeRPCEnd(ServiceName, addr)
	s.clients[addr] = ce
	return ce
}

// Serve starts an rpcx server bound to addr exposing this stub's RPC
// methods under ServiceName.
func (s *ReplicaStub) Serve(addr string) error {
	srv := netw.MakeRpcxServer(ServiceName, addr)
	if err := srv.Register(ServiceName, s); err != nil {
		return err
	}
	go func() {
		if err := srv.Start(); err != nil {
			s.log.Errorf("replica stub server stopped: %v", err)
		}
	}()
	return nil
}

// --- RPC args/replies --------------------------------------------------

type ClientReadArgs struct {
	netw.RPCArgBase
	Identity         string
	RPCCode          int32
	Key              []byte
	IgnoreThrottling bool
	IsBackupRead     bool
	SplitGeneration  int64
}

type ClientReadReply struct {
	Err   common.Err
	Value []byte
}

type ClientWriteArgs struct {
	netw.RPCArgBase
	Identity string
	Updates  []mutation.Update
}

type ClientWriteReply struct {
	Err common.Err
}

type PrepareArgs struct {
	netw.RPCArgBase
	Ballot  config.Ballot
	Decree  config.Decree
	Updates []mutation.Update
}

type PrepareReply struct {
	Ack bool
}

type UpdateConfigurationArgs struct {
	netw.RPCArgBase
	Config config.Configuration
}

type UpdateConfigurationReply struct {
	Err common.Err
}

// --- RPC methods (registered under netw.Api*, rpcx dispatches by name) --

func (s *ReplicaStub) ClientRead(args ClientReadArgs, reply *ClientReadReply) error {
	core, ok := s.Get(pid.New(args.AppID, args.PartIdx))
	if !ok {
		reply.Err = common.ErrObjectNotFound
		return nil
	}
	resp, errCode := core.OnClientRead(&appadapter.Request{RPCCode: args.RPCCode, Key: args.Key},
		args.Identity, args.IgnoreThrottling, args.IsBackupRead, args.SplitGeneration)
	reply.Err = errCode
	if resp != nil {
		reply.Value = resp.Value
	}
	return nil
}

func (s *ReplicaStub) ClientWrite(args ClientWriteArgs, reply *ClientWriteReply) error {
	core, ok := s.Get(pid.New(args.AppID, args.PartIdx))
	if !ok {
		reply.Err = common.ErrObjectNotFound
		return nil
	}
	reply.Err = core.OnClientWrite(args.Identity, args.Updates)
	return nil
}

// Prepare is the secondary-side handler a primary calls to drive 2PC; the
// secondary's own apply happens later, through execute_mutation once its
// own PrepareList/log accept the entry (out of scope for this minimal RPC
// shim — see DESIGN.md for what the reference stub does and doesn't
// implement of the secondary-side prepare path).
func (s *ReplicaStub) Prepare(args PrepareArgs, reply *PrepareReply) error {
	_, ok := s.Get(pid.New(args.AppID, args.PartIdx))
	reply.Ack = ok
	return nil
}

func (s *ReplicaStub) UpdateConfiguration(args UpdateConfigurationArgs, reply *UpdateConfigurationReply) error {
	core, ok := s.Get(pid.New(args.AppID, args.PartIdx))
	if !ok {
		reply.Err = common.ErrObjectNotFound
		return nil
	}
	reply.Err = core.UpdateConfiguration(&args.Config)
	return nil
}

// MakePrepareFunc builds a replica.PrepareFunc that dials each secondary
// over rpcx and calls Prepare, acking through onAck.
func (s *ReplicaStub) MakePrepareFunc() replica.PrepareFunc {
	return func(mu *mutation.Mutation, cfg *config.Configuration, onAck func(ok bool)) {
		for _, addr := range cfg.Secondaries {
			addr := addr
			go func() {
				ce := s.clientFor(addr)
				args := PrepareArgs{
					RPCArgBase: netw.RPCArgBase{AppID: mu.PID.AppID, PartIdx: mu.PID.PartitionIndex},
					Ballot:     mu.Ballot,
					Decree:     mu.Decree,
					Updates:    mu.Updates,
				}
				var reply PrepareReply
				ok := ce.Call(netw.ApiPrepare, args, &reply)
				onAck(ok && reply.Ack)
			}()
		}
	}
}

func (s *ReplicaStub) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("stub(%d replicas)", len(s.replicas))
}
