// Package netw wraps smallnest/rpcx's client/server for the replica RPC
// surface (ClientRead/ClientWrite/Prepare/UpdateConfiguration, see
// internal/stub): one RpcxServer per process, one ClientEnd per peer
// dialed on demand. Transport mechanics are explicitly out of the
// replica core's scope (§4.1's on_client_write: "protocol detail lives in
// protocol layer"), so this package only exposes dial/register/call and
// leaves retry/backoff policy to its callers.
package netw

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	rpcx_client "github.com/smallnest/rpcx/client"
	"github.com/smallnest/rpcx/log"
	"github.com/smallnest/rpcx/protocol"
	"github.com/smallnest/rpcx/server"
	"github.com/smallnest/rpcx/share"

	"partikv/internal/netw/codec"
	"partikv/pkg/common"
)

func init() {
	log.SetDummyLogger()
	share.Codecs[protocol.SerializeType(5)] = &codec.MsgpCodec{}
}

var unreliablePercentage int

// SetUnreliable injects artificial call failures for fault-injection
// testing of the prepare fan-out path (a failed Call looks to the caller
// exactly like a secondary that never acked).
func SetUnreliable(percentage int) {
	unreliablePercentage = percentage
}

type RpcxServer struct {
	Name string
	Addr string

	serv *server.Server
}

func MakeRpcxServer(name, addr string) *RpcxServer {
	s := server.NewServer()
	return &RpcxServer{
		Name: name,
		Addr: addr,
		serv: s,
	}
}

func (s *RpcxServer) Register(name string, obj interface{}) error {
	return s.serv.RegisterName(name, obj, "")
}

func (s *RpcxServer) Start() error {
	return s.serv.Serve("tcp", s.Addr)
}

func (s *RpcxServer) Stop() {
	_ = s.serv.Close()
}

// ClientEnd is one rpcx connection to a peer replica, used by
// stub.ReplicaStub.MakePrepareFunc to fan a logged mutation out to
// secondaries.
type ClientEnd struct {
	sync.RWMutex
	Name   string
	Addr   string
	client rpcx_client.XClient

	tsr common.ThreadSafeRand
}

func MakeRPCEnd(name, addr string) *ClientEnd {
	ce := &ClientEnd{
		Name: name,
		Addr: addr,
		tsr:  common.MakeThreadSafeRand(time.Now().UnixNano()),
	}
	d, err := rpcx_client.NewPeer2PeerDiscovery("tcp@"+addr, "")
	if err != nil {
		return nil
	}
	option := rpcx_client.DefaultOption
	option.SerializeType = protocol.SerializeType(5)
	cli := rpcx_client.NewXClient(name, rpcx_client.Failfast, rpcx_client.RoundRobin, d, option)
	ce.client = cli

	return ce
}

// Call invokes svrName on the peer, returning false on any failure
// (timeout, dial error, or injected unreliability) so callers treat it
// the same way as an explicit nack.
func (ce *ClientEnd) Call(svrName string, args interface{}, reply interface{}) bool {
	if unreliablePercentage > 0 {
		if ce.tsr.Intn(100) <= unreliablePercentage {
			time.Sleep(1 * time.Second)
			return false
		}
	}

	err := ce.client.Call(context.Background(), svrName, args, reply)
	if err != nil {
		logrus.Errorf("call %s %s error: %v", ce.Name, svrName, err)
		return false
	}
	return true
}

func (ce *ClientEnd) Close() {
	if ce.client != nil {
		ce.client.Close()
	}
}
