package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"partikv/internal/access"
	"partikv/internal/appadapter"
	"partikv/internal/background"
	"partikv/internal/logadapter"
	"partikv/internal/metrics"
	"partikv/internal/pid"
	"partikv/internal/replica"
	"partikv/internal/replicaconf"
	"partikv/internal/stub"
	"partikv/internal/throttle"
	"partikv/pkg/common"
	"partikv/pkg/common/labgob"
)

func main() {
	registerStructure()

	conf := makeConfig()
	log := setupLogging(conf)

	startServer(conf, log)

	select {}
}

func registerStructure() {
	labgob.Register(map[string][]byte{})
}

func makeConfig() replicaconf.ReplicaConf {
	var confPath string
	flag.StringVar(&confPath, "c", "", "config file path")
	flag.Parse()

	if confPath == "" {
		logrus.Fatalf("no config file path provided")
	}
	return replicaconf.ParseReplicaConf(confPath)
}

// setupLogging builds the process logger through the teacher's own
// formatter (pkg/common.InitLogger) rather than the bare logrus defaults,
// falling back to info level on an unrecognized conf.LogLevel the same way
// ParseReplicaConf tolerates a missing field.
func setupLogging(conf replicaconf.ReplicaConf) *logrus.Logger {
	appName := fmt.Sprintf("Replica-%d-%d", conf.AppID, conf.Me)
	log, err := common.InitLogger(conf.LogLevel, appName)
	if err != nil {
		log, _ = common.InitLogger("info", appName)
	}
	return log
}

func startServer(conf replicaconf.ReplicaConf, log *logrus.Logger) *stub.ReplicaStub {
	m := metrics.New()
	metrics.RegisterStorageRPCCode(int32(1)) // get
	metrics.RegisterStorageRPCCode(int32(2)) // put
	metrics.RegisterStorageRPCCode(int32(3)) // delete

	replicaStub := stub.NewReplicaStub(log)

	for i := int32(0); i < conf.PartitionCount; i++ {
		p := pid.New(conf.AppID, i)
		core := openReplica(conf, p, m, replicaStub, log)
		replicaStub.Open(p, core)
	}

	if err := replicaStub.Serve(conf.Addr); err != nil {
		log.Fatalf("failed to start replica rpc server: %v", err)
	}

	if conf.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(conf.MetricsAddr, mux); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	return replicaStub
}

func openReplica(conf replicaconf.ReplicaConf, p pid.PID, m *metrics.Metrics, replicaStub *stub.ReplicaStub, log *logrus.Logger) *replica.ReplicaCore {
	dataDir := fmt.Sprintf("%s/%s", conf.DataDir, p.String())

	app, err := appadapter.OpenLevelApp(dataDir + "/data")
	if err != nil {
		log.Fatalf("failed to open storage engine for %s: %v", p, err)
	}

	wal, err := logadapter.OpenFileLogAdapter(dataDir+"/log", p)
	if err != nil {
		log.Fatalf("failed to open private log for %s: %v", p, err)
	}

	capacity := conf.PrepareListCapacity
	if capacity <= 0 {
		capacity = 1000
	}

	readLimits := throttle.Limits{}
	if conf.ThrottleReadQPS > 0 {
		readLimits = throttle.Limits{Rate: rateLimit(conf.ThrottleReadQPS), Burst: conf.ThrottleReadBurst}
	}
	writeLimits := throttle.Limits{}
	if conf.ThrottleWriteQPS > 0 {
		writeLimits = throttle.Limits{Rate: rateLimit(conf.ThrottleWriteQPS), Burst: conf.ThrottleWriteBurst}
	}
	thr := throttle.New(readLimits, writeLimits)

	seed := time.Now().UnixNano() + int64(p.PartitionIndex)
	coord := background.NewCoordinator(conf.CheckpointMaxInterval(), background.NewCheckpointFunc(app, wal), seed)

	core := replica.New(replica.Options{
		PID:             p,
		TableName:       conf.TableName,
		PrepareCapacity: capacity,
		App:             app,
		Log:             wal,
		Throttler:       thr,
		Gate:            access.AllowAll{},
		Metrics:         m,
		PrepareFn:       replicaStub.MakePrepareFunc(),
		Hooks:           coord,
		Logger:          log,
	})

	return core
}

func rateLimit(qps float64) rate.Limit {
	return rate.Limit(qps)
}
