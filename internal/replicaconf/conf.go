// Package replicaconf is the process-level JSON config, mirroring the
// teacher's etc.ReplicaConf (Allen1211-mrkv internal/replica/etc/conf.go):
// a flat struct unmarshaled straight from the file named by -c, with
// logrus.Fatalf on any read/parse error since there is no sane fallback.
package replicaconf

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/sirupsen/logrus"
)

type ReplicaConf struct {
	Me       int      `json:"me"`
	Addr     string   `json:"addr"`
	Servers  []string `json:"servers"`
	Masters  []string `json:"masters"`
	DataDir  string   `json:"data_dir"`
	LogLevel string   `json:"log_level"`

	TableName      string `json:"table_name"`
	AppID          int64  `json:"app_id"`
	PartitionCount int32  `json:"partition_count"`

	PrepareListCapacity int `json:"prepare_list_capacity"`

	CheckpointMaxIntervalHours int `json:"checkpoint_max_interval_hours"`

	ThrottleReadQPS    float64 `json:"throttle_read_qps"`
	ThrottleReadBurst  int     `json:"throttle_read_burst"`
	ThrottleWriteQPS   float64 `json:"throttle_write_qps"`
	ThrottleWriteBurst int     `json:"throttle_write_burst"`

	MetricsAddr string `json:"metrics_addr"`
}

func (c ReplicaConf) CheckpointMaxInterval() time.Duration {
	hours := c.CheckpointMaxIntervalHours
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}

func ParseReplicaConf(confPath string) ReplicaConf {
	confBytes, err := ioutil.ReadFile(confPath)
	if err != nil {
		logrus.Fatalf("failed to open config file: %v", err)
	}
	conf := ReplicaConf{}
	if err := json.Unmarshal(confBytes, &conf); err != nil {
		logrus.Fatalf("failed to parse config file: %v", err)
	}
	return conf
}
