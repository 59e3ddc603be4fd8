package replicaconf

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, conf ReplicaConf) string {
	t.Helper()
	b, err := json.Marshal(conf)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, ioutil.WriteFile(path, b, 0644))
	return path
}

func TestParseReplicaConfRoundTripsFields(t *testing.T) {
	path := writeConf(t, ReplicaConf{
		Me:             2,
		Addr:           "127.0.0.1:9000",
		TableName:      "orders",
		AppID:          7,
		PartitionCount: 4,
		LogLevel:       "debug",
	})

	conf := ParseReplicaConf(path)
	assert.Equal(t, 2, conf.Me)
	assert.Equal(t, "127.0.0.1:9000", conf.Addr)
	assert.Equal(t, "orders", conf.TableName)
	assert.Equal(t, int64(7), conf.AppID)
	assert.Equal(t, int32(4), conf.PartitionCount)
	assert.Equal(t, "debug", conf.LogLevel)
}

func TestCheckpointMaxIntervalDefaultsToOneHour(t *testing.T) {
	conf := ReplicaConf{}
	assert.Equal(t, time.Hour, conf.CheckpointMaxInterval())
}

func TestCheckpointMaxIntervalHonorsConfiguredHours(t *testing.T) {
	conf := ReplicaConf{CheckpointMaxIntervalHours: 6}
	assert.Equal(t, 6*time.Hour, conf.CheckpointMaxInterval())
}
