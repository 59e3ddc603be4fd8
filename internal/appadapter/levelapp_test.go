package appadapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"partikv/internal/config"
	"partikv/internal/mutation"
	"partikv/internal/pid"
)

func TestLevelAppApplyMutationAdvancesDecreeAndStoresData(t *testing.T) {
	dir := t.TempDir()
	app, err := OpenLevelApp(dir)
	require.NoError(t, err)
	defer app.Close(false)

	p := pid.New(1, 0)
	mu := mutation.New(p, config.Ballot(1), config.Decree(1))
	mu.Updates = []mutation.Update{{Code: OpPut, Payload: EncodePut([]byte("k1"), []byte("v1"))}}

	require.NoError(t, app.ApplyMutation(mu))
	require.Equal(t, config.Decree(1), app.LastCommittedDecree())

	resp, err := app.OnRequest(&Request{Key: []byte("k1")})
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), resp.Value)
}

func TestLevelAppApplyMutationDelete(t *testing.T) {
	dir := t.TempDir()
	app, err := OpenLevelApp(dir)
	require.NoError(t, err)
	defer app.Close(false)

	p := pid.New(1, 0)
	mu1 := mutation.New(p, config.Ballot(1), config.Decree(1))
	mu1.Updates = []mutation.Update{{Code: OpPut, Payload: EncodePut([]byte("k1"), []byte("v1"))}}
	require.NoError(t, app.ApplyMutation(mu1))

	mu2 := mutation.New(p, config.Ballot(1), config.Decree(2))
	mu2.Updates = []mutation.Update{{Code: OpDelete, Payload: EncodeDelete([]byte("k1"))}}
	require.NoError(t, app.ApplyMutation(mu2))

	resp, err := app.OnRequest(&Request{Key: []byte("k1")})
	require.NoError(t, err)
	require.Nil(t, resp.Value)
}

func TestLevelAppCheckpointAndRestore(t *testing.T) {
	dir := t.TempDir()
	app, err := OpenLevelApp(dir)
	require.NoError(t, err)
	defer app.Close(false)

	p := pid.New(1, 0)
	mu := mutation.New(p, config.Ballot(1), config.Decree(1))
	mu.Updates = []mutation.Update{{Code: OpPut, Payload: EncodePut([]byte("k"), []byte("v"))}}
	require.NoError(t, app.ApplyMutation(mu))

	decree, err := app.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, config.Decree(1), decree)
	require.Equal(t, config.Decree(1), app.LastDurableDecree())

	blob, err := app.Snapshot()
	require.NoError(t, err)

	dir2 := t.TempDir()
	app2, err := OpenLevelApp(dir2)
	require.NoError(t, err)
	defer app2.Close(false)

	require.NoError(t, app2.RestoreCheckpoint(blob))
	resp, err := app2.OnRequest(&Request{Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, []byte("v"), resp.Value)
}

func TestLevelAppPersistsLastCommittedAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	app, err := OpenLevelApp(dir)
	require.NoError(t, err)

	p := pid.New(1, 0)
	mu := mutation.New(p, config.Ballot(1), config.Decree(5))
	mu.Updates = []mutation.Update{{Code: OpPut, Payload: EncodePut([]byte("k"), []byte("v"))}}
	require.NoError(t, app.ApplyMutation(mu))
	require.NoError(t, app.Close(false))

	reopened, err := OpenLevelApp(dir)
	require.NoError(t, err)
	defer reopened.Close(false)
	require.Equal(t, config.Decree(5), reopened.LastCommittedDecree())
}
