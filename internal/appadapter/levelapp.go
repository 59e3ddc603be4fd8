package appadapter

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"partikv/internal/config"
	"partikv/internal/mutation"
	"partikv/pkg/common/labgob"
)

const (
	// OpPut and OpDelete are the two update codes a mutation's payload may
	// carry; ApplyMutation fails on any other code.
	OpPut    int32 = 1
	OpDelete int32 = 2
)

type kvOp struct {
	Key   []byte
	Value []byte
}

func EncodePut(key, value []byte) []byte {
	buf := new(bytes.Buffer)
	_ = labgob.NewEncoder(buf).Encode(kvOp{Key: key, Value: value})
	return buf.Bytes()
}

func EncodeDelete(key []byte) []byte {
	buf := new(bytes.Buffer)
	_ = labgob.NewEncoder(buf).Encode(kvOp{Key: key})
	return buf.Bytes()
}

func decodeOp(payload []byte) (kvOp, error) {
	var op kvOp
	err := labgob.NewDecoder(bytes.NewReader(payload)).Decode(&op)
	return op, err
}

// LevelApp is the reference AppAdapter implementation, backed by goleveldb
// (grounded on the teacher's LevelStore). It is intentionally simple: a
// flat key space per partition, with decree bookkeeping kept in memory and
// persisted alongside the data so it survives process restart.
type LevelApp struct {
	store *levelStore

	lastCommitted int64 // atomic, config.Decree
	lastFlushed   int64 // atomic, config.Decree
	lastDurable   int64 // atomic, config.Decree

	compactState string
	dataVersion  uint32
}

var lastCommittedKey = []byte("__last_committed_decree__")

func OpenLevelApp(dir string) (*LevelApp, error) {
	store, err := openLevelStore(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open storage engine at %s", dir)
	}
	app := &LevelApp{store: store, dataVersion: 1, compactState: "last finish at [-]"}

	if raw, err := store.Get(lastCommittedKey); err != nil {
		return nil, errors.Wrap(err, "load persisted last-committed decree")
	} else if len(raw) == 8 {
		d := int64(0)
		for i := 0; i < 8; i++ {
			d |= int64(raw[i]) << (8 * i)
		}
		atomic.StoreInt64(&app.lastCommitted, d)
		atomic.StoreInt64(&app.lastFlushed, d)
		atomic.StoreInt64(&app.lastDurable, d)
	}
	return app, nil
}

func (a *LevelApp) persistLastCommitted(d config.Decree) error {
	buf := make([]byte, 8)
	v := int64(d)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return a.store.Put(lastCommittedKey, buf)
}

func (a *LevelApp) OnRequest(req *Request) (*Response, error) {
	val, err := a.store.Get(req.Key)
	if err != nil {
		return nil, err
	}
	return &Response{Value: val}, nil
}

// ApplyMutation applies every update in the mutation and advances
// last_committed_decree on success, per the AppAdapter contract (§6).
func (a *LevelApp) ApplyMutation(mu *mutation.Mutation) error {
	for _, u := range mu.Updates {
		op, err := decodeOp(u.Payload)
		if err != nil {
			return fmt.Errorf("appadapter: decode update payload: %w", err)
		}
		switch u.Code {
		case OpPut:
			if err := a.store.Put(op.Key, op.Value); err != nil {
				return err
			}
		case OpDelete:
			if err := a.store.Delete(op.Key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("appadapter: unrecognized update code %d", u.Code)
		}
	}
	if err := a.persistLastCommitted(mu.Decree); err != nil {
		return err
	}
	atomic.StoreInt64(&a.lastCommitted, int64(mu.Decree))
	atomic.StoreInt64(&a.lastFlushed, int64(mu.Decree))
	return nil
}

func (a *LevelApp) LastCommittedDecree() config.Decree {
	return config.Decree(atomic.LoadInt64(&a.lastCommitted))
}

func (a *LevelApp) LastFlushedDecree() config.Decree {
	return config.Decree(atomic.LoadInt64(&a.lastFlushed))
}

func (a *LevelApp) LastDurableDecree() config.Decree {
	return config.Decree(atomic.LoadInt64(&a.lastDurable))
}

func (a *LevelApp) QueryDataVersion() uint32 {
	return a.dataVersion
}

func (a *LevelApp) QueryCompactState() string {
	return a.compactState
}

func (a *LevelApp) OnDetectHotkey(req *HotkeyRequest) *HotkeyResponse {
	return &HotkeyResponse{}
}

func (a *LevelApp) CancelBackgroundWork(wait bool) {
	// LevelApp runs no internal worker pool; nothing to cancel.
}

func (a *LevelApp) Close(clearState bool) error {
	if err := a.store.Close(); err != nil {
		return err
	}
	if clearState {
		a.store.DeleteFiles()
	}
	return nil
}

// Checkpointer is an optional capability: BackgroundCoordinator type-
// asserts AppAdapter implementations against it before scheduling a
// checkpoint (§4.4).
type Checkpointer interface {
	Checkpoint() (config.Decree, error)
	RestoreCheckpoint(blob []byte) error
}

// Checkpoint advances last_durable_decree to the decree committed at
// checkpoint time and returns it. It writes no dump itself; Snapshot
// produces the key-space dump.
func (a *LevelApp) Checkpoint() (config.Decree, error) {
	d := a.LastCommittedDecree()
	atomic.StoreInt64(&a.lastDurable, int64(d))
	return d, nil
}

func (a *LevelApp) Snapshot() ([]byte, error) {
	return a.store.Snapshot()
}

func (a *LevelApp) RestoreCheckpoint(blob []byte) error {
	return a.store.ApplySnapshot(blob)
}

var _ AppAdapter = (*LevelApp)(nil)
var _ Checkpointer = (*LevelApp)(nil)
