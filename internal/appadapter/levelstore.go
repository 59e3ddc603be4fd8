package appadapter

import (
	"bytes"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"partikv/pkg/common/labgob"
	"partikv/pkg/common/utils"
)

// levelStore is a thin, mutex-guarded wrapper over goleveldb, adapted from
// the teacher's LevelStore (internal/replica/level_db.go): same Get/Put/
// Snapshot/ApplySnapshot/Clear/Close shape, trimmed to what LevelApp needs
// for a single partition's key space.
type levelStore struct {
	mu   sync.RWMutex
	db   *leveldb.DB
	path string
}

func openLevelStore(path string) (*levelStore, error) {
	if err := utils.CheckAndMkdir(path); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		WriteBuffer: 4096 * 1024,
		NoSync:      true,
	})
	if err != nil {
		return nil, err
	}
	return &levelStore{db: db, path: path}, nil
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return val, err
}

func (s *levelStore) Put(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(key, val, nil)
}

func (s *levelStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(key, nil)
}

func (s *levelStore) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sizes, err := s.db.SizeOf([]util.Range{{Start: nil, Limit: nil}})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, sz := range sizes {
		total += sz
	}
	return total, nil
}

// Snapshot dumps the whole keyspace, gob-encoded, for use as a checkpoint
// blob (mirrors LevelStore.Snapshot/dumpIter).
func (s *levelStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	iter := snap.NewIterator(nil, nil)
	defer iter.Release()

	mp := map[string][]byte{}
	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		mp[string(k)] = v
	}

	buf := new(bytes.Buffer)
	if err := labgob.NewEncoder(buf).Encode(mp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *levelStore) ApplySnapshot(snapshot []byte) error {
	mp := map[string][]byte{}
	if err := labgob.NewDecoder(bytes.NewReader(snapshot)).Decode(&mp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	for k, v := range mp {
		batch.Put([]byte(k), v)
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := s.db.Delete(iter.Key(), &opt.WriteOptions{Sync: false}); err != nil {
			return err
		}
	}
	return nil
}

func (s *levelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *levelStore) FileSize() int64 {
	return utils.SizeOfDir(s.path)
}

func (s *levelStore) DeleteFiles() {
	utils.DeleteDir(s.path)
}
