// Package meta implements the narrow slice of the meta collaborator that
// ReplicaCore depends on directly (component §6 MetaService/ServerState):
// app registration, the monotone app-id allocator, and the restore path.
// Configuration push/pull and replica placement are explicit Non-goals;
// this package only covers what §12's restore scenarios (S1/S2) exercise.
//
// Grounded on original_source/src/meta/test/server_state_restore_test.cpp
// (test_restore_app_info) and the server_state it drives, adapted from the
// teacher's ShardMaster (Allen1211-mrkv internal/master/server.go) for the
// mutex-guarded in-memory registry shape.
package meta

import (
	"fmt"
	"strconv"
	"sync"

	"partikv/internal/config"
)

// AppStatus mirrors dsn::replication::app_status's subset this package
// needs: a freshly restored app always starts CREATING.
type AppStatus int

const (
	AppStatusCreating AppStatus = iota
	AppStatusAvailable
	AppStatusDropped
)

func (s AppStatus) String() string {
	switch s {
	case AppStatusCreating:
		return "CREATING"
	case AppStatusAvailable:
		return "AVAILABLE"
	case AppStatusDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// AppInfo is the registry's record of one table.
type AppInfo struct {
	AppID      int64
	AppName    string
	Status     AppStatus
	Envs       config.Env
	Partitions int32
}

// RestoreRequest is START_RESTORE's argument shape (§6).
type RestoreRequest struct {
	AppID              int64
	AppName            string
	NewAppName         string
	TimeStampMs        int64
	ClusterName        string
	BackupProviderName string
	RestorePath        string // optional; empty means "not set"
}

// ServerState is the in-memory registry: AppInfo by name, plus the
// monotone app-id allocator. RestoreAppInfo holds the write lock for the
// whole restore (name check, id allocation, registration); it takes no
// separate read-locked snapshot of the old app, whose name and id come
// from the request.
type ServerState struct {
	mu      sync.RWMutex
	apps    map[string]*AppInfo
	nextID  int64
}

func NewServerState() *ServerState {
	return &ServerState{
		apps:   make(map[string]*AppInfo),
		nextID: 1,
	}
}

func (s *ServerState) CreateApp(name string, partitions int32) *AppInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	app := &AppInfo{
		AppID:      s.nextID,
		AppName:    name,
		Status:     AppStatusAvailable,
		Envs:       config.Env{},
		Partitions: partitions,
	}
	s.nextID++
	s.apps[name] = app
	return app
}

func (s *ServerState) GetApp(name string) (*AppInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[name]
	return app, ok
}

// NextAppID returns the id the next CreateApp/RestoreAppInfo call will
// assign, captured without mutating the allocator — callers that need the
// id committed atomically with app creation should rely on the returned
// AppInfo.AppID instead, per the "captured at entry" property in §8.
func (s *ServerState) NextAppID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// RestoreAppInfo implements the restore seeding behavior from §12/§8's
// "Restore seeding" property: the new app gets the *new* name but its env
// map's APP_NAME carries the *old* app's name, matching
// server_state_restore_test.cpp's test_restore_app_info exactly.
func (s *ServerState) RestoreAppInfo(req RestoreRequest) (*AppInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[req.NewAppName]; exists {
		return nil, fmt.Errorf("meta: app %q already exists", req.NewAppName)
	}

	envs := config.Env{
		config.EnvBlockServiceProvider: req.BackupProviderName,
		config.EnvClusterName:          req.ClusterName,
		config.EnvAppName:              req.AppName, // old app's name, not NewAppName
		config.EnvAppID:                strconv.FormatInt(req.AppID, 10),
		config.EnvBackupID:             strconv.FormatInt(req.TimeStampMs, 10),
	}
	if req.RestorePath != "" {
		envs[config.EnvRestorePath] = req.RestorePath
	}

	app := &AppInfo{
		AppID:   s.nextID,
		AppName: req.NewAppName,
		Status:  AppStatusCreating,
		Envs:    envs,
	}
	s.nextID++
	s.apps[req.NewAppName] = app
	return app, nil
}
