package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/evernote-go/accountsync/internal/model"
)

const syncStateFileName = "sync_state.json"
const syncStateDirPerms = 0o700
const syncStateFilePerms = 0o600

// SyncStateStore exposes getSyncState/setSyncState (§4.2). Persistence is
// file-backed, per-account, at "<accountDir>/sync_state.json". setSyncState
// is atomic: readers never observe a partial write.
type SyncStateStore struct {
	accountDir string
	logger     *slog.Logger

	mu       sync.Mutex
	observer func(model.SyncState)
}

// NewSyncStateStore returns a store rooted at accountDir (see
// config.AccountDir). The directory need not exist yet: GetSyncState reports
// never-synced while it is missing, and SetSyncState creates it.
func NewSyncStateStore(accountDir string, logger *slog.Logger) *SyncStateStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncStateStore{accountDir: accountDir, logger: logger}
}

// OnChange registers a callback invoked after every successful setSyncState.
// Only one observer is kept; a later call replaces the previous one.
func (s *SyncStateStore) OnChange(fn func(model.SyncState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

func (s *SyncStateStore) path() string {
	return filepath.Join(s.accountDir, syncStateFileName)
}

// GetSyncState loads the persisted state. A missing file is not an error: it
// reports "never synced" via model.NewSyncState(). A corrupt file is logged
// and likewise treated as never-synced, per §4.2's "corruption" failure kind.
func (s *SyncStateStore) GetSyncState(ctx context.Context) (model.SyncState, error) {
	if err := ctx.Err(); err != nil {
		return model.SyncState{}, err
	}

	data, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewSyncState(), nil
	}
	if err != nil {
		return model.SyncState{}, WithKind(KindLocalStorage, fmt.Errorf("sync: reading sync state: %w", err))
	}

	var st model.SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("sync state file corrupt, treating as never-synced", "path", s.path(), "error", err)
		return model.NewSyncState(), nil
	}

	if st.LinkedNotebookUpdateCounts == nil {
		st.LinkedNotebookUpdateCounts = make(map[model.Guid]model.USN)
	}
	if st.LinkedNotebookLastSyncTimes == nil {
		st.LinkedNotebookLastSyncTimes = make(map[model.Guid]model.Timestamp)
	}

	return st, nil
}

// SetSyncState atomically persists state (temp file in the same directory,
// fsync, rename) and notifies any registered observer.
func (s *SyncStateStore) SetSyncState(ctx context.Context, state model.SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.accountDir, syncStateDirPerms); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: creating account dir: %w", err))
	}

	data, err := json.Marshal(state)
	if err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: encoding sync state: %w", err))
	}

	tmp, err := os.CreateTemp(s.accountDir, ".sync_state-*.tmp")
	if err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: creating temp file: %w", err))
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, syncStateFilePerms); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: chmod temp file: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: writing temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: closing temp file: %w", err))
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: renaming into place: %w", err))
	}

	success = true

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer(state)
	}

	return nil
}

// AdvanceUserData returns a copy of state with UserDataUpdateCount raised to
// newUSN if newUSN is greater, and UserDataLastSyncTime set to now. It never
// lowers UserDataUpdateCount (§8's SyncState monotonicity property).
func AdvanceUserData(state model.SyncState, newUSN model.USN, now model.Timestamp) model.SyncState {
	state.UserDataUpdateCount = state.UserDataUpdateCount.Max(newUSN)
	state.UserDataLastSyncTime = now
	return state
}

// AdvanceLinkedNotebook is the linked-notebook equivalent of AdvanceUserData,
// keyed by the linked notebook's guid.
func AdvanceLinkedNotebook(state model.SyncState, lnGuid model.Guid, newUSN model.USN, now model.Timestamp) model.SyncState {
	if state.LinkedNotebookUpdateCounts == nil {
		state.LinkedNotebookUpdateCounts = make(map[model.Guid]model.USN)
	}
	if state.LinkedNotebookLastSyncTimes == nil {
		state.LinkedNotebookLastSyncTimes = make(map[model.Guid]model.Timestamp)
	}

	state.LinkedNotebookUpdateCounts[lnGuid] = state.LinkedNotebookUpdateCounts[lnGuid].Max(newUSN)
	state.LinkedNotebookLastSyncTimes[lnGuid] = now

	return state
}
