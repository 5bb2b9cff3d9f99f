package sqldest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PersistKeyParts identifies one destination's slot in the persisted
// state file: dialect, host, port, database and table template,
// matching afsql_dd_format_persist_name's five-tuple key. An older
// four-tuple key (dialect, host, port, database, no table template)
// existed before table names could vary per-message;
// PersistStore.AcquireQueueName migrates any surviving old-style entry
// into the new key when it is called. Worker and Destination do not
// call it, so starting a destination performs no migration.
type PersistKeyParts struct {
	Dialect       string
	Host          string
	Port          string
	Database      string
	TableTemplate string
}

// oldKey renders the pre-migration four-tuple form of this key,
// afsql_dd_format_persist_name's persist_name_old.
func (k PersistKeyParts) oldKey() string {
	return fmt.Sprintf("afsql_dd_qfile(%s,%s,%s,%s)", k.Dialect, k.Host, k.Port, k.Database)
}

// queueKey renders the current five-tuple form, persist_name_new.
func (k PersistKeyParts) queueKey() string {
	return fmt.Sprintf("afsql_dd_qfile(%s,%s,%s,%s,%s)", k.Dialect, k.Host, k.Port, k.Database, k.TableTemplate)
}

// sequenceKey renders the sequence-number counter's key.
func (k PersistKeyParts) sequenceKey() string {
	return fmt.Sprintf("afsql_dd_sequence_number(%s,%s,%s,%s,%s)", k.Dialect, k.Host, k.Port, k.Database, k.TableTemplate)
}

type persistedState struct {
	Queue    map[string]json.RawMessage `json:"queue"`
	Sequence map[string]int64           `json:"sequence"`
}

// PersistStore persists per-destination queue backlog and sequence
// counter state across restarts, the same role cfg_persist_config_fetch
// and log_dest_driver_acquire_queue play for afsql. It is a plain
// mutex-guarded JSON file with an atomic temp-file-then-rename save,
// the same shape as the bot's own on-disk state manager.
type PersistStore struct {
	mu       sync.Mutex
	filePath string
	state    persistedState
}

// OpenPersistStore loads (or initializes) the persisted state file at
// path. A missing file is not an error: a destination starting for the
// first time has nothing to migrate or resume.
func OpenPersistStore(path string) (*PersistStore, error) {
	ps := &PersistStore{
		filePath: path,
		state: persistedState{
			Queue:    make(map[string]json.RawMessage),
			Sequence: make(map[string]int64),
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ps, nil
		}
		return nil, fmt.Errorf("sqldest: reading persist file: %w", err)
	}
	if err := json.Unmarshal(data, &ps.state); err != nil {
		return nil, fmt.Errorf("sqldest: parsing persist file: %w", err)
	}
	if ps.state.Queue == nil {
		ps.state.Queue = make(map[string]json.RawMessage)
	}
	if ps.state.Sequence == nil {
		ps.state.Sequence = make(map[string]int64)
	}
	return ps, nil
}

// SequenceNumber returns the persisted sequence counter for key,
// defaulting to 1 (init_sequence_number's starting value) when no
// counter has been saved yet.
func (ps *PersistStore) SequenceNumber(key PersistKeyParts) int64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if n, ok := ps.state.Sequence[key.sequenceKey()]; ok && n != 0 {
		return n
	}
	return 1
}

// SaveSequenceNumber persists the current sequence counter for key.
func (ps *PersistStore) SaveSequenceNumber(key PersistKeyParts, n int64) error {
	ps.mu.Lock()
	ps.state.Sequence[key.sequenceKey()] = n
	ps.mu.Unlock()
	return ps.save()
}

// AcquireQueueName returns the persisted-state key a destination's
// backlog queue is stored under, migrating a surviving old-style
// four-tuple entry in place first, exactly as afsql_dd_format_persist_name
// does via persist_state_rename_entry before log_dest_driver_acquire_queue
// runs.
func (ps *PersistStore) AcquireQueueName(key PersistKeyParts) (string, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	oldKey, newKey := key.oldKey(), key.queueKey()
	if old, ok := ps.state.Queue[oldKey]; ok {
		if _, exists := ps.state.Queue[newKey]; !exists {
			ps.state.Queue[newKey] = old
		}
		delete(ps.state.Queue, oldKey)
		if err := ps.saveLocked(); err != nil {
			return "", err
		}
	}
	return newKey, nil
}

// SaveQueueBacklog persists the raw backlog payload under the queue's
// current (post-migration) key.
func (ps *PersistStore) SaveQueueBacklog(queueKey string, payload json.RawMessage) error {
	ps.mu.Lock()
	ps.state.Queue[queueKey] = payload
	ps.mu.Unlock()
	return ps.save()
}

// LoadQueueBacklog returns the raw backlog payload previously saved
// under queueKey, or nil if none exists.
func (ps *PersistStore) LoadQueueBacklog(queueKey string) json.RawMessage {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state.Queue[queueKey]
}

func (ps *PersistStore) save() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.saveLocked()
}

// saveLocked writes state to disk with an atomic temp-file-then-rename,
// the caller must already hold ps.mu.
func (ps *PersistStore) saveLocked() error {
	dir := filepath.Dir(ps.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqldest: creating persist directory: %w", err)
	}
	data, err := json.MarshalIndent(ps.state, "", "  ")
	if err != nil {
		return fmt.Errorf("sqldest: marshaling persist state: %w", err)
	}
	tmpPath := ps.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("sqldest: writing persist temp file: %w", err)
	}
	if err := os.Rename(tmpPath, ps.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sqldest: renaming persist temp file: %w", err)
	}
	return nil
}
