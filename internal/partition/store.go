// Package partition implements the single-directory blob engine that a
// Holder opens at one time-partition path: an in-memory index backed by an
// append-only write-ahead log, with a write/read/exist/close contract.
//
// Values are versioned by a single Meta.Timestamp; duplicate copies of a
// key reconcile by "higher timestamp wins", so the store itself never
// needs causal metadata.
package partition

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobfs/bobd/internal/bobdata"
)

// Store is one append-only blob file plus its in-memory index, rooted at
// a single directory (one Holder's time-partition).
type Store struct {
	mu   sync.RWMutex
	data map[bobdata.Key]bobdata.BobData
	log  *writeAheadLog
	dir  string
}

// Open creates dir if needed, replays any existing log into memory, and
// returns a ready Store. A stale pearl.lock file, if present, is removed
// first.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bobdata.Wrap(bobdata.KindStorageError, "create partition dir", err)
	}

	lockPath := filepath.Join(dir, "pearl.lock")
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return nil, bobdata.Wrap(bobdata.KindStorageError, "remove stale lock", err)
	}

	s := &Store{
		data: make(map[bobdata.Key]bobdata.BobData),
		dir:  dir,
	}

	log, err := openLog(filepath.Join(dir, "blobs.log"))
	if err != nil {
		return nil, bobdata.Wrap(bobdata.KindStorageError, "open blob log", err)
	}
	s.log = log

	entries, err := log.readAll()
	if err != nil {
		return nil, bobdata.Wrap(bobdata.KindStorageError, "replay blob log", err)
	}
	for _, e := range entries {
		if e.Deleted {
			delete(s.data, e.Key)
			continue
		}
		s.data[e.Key] = e.Value
	}

	return s, nil
}

// Write durably appends key/value. A write of a key already present with
// the exact same timestamp is reported as DuplicateKey; the quorum layer
// counts that as a success, not a failure.
func (s *Store) Write(key bobdata.Key, value bobdata.BobData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[key]; ok && existing.Meta.Timestamp == value.Meta.Timestamp {
		return bobdata.New(bobdata.KindDuplicateKey, "key already has this timestamp")
	}

	if err := s.log.append(logEntry{Key: key, Value: value}); err != nil {
		return bobdata.Wrap(bobdata.KindStorageError, "append blob log", err)
	}
	s.data[key] = value
	return nil
}

// Read returns the stored value for key, or KeyNotFound.
func (s *Store) Read(key bobdata.Key) (bobdata.BobData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return bobdata.BobData{}, bobdata.ErrKeyNotFound
	}
	return v, nil
}

// Exist reports membership for each key, preserving input order.
func (s *Store) Exist(keys []bobdata.Key) []bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = s.data[k]
	}
	return out
}

// Keys returns every key currently stored, used by alien drain to decide
// what still needs to be handed off to the owning node.
func (s *Store) Keys() []bobdata.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bobdata.Key, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Remove deletes a key after it has been successfully drained to its
// owner, appending a tombstone so the deletion survives a log replay. It
// reports whether the key was present.
func (s *Store) Remove(key bobdata.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false, nil
	}
	if err := s.log.append(logEntry{Key: key, Deleted: true}); err != nil {
		return false, bobdata.Wrap(bobdata.KindStorageError, "append tombstone", err)
	}
	delete(s.data, key)
	return true, nil
}

func (s *Store) Close() error {
	return s.log.close()
}

func (s *Store) Dir() string { return s.dir }

// ─── write-ahead log ───────────────────────────────────────────────────────

type logEntry struct {
	Key     bobdata.Key     `json:"key"`
	Value   bobdata.BobData `json:"value"`
	Deleted bool            `json:"deleted,omitempty"`
}

// writeAheadLog is a newline-delimited JSON append log; every write is
// fsynced before Write returns.
type writeAheadLog struct {
	mu   sync.Mutex
	file *os.File
}

func openLog(path string) (*writeAheadLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &writeAheadLog{file: f}, nil
}

func (w *writeAheadLog) append(e logEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *writeAheadLog) readAll() ([]logEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []logEntry
	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e logEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // corrupt tail entry from an interrupted write, skip it
		}
		entries = append(entries, e)
	}
	if _, err := w.file.Seek(0, 2); err != nil {
		return nil, err
	}
	return entries, scanner.Err()
}

func (w *writeAheadLog) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
