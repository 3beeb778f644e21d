// Package queue persists mutations that could not be applied while the slot
// store was unreachable. Entries live as one JSON file each under a data
// directory so the queue survives process restarts; ids are monotonic and
// define replay order. The queue is owned exclusively by the sync engine.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrEntryNotFound = errors.New("queue entry not found")

const seqFile = "seq"

type Entry struct {
	ID         uint64          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type Queue struct {
	mu      sync.Mutex
	dir     string
	entries []Entry // sorted by ID ascending
	nextID  uint64
}

// Open loads any entries persisted by a previous process. The sequence
// counter is restored from its own file so ids stay monotonic even after the
// queue has fully drained.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	q := &Queue{dir: dir, nextID: 1}

	if raw, err := os.ReadFile(filepath.Join(dir, seqFile)); err == nil {
		if n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err == nil && n > 0 {
			q.nextID = n
		}
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read queue dir: %w", err)
	}

	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read queue entry %s: %w", de.Name(), err)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", de.Name(), err)
		}
		q.entries = append(q.entries, e)
		if e.ID >= q.nextID {
			q.nextID = e.ID + 1
		}
	}

	sort.Slice(q.entries, func(i, j int) bool { return q.entries[i].ID < q.entries[j].ID })

	return q, nil
}

// Append assigns the next id and persists the entry before returning.
func (q *Queue) Append(kind string, payload json.RawMessage) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := Entry{
		ID:         q.nextID,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.writeSeq(q.nextID + 1); err != nil {
		return Entry{}, err
	}
	if err := q.writeEntry(e); err != nil {
		return Entry{}, err
	}

	q.nextID++
	q.entries = append(q.entries, e)
	return e, nil
}

// List returns a copy of all pending entries in replay order.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Remove deletes an entry after its mutation has been confirmed applied (or
// deliberately dropped).
func (q *Queue) Remove(id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, e := range q.entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}

	if err := os.Remove(q.entryPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove queue entry %d: %w", id, err)
	}

	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) entryPath(id uint64) string {
	return filepath.Join(q.dir, fmt.Sprintf("%020d.json", id))
}

func (q *Queue) writeEntry(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode queue entry %d: %w", e.ID, err)
	}
	return atomicWrite(q.entryPath(e.ID), raw)
}

func (q *Queue) writeSeq(next uint64) error {
	return atomicWrite(filepath.Join(q.dir, seqFile), []byte(strconv.FormatUint(next, 10)))
}

// atomicWrite goes through a temp file and rename so a crash mid-write never
// leaves a truncated entry behind.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
