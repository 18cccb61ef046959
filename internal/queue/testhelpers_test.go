package queue_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
)

// memoryStore keeps dead letters in insertion order.
type memoryStore struct {
	mu      sync.Mutex
	entries []queue.DLQEntry
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (m *memoryStore) InsertDeadLetter(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

func (m *memoryStore) DeleteDeadLetter(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (m *memoryStore) GetDeadLetter(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return queue.DLQEntry{}, queue.ErrEntryNotFound
}

// ListDeadLetters returns newest first, like the SQL store.
func (m *memoryStore) ListDeadLetters(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []queue.DLQEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if kind == "" || m.entries[i].Kind == kind {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return []queue.DLQEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) CountDeadLetters(ctx context.Context, kind string) (int64, error) {
	all, err := m.ListDeadLetters(ctx, kind, 0, 0)
	return int64(len(all)), err
}

func (m *memoryStore) DeadLetterSizes(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int64)
	for _, e := range m.entries {
		sizes[e.Kind]++
	}
	return sizes, nil
}

func (m *memoryStore) all() []queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// start runs w in the background; the returned stop cancels it and waits.
func start(t *testing.T, w queue.Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("worker returned %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Error("worker did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}
