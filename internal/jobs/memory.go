package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory.
//
// It is not durable (everything is lost on restart) and not shared: two
// instances of the service each see only their own jobs. Use the SQL or Redis
// backends from the repository package when either matters.
type MemoryBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryEntry
}

type memoryEntry struct {
	rec      Record
	expireAt time.Time // zero: never
}

// NewMemoryBackend returns an empty backend. now may be nil (time.Now).
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{now: now, records: make(map[string]memoryEntry)}
}

// lookup returns the live entry for key; caller holds mu.
func (b *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	e, ok := b.records[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expireAt.IsZero() && !b.now().Before(e.expireAt) {
		delete(b.records, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key)
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return Record{Version: e.rec.Version, Job: e.rec.Job.Clone()}, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := memoryEntry{rec: Record{Version: rec.Version, Job: rec.Job.Clone()}}
	if ttl > 0 {
		e.expireAt = b.now().Add(ttl)
	}
	b.mu.Lock()
	b.records[key] = e
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.records, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) CompareAndSet(ctx context.Context, key string, expectedVersion uint64, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key)
	if !ok {
		return false, ErrRecordNotFound
	}
	if e.rec.Version != expectedVersion {
		return false, nil
	}
	e.rec = Record{Version: expectedVersion + 1, Job: rec.Job.Clone()}
	b.records[key] = e
	return true, nil
}

func (b *MemoryBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		if _, ok := b.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of live records.
func (b *MemoryBackend) Len() int {
	keys, _ := b.Keys(context.Background())
	return len(keys)
}
