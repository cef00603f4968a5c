package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/deltaflow/pkg/metrics"
)

// MemoryStore is an in-process ObjectStore. It is safe for concurrent use
// and honours the PutIfAbsent contract atomically.
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data     []byte
	modified time.Time
}

// NewMemoryStore returns an empty store bound to bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memObject)}
}

func (m *MemoryStore) Bucket() string { return m.bucket }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := m.get(ctx, key)
	metrics.ObserveStorage("get", statusOf(err), time.Since(start))
	return data, err
}

func (m *MemoryStore) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, notFound(m.bucket, key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := m.put(ctx, key, data, false)
	metrics.ObserveStorage("put", statusOf(err), time.Since(start))
	return err
}

func (m *MemoryStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := m.put(ctx, key, data, true)
	metrics.ObserveStorage("put_if_absent", statusOf(err), time.Since(start))
	return err
}

func (m *MemoryStore) put(ctx context.Context, key string, data []byte, ifAbsent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok && ifAbsent {
		return exists(m.bucket, key)
	}
	m.objects[key] = memObject{data: buf, modified: time.Now()}
	return nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		metrics.ObserveStorage("head", "not_found", 0)
		return ObjectInfo{}, notFound(m.bucket, key)
	}
	metrics.ObserveStorage("head", "success", 0)
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]ObjectInfo, 0)
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	metrics.ObserveStorage("list", "success", 0)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	metrics.ObserveStorage("delete", "success", 0)
	return nil
}

// Keys returns every stored key in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
