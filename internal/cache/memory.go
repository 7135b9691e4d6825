package cache

import (
	"context"
	"sync"

	"iss-tracker-gateway/internal/fetch"
)

// MemoryStorage keeps every store in process memory. Contents are lost on
// restart, which makes it the backend of choice for tests and development.
type MemoryStorage struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
	order  []string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*MemoryStore)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stores[name]
	if !ok {
		st = &MemoryStore{name: name, items: make(map[string]*fetch.Response)}
		s.stores[name] = st
		s.order = append(s.order, name)
	}
	return st, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stores[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	s.order = removeString(s.order, name)
	return true, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// MemoryStore is a single in-memory cache. Keys are listed in insertion order.
type MemoryStore struct {
	name  string
	mu    sync.RWMutex
	items map[string]*fetch.Response
	order []string
}

func (c *MemoryStore) Name() string { return c.name }

func (c *MemoryStore) Match(_ context.Context, key string) (*fetch.Response, error) {
	c.mu.RLock()
	resp, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return resp.Clone(), nil
}

func (c *MemoryStore) Put(_ context.Context, key string, resp *fetch.Response) error {
	// Copy to decouple from caller's buffer
	valueCopy := resp.Clone()

	c.mu.Lock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = valueCopy
	c.mu.Unlock()

	return nil
}

func (c *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false, nil
	}
	delete(c.items, key)
	c.order = removeString(c.order, key)
	return true, nil
}

func (c *MemoryStore) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...), nil
}

// Len returns the number of items currently in the cache.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
