package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ClientCache lazily builds one client per tenant and keeps it for the
// lifetime of the process. Concurrent first access for the same key builds
// the client once.
type ClientCache[T any] struct {
	mutex   sync.RWMutex
	clients map[string]T
	group   singleflight.Group
}

func NewClientCache[T any]() *ClientCache[T] {
	return &ClientCache[T]{
		clients: make(map[string]T),
	}
}

// Get returns the cached client for key or builds it with build.
func (c *ClientCache[T]) Get(ctx context.Context, key string, build func(ctx context.Context) (T, error)) (T, error) {
	c.mutex.RLock()
	client, ok := c.clients[key]
	c.mutex.RUnlock()
	if ok {
		return client, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mutex.RLock()
		existing, ok := c.clients[key]
		c.mutex.RUnlock()
		if ok {
			return existing, nil
		}

		built, err := build(ctx)
		if err != nil {
			return nil, err
		}

		c.mutex.Lock()
		c.clients[key] = built
		c.mutex.Unlock()

		return built, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return result.(T), nil
}

// Len returns the number of cached clients.
func (c *ClientCache[T]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.clients)
}

// Reset drops every cached client.
func (c *ClientCache[T]) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.clients = make(map[string]T)
}
