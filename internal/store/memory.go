package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// Memory keeps drafts in a map.
type Memory struct {
	mu     sync.RWMutex
	drafts map[string]Draft
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		drafts: make(map[string]Draft),
		now:    time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, token string) (Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[token]
	if !ok {
		return Draft{}, ErrNotFound
	}
	d.Data = slices.Clone(d.Data)
	return d, nil
}

func (m *Memory) SetVersion(ctx context.Context, token string, v quest.FormType) error {
	return m.update(token, func(d *Draft) {
		d.Version = v
	})
}

func (m *Memory) SaveData(ctx context.Context, token string, data json.RawMessage) error {
	return m.update(token, func(d *Draft) {
		d.Data = slices.Clone(data)
	})
}

func (m *Memory) Submit(ctx context.Context, token, slug string, data json.RawMessage) error {
	return m.update(token, func(d *Draft) {
		d.Data = slices.Clone(data)
		d.ProductSlug = slug
		d.Submitted = true
	})
}

func (m *Memory) update(token string, fn func(*Draft)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[token]
	if !ok {
		d = Draft{Token: token}
	}
	if d.Submitted {
		return ErrSubmitted
	}
	fn(&d)
	d.UpdatedAt = m.now().UTC()
	m.drafts[token] = d
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }
