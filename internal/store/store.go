// Package store keeps the latest reading per device for the HTTP API.
package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Reading struct {
	Address   string    `json:"address"`
	Metric    string    `json:"metric"`
	Value     int       `json:"value"`
	At        time.Time `json:"at"`
	Published bool      `json:"published"`
}

type Readings interface {
	Save(ctx context.Context, r Reading) error
	Get(ctx context.Context, address string) (Reading, bool, error)
	List(ctx context.Context) ([]Reading, error)
	// RemoveAllExcept drops readings of devices that are no longer configured.
	RemoveAllExcept(ctx context.Context, keep []string) ([]string, error)
}

type MemoryReadings struct {
	mu   sync.RWMutex
	byID map[string]Reading
}

func NewMemoryReadings() *MemoryReadings {
	return &MemoryReadings{byID: map[string]Reading{}}
}

func (m *MemoryReadings) Save(_ context.Context, r Reading) error {
	m.mu.Lock()
	m.byID[r.Address] = r
	m.mu.Unlock()
	return nil
}

func (m *MemoryReadings) Get(_ context.Context, address string) (Reading, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[address]
	return r, ok, nil
}

func (m *MemoryReadings) List(_ context.Context) ([]Reading, error) {
	m.mu.RLock()
	out := make([]Reading, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortReadings(out)
	return out, nil
}

func (m *MemoryReadings) RemoveAllExcept(_ context.Context, keep []string) ([]string, error) {
	set := keepSet(keep)
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for addr := range m.byID {
		if _, ok := set[addr]; ok {
			continue
		}
		delete(m.byID, addr)
		removed = append(removed, addr)
	}
	sort.Strings(removed)
	return removed, nil
}

func sortReadings(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Address < rs[j].Address })
}

func keepSet(keep []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
