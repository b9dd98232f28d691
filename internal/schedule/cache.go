package schedule

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

// SlotCache caches computed day schedules keyed by (doctor, date). Entries
// are invalidated by the coordinator after every successful ledger or window
// write, so a hit is at worst as stale as the last write by another process;
// the authoritative conflict check still happens at insert time.
type SlotCache struct {
	cache *lru.Cache[string, []Slot]
	mu    sync.RWMutex
}

func NewSlotCache(size int) (*SlotCache, error) {
	c, err := lru.New[string, []Slot](size)
	if err != nil {
		return nil, fmt.Errorf("create slot cache: %w", err)
	}
	return &SlotCache{cache: c}, nil
}

func cacheKey(doctorID uuid.UUID, date Date) string {
	return doctorID.String() + ":" + date.String()
}

func (c *SlotCache) Get(doctorID uuid.UUID, date Date) ([]Slot, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Get(cacheKey(doctorID, date))
}

func (c *SlotCache) Put(doctorID uuid.UUID, date Date, slots []Slot) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(cacheKey(doctorID, date), slots)
}

func (c *SlotCache) Invalidate(doctorID uuid.UUID, date Date) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cacheKey(doctorID, date))
}
