// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the sector-granularity write-back block cache
// (BC) that every storage layer above it reads and writes through. It is
// the single point of contact with the filesystem block device; the swap
// area (internal/vm/swap) reads and writes its own device directly.
package cache

import (
	"sync"
	"time"

	"github.com/pintos-go/kernel/clock"
	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/logger"
	"github.com/pintos-go/kernel/metrics"
)

// PoolSize is the fixed number of cache blocks.
const PoolSize = 64

// DefaultWriteBehindInterval is the design constant of 1 000 timer ticks
// between write-behind sweeps, translated into wall-clock time since this
// kernel has no separate timer-tick subsystem: one tick is treated as one
// millisecond, so the daemon wakes every second by default.
const DefaultWriteBehindInterval = 1000 * time.Millisecond

type block struct {
	sector   uint32 // resident sector, or blockdev.NoSector
	valid    bool   // true once ever used; false means a genuinely free slot
	dirty    bool
	accessed bool
	data     [blockdev.SectorSize]byte
}

// Cache is the block cache. Every exported method serializes on mu for its
// entire body, matching the "single cache-wide lock held for the entire
// body" discipline of the layer above.
type Cache struct {
	mu     sync.Mutex
	dev    blockdev.Device
	blocks []*block
	hand   int // clock hand, index into blocks

	stopWriteBehind chan struct{}
	wbDone          chan struct{}
}

// New creates a cache over dev with the default pool size.
func New(dev blockdev.Device) *Cache {
	return NewSized(dev, PoolSize)
}

// NewSized creates a cache of poolSize blocks, all initially free. Sizes
// other than the default exist for configuration and tests that want to
// force eviction cheaply.
func NewSized(dev blockdev.Device, poolSize int) *Cache {
	c := &Cache{dev: dev, blocks: make([]*block, poolSize)}
	for i := range c.blocks {
		c.blocks[i] = &block{sector: blockdev.NoSector}
	}
	return c
}

// Read copies the contents of sector into buf, which must be exactly
// blockdev.SectorSize bytes. The sector becomes resident and its accessed
// flag is set.
func (c *Cache) Read(sector uint32, buf []byte) {
	checkBuf(buf)
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.lookupOrFetch(sector)
	copy(buf, b.data[:])
	b.accessed = true
}

// Write overwrites sector with the contents of buf. If the sector was not
// already resident, its current contents are read first so bytes outside
// the caller's buffer are preserved.
func (c *Cache) Write(sector uint32, buf []byte) {
	checkBuf(buf)
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.lookupOrFetch(sector)
	copy(b.data[:], buf)
	b.dirty = true
	b.accessed = true
}

// Zero fills sector with zero bytes in cache and marks it dirty, without
// reading the old contents from disk first.
func (c *Cache) Zero(sector uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.allocFor(sector)
	for i := range b.data {
		b.data[i] = 0
	}
	b.dirty = true
	b.accessed = true
}

// Close flushes every dirty resident block to the device.
func (c *Cache) Close() error {
	if c.stopWriteBehind != nil {
		close(c.stopWriteBehind)
		<-c.wbDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushAllLocked()
	return c.dev.Close()
}

// lookupOrFetch returns the resident block for sector, reading it from the
// device on a miss.
func (c *Cache) lookupOrFetch(sector uint32) *block {
	if b := c.find(sector); b != nil {
		return b
	}
	b := c.allocFor(sector)
	c.dev.Read(sector, b.data[:])
	return b
}

// allocFor returns a block ready to hold sector: either the already-resident
// block (contents untouched, for Write's preserve-other-bytes path) or a
// freshly evicted/free slot whose sector tag has been set.
func (c *Cache) allocFor(sector uint32) *block {
	if b := c.find(sector); b != nil {
		return b
	}

	b := c.evictLocked()
	b.sector = sector
	b.valid = true
	b.dirty = false
	b.accessed = false
	return b
}

func (c *Cache) find(sector uint32) *block {
	for _, b := range c.blocks {
		if b.valid && b.sector == sector {
			return b
		}
	}
	return nil
}

// evictLocked returns a free slot, evicting via second-chance if the pool is
// full. mu must already be held.
func (c *Cache) evictLocked() *block {
	for _, b := range c.blocks {
		if !b.valid {
			return b
		}
	}

	for {
		victim := c.blocks[c.hand]
		if victim.accessed {
			victim.accessed = false
			c.hand = (c.hand + 1) % len(c.blocks)
			continue
		}
		c.hand = (c.hand + 1) % len(c.blocks)
		if victim.dirty {
			c.dev.Write(victim.sector, victim.data[:])
			metrics.CacheWriteBacks.Inc()
			victim.dirty = false
		}
		metrics.CacheEvictions.Inc()
		return victim
	}
}

func (c *Cache) flushAllLocked() {
	for _, b := range c.blocks {
		if b.valid && b.dirty {
			c.dev.Write(b.sector, b.data[:])
			b.dirty = false
		}
	}
}

// StartWriteBehind launches the background flush daemon, waking every
// interval according to clk. Call at most once per Cache.
func (c *Cache) StartWriteBehind(clk clock.Clock, interval time.Duration) {
	c.stopWriteBehind = make(chan struct{})
	c.wbDone = make(chan struct{})

	go func() {
		defer close(c.wbDone)
		for {
			select {
			case <-c.stopWriteBehind:
				return
			case <-clk.After(interval):
				c.sweepWriteBehind()
			}
		}
	}()
}

// sweepWriteBehind flushes every dirty block, re-acquiring the cache lock
// for each block rather than holding it for the whole sweep, so foreground
// I/O is never stalled behind a full flush.
func (c *Cache) sweepWriteBehind() {
	for i := range c.blocks {
		c.mu.Lock()
		b := c.blocks[i]
		if b.valid && b.dirty {
			c.dev.Write(b.sector, b.data[:])
			metrics.CacheWriteBacks.Inc()
			b.dirty = false
			logger.Tracef("cache: write-behind flushed sector %d", b.sector)
		}
		c.mu.Unlock()
	}
}

func checkBuf(buf []byte) {
	if len(buf) != blockdev.SectorSize {
		panic("cache: buffer must be exactly one sector")
	}
}
