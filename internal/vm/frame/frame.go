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

// Package frame implements the frame table (FTE): a single global list of
// resident physical pages scanned by a clock hand for eviction, shared
// across all processes.
package frame

import (
	"sync"

	"github.com/pintos-go/kernel/internal/logger"
	"github.com/pintos-go/kernel/metrics"
)

// PageSize is the hardware page size backing every frame.
const PageSize = 4096

// Owner identifies the process an FTE belongs to, opaque to this package.
type Owner any

// SPTE is the minimal view frame needs of a supplemental page table entry,
// satisfied by *page.SPTE; kept as an interface here so frame does not
// import page (page imports frame instead, and this package stays ignorant
// of page categories).
type SPTE interface {
	// Accessed reports the hardware-accessed bit for this entry's current
	// mapping; ClearAccessed clears it.
	Accessed() bool
	ClearAccessed()

	// Persist saves the frame's current contents (data, exactly PageSize
	// bytes) before the mapping is torn down: an mmap page writes back to
	// its file if dirty, everything else is swapped out and records its
	// new swap slot. Called with the SPTE's own lock held by this package.
	Persist(data []byte)

	// ClearResident tears down the mapping: clears the stored kernel
	// address on the SPTE and unmaps it from the owning process's page
	// directory. Called with the SPTE's own lock held by this package.
	ClearResident()

	Lock()
	Unlock()

	// TryLock is the non-blocking form of Lock. The evictor holds the
	// frame-table lock while inspecting victims; it must not block on a
	// victim's SPTE lock there, because FreePage and the munmap write-back
	// path take the two locks in the opposite order.
	TryLock() bool
}

// FTE is one frame table entry. Data holds this frame's resident contents;
// this port has no separate physical-memory array, so the frame's bytes
// live directly on its FTE between page-in and eviction/free.
type FTE struct {
	Kaddr  uintptr
	Owner  Owner
	Spte   SPTE
	Pinned bool
	Data   []byte
}

// Table is the global frame table: one process-wide instance shared by
// every caller.
type Table struct {
	mu        sync.Mutex
	fte       []*FTE
	hand      int
	nextKaddr uintptr
}

// NewTable creates an empty frame table. startKaddr is the first kernel
// address handed out; frames are allocated sequentially from there since
// this port has no real physical allocator to wrap.
func NewTable(startKaddr uintptr) *Table {
	return &Table{nextKaddr: startKaddr}
}

// Alloc obtains a frame for spte, evicting a victim if the table has
// reached its configured capacity. The returned FTE is pinned; the caller
// installs the hardware mapping and calls Unpin when done. Every returned
// FTE's Data is a freshly allocated, zero-filled page, including when the
// frame was obtained by evicting a victim.
func (t *Table) Alloc(owner Owner, spte SPTE, capacity int) (*FTE, bool) {
	t.mu.Lock()

	if len(t.fte) >= capacity {
		victim, ok := t.evictLocked()
		if !ok {
			t.mu.Unlock()
			return nil, false
		}
		fte := &FTE{Kaddr: victim.Kaddr, Owner: owner, Spte: spte, Pinned: true, Data: make([]byte, PageSize)}
		t.fte = append(t.fte, fte)
		t.mu.Unlock()
		return fte, true
	}

	kaddr := t.nextKaddr
	t.nextKaddr += PageSize
	fte := &FTE{Kaddr: kaddr, Owner: owner, Spte: spte, Pinned: true, Data: make([]byte, PageSize)}
	t.fte = append(t.fte, fte)
	t.mu.Unlock()
	return fte, true
}

// DataFor returns the resident byte slice backing kaddr, or nil if kaddr is
// not currently resident. Used by the page layer to read a frame's current
// contents for an explicit write-back (munmap) outside of eviction.
func (t *Table) DataFor(kaddr uintptr) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.fte {
		if f.Kaddr == kaddr {
			return f.Data
		}
	}
	return nil
}

// evictLocked advances the clock hand to find an unpinned, unaccessed
// victim, persists its contents, removes its FTE from the table, and
// returns it. Returns ok=false if every frame is pinned.
func (t *Table) evictLocked() (*FTE, bool) {
	if len(t.fte) == 0 {
		return nil, false
	}

	scanned := 0
	maxScans := 2 * len(t.fte)
	for scanned < maxScans {
		if t.hand >= len(t.fte) {
			t.hand = 0
		}
		victim := t.fte[t.hand]
		scanned++

		if victim.Pinned {
			t.hand = (t.hand + 1) % len(t.fte)
			continue
		}

		// A contended SPTE is being freed or written back concurrently;
		// treat it like a pinned frame and move on.
		if !victim.Spte.TryLock() {
			t.hand = (t.hand + 1) % len(t.fte)
			continue
		}
		if victim.Spte.Accessed() {
			victim.Spte.ClearAccessed()
			victim.Spte.Unlock()
			t.hand = (t.hand + 1) % len(t.fte)
			continue
		}

		victim.Spte.Persist(victim.Data)
		victim.Spte.ClearResident()
		victim.Spte.Unlock()
		t.removeAtLocked(t.hand)
		metrics.FrameEvictions.Inc()
		logger.Debugf("frame: evicted kaddr 0x%x", victim.Kaddr)
		return victim, true
	}
	return nil, false
}

func (t *Table) removeAtLocked(idx int) {
	t.fte = append(t.fte[:idx], t.fte[idx+1:]...)
	if t.hand > idx {
		t.hand--
	}
	if t.hand >= len(t.fte) {
		t.hand = 0
	}
}

// Free removes the FTE for kaddr, used when a page is explicitly unmapped
// rather than evicted (munmap, process exit, swap-in replacing residency).
func (t *Table) Free(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, f := range t.fte {
		if f.Kaddr == kaddr {
			t.removeAtLocked(i)
			return
		}
	}
}

// FreeOwner removes every FTE belonging to owner, used on process exit.
func (t *Table) FreeOwner(owner Owner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.fte[:0]
	for _, f := range t.fte {
		if f.Owner != owner {
			kept = append(kept, f)
		}
	}
	t.fte = kept
	if t.hand >= len(t.fte) {
		t.hand = 0
	}
}

// Pin marks kaddr's frame ineligible for eviction.
func (t *Table) Pin(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.fte {
		if f.Kaddr == kaddr {
			f.Pinned = true
			return
		}
	}
}

// Unpin clears the pinned flag for kaddr's frame.
func (t *Table) Unpin(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.fte {
		if f.Kaddr == kaddr {
			f.Pinned = false
			return
		}
	}
}

// UnpinOwner clears the pinned flag on every frame owned by owner, called
// at each syscall exit so pages touched only transiently by the kernel
// become eligible for reclaim again.
func (t *Table) UnpinOwner(owner Owner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.fte {
		if f.Owner == owner {
			f.Pinned = false
		}
	}
}

// Count returns the number of live FTEs, used by tests asserting the
// frame-accounting invariant.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fte)
}
