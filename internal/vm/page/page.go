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

// Package page implements the supplemental page table (SPTE) per process:
// lazy loading by category, stack growth, and the glue between a page
// fault and the frame table / swap area. The supplemental page table is a
// plain Go map keyed by the rounded-down user page address.
package page

import (
	"sync"

	"github.com/pintos-go/kernel/internal/vm/frame"
	"github.com/pintos-go/kernel/internal/vm/swap"
)

// PageSize mirrors frame.PageSize for readability in this package.
const PageSize = frame.PageSize

// NoSwapIndex marks an SPTE that is not currently swapped out.
const NoSwapIndex = ^uint32(0)

// NoKaddr marks an SPTE that is not currently resident.
const NoKaddr = uintptr(0)

// MaxStackSize bounds how far below the process's stack limit a fault may
// still be serviced by automatic stack growth.
const MaxStackSize = 4 * 1024 * 1024

// Category classifies how an SPTE is loaded and written back.
type Category int

const (
	Zero Category = iota
	File
	Stack
	Mmap
)

// Backing is the minimal file interface the page layer needs: read/write
// at a byte offset, satisfied by *inode.Inode. Declared here rather than
// imported directly so this package does not depend on the inode layer's
// locking internals.
type Backing interface {
	ReadAt(buf []byte, offset uint32) int
	WriteAt(buf []byte, offset uint32) int
}

// PageDirectory abstracts the hardware mapping a process's page table
// would otherwise hold; process/thread bring-up and the MMU glue are out
// of scope for this repository, so callers supply a PageDirectory
// implementation appropriate to their test or runtime harness.
type PageDirectory interface {
	Install(uaddr uintptr, kaddr uintptr, writable bool)
	Uninstall(uaddr uintptr)
	Accessed(uaddr uintptr) bool
	ClearAccessed(uaddr uintptr)
	Dirty(uaddr uintptr) bool
}

// SPTE is one supplemental page table entry.
type SPTE struct {
	mu sync.Mutex

	UAddr      uintptr
	kaddr      uintptr
	Writable   bool
	Category   Category
	File       Backing
	FileOffset uint32
	ReadBytes  uint32
	ZeroBytes  uint32
	swapIndex  uint32

	pd      PageDirectory
	swapDev *swap.Device
	mmapID  int
}

var _ frame.SPTE = (*SPTE)(nil)

func (s *SPTE) Lock()         { s.mu.Lock() }
func (s *SPTE) Unlock()       { s.mu.Unlock() }
func (s *SPTE) TryLock() bool { return s.mu.TryLock() }

// Accessed reports and mirrors the hardware-accessed bit.
func (s *SPTE) Accessed() bool { return s.pd.Accessed(s.UAddr) }

// ClearAccessed clears the hardware-accessed bit.
func (s *SPTE) ClearAccessed() { s.pd.ClearAccessed(s.UAddr) }

// ClearResident tears down the hardware mapping and marks this entry
// non-resident. The frame table's evictor calls Persist first to save the
// frame's contents, then calls this to finish reclaiming it.
func (s *SPTE) ClearResident() {
	s.pd.Uninstall(s.UAddr)
	s.kaddr = NoKaddr
}

func pageRoundDown(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// Table is one process's supplemental page table.
type Table struct {
	mu       sync.Mutex
	pd       PageDirectory
	frames   *frame.Table
	swapDev  *swap.Device
	capacity int
	entries  map[uintptr]*SPTE
}

// NewTable creates an empty supplemental page table for one process.
func NewTable(pd PageDirectory, frames *frame.Table, swapDev *swap.Device, frameCapacity int) *Table {
	return &Table{pd: pd, frames: frames, swapDev: swapDev, capacity: frameCapacity, entries: make(map[uintptr]*SPTE)}
}

func (t *Table) install(uaddr uintptr, spte *SPTE) {
	t.mu.Lock()
	t.entries[uaddr] = spte
	t.mu.Unlock()
}

// AddZero registers a demand-zero page at uaddr (must already be
// page-aligned).
func (t *Table) AddZero(uaddr uintptr, writable bool) *SPTE {
	s := &SPTE{UAddr: uaddr, Writable: writable, Category: Zero, swapIndex: NoSwapIndex, pd: t.pd, swapDev: t.swapDev}
	t.install(uaddr, s)
	return s
}

// AddFile registers a lazily-loaded file-backed page.
func (t *Table) AddFile(uaddr uintptr, writable bool, f Backing, offset, readBytes, zeroBytes uint32) *SPTE {
	s := &SPTE{UAddr: uaddr, Writable: writable, Category: File, File: f, FileOffset: offset,
		ReadBytes: readBytes, ZeroBytes: zeroBytes, swapIndex: NoSwapIndex, pd: t.pd, swapDev: t.swapDev}
	t.install(uaddr, s)
	return s
}

// AddMmap registers a memory-mapped file page belonging to mapping mmapID.
func (t *Table) AddMmap(uaddr uintptr, f Backing, offset, readBytes, zeroBytes uint32, mmapID int) *SPTE {
	s := &SPTE{UAddr: uaddr, Writable: true, Category: Mmap, File: f, FileOffset: offset,
		ReadBytes: readBytes, ZeroBytes: zeroBytes, swapIndex: NoSwapIndex, pd: t.pd, swapDev: t.swapDev, mmapID: mmapID}
	t.install(uaddr, s)
	return s
}

func (t *Table) lookup(uaddr uintptr) *SPTE {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[pageRoundDown(uaddr)]
}

// LoadPage services a page fault at faultAddr: if the page is already
// resident it optionally pins and returns; if it has a recorded swap slot
// it allocates a frame and swaps in; otherwise it dispatches by category.
// Reports false if there is no SPTE covering faultAddr (caller should then
// consider stack growth or fault the process).
func (t *Table) LoadPage(owner frame.Owner, faultAddr uintptr, pin bool) bool {
	s := t.lookup(faultAddr)
	if s == nil {
		return false
	}

	s.Lock()
	defer s.Unlock()

	if s.kaddr != NoKaddr {
		if pin {
			t.frames.Pin(s.kaddr)
		}
		return true
	}

	fte, ok := t.frames.Alloc(owner, s, t.capacity)
	if !ok {
		panic("page: frame allocation failed with every frame pinned")
	}

	page := fte.Data
	if s.swapIndex != NoSwapIndex {
		t.swapDev.In(s.swapIndex, page)
		s.swapIndex = NoSwapIndex
	} else {
		switch s.Category {
		case Zero, Stack:
			// page is already zeroed
		case File, Mmap:
			for i := range page {
				page[i] = 0
			}
			s.File.ReadAt(page[:s.ReadBytes], s.FileOffset)
		}
	}

	s.kaddr = fte.Kaddr
	t.pd.Install(s.UAddr, s.kaddr, s.Writable)

	if !pin {
		t.frames.Unpin(s.kaddr)
	}
	return true
}

// Persist is the frame table's eviction hook (frame.SPTE): it is called
// with this entry's SPTE lock already held and must save data, the
// frame's current contents, before the mapping is torn down. An Mmap page
// writes back to its file only if the hardware dirty bit is set;
// everything else is swapped out and records its new swap slot.
func (s *SPTE) Persist(data []byte) {
	if s.Category == Mmap {
		if s.pd.Dirty(s.UAddr) {
			s.File.WriteAt(data[:s.ReadBytes], s.FileOffset)
		}
		return
	}

	idx, err := s.swapDev.Out(data)
	if err != nil {
		panic("page: swap device full during eviction")
	}
	s.swapIndex = idx
}

// StackGrow creates a new Stack SPTE at the page containing faultAddr, only
// if faultAddr is within MaxStackSize of stackLimit and within a small
// bounded offset below stackPtr (the 4/32-byte PUSH/PUSHA heuristic).
// Returns false if the fault is not eligible for automatic growth.
func (t *Table) StackGrow(owner frame.Owner, faultAddr, stackPtr, stackLimit uintptr, pin bool) bool {
	if faultAddr+32 < stackPtr {
		return false
	}
	if faultAddr < stackLimit-MaxStackSize {
		return false
	}

	uaddr := pageRoundDown(faultAddr)
	s := &SPTE{UAddr: uaddr, Writable: true, Category: Stack, swapIndex: NoSwapIndex, pd: t.pd, swapDev: t.swapDev}
	t.install(uaddr, s)

	s.Lock()
	defer s.Unlock()

	fte, ok := t.frames.Alloc(owner, s, t.capacity)
	if !ok {
		panic("page: frame allocation failed with every frame pinned")
	}
	s.kaddr = fte.Kaddr
	t.pd.Install(uaddr, s.kaddr, true)
	// fte.Data starts zero-filled, matching the Zero/Stack load case.

	if !pin {
		t.frames.Unpin(s.kaddr)
	}
	return true
}

// FreePage releases the swap slot or frame backing uaddr, tears down the
// hardware mapping, and removes the entry from the table.
func (t *Table) FreePage(uaddr uintptr) {
	s := t.lookup(uaddr)
	if s == nil {
		return
	}

	s.Lock()
	if s.kaddr != NoKaddr {
		t.pd.Uninstall(s.UAddr)
		t.frames.Free(s.kaddr)
		s.kaddr = NoKaddr
	}
	if s.swapIndex != NoSwapIndex {
		t.swapDev.FreeSlot(s.swapIndex)
		s.swapIndex = NoSwapIndex
	}
	s.Unlock()

	t.mu.Lock()
	delete(t.entries, pageRoundDown(uaddr))
	t.mu.Unlock()
}

// FreeAll releases every SPTE owned by this table, used on process exit.
func (t *Table) FreeAll() {
	t.mu.Lock()
	addrs := make([]uintptr, 0, len(t.entries))
	for a := range t.entries {
		addrs = append(addrs, a)
	}
	t.mu.Unlock()

	for _, a := range addrs {
		t.FreePage(a)
	}
}

// FreeMmapFiles releases every SPTE belonging to mmapID, writing back any
// dirty Mmap pages to their backing file before discarding them.
func (t *Table) FreeMmapFiles(mmapID int) {
	t.mu.Lock()
	var victims []*SPTE
	for _, s := range t.entries {
		if s.Category == Mmap && s.mmapID == mmapID {
			victims = append(victims, s)
		}
	}
	t.mu.Unlock()

	for _, s := range victims {
		s.Lock()
		if s.kaddr != NoKaddr && t.pd.Dirty(s.UAddr) {
			if data := t.frames.DataFor(s.kaddr); data != nil {
				s.File.WriteAt(data[:s.ReadBytes], s.FileOffset)
			}
		}
		s.Unlock()
		t.FreePage(s.UAddr)
	}
}
