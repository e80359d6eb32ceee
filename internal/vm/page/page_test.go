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

package page

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/vm/frame"
	"github.com/pintos-go/kernel/internal/vm/swap"
)

// fakePD is a minimal PageDirectory double: it records installed mappings
// and lets tests drive the hardware accessed/dirty bits directly, since
// there is no real MMU in this harness.
type fakePD struct {
	mu        sync.Mutex
	installed map[uintptr]uintptr
	accessed  map[uintptr]bool
	dirty     map[uintptr]bool
}

func newFakePD() *fakePD {
	return &fakePD{
		installed: make(map[uintptr]uintptr),
		accessed:  make(map[uintptr]bool),
		dirty:     make(map[uintptr]bool),
	}
}

func (p *fakePD) Install(uaddr, kaddr uintptr, writable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installed[uaddr] = kaddr
}

func (p *fakePD) Uninstall(uaddr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.installed, uaddr)
}

func (p *fakePD) Accessed(uaddr uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessed[uaddr]
}

func (p *fakePD) ClearAccessed(uaddr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessed[uaddr] = false
}

func (p *fakePD) Dirty(uaddr uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty[uaddr]
}

func (p *fakePD) SetDirty(uaddr uintptr, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty[uaddr] = v
}

func (p *fakePD) kaddrFor(uaddr uintptr) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installed[uaddr]
}

func (p *fakePD) isInstalled(uaddr uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.installed[uaddr]
	return ok
}

// fakeFile is a Backing double over a plain byte slice.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []byte, offset uint32) int {
	if int(offset) >= len(f.data) {
		return 0
	}
	n := copy(buf, f.data[offset:])
	return n
}

func (f *fakeFile) WriteAt(buf []byte, offset uint32) int {
	end := int(offset) + len(buf)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[offset:], buf)
}

func newSwapDev(t *testing.T, slots uint32) *swap.Device {
	t.Helper()
	dev := blockdev.NewMemoryDevice(slots * swap.SectorsPerPage)
	return swap.New(dev)
}

func TestLoadPageZeroCategoryFaultsInAZeroedFrame(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 4)

	tbl.AddZero(0x2000, true)
	ok := tbl.LoadPage("p1", 0x2000, false)
	require.True(t, ok)

	require.True(t, pd.isInstalled(0x2000))
	data := frames.DataFor(pd.kaddrFor(0x2000))
	for _, b := range data {
		assert.Equal(t, byte(0), b)
	}
}

func TestLoadPageFileCategoryReadsThenZeroFillsRemainder(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 4)

	backing := &fakeFile{data: []byte("HELLO")}
	tbl.AddFile(0x2000, true, backing, 0, 5, uint32(PageSize-5))
	ok := tbl.LoadPage("p1", 0x2000, false)
	require.True(t, ok)

	data := frames.DataFor(pd.kaddrFor(0x2000))
	assert.Equal(t, []byte("HELLO"), data[:5])
	for _, b := range data[5:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestEvictionSwapsOutAndSwapInRestoresExactBytes(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 1) // capacity 1 forces eviction on the 2nd page

	tbl.AddZero(0x2000, true)
	require.True(t, tbl.LoadPage("p1", 0x2000, false))

	kaddr1 := pd.kaddrFor(0x2000)
	data1 := frames.DataFor(kaddr1)
	data1[0] = 0xAA
	data1[PageSize-1] = 0xBB

	// A second fault at capacity forces the first page to be evicted.
	tbl.AddZero(0x3000, true)
	require.True(t, tbl.LoadPage("p1", 0x3000, false))
	assert.False(t, pd.isInstalled(0x2000), "evicted page's mapping must be torn down")

	// Faulting the first page back in must swap its exact bytes back.
	require.True(t, tbl.LoadPage("p1", 0x2000, false))
	kaddr1b := pd.kaddrFor(0x2000)
	restored := frames.DataFor(kaddr1b)
	assert.Equal(t, byte(0xAA), restored[0])
	assert.Equal(t, byte(0xBB), restored[PageSize-1])
}

func TestEvictionWritesBackDirtyMmapPage(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 1)

	backing := &fakeFile{data: make([]byte, PageSize)}
	tbl.AddMmap(0x2000, backing, 0, PageSize, 0, 1)
	require.True(t, tbl.LoadPage("p1", 0x2000, false))

	kaddr := pd.kaddrFor(0x2000)
	data := frames.DataFor(kaddr)
	data[0] = 0x55
	pd.SetDirty(0x2000, true)

	tbl.AddZero(0x3000, true)
	require.True(t, tbl.LoadPage("p1", 0x3000, false))

	assert.Equal(t, byte(0x55), backing.data[0], "dirty mmap page must be written back on eviction")
}

func TestFreeMmapFilesWritesBackOnlyDirtyPages(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 4)

	dirtyBacking := &fakeFile{data: make([]byte, PageSize)}
	cleanBacking := &fakeFile{data: []byte{0x99}}
	for i := 1; i < PageSize; i++ {
		cleanBacking.data = append(cleanBacking.data, 0)
	}

	tbl.AddMmap(0x2000, dirtyBacking, 0, PageSize, 0, 7)
	tbl.AddMmap(0x3000, cleanBacking, 0, PageSize, 0, 7)
	require.True(t, tbl.LoadPage("p1", 0x2000, false))
	require.True(t, tbl.LoadPage("p1", 0x3000, false))

	frames.DataFor(pd.kaddrFor(0x2000))[0] = 0x7E
	pd.SetDirty(0x2000, true)
	pd.SetDirty(0x3000, false)

	tbl.FreeMmapFiles(7)

	assert.Equal(t, byte(0x7E), dirtyBacking.data[0], "dirty mmap page writes back on munmap")
	assert.Equal(t, byte(0x99), cleanBacking.data[0], "clean mmap page is discarded, not rewritten")
	assert.False(t, tbl.LoadPage("p2", 0x2000, false), "munmapped page must no longer be resolvable")
	assert.False(t, tbl.LoadPage("p2", 0x3000, false))
}

func TestStackGrowZeroFillsANewPage(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 4)

	stackLimit := uintptr(0x80000000)
	stackPtr := stackLimit - PageSize + 16
	faultAddr := stackPtr - 4

	ok := tbl.StackGrow("p1", faultAddr, stackPtr, stackLimit, false)
	require.True(t, ok)

	kaddr := pd.kaddrFor(pageRoundDown(faultAddr))
	data := frames.DataFor(kaddr)
	for _, b := range data {
		assert.Equal(t, byte(0), b)
	}
}

func TestStackGrowRejectsFaultsOutsideTheHeuristicWindow(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 4)
	tbl := NewTable(pd, frames, swapDev, 4)

	stackLimit := uintptr(0x80000000)
	stackPtr := stackLimit - PageSize + 16

	assert.False(t, tbl.StackGrow("p1", stackPtr-1000, stackPtr, stackLimit, false))
	assert.False(t, tbl.StackGrow("p1", stackLimit-MaxStackSize-PageSize, stackPtr, stackLimit, false))
}

func TestFreePageReleasesSwapSlot(t *testing.T) {
	pd := newFakePD()
	frames := frame.NewTable(0x1000)
	swapDev := newSwapDev(t, 1)
	tbl := NewTable(pd, frames, swapDev, 1)

	tbl.AddZero(0x2000, true)
	require.True(t, tbl.LoadPage("p1", 0x2000, false))
	tbl.AddZero(0x3000, true)
	require.True(t, tbl.LoadPage("p1", 0x3000, false)) // evicts 0x2000 to swap

	tbl.FreePage(0x2000)

	// The freed swap slot must be reusable; a third page should be able to
	// swap out without the device reporting full.
	tbl.AddZero(0x4000, true)
	require.True(t, tbl.LoadPage("p1", 0x4000, false)) // evicts 0x3000 to swap, reusing the freed slot
}
