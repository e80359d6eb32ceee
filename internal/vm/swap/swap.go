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

// Package swap implements the swap area: a page-sized slot bitmap layered
// directly over a block device. No block cache sits in front of swap;
// swapped pages are never read twice in a row, so caching them would only
// evict useful filesystem blocks.
package swap

import (
	"sync"

	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/vm/frame"
	"github.com/pintos-go/kernel/kerrors"
	"github.com/pintos-go/kernel/metrics"
)

// SectorsPerPage is the number of device sectors one page-sized swap slot
// occupies.
const SectorsPerPage = frame.PageSize / blockdev.SectorSize

// Device is the swap area: a bitmap of occupied slots over dev.
type Device struct {
	mu     sync.Mutex
	dev    blockdev.Device
	occupied []bool
}

// New creates a swap area over dev, sized to however many whole
// SectorsPerPage-sized slots it holds.
func New(dev blockdev.Device) *Device {
	slots := dev.Size() / SectorsPerPage
	return &Device{dev: dev, occupied: make([]bool, slots)}
}

// SlotCount returns how many page-sized slots this swap area holds.
func (d *Device) SlotCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.occupied)
}

// Out finds the first free slot, flips it occupied, writes page (which must
// be exactly frame.PageSize bytes) to it, and returns its index.
func (d *Device) Out(page []byte) (uint32, error) {
	checkPage(page)
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, occ := range d.occupied {
		if !occ {
			d.occupied[i] = true
			d.writeSlotLocked(uint32(i), page)
			metrics.SwapSlotsInUse.Inc()
			return uint32(i), nil
		}
	}
	return 0, kerrors.ErrNoSpace
}

// In reads slot back into page and frees it.
func (d *Device) In(index uint32, page []byte) {
	checkPage(page)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assertValidLocked(index)

	d.readSlotLocked(index, page)
	d.occupied[index] = false
	metrics.SwapSlotsInUse.Dec()
}

// FreeSlot frees slot without reading it back, used when a swapped page is
// discarded rather than loaded (e.g. process exit).
func (d *Device) FreeSlot(index uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assertValidLocked(index)
	if d.occupied[index] {
		d.occupied[index] = false
		metrics.SwapSlotsInUse.Dec()
	}
}

func (d *Device) writeSlotLocked(index uint32, page []byte) {
	base := index * SectorsPerPage
	for i := uint32(0); i < SectorsPerPage; i++ {
		d.dev.Write(base+i, page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
}

func (d *Device) readSlotLocked(index uint32, page []byte) {
	base := index * SectorsPerPage
	for i := uint32(0); i < SectorsPerPage; i++ {
		d.dev.Read(base+i, page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
}

func (d *Device) assertValidLocked(index uint32) {
	if index >= uint32(len(d.occupied)) {
		panic("swap: slot index out of range")
	}
}

func checkPage(page []byte) {
	if len(page) != frame.PageSize {
		panic("swap: page buffer must be exactly one page")
	}
}
