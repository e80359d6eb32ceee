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

// Package freemap implements the free sector map: a persistent bitmap of
// free sectors, saved to and loaded from a regular file. It is
// intentionally a thin bitset, not a general container.
package freemap

import (
	"fmt"
	"os"
	"sync"
)

// Map is a free/allocated bitmap over a fixed number of sectors, persisted
// to a regular file. false = free, true = allocated.
type Map struct {
	mu   sync.Mutex
	bits []bool // one entry per sector
	path string
}

// Create initializes a brand-new, all-free map of the given sector count
// and persists it to path.
func Create(path string, sectorCount uint32) (*Map, error) {
	m := &Map{bits: make([]bool, sectorCount), path: path}
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

// Open loads a previously-created map back from path.
func Open(path string) (*Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("freemap: open %s: %w", path, err)
	}
	bits := make([]bool, len(raw))
	for i, b := range raw {
		bits[i] = b != 0
	}
	return &Map{bits: bits, path: path}, nil
}

// Close persists the current state to disk.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

func (m *Map) save() error {
	raw := make([]byte, len(m.bits))
	for i, b := range m.bits {
		if b {
			raw[i] = 1
		}
	}
	return os.WriteFile(m.path, raw, 0o644)
}

// Allocate finds `count` contiguous free sectors, marks them allocated, and
// returns the first sector number of the run. It returns false if no
// contiguous run of that size is free.
func (m *Map) Allocate(count uint32) (sector uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count == 0 {
		return 0, false
	}

	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < uint32(len(m.bits)); i++ {
		if m.bits[i] {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == count {
			for j := start; j < start+count; j++ {
				m.bits[j] = true
			}
			return start, true
		}
	}
	return 0, false
}

// Release returns `count` sectors starting at `sector` to the free pool.
func (m *Map) Release(sector, count uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := sector; i < sector+count; i++ {
		if i >= uint32(len(m.bits)) {
			panic("freemap: release out of range")
		}
		m.bits[i] = false
	}
}

// Test reports whether the given sector is currently allocated.
func (m *Map) Test(sector uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bits[sector]
}

// MarkAllocated is used by filesystem formatting to reserve a sector (e.g.
// the root directory inode sector) that was not obtained through Allocate.
func (m *Map) MarkAllocated(sector uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bits[sector] = true
}
