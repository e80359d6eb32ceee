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

package blockdev

import "sync"

// MemoryDevice is an in-memory Device used by the storage and VM test
// suites in place of a real file, and optionally logs every Write call so tests can
// assert on write-back ordering (a dirty block evicted from the cache must
// reach the device before its slot is reused).
type MemoryDevice struct {
	mu      sync.Mutex
	sectors [][]byte

	// WriteLog, if non-nil, receives the sector number of every Write call
	// in order.
	WriteLog *[]uint32
}

// NewMemoryDevice creates a zero-initialized device of sectorCount sectors.
func NewMemoryDevice(sectorCount uint32) *MemoryDevice {
	sectors := make([][]byte, sectorCount)
	for i := range sectors {
		sectors[i] = make([]byte, SectorSize)
	}
	return &MemoryDevice{sectors: sectors}
}

func (d *MemoryDevice) Size() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.sectors))
}

func (d *MemoryDevice) Read(sector uint32, buf []byte) {
	checkBuf(buf)
	d.mu.Lock()
	defer d.mu.Unlock()
	checkSector(sector, uint32(len(d.sectors)))
	copy(buf, d.sectors[sector])
}

func (d *MemoryDevice) Write(sector uint32, buf []byte) {
	checkBuf(buf)
	d.mu.Lock()
	defer d.mu.Unlock()
	checkSector(sector, uint32(len(d.sectors)))
	copy(d.sectors[sector], buf)
	if d.WriteLog != nil {
		*d.WriteLog = append(*d.WriteLog, sector)
	}
}

func (d *MemoryDevice) Close() error { return nil }

var _ Device = (*MemoryDevice)(nil)
