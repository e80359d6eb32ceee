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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSPTE is a minimal SPTE double used only to exercise the frame table's
// eviction bookkeeping in isolation.
type fakeSPTE struct {
	accessed  bool
	resident  bool
	persisted []byte
}

func (s *fakeSPTE) Accessed() bool      { return s.accessed }
func (s *fakeSPTE) ClearAccessed()      { s.accessed = false }
func (s *fakeSPTE) Persist(data []byte) { s.persisted = append([]byte(nil), data...) }
func (s *fakeSPTE) ClearResident()      { s.resident = false }
func (s *fakeSPTE) Lock()               {}
func (s *fakeSPTE) Unlock()             {}
func (s *fakeSPTE) TryLock() bool       { return true }

func TestAllocTracksCountUpToCapacity(t *testing.T) {
	tbl := NewTable(0x1000)
	for i := 0; i < 3; i++ {
		_, ok := tbl.Alloc(i, &fakeSPTE{resident: true}, 3)
		require.True(t, ok)
	}
	assert.Equal(t, 3, tbl.Count())
}

func TestAllocEvictsUnaccessedVictimAtCapacity(t *testing.T) {
	tbl := NewTable(0x1000)
	victim := &fakeSPTE{resident: true}
	fte, ok := tbl.Alloc("owner-a", victim, 1)
	require.True(t, ok)
	fte.Data[0] = 0xAB
	tbl.Unpin(fte.Kaddr)

	_, ok = tbl.Alloc("owner-b", &fakeSPTE{resident: true}, 1)
	require.True(t, ok)

	assert.Equal(t, 1, tbl.Count())
	assert.False(t, victim.resident, "evicted victim's SPTE must be cleared resident")
	assert.Equal(t, fte.Data, victim.persisted, "evicted victim's frame contents must be handed to Persist before reuse")
}

func TestEvictionSkipsPinnedFrames(t *testing.T) {
	tbl := NewTable(0x1000)
	fte, ok := tbl.Alloc("only", &fakeSPTE{resident: true}, 1)
	require.True(t, ok)
	assert.True(t, fte.Pinned, "freshly allocated frames start pinned")

	_, ok = tbl.Alloc("other", &fakeSPTE{resident: true}, 1)
	assert.False(t, ok, "eviction must fail when every frame is pinned")
}

func TestFreeOwnerRemovesOnlyThatOwnersFrames(t *testing.T) {
	tbl := NewTable(0x1000)
	tbl.Alloc("a", &fakeSPTE{}, 4)
	tbl.Alloc("a", &fakeSPTE{}, 4)
	tbl.Alloc("b", &fakeSPTE{}, 4)

	tbl.FreeOwner("a")
	assert.Equal(t, 1, tbl.Count())
}

func TestPinUnpinRoundTrip(t *testing.T) {
	tbl := NewTable(0x1000)
	fte, ok := tbl.Alloc("x", &fakeSPTE{resident: true}, 1)
	require.True(t, ok)

	tbl.Unpin(fte.Kaddr)
	tbl.Pin(fte.Kaddr)

	_, ok = tbl.Alloc("y", &fakeSPTE{resident: true}, 1)
	assert.False(t, ok, "re-pinned frame must not be evicted")
}
