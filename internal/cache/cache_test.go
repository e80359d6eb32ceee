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

package cache

import (
	"testing"
	"time"

	"github.com/pintos-go/kernel/clock"
	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dev := blockdev.NewMemoryDevice(8)
	c := New(dev)

	buf := make([]byte, blockdev.SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	c.Write(3, buf)

	out := make([]byte, blockdev.SectorSize)
	c.Read(3, out)
	assert.Equal(t, buf, out)
}

func TestWriteMissPreservesBytesOutsideRegion(t *testing.T) {
	dev := blockdev.NewMemoryDevice(4)
	preset := make([]byte, blockdev.SectorSize)
	for i := range preset {
		preset[i] = 0xAB
	}
	dev.Write(0, preset)

	c := New(dev)
	partial := []byte{1, 2, 3, 4}
	c.Write(0, append(partial, preset[len(partial):]...))

	out := make([]byte, blockdev.SectorSize)
	c.Read(0, out)
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, byte(0xAB), out[len(partial)])
}

func TestZeroFillsAndMarksDirty(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	c := New(dev)
	c.Zero(0)

	out := make([]byte, blockdev.SectorSize)
	c.Read(0, out)
	for _, b := range out {
		assert.Equal(t, byte(0), b)
	}
}

func TestEvictionWritesDirtyBlockBeforeReplacement(t *testing.T) {
	var log []uint32
	dev := blockdev.NewMemoryDevice(PoolSize + 1)
	dev.WriteLog = &log

	c := New(dev)
	buf := make([]byte, blockdev.SectorSize)
	for i := uint32(0); i < PoolSize+1; i++ {
		buf[0] = byte(i)
		c.Write(i, buf)
	}

	require.NotEmpty(t, log, "the 65th write must have caused at least one eviction write-back")

	var readBack [blockdev.SectorSize]byte
	dev.Read(log[0], readBack[:])
}

// TestWriteBehindFlushesOnSimulatedTick drives StartWriteBehind's daemon
// with a clock.SimulatedClock instead of a real one, so the sweep fires on a
// deterministic simulated tick rather than a real wall-clock sleep.
func TestWriteBehindFlushesOnSimulatedTick(t *testing.T) {
	dev := blockdev.NewMemoryDevice(4)
	c := New(dev)
	full := make([]byte, blockdev.SectorSize)
	copy(full, []byte("dirty block flushed by the write-behind daemon"))
	c.Write(2, full)

	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	const interval = 10 * time.Millisecond
	c.StartWriteBehind(sc, interval)
	defer c.Close()

	// The daemon's first clk.After(interval) call races with this
	// goroutine; advancing in a loop guarantees the advance lands after
	// the daemon has registered its pending request at least once.
	require.Eventually(t, func() bool {
		sc.AdvanceTime(interval)
		var out [blockdev.SectorSize]byte
		dev.Read(2, out[:])
		return string(out[:]) == string(full)
	}, time.Second, time.Millisecond, "write-behind sweep never flushed the dirty block")
}

func TestCloseFlushesAllDirtyBlocks(t *testing.T) {
	dev := blockdev.NewMemoryDevice(4)
	c := New(dev)
	buf := []byte("hello world, this is a dirty sector that must survive close")
	full := make([]byte, blockdev.SectorSize)
	copy(full, buf)
	c.Write(1, full)

	require.NoError(t, c.Close())

	var out [blockdev.SectorSize]byte
	dev.Read(1, out[:])
	assert.Equal(t, full, out[:])
}
