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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	dev := NewMemoryDevice(4)
	require.Equal(t, uint32(4), dev.Size())

	var in [SectorSize]byte
	for i := range in {
		in[i] = byte(i)
	}
	dev.Write(2, in[:])

	var out [SectorSize]byte
	dev.Read(2, out[:])
	assert.Equal(t, in, out)
}

func TestMemoryDeviceWriteLogRecordsOrder(t *testing.T) {
	var log []uint32
	dev := NewMemoryDevice(4)
	dev.WriteLog = &log

	buf := make([]byte, SectorSize)
	dev.Write(0, buf)
	dev.Write(3, buf)
	dev.Write(1, buf)

	assert.Equal(t, []uint32{0, 3, 1}, log)
}

func TestMemoryDeviceWriteWrongSizePanics(t *testing.T) {
	dev := NewMemoryDevice(2)
	assert.Panics(t, func() {
		dev.Write(0, make([]byte, 10))
	})
}

func TestMemoryDeviceOutOfRangePanics(t *testing.T) {
	dev := NewMemoryDevice(2)
	buf := make([]byte, SectorSize)
	assert.Panics(t, func() {
		dev.Read(5, buf)
	})
}
