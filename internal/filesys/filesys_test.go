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

package filesys

import (
	"path/filepath"
	"testing"

	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/cache"
	"github.com/pintos-go/kernel/kerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesys(t *testing.T, sectors uint32) *Filesys {
	t.Helper()
	dev := blockdev.NewMemoryDevice(sectors)
	fs, err := Format(dev, filepath.Join(t.TempDir(), "freemap"), cache.PoolSize)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

// A file created at the bottom of a mkdir chain must read back exactly
// what was written, with its own inode identity.
func TestDeepPathCreateRoundTrips(t *testing.T) {
	fs := newTestFilesys(t, 512)

	require.NoError(t, fs.Mkdir("/a"))
	require.NoError(t, fs.Mkdir("/a/b"))
	require.NoError(t, fs.Mkdir("/a/b/c"))
	require.NoError(t, fs.Create("/a/b/c/file", 200, false))

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i % 251)
	}

	f, err := fs.Open("/a/b/c/file")
	require.NoError(t, err)
	n := f.Write(data)
	assert.Equal(t, len(data), n)
	f.Close(fs.Registry)

	f, err = fs.Open("/a/b/c/file")
	require.NoError(t, err)
	defer f.Close(fs.Registry)
	out := make([]byte, len(data))
	n = f.Read(out)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)

	fileIn, err := fs.Open("/a/b/c/file")
	require.NoError(t, err)
	defer fileIn.Close(fs.Registry)
	dirIn, err := fs.Open("/a/b/c")
	require.NoError(t, err)
	defer dirIn.Close(fs.Registry)
	assert.NotEqual(t, dirIn.Inumber(), fileIn.Inumber())
}

// Writing far past EOF extends through the indirect range; the gap reads
// as zero and the tail lands where it was written.
func TestSparseExtensionZeroFillsGapAndPlacesTail(t *testing.T) {
	fs := newTestFilesys(t, 512)
	require.NoError(t, fs.Create("/sparse", 0, false))

	f, err := fs.Open("/sparse")
	require.NoError(t, err)
	defer f.Close(fs.Registry)

	offset := uint32(12*512 + 128*512 + 100)
	f.Seek(offset)
	n := f.Write([]byte("HELLO"))
	assert.Equal(t, 5, n)
	assert.Equal(t, offset+5, f.In.Length())

	zero := make([]byte, 1)
	f.Seek(0)
	f.Read(zero)
	assert.Equal(t, byte(0), zero[0])

	f.Seek(12 * 512)
	f.Read(zero)
	assert.Equal(t, byte(0), zero[0])

	hello := make([]byte, 5)
	f.Seek(offset)
	f.Read(hello)
	assert.Equal(t, "HELLO", string(hello))
}

// An unlinked file stays readable through open handles; its sectors return
// to the free map only at last close.
func TestRemoveWhileOpenStillReadable(t *testing.T) {
	fs := newTestFilesys(t, 512)
	require.NoError(t, fs.Create("/x", 0, false))

	f, err := fs.Open("/x")
	require.NoError(t, err)
	f.Write([]byte("still here"))
	f.Seek(0)

	require.NoError(t, fs.Remove("/x"))

	out := make([]byte, len("still here"))
	n := f.Read(out)
	assert.Equal(t, len(out), n)
	assert.Equal(t, "still here", string(out))

	sector := f.Inumber()
	f.Close(fs.Registry)

	_, err = fs.Open("/x")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
	assert.False(t, fs.FreeMap.Test(sector), "reclaimed sector must be back in the free map")
}

// Relative paths resolve against the working directory after chdir; a bare
// leaf with no slash names an entry of the working directory itself.
func TestChdirResolvesRelativeAndBareLeafPaths(t *testing.T) {
	fs := newTestFilesys(t, 512)

	require.NoError(t, fs.Mkdir("/dir"))
	require.NoError(t, fs.Chdir("/dir"))

	require.NoError(t, fs.Create("bare", 0, false))
	f, err := fs.Open("bare")
	require.NoError(t, err)
	f.Write([]byte("rel"))
	f.Close(fs.Registry)

	g, err := fs.Open("/dir/bare")
	require.NoError(t, err)
	out := make([]byte, 3)
	n := g.Read(out)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rel", string(out))
	g.Close(fs.Registry)

	require.NoError(t, fs.Chdir(".."))
	h, err := fs.Open("dir/bare")
	require.NoError(t, err)
	h.Close(fs.Registry)

	require.NoError(t, fs.Remove("dir/bare"))
	_, err = fs.Open("/dir/bare")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

// Directory removal: non-empty and externally-open directories are
// refused; emptied and closed ones go away.
func TestDirectoryRemovalRules(t *testing.T) {
	fs := newTestFilesys(t, 512)

	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Create("/d/f", 0, false))

	err := fs.Remove("/d")
	assert.ErrorIs(t, err, kerrors.ErrNotEmpty)

	require.NoError(t, fs.Remove("/d/f"))
	require.NoError(t, fs.Remove("/d"))

	require.NoError(t, fs.Mkdir("/e"))
	handle, err := fs.Open("/e")
	require.NoError(t, err)

	err = fs.Remove("/e")
	assert.ErrorIs(t, err, kerrors.ErrBusy)

	handle.Close(fs.Registry)
	require.NoError(t, fs.Remove("/e"))
}
