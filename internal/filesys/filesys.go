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

// Package filesys composes the block cache, free-sector map, inode layer,
// and directory layer into the consumer-facing API a syscall layer would
// call directly: create, open, remove, read/write/seek, chdir, mkdir,
// readdir. mmap/munmap live on the process-facing handle in internal/vm.
package filesys

import (
	"strings"

	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/cache"
	"github.com/pintos-go/kernel/internal/directory"
	"github.com/pintos-go/kernel/internal/freemap"
	"github.com/pintos-go/kernel/internal/inode"
	"github.com/pintos-go/kernel/internal/logger"
	"github.com/pintos-go/kernel/kerrors"
)

// freeMapSector is the sector reserved for the free-sector map, so it is
// never handed out to file data.
const freeMapSector uint32 = 0

// dirCapacity is how many entries a freshly created directory is sized to
// hold before its inode must extend.
const dirCapacity = 16

// Filesys is the top-level handle wiring every storage layer together.
type Filesys struct {
	Cache    *cache.Cache
	FreeMap  *freemap.Map
	Registry *inode.Registry

	root *directory.Dir
	cwd  *directory.Dir
}

// Format initializes a brand-new filesystem on dev: it reserves the
// free-map sector and the root-directory sector, then creates the root
// directory inode.
func Format(dev blockdev.Device, fmPath string, cachePoolSize int) (*Filesys, error) {
	c := cache.NewSized(dev, cachePoolSize)
	fm, err := freemap.Create(fmPath, dev.Size())
	if err != nil {
		return nil, err
	}
	fm.MarkAllocated(freeMapSector)
	fm.MarkAllocated(inode.RootSector)

	reg := inode.NewRegistry(c, fm)
	if err := directory.Create(reg, inode.RootSector, dirCapacity, inode.RootSector); err != nil {
		return nil, err
	}

	root, err := directory.OpenSector(reg, inode.RootSector)
	if err != nil {
		return nil, err
	}

	logger.Infof("filesys: formatted new volume, %d sectors", dev.Size())
	return &Filesys{Cache: c, FreeMap: fm, Registry: reg, root: root, cwd: root}, nil
}

// Open mounts an already-formatted filesystem on dev, loading the
// free-sector map from fmPath.
func Open(dev blockdev.Device, fmPath string, cachePoolSize int) (*Filesys, error) {
	c := cache.NewSized(dev, cachePoolSize)
	fm, err := freemap.Open(fmPath)
	if err != nil {
		return nil, err
	}
	reg := inode.NewRegistry(c, fm)
	root, err := directory.OpenSector(reg, inode.RootSector)
	if err != nil {
		return nil, err
	}
	return &Filesys{Cache: c, FreeMap: fm, Registry: reg, root: root, cwd: root}, nil
}

// Close flushes the cache and persists the free-sector map.
func (fs *Filesys) Close() error {
	fs.root.Close()
	if fs.cwd != fs.root {
		fs.cwd.Close()
	}
	if err := fs.FreeMap.Close(); err != nil {
		return err
	}
	return fs.Cache.Close()
}

// File is an open file handle: an owned inode plus a byte cursor.
type File struct {
	In     *inode.Inode
	cursor uint32
}

// lookupParent splits path into its parent directory (opened as an owned
// handle) and leaf name. A bare leaf with no slash names an entry of the
// current working directory.
func (fs *Filesys) lookupParent(path string) (*directory.Dir, string, error) {
	parentPath, leaf, ok := directory.ParseToPathAndFileName(path)
	if !ok {
		return nil, "", kerrors.ErrInvalid
	}
	if !strings.Contains(path, "/") {
		parentPath = ""
	}
	parent := directory.ParseToDir(fs.Registry, fs.root, fs.cwd, parentPath)
	if parent == nil {
		return nil, "", kerrors.ErrNotFound
	}
	return parent, leaf, nil
}

// Create makes a new file (or, with isDir, a directory) at path with the
// given initial size, then closes it without leaving it open; callers that
// want a handle open it separately.
func (fs *Filesys) Create(path string, size uint32, isDir bool) error {
	parent, leaf, err := fs.lookupParent(path)
	if err != nil {
		return err
	}
	defer parent.Close()
	if leaf == "." || leaf == ".." {
		return kerrors.ErrInvalid
	}

	sector, ok := fs.FreeMap.Allocate(1)
	if !ok {
		return kerrors.ErrNoSpace
	}

	var createErr error
	if isDir {
		createErr = directory.Create(fs.Registry, sector, dirCapacity, parent.In.Sector)
	} else {
		createErr = fs.Registry.Create(sector, size, false, parent.In.Sector)
	}
	if createErr != nil {
		fs.FreeMap.Release(sector, 1)
		return createErr
	}

	child := fs.Registry.Open(sector)
	if err := parent.Add(leaf, sector, child); err != nil {
		// Reclaim the child's whole allocation tree, not just its inode
		// sector, via the normal removed-at-last-close path.
		child.MarkRemoved()
		fs.Registry.Close(child)
		return err
	}
	fs.Registry.Close(child)
	return nil
}

// Open resolves path and returns an open File handle.
func (fs *Filesys) Open(path string) (*File, error) {
	in, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	return &File{In: in}, nil
}

// Remove unlinks the entry named by path. The target's sectors are
// reclaimed only once every open handle has been closed.
func (fs *Filesys) Remove(path string) error {
	parent, leaf, err := fs.lookupParent(path)
	if err != nil {
		return err
	}
	defer parent.Close()
	return parent.Remove(leaf)
}

// Mkdir creates an empty directory at path.
func (fs *Filesys) Mkdir(path string) error {
	return fs.Create(path, 0, true)
}

// Chdir changes the current working directory to path.
func (fs *Filesys) Chdir(path string) error {
	dir := directory.ParseToDir(fs.Registry, fs.root, fs.cwd, path)
	if dir == nil {
		return kerrors.ErrNotFound
	}
	if dir.In.Sector == fs.cwd.In.Sector {
		dir.Close()
		return nil
	}
	old := fs.cwd
	fs.cwd = dir
	if old != fs.root {
		old.Close()
	}
	return nil
}

func (fs *Filesys) resolve(path string) (*inode.Inode, error) {
	if path == "/" {
		return fs.Registry.Reopen(fs.root.In), nil
	}
	parent, leaf, err := fs.lookupParent(path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()

	entry, found := parent.Lookup(leaf)
	if !found {
		return nil, kerrors.ErrNotFound
	}
	return fs.Registry.Open(entry.Sector), nil
}

// Read reads up to len(buf) bytes from the file's current cursor and
// advances the cursor by the number of bytes actually read.
func (f *File) Read(buf []byte) int {
	n := f.In.ReadAt(buf, f.cursor)
	f.cursor += uint32(n)
	return n
}

// Write writes buf at the file's current cursor and advances the cursor,
// extending the file if necessary.
func (f *File) Write(buf []byte) int {
	n := f.In.WriteAt(buf, f.cursor)
	f.cursor += uint32(n)
	return n
}

// Seek repositions the cursor to an absolute byte offset.
func (f *File) Seek(pos uint32) { f.cursor = pos }

// Tell returns the current cursor position.
func (f *File) Tell() uint32 { return f.cursor }

// Close releases the file's inode handle.
func (f *File) Close(reg *inode.Registry) {
	reg.Close(f.In)
}

// IsDir reports whether the file is a directory.
func (f *File) IsDir() bool { return f.In.IsDir() }

// Inumber returns the inode's backing sector number, used as a stable file
// identity.
func (f *File) Inumber() uint32 { return f.In.Sector }

// OpenDir wraps an open directory File as a Handle for Readdir iteration.
func (fs *Filesys) OpenDir(f *File) *directory.Handle {
	return &directory.Handle{Dir: directory.Open(fs.Registry, f.In)}
}
