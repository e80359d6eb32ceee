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

package directory

import (
	"github.com/pintos-go/kernel/internal/inode"
	"github.com/pintos-go/kernel/kerrors"
)

// Dir wraps an owned in-memory inode known to have is_dir set.
type Dir struct {
	registry *inode.Registry
	In       *inode.Inode
}

// Handle is a directory handle: an owned Dir plus a read cursor used by
// Readdir to iterate entries in order.
type Handle struct {
	Dir    *Dir
	cursor uint32
}

// Create writes a fresh directory inode into sector sized to hold capacity
// entries, linked under parentSector for `..` resolution.
func Create(reg *inode.Registry, sector uint32, capacity int, parentSector uint32) error {
	return reg.Create(sector, uint32(capacity*EntrySize), true, parentSector)
}

// Open wraps an already-open inode as a Dir. Callers are expected to have
// verified IsDir() already, or to be opening the root for the first time.
func Open(reg *inode.Registry, in *inode.Inode) *Dir {
	return &Dir{registry: reg, In: in}
}

// OpenSector opens the directory inode at sector via the registry.
func OpenSector(reg *inode.Registry, sector uint32) (*Dir, error) {
	in := reg.Open(sector)
	if !in.IsDir() {
		reg.Close(in)
		return nil, kerrors.ErrNotDir
	}
	return &Dir{registry: reg, In: in}, nil
}

// Close releases the directory's inode handle.
func (d *Dir) Close() {
	d.registry.Close(d.In)
}

func (d *Dir) entryCount() uint32 {
	return d.In.Length() / EntrySize
}

func (d *Dir) readEntry(index uint32) Entry {
	var buf [EntrySize]byte
	n := d.In.ReadAt(buf[:], index*EntrySize)
	if n != EntrySize {
		return Entry{}
	}
	return decodeEntry(buf[:])
}

func (d *Dir) readEntryLocked(index uint32) Entry {
	var buf [EntrySize]byte
	n := d.In.ReadAtLocked(buf[:], index*EntrySize)
	if n != EntrySize {
		return Entry{}
	}
	return decodeEntry(buf[:])
}

func (d *Dir) writeEntryLocked(index uint32, e Entry) {
	buf := e.encode()
	d.In.WriteAtLocked(buf[:], index*EntrySize)
}

// Lookup scans the directory's entries for an exact, byte-for-byte name
// match, returning the entry and true if found.
func (d *Dir) Lookup(name string) (Entry, bool) {
	count := d.entryCount()
	for i := uint32(0); i < count; i++ {
		e := d.readEntry(i)
		if e.InUse && e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Add inserts a new entry mapping name to childSector, rejecting invalid or
// duplicate names. It sets the child inode's parent field and writes the
// new entry into the first free slot or appends past the end, which may
// extend the directory's inode. The directory inode's all lock is held for
// the whole operation.
func (d *Dir) Add(name string, childSector uint32, child *inode.Inode) error {
	if !validName(name) || name == "." || name == ".." {
		return kerrors.ErrInvalid
	}

	d.In.AcquireAll()
	defer d.In.ReleaseAll()

	count := d.In.LengthLocked() / EntrySize
	freeSlot := count
	for i := uint32(0); i < count; i++ {
		e := d.readEntryLocked(i)
		if e.InUse && e.Name == name {
			return kerrors.ErrExists
		}
		if !e.InUse && freeSlot == count {
			freeSlot = i
		}
	}

	child.SetParent(d.In.Sector)
	d.writeEntryLocked(freeSlot, Entry{InUse: true, Name: name, Sector: childSector})
	return nil
}

// Remove clears the in_use flag of the entry named name and marks the
// target inode removed, deferring reclamation to its last close. A
// directory target must be empty and have open count <= 1 at the time of
// removal. The directory inode's all lock is held for the whole operation.
func (d *Dir) Remove(name string) error {
	d.In.AcquireAll()
	defer d.In.ReleaseAll()

	count := d.In.LengthLocked() / EntrySize
	for i := uint32(0); i < count; i++ {
		e := d.readEntryLocked(i)
		if !e.InUse || e.Name != name {
			continue
		}

		target := d.registry.Open(e.Sector)
		defer d.registry.Close(target)

		// The busy/not-empty rules apply only to directory targets; a
		// regular file may be unlinked while open elsewhere (its sectors
		// are reclaimed at last close instead).
		if target.IsDir() {
			targetDir := &Dir{registry: d.registry, In: target}
			if !targetDir.IsEmpty() {
				return kerrors.ErrNotEmpty
			}
			if target.OpenCount() > 1 {
				return kerrors.ErrBusy
			}
		}

		d.writeEntryLocked(i, Entry{})
		target.MarkRemoved()
		return nil
	}
	return kerrors.ErrNotFound
}

// IsEmpty reports whether no entry in the directory is in_use.
func (d *Dir) IsEmpty() bool {
	count := d.entryCount()
	for i := uint32(0); i < count; i++ {
		if d.readEntry(i).InUse {
			return false
		}
	}
	return true
}

// Readdir returns the next in_use entry's name starting from the handle's
// cursor, advancing it by one slot, or ok=false at end of directory.
func (h *Handle) Readdir() (name string, ok bool) {
	count := h.Dir.entryCount()
	for h.cursor < count {
		e := h.Dir.readEntry(h.cursor)
		h.cursor++
		if e.InUse {
			return e.Name, true
		}
	}
	return "", false
}
