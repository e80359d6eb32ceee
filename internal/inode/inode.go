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

package inode

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/cache"
	"github.com/pintos-go/kernel/internal/freemap"
	"github.com/pintos-go/kernel/internal/logger"
	"github.com/pintos-go/kernel/kerrors"
	"github.com/pintos-go/kernel/metrics"
)

// Inode is the in-memory handle for one on-disk inode. It is always
// obtained through a Registry, which deduplicates handles by sector so that
// every opener of the same file shares one instance and one lock.
type Inode struct {
	Sector uint32

	registry *Registry
	lock     *rwxLock

	// stateMu guards the small bookkeeping fields below. It is held only
	// briefly, never across I/O; the rwxLock above is what serializes
	// actual reads, writes, and extension. It is a syncutil.InvariantMutex:
	// checkInvariants runs on every Unlock, enforcing
	// denyWriteCnt <= openCnt plus non-negative reader/writer counts.
	stateMu      syncutil.InvariantMutex
	openCnt      int
	removed      bool
	denyWriteCnt int
	disk         *diskInode
}

// checkInvariants is stateMu's invariant checker: denyWriteCnt may never
// exceed openCnt, and the rwx lock's reader/writer membership counts never
// go negative.
func (in *Inode) checkInvariants() {
	if in.openCnt < 0 {
		panic(fmt.Sprintf("inode: open_cnt went negative: %d", in.openCnt))
	}
	if in.denyWriteCnt < 0 {
		panic(fmt.Sprintf("inode: deny_write_cnt went negative: %d", in.denyWriteCnt))
	}
	if in.denyWriteCnt > in.openCnt {
		panic(fmt.Sprintf("inode: deny_write_cnt %d exceeds open_cnt %d", in.denyWriteCnt, in.openCnt))
	}
	if readerCnt, writerCnt := in.lock.counts(); readerCnt < 0 || writerCnt < 0 {
		panic(fmt.Sprintf("inode: rwx lock counts went negative: reader=%d writer=%d", readerCnt, writerCnt))
	}
}

// Registry is the process-wide open-inode list: it deduplicates in-memory
// Inode instances by sector so that every opener of the same file observes
// the same cached state and the same lock.
type Registry struct {
	mu    sync.Mutex
	cache *cache.Cache
	fm    *freemap.Map
	open  map[uint32]*Inode
}

// NewRegistry creates an open-inode registry backed by the given cache and
// free-sector map.
func NewRegistry(c *cache.Cache, fm *freemap.Map) *Registry {
	return &Registry{cache: c, fm: fm, open: make(map[uint32]*Inode)}
}

// Create writes a fresh on-disk inode into sector: sets length, is_dir,
// parent, all pointers NONE, and the magic, then extends the file to
// ceil(length/512) sectors, zero-filling each newly allocated sector. A
// partial failure during extension leaves sectors allocated; the inode
// sector itself is assumed already reserved in FM by the caller.
func (r *Registry) Create(sector uint32, length uint32, isDir bool, parent uint32) error {
	disk := newDiskInode(0, isDir, parent)
	buf := disk.encode()
	r.cache.Write(sector, buf[:])

	in := &Inode{Sector: sector, registry: r, lock: newRWXLock(), disk: disk}
	in.stateMu = syncutil.NewInvariantMutex(in.checkInvariants)

	in.lock.acquireAll()
	defer in.lock.releaseAll()

	want := sectorsForLength(length)
	if err := in.extendToLocked(want, r.cache, r.fm); err != nil {
		return err
	}
	in.disk.length = length
	in.writeDiskLocked(r.cache)
	return nil
}

// Open returns the in-memory inode for sector, constructing it from the
// on-disk contents on first open and bumping the open count on every call.
func (r *Registry) Open(sector uint32) *Inode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in, ok := r.open[sector]; ok {
		in.stateMu.Lock()
		in.openCnt++
		in.stateMu.Unlock()
		return in
	}

	var buf [blockdev.SectorSize]byte
	r.cache.Read(sector, buf[:])
	disk := decodeDiskInode(buf[:])

	in := &Inode{
		Sector:   sector,
		registry: r,
		lock:     newRWXLock(),
		disk:     disk,
		openCnt:  1,
	}
	in.stateMu = syncutil.NewInvariantMutex(in.checkInvariants)
	r.open[sector] = in
	return in
}

// Reopen bumps the open count of an already-held inode handle, used when a
// single logical owner hands the same inode to a second consumer (e.g. a
// directory handle and a file handle over the same root).
func (r *Registry) Reopen(in *Inode) *Inode {
	in.stateMu.Lock()
	in.openCnt++
	in.stateMu.Unlock()
	return in
}

// Close decrements the open count. At zero it removes the inode from the
// registry; if the inode was marked removed, the entire pointer tree is
// walked and every allocated sector, including the inode sector itself, is
// released to the free-sector map.
func (r *Registry) Close(in *Inode) {
	in.stateMu.Lock()
	in.openCnt--
	last := in.openCnt == 0
	removed := in.removed
	in.stateMu.Unlock()

	if !last {
		return
	}

	r.mu.Lock()
	delete(r.open, in.Sector)
	r.mu.Unlock()

	if !removed {
		return
	}

	in.lock.acquireAll()
	defer in.lock.releaseAll()
	in.releaseAllSectorsLocked(r.fm)
	r.fm.Release(in.Sector, 1)
	logger.Debugf("inode: reclaimed sector %d on last close", in.Sector)
}

// MarkRemoved flags the inode for deallocation on last close. Callers must
// hold no particular lock; this only touches the small state fields.
func (in *Inode) MarkRemoved() {
	in.stateMu.Lock()
	in.removed = true
	in.stateMu.Unlock()
}

// OpenCount returns the current open count under the reader lock.
func (in *Inode) OpenCount() int {
	in.lock.acquireReader()
	defer in.lock.releaseReader()
	in.stateMu.Lock()
	defer in.stateMu.Unlock()
	return in.openCnt
}

// Removed reports whether this inode has been unlinked and is awaiting
// last-close reclamation.
func (in *Inode) Removed() bool {
	in.stateMu.Lock()
	defer in.stateMu.Unlock()
	return in.removed
}

// Length returns the current byte length under the reader lock.
func (in *Inode) Length() uint32 {
	in.lock.acquireReader()
	defer in.lock.releaseReader()
	return in.disk.length
}

// LengthLocked behaves like Length but assumes the caller already holds the
// inode's all lock via AcquireAll.
func (in *Inode) LengthLocked() uint32 {
	return in.disk.length
}

// IsDir reports the directory flag.
func (in *Inode) IsDir() bool {
	in.lock.acquireReader()
	defer in.lock.releaseReader()
	return in.disk.isDir
}

// Parent returns the stored parent sector (meaningful for directories).
func (in *Inode) Parent() uint32 {
	in.lock.acquireReader()
	defer in.lock.releaseReader()
	return in.disk.parent
}

// SetParent updates the stored parent sector, used by the directory layer
// when linking a newly created child under its parent.
func (in *Inode) SetParent(parent uint32) {
	in.lock.acquireWriter()
	defer in.lock.releaseWriter()
	in.disk.parent = parent
	in.writeDiskLocked(in.registry.cache)
}

// DenyWrite increments the deny-write count, used while an inode is the
// backing file of a running executable.
func (in *Inode) DenyWrite() {
	in.lock.acquireWriter()
	defer in.lock.releaseWriter()
	in.stateMu.Lock()
	in.denyWriteCnt++
	in.stateMu.Unlock()
}

// AllowWrite decrements the deny-write count.
func (in *Inode) AllowWrite() {
	in.lock.acquireWriter()
	defer in.lock.releaseWriter()
	in.stateMu.Lock()
	in.denyWriteCnt--
	in.stateMu.Unlock()
}

// AcquireAll takes the inode's extend lock directly, for callers (the
// directory layer) that need a single critical section spanning several
// reads and a write, such as add/remove.
func (in *Inode) AcquireAll() {
	in.lock.acquireAll()
}

// ReleaseAll releases a lock taken with AcquireAll.
func (in *Inode) ReleaseAll() {
	in.lock.releaseAll()
}

// ReadAtLocked behaves like ReadAt but assumes the caller already holds the
// inode's all (or reader) lock via AcquireAll.
func (in *Inode) ReadAtLocked(buf []byte, offset uint32) int {
	length := in.disk.length
	if offset >= length {
		return 0
	}
	if remaining := length - offset; uint32(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	return in.rawReadAtLocked(buf, offset)
}

// WriteAtLocked behaves like WriteAt but assumes the caller already holds
// the inode's all lock via AcquireAll, so it does not re-acquire it; extend
// decisions and the write happen in the same critical section the caller
// established.
func (in *Inode) WriteAtLocked(buf []byte, offset uint32) int {
	in.stateMu.Lock()
	denied := in.denyWriteCnt > 0
	in.stateMu.Unlock()
	if denied {
		return 0
	}

	end := offset + uint32(len(buf))
	if int64(end) > MaxFileSize {
		panic(&kerrors.FileTooLargeError{RequestedBytes: int64(end), MaxBytes: MaxFileSize})
	}

	if end > in.disk.length {
		wantSectors := sectorsForLength(end)
		if err := in.extendToLocked(wantSectors, in.registry.cache, in.registry.fm); err != nil {
			logger.Warningf("inode: extend failed for sector %d: %v", in.Sector, err)
			return 0
		}
		in.disk.length = end
		in.writeDiskLocked(in.registry.cache)
		metrics.InodeExtensions.Inc()
	}

	return in.rawWriteAtLocked(buf, offset)
}

// ReadAt copies min(len(buf), length-offset) bytes starting at offset into
// buf and returns the number of bytes read. Reads past end-of-file are
// short, not an error.
func (in *Inode) ReadAt(buf []byte, offset uint32) int {
	in.lock.acquireReader()
	defer in.lock.releaseReader()

	length := in.disk.length
	if offset >= length {
		return 0
	}
	if remaining := length - offset; uint32(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	return in.rawReadAtLocked(buf, offset)
}

// rawReadAtLocked performs the sector-by-sector transfer; the caller must
// already hold a reader (or all) lock.
func (in *Inode) rawReadAtLocked(buf []byte, offset uint32) int {
	c := in.registry.cache
	total := 0
	for total < len(buf) {
		pos := offset + uint32(total)
		sector := in.byteToSectorLocked(pos, c)
		if sector == blockdev.NoSector {
			break
		}
		sectorOff := pos % blockdev.SectorSize
		chunk := blockdev.SectorSize - sectorOff
		if remaining := len(buf) - total; uint32(remaining) < chunk {
			chunk = uint32(remaining)
		}

		if sectorOff == 0 && chunk == blockdev.SectorSize {
			c.Read(sector, buf[total:total+blockdev.SectorSize])
		} else {
			var bounce [blockdev.SectorSize]byte
			c.Read(sector, bounce[:])
			copy(buf[total:total+int(chunk)], bounce[sectorOff:sectorOff+chunk])
		}
		total += int(chunk)
	}
	return total
}

// WriteAt writes buf at offset, extending the file first if offset+len(buf)
// exceeds the current length. Returns 0 without writing if deny-write is in
// effect. The `all` lock is acquired up front, before deciding whether
// extension is needed, so two writers cannot both observe a stale length
// and race to extend.
func (in *Inode) WriteAt(buf []byte, offset uint32) int {
	in.lock.acquireAll()
	defer in.lock.releaseAll()

	in.stateMu.Lock()
	denied := in.denyWriteCnt > 0
	in.stateMu.Unlock()
	if denied {
		return 0
	}

	end := offset + uint32(len(buf))
	if int64(end) > MaxFileSize {
		panic(&kerrors.FileTooLargeError{RequestedBytes: int64(end), MaxBytes: MaxFileSize})
	}

	if end > in.disk.length {
		wantSectors := sectorsForLength(end)
		if err := in.extendToLocked(wantSectors, in.registry.cache, in.registry.fm); err != nil {
			// Partial allocation is left in place; report short write.
			logger.Warningf("inode: extend failed for sector %d: %v", in.Sector, err)
			return 0
		}
		in.disk.length = end
		in.writeDiskLocked(in.registry.cache)
		metrics.InodeExtensions.Inc()
	}

	return in.rawWriteAtLocked(buf, offset)
}

func (in *Inode) rawWriteAtLocked(buf []byte, offset uint32) int {
	c := in.registry.cache
	total := 0
	for total < len(buf) {
		pos := offset + uint32(total)
		sector := in.byteToSectorLocked(pos, c)
		if sector == blockdev.NoSector {
			break
		}
		sectorOff := pos % blockdev.SectorSize
		chunk := blockdev.SectorSize - sectorOff
		if remaining := len(buf) - total; uint32(remaining) < chunk {
			chunk = uint32(remaining)
		}

		if sectorOff == 0 && chunk == blockdev.SectorSize {
			c.Write(sector, buf[total:total+blockdev.SectorSize])
		} else {
			var bounce [blockdev.SectorSize]byte
			c.Read(sector, bounce[:])
			copy(bounce[sectorOff:sectorOff+chunk], buf[total:total+int(chunk)])
			c.Write(sector, bounce[:])
		}
		total += int(chunk)
	}
	return total
}

// byteToSectorLocked returns the device sector backing file offset pos, or
// NoSector if pos is beyond the allocated tree. The caller must hold at
// least a reader lock.
func (in *Inode) byteToSectorLocked(pos uint32, c *cache.Cache) uint32 {
	index := pos / blockdev.SectorSize
	return in.pointerAtLocked(index, c)
}

// pointerAtLocked returns the sector stored at allocation-tree index idx,
// without allocating, or NoSector if unallocated or out of range.
func (in *Inode) pointerAtLocked(idx uint32, c *cache.Cache) uint32 {
	if idx < NumDirect {
		return in.disk.direct[idx]
	}
	idx -= NumDirect

	if idx < PointersPerSector {
		if in.disk.indirectLv1 == blockdev.NoSector {
			return blockdev.NoSector
		}
		return readIndirectEntry(c, in.disk.indirectLv1, idx)
	}
	idx -= PointersPerSector

	if idx < PointersPerSector*PointersPerSector {
		if in.disk.indirectLv2 == blockdev.NoSector {
			return blockdev.NoSector
		}
		outer := idx / PointersPerSector
		inner := idx % PointersPerSector
		outerSector := readIndirectEntry(c, in.disk.indirectLv2, outer)
		if outerSector == blockdev.NoSector {
			return blockdev.NoSector
		}
		return readIndirectEntry(c, outerSector, inner)
	}

	panic(fmt.Sprintf("inode: allocation index %d exceeds schema", idx))
}

func readIndirectEntry(c *cache.Cache, indirectSector, entry uint32) uint32 {
	var buf [blockdev.SectorSize]byte
	c.Read(indirectSector, buf[:])
	sectors := decodeIndirect(buf[:])
	return sectors[entry]
}

// extendToLocked grows the allocation tree so that wantSectors data sectors
// are allocated, zero-filling each new sector. The caller must hold the
// `all` lock.
func (in *Inode) extendToLocked(wantSectors uint32, c *cache.Cache, fm *freemap.Map) error {
	// Derived from the actual allocation tree rather than from length, so
	// create()'s initial zero-length extend still walks from index 0.
	haveSectors := in.allocatedSectorCountLocked()

	for idx := haveSectors; idx < wantSectors; idx++ {
		if idx >= NumDirect+PointersPerSector+PointersPerSector*PointersPerSector {
			panic(&kerrors.FileTooLargeError{
				RequestedBytes: int64(wantSectors) * blockdev.SectorSize,
				MaxBytes:       MaxFileSize,
			})
		}

		sector, ok := fm.Allocate(1)
		if !ok {
			return kerrors.ErrNoSpace
		}
		c.Zero(sector)
		if err := in.setPointerLocked(idx, sector, c, fm); err != nil {
			fm.Release(sector, 1)
			return err
		}
	}
	return nil
}

// allocatedSectorCountLocked returns how many data-sector pointers are
// currently non-NONE, which is how far extension has already progressed.
func (in *Inode) allocatedSectorCountLocked() uint32 {
	count := uint32(0)
	for _, s := range in.disk.direct {
		if s == blockdev.NoSector {
			return count
		}
		count++
	}
	if in.disk.indirectLv1 == blockdev.NoSector {
		return count
	}
	buf := in.readSectorLocked(in.disk.indirectLv1)
	lv1 := decodeIndirect(buf[:])
	for _, s := range lv1 {
		if s == blockdev.NoSector {
			return count
		}
		count++
	}
	if in.disk.indirectLv2 == blockdev.NoSector {
		return count
	}
	outerBuf := in.readSectorLocked(in.disk.indirectLv2)
	outer := decodeIndirect(outerBuf[:])
	for _, outerSector := range outer {
		if outerSector == blockdev.NoSector {
			return count
		}
		innerBuf := in.readSectorLocked(outerSector)
		inner := decodeIndirect(innerBuf[:])
		for _, s := range inner {
			if s == blockdev.NoSector {
				return count
			}
			count++
		}
	}
	return count
}

func (in *Inode) readSectorLocked(sector uint32) [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	in.registry.cache.Read(sector, buf[:])
	return buf
}

// setPointerLocked installs `sector` at allocation-tree index idx,
// allocating indirect blocks on demand.
func (in *Inode) setPointerLocked(idx, sector uint32, c *cache.Cache, fm *freemap.Map) error {
	if idx < NumDirect {
		in.disk.direct[idx] = sector
		in.writeDiskLocked(c)
		return nil
	}
	idx -= NumDirect

	if idx < PointersPerSector {
		if in.disk.indirectLv1 == blockdev.NoSector {
			s, ok := fm.Allocate(1)
			if !ok {
				return kerrors.ErrNoSpace
			}
			c.Zero(s)
			in.disk.indirectLv1 = s
			in.writeDiskLocked(c)
		}
		writeIndirectEntry(c, in.disk.indirectLv1, idx, sector)
		return nil
	}
	idx -= PointersPerSector

	outer := idx / PointersPerSector
	inner := idx % PointersPerSector

	if in.disk.indirectLv2 == blockdev.NoSector {
		s, ok := fm.Allocate(1)
		if !ok {
			return kerrors.ErrNoSpace
		}
		c.Zero(s)
		in.disk.indirectLv2 = s
		in.writeDiskLocked(c)
	}

	outerSector := readIndirectEntry(c, in.disk.indirectLv2, outer)
	if outerSector == blockdev.NoSector {
		s, ok := fm.Allocate(1)
		if !ok {
			return kerrors.ErrNoSpace
		}
		c.Zero(s)
		writeIndirectEntry(c, in.disk.indirectLv2, outer, s)
		outerSector = s
	}
	writeIndirectEntry(c, outerSector, inner, sector)
	return nil
}

func writeIndirectEntry(c *cache.Cache, indirectSector, entry, value uint32) {
	var buf [blockdev.SectorSize]byte
	c.Read(indirectSector, buf[:])
	sectors := decodeIndirect(buf[:])
	sectors[entry] = value
	out := encodeIndirect(sectors)
	c.Write(indirectSector, out[:])
}

// releaseAllSectorsLocked walks direct, single-indirect, and
// double-indirect pointers, releasing every allocated data sector (and the
// indirect blocks themselves) back to fm. The caller must hold the `all`
// lock and is responsible for releasing the inode's own sector afterward.
func (in *Inode) releaseAllSectorsLocked(fm *freemap.Map) {
	for _, s := range in.disk.direct {
		if s != blockdev.NoSector {
			fm.Release(s, 1)
		}
	}

	if in.disk.indirectLv1 != blockdev.NoSector {
		buf := in.readSectorLocked(in.disk.indirectLv1)
		for _, s := range decodeIndirect(buf[:]) {
			if s != blockdev.NoSector {
				fm.Release(s, 1)
			}
		}
		fm.Release(in.disk.indirectLv1, 1)
	}

	if in.disk.indirectLv2 != blockdev.NoSector {
		outerBuf := in.readSectorLocked(in.disk.indirectLv2)
		for _, outerSector := range decodeIndirect(outerBuf[:]) {
			if outerSector == blockdev.NoSector {
				continue
			}
			innerBuf := in.readSectorLocked(outerSector)
			for _, s := range decodeIndirect(innerBuf[:]) {
				if s != blockdev.NoSector {
					fm.Release(s, 1)
				}
			}
			fm.Release(outerSector, 1)
		}
		fm.Release(in.disk.indirectLv2, 1)
	}
}

func (in *Inode) writeDiskLocked(c *cache.Cache) {
	buf := in.disk.encode()
	c.Write(in.Sector, buf[:])
}
