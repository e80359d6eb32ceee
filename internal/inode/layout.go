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

// Package inode implements the on-disk inode layer (IL): sector addressing
// with direct, single-indirect, and double-indirect pointer blocks, an
// open-inode registry that deduplicates in-memory handles per sector, and
// the three-way reader/writer/extend synchronization protocol guarding each
// inode's state.
package inode

import (
	"encoding/binary"

	"github.com/pintos-go/kernel/internal/blockdev"
)

const (
	// Magic identifies a valid on-disk inode. A sector read back with any
	// other value at this offset is not an inode; callers treat a mismatch
	// as a fatal, unrecoverable condition.
	Magic uint32 = 0x494e4f44

	// RootSector is the fixed sector number of the root directory's inode.
	RootSector uint32 = 1

	// NumDirect is the count of direct sector pointers in the on-disk inode.
	NumDirect = 12

	// PointersPerSector is the indirect-block fan-out: 128 four-byte sector
	// numbers fit in one 512-byte sector.
	PointersPerSector = blockdev.SectorSize / 4

	// MaxFileSize is the largest byte offset this layout's allocation tree
	// can address: direct + single-indirect + double-indirect.
	MaxFileSize = int64(NumDirect+PointersPerSector+PointersPerSector*PointersPerSector) * blockdev.SectorSize

	lengthOff      = 0
	isDirOff       = 4
	parentOff      = 8
	directOff      = 12
	directBytes    = NumDirect * 4
	indirectLv1Off = directOff + directBytes // 60
	indirectLv2Off = indirectLv1Off + 4      // 64
	magicOff       = indirectLv2Off + 4      // 68
)

// diskInode is the exact 512-byte on-disk layout described by the inode
// layer's sector format.
type diskInode struct {
	length      uint32
	isDir       bool
	parent      uint32
	direct      [NumDirect]uint32
	indirectLv1 uint32
	indirectLv2 uint32
	magic       uint32
}

func newDiskInode(length uint32, isDir bool, parent uint32) *diskInode {
	d := &diskInode{length: length, isDir: isDir, parent: parent, magic: Magic}
	for i := range d.direct {
		d.direct[i] = blockdev.NoSector
	}
	d.indirectLv1 = blockdev.NoSector
	d.indirectLv2 = blockdev.NoSector
	return d
}

func (d *diskInode) encode() [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[lengthOff:], d.length)
	if d.isDir {
		buf[isDirOff] = 1
	}
	binary.LittleEndian.PutUint32(buf[parentOff:], d.parent)
	for i, s := range d.direct {
		binary.LittleEndian.PutUint32(buf[directOff+i*4:], s)
	}
	binary.LittleEndian.PutUint32(buf[indirectLv1Off:], d.indirectLv1)
	binary.LittleEndian.PutUint32(buf[indirectLv2Off:], d.indirectLv2)
	binary.LittleEndian.PutUint32(buf[magicOff:], d.magic)
	return buf
}

func decodeDiskInode(buf []byte) *diskInode {
	if len(buf) != blockdev.SectorSize {
		panic("inode: decode requires exactly one sector")
	}
	d := &diskInode{
		length: binary.LittleEndian.Uint32(buf[lengthOff:]),
		isDir:  buf[isDirOff] != 0,
		parent: binary.LittleEndian.Uint32(buf[parentOff:]),
	}
	for i := range d.direct {
		d.direct[i] = binary.LittleEndian.Uint32(buf[directOff+i*4:])
	}
	d.indirectLv1 = binary.LittleEndian.Uint32(buf[indirectLv1Off:])
	d.indirectLv2 = binary.LittleEndian.Uint32(buf[indirectLv2Off:])
	d.magic = binary.LittleEndian.Uint32(buf[magicOff:])
	if d.magic != Magic {
		panic("inode: magic mismatch reading disk inode")
	}
	return d
}

// sectorsForLength returns the number of sectors needed to hold length
// bytes.
func sectorsForLength(length uint32) uint32 {
	return (length + blockdev.SectorSize - 1) / blockdev.SectorSize
}

func encodeIndirect(sectors [PointersPerSector]uint32) [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	for i, s := range sectors {
		binary.LittleEndian.PutUint32(buf[i*4:], s)
	}
	return buf
}

func decodeIndirect(buf []byte) [PointersPerSector]uint32 {
	var sectors [PointersPerSector]uint32
	for i := range sectors {
		sectors[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return sectors
}
