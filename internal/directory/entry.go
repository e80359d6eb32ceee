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

// Package directory implements the hierarchical directory layer (DL): an
// array of fixed-size directory entries stored inside an inode flagged
// is_dir, path parsing for absolute and relative paths, and `.`/`..`
// handling through the inode's stored parent sector.
package directory

import (
	"encoding/binary"
)

// NameMax is the longest byte length a directory entry name may hold.
const NameMax = 14

// EntrySize is the on-disk size of one directory entry: 4 bytes
// inode_sector + 15 bytes name (NUL-padded) + 1 byte in_use, aligned to 24
// bytes.
const EntrySize = 24

const (
	entrySectorOff = 0
	entryNameOff   = 4
	entryNameLen   = 15
	entryInUseOff  = entryNameOff + entryNameLen // 19
)

// Entry is one directory slot.
type Entry struct {
	InUse  bool
	Name   string
	Sector uint32
}

func (e Entry) encode() [EntrySize]byte {
	var buf [EntrySize]byte
	binary.LittleEndian.PutUint32(buf[entrySectorOff:], e.Sector)
	copy(buf[entryNameOff:entryNameOff+entryNameLen], e.Name)
	if e.InUse {
		buf[entryInUseOff] = 1
	}
	return buf
}

func decodeEntry(buf []byte) Entry {
	nameBytes := buf[entryNameOff : entryNameOff+entryNameLen]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	return Entry{
		InUse:  buf[entryInUseOff] != 0,
		Name:   string(nameBytes[:n]),
		Sector: binary.LittleEndian.Uint32(buf[entrySectorOff:]),
	}
}

func validName(name string) bool {
	if len(name) == 0 || len(name) > NameMax {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return false
		}
	}
	return true
}
