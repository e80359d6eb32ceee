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
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice backs a Device with a single regular file, read and written at
// sector-aligned offsets via pread(2)/pwrite(2). This is the real
// implementation used by cmd/kerneld: the "block device" is, on this host,
// an ordinary file formatted into fixed-size sectors.
type FileDevice struct {
	f        *os.File
	sizeSect uint32
}

// OpenFileDevice opens (creating if necessary) a file of exactly
// sectorCount*SectorSize bytes at path, truncating or extending it to that
// size. A freshly extended region reads as zero, so new sectors are
// zero-initialized without an explicit pass.
func OpenFileDevice(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	wantSize := int64(sectorCount) * SectorSize
	if err := f.Truncate(wantSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}

	return &FileDevice{f: f, sizeSect: sectorCount}, nil
}

func (d *FileDevice) Size() uint32 { return d.sizeSect }

func (d *FileDevice) Read(sector uint32, buf []byte) {
	checkBuf(buf)
	checkSector(sector, d.sizeSect)

	off := int64(sector) * SectorSize
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		panic(fmt.Sprintf("blockdev: pread sector %d: %v", sector, err))
	}
	if n != SectorSize {
		panic(fmt.Sprintf("blockdev: short pread sector %d: got %d bytes", sector, n))
	}
}

func (d *FileDevice) Write(sector uint32, buf []byte) {
	checkBuf(buf)
	checkSector(sector, d.sizeSect)

	off := int64(sector) * SectorSize
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		panic(fmt.Sprintf("blockdev: pwrite sector %d: %v", sector, err))
	}
	if n != SectorSize {
		panic(fmt.Sprintf("blockdev: short pwrite sector %d: wrote %d bytes", sector, n))
	}
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}

var _ Device = (*FileDevice)(nil)
