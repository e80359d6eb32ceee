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

// Package vm is the process-facing virtual memory handle: it wires one
// process's supplemental page table to the shared frame table and swap
// area, and keeps the per-process mapping-id table Munmap needs to find a
// mapping's pages again.
package vm

import (
	"github.com/pintos-go/kernel/internal/vm/frame"
	"github.com/pintos-go/kernel/internal/vm/page"
	"github.com/pintos-go/kernel/internal/vm/swap"
	"github.com/pintos-go/kernel/kerrors"
)

// mapping records one mmap call's page range so Munmap can find it again.
type mapping struct {
	id        int
	startAddr uintptr
	pageCount int
}

// Process is one process's virtual memory state.
type Process struct {
	owner frame.Owner
	Pages *page.Table

	mappings map[int]*mapping
	nextID   int
}

// NewProcess creates a VM handle for a process identified by owner (an
// opaque token used only to scope frame-table ownership).
func NewProcess(owner frame.Owner, pd page.PageDirectory, frames *frame.Table, swapDev *swap.Device, frameCapacity int) *Process {
	return &Process{
		owner:    owner,
		Pages:    page.NewTable(pd, frames, swapDev, frameCapacity),
		mappings: make(map[int]*mapping),
	}
}

// Mmap registers length bytes of f starting at fileOffset as a memory
// mapping beginning at addr (which must be page-aligned), and returns a
// mapping id for later Munmap. length is rounded up to a whole number of
// pages; the tail of the last page beyond the file's content is
// zero-filled, matching File-category loading.
func (p *Process) Mmap(f page.Backing, fileOffset uint32, length int, addr uintptr) (int, error) {
	if addr%page.PageSize != 0 || length <= 0 {
		return 0, kerrors.ErrInvalid
	}

	pageCount := (length + page.PageSize - 1) / page.PageSize
	id := p.nextID
	p.nextID++

	remaining := uint32(length)
	for i := 0; i < pageCount; i++ {
		uaddr := addr + uintptr(i*page.PageSize)
		readBytes := uint32(page.PageSize)
		if remaining < uint32(page.PageSize) {
			readBytes = remaining
		}
		zeroBytes := uint32(page.PageSize) - readBytes
		p.Pages.AddMmap(uaddr, f, fileOffset+uint32(i*page.PageSize), readBytes, zeroBytes, id)
		if remaining > uint32(page.PageSize) {
			remaining -= uint32(page.PageSize)
		} else {
			remaining = 0
		}
	}

	p.mappings[id] = &mapping{id: id, startAddr: addr, pageCount: pageCount}
	return id, nil
}

// Munmap writes back any dirty pages of mapping id and releases its SPTEs.
func (p *Process) Munmap(id int) error {
	if _, ok := p.mappings[id]; !ok {
		return kerrors.ErrNotFound
	}
	p.Pages.FreeMmapFiles(id)
	delete(p.mappings, id)
	return nil
}

// Exit releases every SPTE and frame owned by this process, used when the
// process terminates.
func (p *Process) Exit(frames *frame.Table) {
	p.Pages.FreeAll()
	frames.FreeOwner(p.owner)
}
