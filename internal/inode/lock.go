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
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// rwxLock is the per-inode reader/writer/extend protocol: readers and
// writers are counting classes that each acquire the shared `all` weighted
// semaphore on the first member in and release it on the last member out,
// so that an extending operation (which acquires `all` directly) excludes
// both classes while same-class operations proceed concurrently.
//
// `all` is always acquired before deciding whether extension is required:
// acquiring it only after observing that the write extends would let two
// writers both make that observation and race to extend.
// The membership counts are atomics, though every mutation happens under
// countMu: counts() is called by the inode's invariant checker from code
// paths that may already hold `all`, and taking countMu there would close a
// cycle with a reader that holds countMu while blocking on `all`.
type rwxLock struct {
	countMu sync.Mutex
	all     *semaphore.Weighted

	readerCnt atomic.Int64
	writerCnt atomic.Int64
}

func newRWXLock() *rwxLock {
	return &rwxLock{all: semaphore.NewWeighted(1)}
}

var background = context.Background()

// acquireReader joins the reader class, blocking only if a writer or an
// extend is currently in `all`. This is the classic "lightswitch" pattern:
// countMu stays held across the first reader's blocking Acquire, so a second
// reader arriving while the first is still waiting on a writer/extend also
// waits on countMu and only proceeds once `all` is actually held — it must
// not observe readerCnt > 1 and return before the gate is established.
func (l *rwxLock) acquireReader() {
	l.countMu.Lock()
	defer l.countMu.Unlock()
	if l.readerCnt.Add(1) == 1 {
		if err := l.all.Acquire(background, 1); err != nil {
			panic(err)
		}
	}
}

func (l *rwxLock) releaseReader() {
	l.countMu.Lock()
	defer l.countMu.Unlock()
	if l.readerCnt.Add(-1) == 0 {
		l.all.Release(1)
	}
}

// acquireWriter joins the writer class, for non-extending writes. See
// acquireReader for why countMu stays held across the blocking wait.
func (l *rwxLock) acquireWriter() {
	l.countMu.Lock()
	defer l.countMu.Unlock()
	if l.writerCnt.Add(1) == 1 {
		if err := l.all.Acquire(background, 1); err != nil {
			panic(err)
		}
	}
}

func (l *rwxLock) releaseWriter() {
	l.countMu.Lock()
	defer l.countMu.Unlock()
	if l.writerCnt.Add(-1) == 0 {
		l.all.Release(1)
	}
}

// acquireAll takes the extend lock directly, excluding every reader and
// writer until released. Used for extension, creation, close, and
// directory mutation.
func (l *rwxLock) acquireAll() {
	if err := l.all.Acquire(background, 1); err != nil {
		panic(err)
	}
}

func (l *rwxLock) releaseAll() {
	l.all.Release(1)
}

// counts returns the reader/writer membership counts without touching
// countMu, for Inode.checkInvariants to assert non-negativity against.
func (l *rwxLock) counts() (readerCnt, writerCnt int64) {
	return l.readerCnt.Load(), l.writerCnt.Load()
}
