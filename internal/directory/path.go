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
	"strings"

	"github.com/pintos-go/kernel/internal/inode"
)

// ParseToDir resolves path to an owned directory handle relative to cwd
// (which may be nil, meaning "no current working directory set"). An empty
// path returns cwd itself (reopened). A leading slash, or a nil cwd, starts
// from root. Components are split on '/', empty components are ignored
// (collapsing consecutive slashes), "." is a no-op, and ".." opens the
// parent directory via the current directory's stored parent sector. Any
// missing or non-directory component yields a nil Dir.
func ParseToDir(reg *inode.Registry, root *Dir, cwd *Dir, path string) *Dir {
	if path == "" {
		if cwd == nil {
			return reopen(reg, root)
		}
		return reopen(reg, cwd)
	}

	var cur *Dir
	if strings.HasPrefix(path, "/") || cwd == nil {
		cur = reopen(reg, root)
	} else {
		cur = reopen(reg, cwd)
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			parentSector := cur.In.Parent()
			next, err := OpenSector(reg, parentSector)
			cur.Close()
			if err != nil {
				return nil
			}
			cur = next
			continue
		}

		entry, found := cur.Lookup(comp)
		if !found {
			cur.Close()
			return nil
		}
		next, err := OpenSector(reg, entry.Sector)
		cur.Close()
		if err != nil {
			return nil
		}
		cur = next
	}

	return cur
}

// reopen bumps the open count of dir's inode and wraps it in a fresh Dir,
// so callers can Close the returned handle independently of the original.
func reopen(reg *inode.Registry, dir *Dir) *Dir {
	return &Dir{registry: reg, In: reg.Reopen(dir.In)}
}

// ParseToPathAndFileName splits path into (parentPath, leafName). An empty
// string or a trailing-slash path has no valid leaf and returns ok=false.
// "/a" splits to ("/", "a"); a bare "a" splits to ("a", "a"), meaning the
// leaf is looked up in the caller's current working directory rather than
// in a named parent.
func ParseToPathAndFileName(path string) (parentPath, leaf string, ok bool) {
	if path == "" || strings.HasSuffix(path, "/") {
		return "", "", false
	}

	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path, path, true
	}
	leaf = path[i+1:]
	if leaf == "" {
		return "", "", false
	}
	parentPath = path[:i+1]
	if parentPath == "" {
		parentPath = "/"
	}
	return parentPath, leaf, true
}
