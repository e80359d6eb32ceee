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

package cfg

const (
	// Logging-level constants, matching internal/logger's Severity
	// vocabulary one-for-one so config values translate without a lookup
	// table.

	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
)

const (
	// DefaultCachePoolSize is the block cache's default pool size, used
	// unless cache.pool-size overrides it.
	DefaultCachePoolSize = 64

	// DefaultRootDirCapacity is how many entries a freshly formatted root
	// directory (and any directory created by mkdir) is sized to hold
	// before it must extend.
	DefaultRootDirCapacity = 16
)
