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

import "time"

// GetDefaultConfig returns the configuration used when no file or flag
// overrides a given field.
func GetDefaultConfig() Config {
	return Config{
		Filesys: FilesysConfig{
			DevicePath:  "filesys.dat",
			FreeMapPath: "freemap.dat",
			Size:        8 * ByteSize(byteSizeSuffixes["MiB"]),
		},
		Swap: SwapConfig{
			DevicePath: "swap.dat",
			Size:       4 * ByteSize(byteSizeSuffixes["MiB"]),
		},
		Cache: CacheConfig{
			PoolSize:            DefaultCachePoolSize,
			WriteBehindInterval: time.Second,
		},
		Logging: LoggingConfig{
			Severity: INFO,
			JSON:     false,
		},
	}
}
