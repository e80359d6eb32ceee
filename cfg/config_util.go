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

import "github.com/pintos-go/kernel/internal/blockdev"

// SectorsForSize converts a ByteSize into a whole number of sectors,
// rounding up so a device is never sized smaller than requested.
func SectorsForSize(size ByteSize) uint32 {
	return uint32((int64(size) + blockdev.SectorSize - 1) / blockdev.SectorSize)
}
