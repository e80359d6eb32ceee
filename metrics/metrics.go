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

// Package metrics collects the prometheus counters and gauges exposed by
// this kernel's subsystems. Collectors are registered against the default
// registry at package init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheEvictions counts block-cache second-chance evictions.
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintos",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Number of block cache evictions.",
	})

	// CacheWriteBacks counts dirty blocks written to the device, whether by
	// eviction or by the write-behind daemon.
	CacheWriteBacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintos",
		Subsystem: "cache",
		Name:      "write_backs_total",
		Help:      "Number of blocks written back to the device.",
	})

	// InodeExtensions counts successful inode growth operations.
	InodeExtensions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintos",
		Subsystem: "inode",
		Name:      "extensions_total",
		Help:      "Number of inode extend operations.",
	})

	// FrameEvictions counts frame-table clock evictions.
	FrameEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pintos",
		Subsystem: "vm",
		Name:      "frame_evictions_total",
		Help:      "Number of frame table evictions.",
	})

	// SwapSlotsInUse tracks the current number of occupied swap slots.
	SwapSlotsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pintos",
		Subsystem: "vm",
		Name:      "swap_slots_in_use",
		Help:      "Number of swap slots currently occupied.",
	})
)

func init() {
	prometheus.MustRegister(CacheEvictions, CacheWriteBacks, InodeExtensions, FrameEvictions, SwapSlotsInUse)
}
