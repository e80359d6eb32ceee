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

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LogSeverity is validated against internal/logger's five-level vocabulary
// by DecodeHook.
type LogSeverity string

// ByteSize parses human-sized quantities like "512B" or "4MiB" into a byte
// count, via DecodeHook's custom hookFunc.
type ByteSize int64

// Config is the root configuration object, decoded from YAML/flags/env by
// viper with mapstructure and this package's DecodeHook.
type Config struct {
	Filesys FilesysConfig `yaml:"filesys"`
	Swap    SwapConfig    `yaml:"swap"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// FilesysConfig names the primary block device and the file backing the
// persisted free-sector map.
type FilesysConfig struct {
	DevicePath  string   `yaml:"device-path"`
	FreeMapPath string   `yaml:"free-map-path"`
	Size        ByteSize `yaml:"size"`
}

// SwapConfig names the swap block device.
type SwapConfig struct {
	DevicePath string   `yaml:"device-path"`
	Size       ByteSize `yaml:"size"`
}

// CacheConfig tunes the block cache.
type CacheConfig struct {
	PoolSize            int           `yaml:"pool-size"`
	WriteBehindInterval time.Duration `yaml:"write-behind-interval"`
}

// LoggingConfig selects the logger's minimum severity and output encoding.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
	JSON     bool        `yaml:"json"`
}

// BindFlags registers the pflag.FlagSet and wires each flag to its viper
// key.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("filesys-device", "", "", "Path to the filesystem block device file.")
	if err = viper.BindPFlag("filesys.device-path", flagSet.Lookup("filesys-device")); err != nil {
		return err
	}

	flagSet.StringP("filesys-free-map", "", "", "Path to the persisted free-sector-map file.")
	if err = viper.BindPFlag("filesys.free-map-path", flagSet.Lookup("filesys-free-map")); err != nil {
		return err
	}

	flagSet.StringP("filesys-size", "", "8MiB", "Size of the filesystem device, e.g. 8MiB.")
	if err = viper.BindPFlag("filesys.size", flagSet.Lookup("filesys-size")); err != nil {
		return err
	}

	flagSet.StringP("swap-device", "", "", "Path to the swap block device file.")
	if err = viper.BindPFlag("swap.device-path", flagSet.Lookup("swap-device")); err != nil {
		return err
	}

	flagSet.StringP("swap-size", "", "4MiB", "Size of the swap device, e.g. 4MiB.")
	if err = viper.BindPFlag("swap.size", flagSet.Lookup("swap-size")); err != nil {
		return err
	}

	flagSet.IntP("cache-pool-size", "", DefaultCachePoolSize, "Number of blocks held by the block cache.")
	if err = viper.BindPFlag("cache.pool-size", flagSet.Lookup("cache-pool-size")); err != nil {
		return err
	}

	flagSet.DurationP("cache-write-behind-interval", "", time.Second, "Interval between write-behind sweeps.")
	if err = viper.BindPFlag("cache.write-behind-interval", flagSet.Lookup("cache-write-behind-interval")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", INFO, "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, or ERROR.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.BoolP("log-json", "", false, "Emit logs as JSON instead of text.")
	if err = viper.BindPFlag("logging.json", flagSet.Lookup("log-json")); err != nil {
		return err
	}

	return nil
}
