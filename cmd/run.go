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

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pintos-go/kernel/cfg"
	"github.com/pintos-go/kernel/clock"
	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/filesys"
	"github.com/pintos-go/kernel/internal/logger"
	"github.com/pintos-go/kernel/internal/vm/swap"
	"github.com/spf13/cobra"
)

func severityFor(s cfg.LogSeverity) logger.Severity {
	switch string(s) {
	case cfg.TRACE:
		return logger.TRACE
	case cfg.DEBUG:
		return logger.DEBUG
	case cfg.WARNING:
		return logger.WARNING
	case cfg.ERROR:
		return logger.ERROR
	default:
		return logger.INFO
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mount the already-formatted filesystem and swap devices and idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetOutput(os.Stderr, severityFor(Config.Logging.Severity), Config.Logging.JSON)

		fsSectors := cfg.SectorsForSize(Config.Filesys.Size)
		dev, err := blockdev.OpenFileDevice(Config.Filesys.DevicePath, fsSectors)
		if err != nil {
			return err
		}

		fs, err := filesys.Open(dev, Config.Filesys.FreeMapPath, Config.Cache.PoolSize)
		if err != nil {
			return err
		}
		defer fs.Close()

		fs.Cache.StartWriteBehind(clock.RealClock{}, Config.Cache.WriteBehindInterval)

		swapSectors := cfg.SectorsForSize(Config.Swap.Size)
		swapDev, err := blockdev.OpenFileDevice(Config.Swap.DevicePath, swapSectors)
		if err != nil {
			return err
		}
		defer swapDev.Close()
		swapArea := swap.New(swapDev)

		logger.Infof("kerneld: mounted %s, swap %s (%d slots), waiting for SIGINT/SIGTERM",
			Config.Filesys.DevicePath, Config.Swap.DevicePath, swapArea.SlotCount())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}
