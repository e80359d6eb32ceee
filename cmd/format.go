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
	"github.com/pintos-go/kernel/cfg"
	"github.com/pintos-go/kernel/internal/blockdev"
	"github.com/pintos-go/kernel/internal/filesys"
	"github.com/pintos-go/kernel/internal/logger"
	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Format a new filesystem device, creating the root directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		sectors := cfg.SectorsForSize(Config.Filesys.Size)
		dev, err := blockdev.OpenFileDevice(Config.Filesys.DevicePath, sectors)
		if err != nil {
			return err
		}

		fs, err := filesys.Format(dev, Config.Filesys.FreeMapPath, Config.Cache.PoolSize)
		if err != nil {
			return err
		}
		defer fs.Close()

		logger.Infof("kerneld: formatted %s (%d sectors)", Config.Filesys.DevicePath, sectors)
		return nil
	},
}
