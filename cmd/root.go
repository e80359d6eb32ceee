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

// Package cmd is the kerneld command-line entry point: a cobra root command
// with format and run subcommands that bring up the block devices,
// free-sector map, inode layer, directory layer, and VM subsystem in
// dependency order.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pintos-go/kernel/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// Config is the fully decoded configuration, populated by initConfig
	// before any subcommand's RunE runs.
	Config = cfg.GetDefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "kerneld",
	Short: "Run or format the storage and VM core of the teaching kernel port",
	Long: `kerneld hosts the block cache, inode layer, directory layer, and
virtual-memory subsystem of this kernel as a standalone process, backed by
regular files standing in for the filesystem and swap block devices.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return validateConfig()
	},
}

func validateConfig() error {
	if Config.Cache.PoolSize <= 0 {
		return fmt.Errorf("cache.pool-size must be positive, got %d", Config.Cache.PoolSize)
	}
	if Config.Filesys.DevicePath == "" {
		return fmt.Errorf("filesys.device-path must be set")
	}
	return nil
}

// Execute runs the root command, printing any error to stderr and exiting
// non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(formatCmd, runCmd)
}

func initConfig() {
	Config = cfg.GetDefaultConfig()

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
}
