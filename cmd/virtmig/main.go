// Copyright 2024 Alexandre Mahdhaoui
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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alexandremahdhaoui/virtmig/internal/util/logging"
	"github.com/spf13/cobra"
)

const (
	Name = "virtmig"
)

var (
	Version        = "dev" //nolint:gochecknoglobals // set by ldflags
	CommitSHA      = "n/a" //nolint:gochecknoglobals // set by ldflags
	BuildTimestamp = "n/a" //nolint:gochecknoglobals // set by ldflags
)

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %s\n", Name, err.Error())
		os.Exit(1)
	}
}

// rootOptions is filled by the persistent flags and the config loaded before
// every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool

	cfg *Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           Name,
		Short:         "run libvirt live-migration scenarios",
		Long:          "Run declarative libvirt migration scenarios: prepare both hosts, drive the migration job, apply interventions and release every resource afterwards.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			logging.Setup(logging.Options{
				Development: cfg.DevelopmentMode,
				Level:       level,
				Output:      cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(ConfigPathEnvKey),
		"path to the virtmig config file (defaults to $"+ConfigPathEnvKey+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCommand(opts),
		newListCommand(opts),
		newValidateCommand(opts),
		newVersionCommand(),
	)

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the virtmig version",
		Args:  cobra.NoArgs,
		// version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)
		},
	}
}
