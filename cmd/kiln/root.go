// Copyright 2020 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln"
	"github.com/kilnbuild/kiln/internal/kilnconfig"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilnlog"
	"github.com/kilnbuild/kiln/internal/kilnplugin/kilnfsplugin"
)

const version = "0.1.0"

// flags holds the persistent flag values bound on the root command, read by
// every sub-command.
type flags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "kiln",
		Short:         "kiln is a module bundler's compilation core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "kiln.yaml", "path to the kiln config file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "color", "log format: text, color, json")
	root.PersistentFlags().SetNormalizeFunc(normalizeFlagName)

	root.AddCommand(newBuildCommand(f))
	root.AddCommand(newUpdateCommand(f))
	root.AddCommand(newWatchCommand(f))
	return root
}

// newCompiler loads the config at f.configPath, builds a logger writing to
// stderr, and constructs a Compiler registered with the default filesystem
// plugin. Sub-commands needing additional plugins are out of scope for the
// CLI; embedders reaching for those call kiln.New directly.
func newCompiler(ctx context.Context, stderr io.Writer, f *flags) (*kiln.Compiler, *kilnconfig.Config, *zap.Logger, error) {
	cfg, err := kilnconfig.Load(f.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := kilnlog.New(stderr, f.logLevel, f.logFormat)
	if err != nil {
		return nil, nil, nil, err
	}
	plugins := []kilnplugin.Plugin{kilnfsplugin.New(cfg.ProjectRoot)}
	compiler, err := kiln.New(ctx, logger, cfg, plugins)
	if err != nil {
		return nil, nil, nil, err
	}
	return compiler, cfg, logger, nil
}

// normalizeFlagName lets "--log_level" resolve to the same flag as
// "--log-level" by replacing underscores with dashes, the same forgiving-flag-name convention
// internal/buf/cmd/buf binds per-command via appcmd.Command.NormalizeFlag.
func normalizeFlagName(fs *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
