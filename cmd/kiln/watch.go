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
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "compile once, then watch the project root and recompile on change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			compiler, cfg, _, err := newCompiler(ctx, cmd.ErrOrStderr(), f)
			if err != nil {
				return err
			}
			if _, err := compiler.Compile(ctx); err != nil {
				return err
			}

			notify := func() {
				fmt.Fprintln(cmd.OutOrStdout(), "rebuilt")
			}
			changeErr := func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "update failed: %v\n", err)
			}
			if err := compiler.Watch([]string{cfg.ProjectRoot}, notify, changeErr); err != nil {
				return err
			}
			defer compiler.StopWatching()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", cfg.ProjectRoot)
			<-ctx.Done()
			return nil
		},
	}
}
