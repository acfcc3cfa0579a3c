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

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln"
)

func newUpdateCommand(f *flags) *cobra.Command {
	var removed bool
	cmd := &cobra.Command{
		Use:   "update <path>...",
		Short: "run one compile followed by an incremental update pass over the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			compiler, _, _, err := newCompiler(cmd.Context(), cmd.ErrOrStderr(), f)
			if err != nil {
				return err
			}
			if _, err := compiler.Compile(cmd.Context()); err != nil {
				return err
			}

			updateType := kiln.Updated
			if removed {
				updateType = kiln.Removed
			}
			updates := make([]kiln.PathUpdate, len(paths))
			for i, p := range paths {
				updates[i] = kiln.PathUpdate{Path: p, Type: updateType}
			}

			result, err := compiler.Update(cmd.Context(), updates, nil, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added: %d, updated: %d, removed: %d, affected pots: %v\n",
				len(result.AddedModuleIDs), len(result.UpdatedModuleIDs), len(result.RemovedModuleIDs), result.AffectedPotIDs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&removed, "removed", false, "treat every given path as removed rather than updated")
	return cmd
}
