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
)

func newBuildCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "run a full compile and print the resulting resource pots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			compiler, _, _, err := newCompiler(cmd.Context(), cmd.ErrOrStderr(), f)
			if err != nil {
				return err
			}
			result, err := compiler.Compile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entries: %d, modules added: %d\n", len(result.EntryIDs), len(result.Added))
			for _, pot := range compiler.Context().Pots() {
				fmt.Fprintf(cmd.OutOrStdout(), "pot %s [%s]: %d module(s)\n", pot.ID, pot.Type, len(pot.Modules))
				for _, id := range pot.Modules {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id.Path())
				}
			}
			return nil
		},
	}
}
