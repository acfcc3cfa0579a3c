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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.ts"), []byte("import './b'\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.ts"), []byte("export const b = 1\n"), 0o644))
	config := "project_root: " + root + "\nentries:\n  - name: a\n    path: ./a.ts\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "kiln.yaml"), []byte(config), 0o644))
}

func TestBuildCommandPrintsPots(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root)

	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"build", "--config", filepath.Join(root, "kiln.yaml")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "entries: 1, modules added: 2")
	assert.Contains(t, stdout.String(), "pot a")
}

func TestUpdateCommandRequiresAtLeastOnePath(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"update"})
	assert.Error(t, cmd.Execute())
}

func TestNormalizeFlagNameReplacesUnderscores(t *testing.T) {
	assert.Equal(t, pflag.NormalizedName("log-level"), normalizeFlagName(nil, "log_level"))
	assert.Equal(t, pflag.NormalizedName("config"), normalizeFlagName(nil, "config"))
}
