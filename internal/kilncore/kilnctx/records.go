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

package kilnctx

import "sync"

// RecordLevel is the severity of an in-context diagnostic record.
type RecordLevel string

const (
	RecordWarn  RecordLevel = "warn"
	RecordError RecordLevel = "error"
)

// Record is one plugin-emitted diagnostic, per spec.md §7: "Plugin warn
// messages are appended to an in-context log store ... error messages are
// likewise logged and also cause the current hook round to fail."
type Record struct {
	Level   RecordLevel
	Plugin  string
	Message string
}

const ringCapacity = 32

// RecordManager is a bounded per-module-id ring buffer of diagnostic
// records, supplemented from spec.md §4.2's mention of a RecordManager
// left otherwise unspecified.
type RecordManager struct {
	mu      sync.Mutex
	records map[string][]Record
}

// NewRecordManager returns an empty RecordManager.
func NewRecordManager() *RecordManager {
	return &RecordManager{records: make(map[string][]Record)}
}

// Append adds rec for moduleID, evicting the oldest record once the ring
// exceeds its capacity.
func (r *RecordManager) Append(moduleID string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.records[moduleID]
	list = append(list, rec)
	if len(list) > ringCapacity {
		list = list[len(list)-ringCapacity:]
	}
	r.records[moduleID] = list
}

// For returns a copy of the records for moduleID, oldest first.
func (r *RecordManager) For(moduleID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records[moduleID]...)
}
