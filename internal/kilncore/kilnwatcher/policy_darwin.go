// +build darwin

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

package kilnwatcher

import "github.com/fsnotify/fsnotify"

// On macOS (kqueue-backed) only data-modify events are forwarded, per
// spec.md §4.8; fsnotify surfaces that as Write.
func allowed(op fsnotify.Op) bool {
	return op&fsnotify.Write == fsnotify.Write
}

// recursive subscription: compute the longest common path prefix and
// watch every directory beneath it, per spec.md §4.8.
const recursiveSubscribe = true
