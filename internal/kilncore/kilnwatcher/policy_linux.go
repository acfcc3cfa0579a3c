// +build linux

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

// spec.md §4.8 wants only Access(Close) events on Linux (a close follows
// each write), but fsnotify's inotify backend does not surface IN_ACCESS
// or IN_CLOSE_WRITE - only Write, Create, Remove, Rename and Chmod. Write
// is the closest available proxy for "a write just completed"; see
// DESIGN.md for this approximation.
func allowed(op fsnotify.Op) bool {
	return op&fsnotify.Write == fsnotify.Write
}

// Linux subscribes non-recursively per requested path, per spec.md §4.8.
const recursiveSubscribe = false
