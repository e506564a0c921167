// Copyright (c) 2022 The rcproxy Authors
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

// Package constant holds the small set of fixed strings and numbers the
// core package shares across files, kept separate so logging's formatter
// can special-case them without importing the core package (which would
// be a cycle).
package constant

// TitleSlowLog prefixes every slow-log line so the rotated log file stays
// grep-able and the formatter can skip caller-frame decoration for it.
const TitleSlowLog = "[SLOWLOG]"

// MaxTimeoutMS is the ceiling above which a latency observation increments
// no bucket at all.
const MaxTimeoutMS = 600_000
