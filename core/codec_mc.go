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

package core

// splitFields splits a classic memcached command or reply line on ASCII
// spaces. Like bytes.Fields it collapses runs of spaces, so consecutive
// spaces never yield an empty field; unlike bytes.Fields, only ' ' is a
// separator (tabs and other whitespace stay inside a field).
func splitFields(line []byte) [][]byte {
	var fields [][]byte
	start := -1
	for i, b := range line {
		if b == ' ' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

func toLowerBytes(bs []byte) {
	for i := 0; i < len(bs); i++ {
		if bs[i] >= 'A' && bs[i] <= 'Z' {
			bs[i] = bs[i] ^ 0x20
		}
	}
}

func isDigits(bs []byte) bool {
	if len(bs) == 0 {
		return false
	}
	for _, b := range bs {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}
