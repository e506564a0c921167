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

import "rcproxy/core/codec"

// Type returns the request/response classification assigned during
// parsing (codec.ReqGet, codec.RspOk, ...).
func (m *Msg) Type() codec.Command { return m.typ }

// Keys returns the wire keys this request carries, in request order.
func (m *Msg) Keys() []string { return m.keys }

// Fragmented reports whether this Msg is a multi-key request that was
// split into per-shard fragments.
func (m *Msg) Fragmented() bool { return m.fragID != 0 && len(m.frags) > 0 }

// Frags returns the fragment children of a fragmented request's parent;
// nil for a non-fragmented Msg or a fragment child itself.
func (m *Msg) Frags() []*Msg { return m.frags }

// Swallowed reports whether this request's reply must never reach the
// client (memcached's noreply modifier): the request still round-trips to
// the backend, but the caller should not enqueue it for client delivery.
func (m *Msg) Swallowed() bool { return m.swallow }

// BodyString renders the wire bytes this Msg carries, for logging.
func (m *Msg) BodyString() string {
	if m.kind == KindResponse {
		return string(m.rspBody)
	}
	return string(m.body)
}
