// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rcproxy/core"
)

// PoolRes reports one server pool's static identity plus its live
// connection-pool and ban state.
type PoolRes struct {
	Addr              string `json:"addr"`
	Weight            int    `json:"weight"`
	LocalIDC          bool   `json:"local_idc"`
	ActiveConnections int    `json:"active_connections"`
	Banned            bool   `json:"banned"`
	SlowlogSlowerThan int64  `json:"slowlog_slower_than"`
}

// HandlePoolNodes reports the static conn -> server -> server_pool mapping
// this proxy was booted with.
func HandlePoolNodes(c *gin.Context) {
	var res []*PoolRes
	for _, pool := range core.EngineGlobal.Topology().Pools() {
		res = append(res, &PoolRes{
			Addr:              pool.Server.Addr,
			Weight:            pool.Server.Weight,
			LocalIDC:          pool.Server.LocalIDC,
			ActiveConnections: pool.ActiveCount(),
			Banned:            pool.Banned(),
			SlowlogSlowerThan: pool.SlowlogSlowerThan,
		})
	}
	c.JSON(http.StatusOK, res)
}
