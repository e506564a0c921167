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

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/constant"
)

var GlobalStats ProxyStats

type ConnCloseType int

const (
	// ConnEof the client actively closes the connection
	ConnEof ConnCloseType = iota
	// ConnErr proxy and client connection error
	ConnErr
	// ProxyEof proxy actively closes the connection
	ProxyEof
)

// latencyBuckets is the ascending bucket-floor list latency accounting
// walks. It walks from the front and increments every counter whose floor
// is <= cost_ms, stopping at the first floor that exceeds it -- a
// cumulative-bucket fallthrough.
var latencyBuckets = [...]int64{10, 20, 50, 100, 200, 500}

type ProxyStats struct {
	Request *prometheus.HistogramVec

	// latencyLocal / latencyCross back the {l,x}request_gt_{N}ms cumulative
	// counters; index i corresponds to latencyBuckets[i].
	latencyLocal [len(latencyBuckets)]*prometheus.CounterVec
	latencyCross [len(latencyBuckets)]*prometheus.CounterVec

	TotalConnections *prometheus.CounterVec
	CurrConnections  *prometheus.GaugeVec
	TotalRequests    *prometheus.CounterVec

	ClientConnectionsClientEof *prometheus.CounterVec
	ClientConnectionsClientErr *prometheus.CounterVec

	ServerResponses     *prometheus.CounterVec
	ServerResponseBytes *prometheus.CounterVec
	ForwardErr          *prometheus.CounterVec
	Fragments           *prometheus.CounterVec

	ReqCmd *prometheus.CounterVec

	ServerEof             *prometheus.CounterVec
	ServerErr             *prometheus.CounterVec
	ServerActive          *prometheus.GaugeVec
	ServerCreateConnError *prometheus.CounterVec

	TimeoutTree *prometheus.GaugeVec
}

func init() {
	GlobalStats = NewProxyStats("rcproxy")
}

func NewProxyStats(namespace string) ProxyStats {
	stats := ProxyStats{
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total connections",
		}, nil),
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "current connections",
		}, []string{"type"}),
		TotalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_requests",
			Help:      "total requests",
		}, nil),
		Request: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency",
			Help:      "request latency in milliseconds",
			Buckets:   []float64{10, 20, 50, 100, 200, 500},
		}, nil),
		ClientConnectionsClientEof: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_connections_client_eof",
			Help:      "client actively closes the connection",
		}, nil),
		ClientConnectionsClientErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_connections_client_err",
			Help:      "client connection error",
		}, nil),
		ReqCmd: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cmd",
			Help:      "number of backend command requests",
		}, []string{"cmd"}),
		Fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments",
			Help:      "fragments created from a multi-key request",
		}, []string{"cmd"}),
		ServerResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_responses",
			Help:      "replies forwarded per server",
		}, []string{"addr"}),
		ServerResponseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_response_bytes",
			Help:      "reply bytes forwarded per server",
		}, []string{"addr"}),
		ForwardErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_error",
			Help:      "synthesized error replies sent in place of a failed request",
		}, []string{"pool"}),
		ServerEof: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_connections_eof",
			Help:      "server actively closes the connection to the proxy",
		}, []string{"addr"}),
		ServerErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_connections_err",
			Help:      "server connection error",
		}, []string{"addr"}),
		ServerCreateConnError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_connections_create_conn_error",
			Help:      "number of connection timeouts between proxy and server",
		}, []string{"addr"}),
		ServerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_connections_active",
			Help:      "number of active connections between proxy and server",
		}, []string{"addr"}),
		TimeoutTree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeout_tree",
			Help:      "timeout tree health level",
		}, []string{"type"}),
	}

	collectors := []prometheus.Collector{
		stats.TotalConnections, stats.CurrConnections, stats.TotalRequests,
		stats.ClientConnectionsClientEof, stats.ClientConnectionsClientErr,
		stats.ServerCreateConnError, stats.ServerEof, stats.ServerErr,
		stats.ServerActive, stats.Request, stats.TimeoutTree, stats.ReqCmd,
		stats.ServerResponses, stats.ServerResponseBytes, stats.ForwardErr,
	}
	for i, n := range latencyBuckets {
		stats.latencyLocal[i] = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      requestGtMetricName("l", n),
			Help:      "local-IDC requests slower than the bucket floor (cumulative)",
		}, nil)
		stats.latencyCross[i] = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      requestGtMetricName("x", n),
			Help:      "cross-IDC requests slower than the bucket floor (cumulative)",
		}, nil)
		collectors = append(collectors, stats.latencyLocal[i], stats.latencyCross[i])
	}
	prometheus.MustRegister(collectors...)
	return stats
}

func requestGtMetricName(prefix string, bucketMs int64) string {
	return prefix + "request_gt_" + itoa64(bucketMs) + "ms"
}

// observeLatency implements cumulative bucket accounting:
// every counter whose floor is <= costMs is incremented, ascending, and the
// loop stops at the first floor that exceeds costMs. Anything above
// constant.MaxTimeoutMS increments nothing.
func (s *ProxyStats) observeLatency(localIDC bool, costMs int64) {
	s.Request.WithLabelValues().Observe(float64(costMs))

	if costMs > constant.MaxTimeoutMS {
		return
	}
	buckets := s.latencyCross
	if localIDC {
		buckets = s.latencyLocal
	}
	for i, floor := range latencyBuckets {
		if floor > costMs {
			break
		}
		buckets[i].WithLabelValues().Inc()
	}
}

func (s *ProxyStats) ReqCmdIncr(cmd codec.Command) {
	switch cmd {
	// for del
	case codec.ReqDel:
		GlobalStats.ReqCmd.WithLabelValues(codec.Transform2Str(cmd)).Inc()
	// for uniq key
	case codec.ReqGet, codec.ReqSet, codec.ReqMget, codec.ReqMset, codec.ReqSort:
		GlobalStats.ReqCmd.WithLabelValues(codec.Transform2Str(cmd)).Inc()
		fallthrough
	// for string
	case codec.ReqSetex, codec.ReqSetnx, codec.ReqSetrange, codec.ReqGetrange, codec.ReqStrlen:
		GlobalStats.ReqCmd.WithLabelValues("string").Inc()

	// for bitmap
	case codec.ReqBitcount, codec.ReqSetbit, codec.ReqGetbit:
		GlobalStats.ReqCmd.WithLabelValues("bitmap").Inc()

	// for incr/decr
	case codec.ReqIncr, codec.ReqDecr, codec.ReqDecrby, codec.ReqIncrby, codec.ReqIncrbyfloat:
		GlobalStats.ReqCmd.WithLabelValues("incr_decr").Inc()

	// for hash
	case codec.ReqHexists, codec.ReqHget, codec.ReqHgetall, codec.ReqHkeys, codec.ReqHlen, codec.ReqHmget, codec.ReqHmset, codec.ReqHdel:
		fallthrough
	case codec.ReqHincrby, codec.ReqHincrbyfloat, codec.ReqHset, codec.ReqHsetnx, codec.ReqHscan, codec.ReqHvals:
		GlobalStats.ReqCmd.WithLabelValues("hashs").Inc()

	// for list
	case codec.ReqLrem:
		GlobalStats.ReqCmd.WithLabelValues(codec.Transform2Str(cmd)).Inc()
		fallthrough
	case codec.ReqLpush, codec.ReqRpush, codec.ReqRpushx, codec.ReqLpushx, codec.ReqLpop, codec.ReqRpop, codec.ReqRpoplpush:
		fallthrough
	case codec.ReqLrange, codec.ReqLset, codec.ReqLtrim, codec.ReqLindex, codec.ReqLlen, codec.ReqLinsert:
		GlobalStats.ReqCmd.WithLabelValues("lists").Inc()

	// for set
	case codec.ReqSadd, codec.ReqSpop, codec.ReqSrem, codec.ReqSscan, codec.ReqSmove:
		fallthrough
	case codec.ReqSrandmember, codec.ReqScard, codec.ReqSismember, codec.ReqSmembers:
		fallthrough
	case codec.ReqSunion, codec.ReqSdiff, codec.ReqSinter, codec.ReqSinterstore, codec.ReqSdiffstore, codec.ReqSunionstore:
		GlobalStats.ReqCmd.WithLabelValues("sets").Inc()

	// for zset
	case codec.ReqZadd, codec.ReqZcount, codec.ReqZincrby, codec.ReqZscan, codec.ReqZcard, codec.ReqZscore:
		fallthrough
	case codec.ReqZrange, codec.ReqZrank, codec.ReqZrangebyscore, codec.ReqZrevrange, codec.ReqZrangebylex, codec.ReqZrevrank:
		fallthrough
	case codec.ReqZinterstore, codec.ReqZrevrangebyscore, codec.ReqZunionstore, codec.ReqZremrangebyscore:
		fallthrough
	case codec.ReqZrem, codec.ReqZremrangebylex, codec.ReqZremrangebyrank:
		GlobalStats.ReqCmd.WithLabelValues("sortedsets").Inc()

	// for memcached text protocol
	case codec.ReqMcGet, codec.ReqMcGets:
		GlobalStats.ReqCmd.WithLabelValues(codec.Transform2Str(cmd)).Inc()
	case codec.ReqMcSet, codec.ReqMcAdd, codec.ReqMcReplace, codec.ReqMcAppend, codec.ReqMcPrepend, codec.ReqMcCas, codec.ReqMcDelete:
		GlobalStats.ReqCmd.WithLabelValues("string").Inc()
	case codec.ReqMcIncr, codec.ReqMcDecr:
		GlobalStats.ReqCmd.WithLabelValues("incr_decr").Inc()

	default:
		GlobalStats.ReqCmd.WithLabelValues("other").Inc()
	}
}

// statsServerIncr / statsServerIncrBy / statsPoolIncr implement the
// metrics-sink contract: "stats_server_incr
// (ctx, server, metric)", "..._incr_by(...)", "stats_pool_incr(ctx, pool,
// metric)".
func statsServerIncr(addr string, counter *prometheus.CounterVec) {
	counter.WithLabelValues(addr).Inc()
}

func statsServerIncrBy(addr string, counter *prometheus.CounterVec, value float64) {
	counter.WithLabelValues(addr).Add(value)
}

func statsPoolIncr(poolName string, counter *prometheus.CounterVec) {
	counter.WithLabelValues(poolName).Inc()
}

// statsLoop runs stats that don't belong on the hot event-loop path,
// split out and executed once per second.
func statsLoop() {
	ticker := time.NewTicker(1 * time.Second)
	for range ticker.C {
		depth, stddev := depthOfTimeoutQueue()
		GlobalStats.TimeoutTree.WithLabelValues("length").Set(lengthOfTimeoutQueue())
		if math.IsNaN(depth) {
			depth = 0
		}
		if math.IsNaN(stddev) {
			stddev = 0
		}
		GlobalStats.TimeoutTree.WithLabelValues("depth").Set(depth)
		GlobalStats.TimeoutTree.WithLabelValues("stddev").Set(stddev)

		cConnCount := float64(EngineGlobal.eng.el.loadCConn())
		sConnCount := float64(EngineGlobal.eng.el.loadSConn())
		GlobalStats.CurrConnections.WithLabelValues("client").Set(cConnCount)
		GlobalStats.CurrConnections.WithLabelValues("server").Set(sConnCount)
		GlobalStats.CurrConnections.WithLabelValues("total").Set(cConnCount + sConnCount)
	}
}
