/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package monitor keeps per connection counters of HTTP/1.1 connections and
// exports them to prometheus.
package monitor

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caiflower/httpcore/pkg/env"
	"github.com/caiflower/httpcore/pkg/syncx"
	"github.com/caiflower/httpcore/pkg/tools"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
)

// ConnReport is what the registry knows about one connection.
type ConnReport struct {
	ID         string                `json:"id"`
	LocalAddr  string                `json:"localAddr"`
	RemoteAddr string                `json:"remoteAddr"`
	Open       bool                  `json:"open"`
	OpenedAt   time.Time             `json:"openedAt"`
	ClosedAt   *time.Time            `json:"closedAt,omitempty"`
	Metrics    http1.MetricsSnapshot `json:"metrics"`
	LastError  string                `json:"lastError,omitempty"`
}

type Report struct {
	Name   string       `json:"name"`
	Host   string       `json:"host"`
	Live   []ConnReport `json:"live"`
	Closed []ConnReport `json:"closed"`
}

type liveConn struct {
	info     http1.ConnInfo
	openedAt time.Time
	lastErr  atomic.Value
}

// Registry is a connection and stream listener that tracks connections
// while they are open and keeps the final counters of closed ones for a
// while. It is also a prometheus.Collector.
type Registry struct {
	name   string
	lock   sync.Locker
	live   map[string]*liveConn
	closed *cache.Cache

	// counters of connections that are gone
	requests  uint64
	responses uint64
	received  uint64
	sent      uint64

	connections *prometheus.Desc
	requestsD   *prometheus.Desc
	responsesD  *prometheus.Desc
	receivedD   *prometheus.Desc
	sentD       *prometheus.Desc
	errors      *prometheus.CounterVec
	statuses    *prometheus.CounterVec
	exchanges   *prometheus.CounterVec
}

var (
	_ http1.ConnectionListener = (*Registry)(nil)
	_ http1.StreamListener     = (*Registry)(nil)
	_ prometheus.Collector     = (*Registry)(nil)
)

// NewRegistry names the exported series after name. Closed connections are
// kept for retain.
func NewRegistry(name string, retain time.Duration) *Registry {
	constLabels := prometheus.Labels{"ip": env.GetLocalHostIP(), "server": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(metric, help, nil, constLabels)
	}
	return &Registry{
		name:        name,
		lock:        syncx.NewSpinLock(),
		live:        make(map[string]*liveConn),
		closed:      cache.New(retain, time.Minute),
		connections: desc("http1_connections_open", "open http1 connections"),
		requestsD:   desc("http1_requests_total", "request heads sent or received"),
		responsesD:  desc("http1_responses_total", "final response heads sent or received"),
		receivedD:   desc("http1_bytes_received_total", "bytes read from connections"),
		sentD:       desc("http1_bytes_sent_total", "bytes written to connections"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http1_connection_errors_total", Help: "connection failures by kind", ConstLabels: constLabels,
		}, []string{"kind"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http1_response_status_total", Help: "response heads by status class", ConstLabels: constLabels,
		}, []string{"class"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http1_exchanges_total", Help: "completed exchanges by reuse decision", ConstLabels: constLabels,
		}, []string{"keep_alive"}),
	}
}

func (r *Registry) OnConnect(c http1.ConnInfo) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.live[c.ID()] = &liveConn{info: c, openedAt: time.Now()}
}

func (r *Registry) OnDisconnect(c http1.ConnInfo) {
	r.lock.Lock()
	lc, ok := r.live[c.ID()]
	delete(r.live, c.ID())
	r.lock.Unlock()
	if !ok {
		lc = &liveConn{info: c}
	}

	report := lc.report()
	now := time.Now()
	report.Open = false
	report.ClosedAt = &now
	r.closed.SetDefault(c.ID(), report)

	m := report.Metrics
	atomic.AddUint64(&r.requests, m.RequestCount)
	atomic.AddUint64(&r.responses, m.ResponseCount)
	atomic.AddUint64(&r.received, m.BytesReceived)
	atomic.AddUint64(&r.sent, m.BytesSent)
}

func (r *Registry) OnError(c http1.ConnInfo, err error) {
	r.errors.WithLabelValues(errorKind(err)).Inc()
	r.lock.Lock()
	lc, ok := r.live[c.ID()]
	r.lock.Unlock()
	if ok {
		lc.lastErr.Store(err.Error())
	}
}

func (r *Registry) OnRequestHead(http1.ConnInfo, *protocol.Request) {}

func (r *Registry) OnResponseHead(_ http1.ConnInfo, resp *protocol.Response) {
	r.statuses.WithLabelValues(strconv.Itoa(resp.StatusCode/100) + "xx").Inc()
}

func (r *Registry) OnExchangeComplete(_ http1.ConnInfo, _ *protocol.Request, _ *protocol.Response, keepAlive bool) {
	r.exchanges.WithLabelValues(strconv.FormatBool(keepAlive)).Inc()
}

// Lookup returns the report of a live or recently closed connection.
func (r *Registry) Lookup(id string) (ConnReport, bool) {
	r.lock.Lock()
	lc, ok := r.live[id]
	r.lock.Unlock()
	if ok {
		return lc.report(), true
	}
	if v, found := r.closed.Get(id); found {
		return v.(ConnReport), true
	}
	return ConnReport{}, false
}

func (r *Registry) Report() Report {
	report := Report{Name: r.name, Host: env.GetHostname()}
	for _, lc := range r.liveConns() {
		report.Live = append(report.Live, lc.report())
	}
	for _, item := range r.closed.Items() {
		report.Closed = append(report.Closed, item.Object.(ConnReport))
	}
	sort.Slice(report.Live, func(i, j int) bool { return report.Live[i].OpenedAt.Before(report.Live[j].OpenedAt) })
	sort.Slice(report.Closed, func(i, j int) bool { return report.Closed[i].ClosedAt.Before(*report.Closed[j].ClosedAt) })
	return report
}

func (r *Registry) DumpJSON() ([]byte, error) {
	return tools.MarshalIndent(r.Report())
}

// MustRegister adds the registry to reg, or to the default registerer when
// reg is nil.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(r)
}

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.connections
	ch <- r.requestsD
	ch <- r.responsesD
	ch <- r.receivedD
	ch <- r.sentD
	r.errors.Describe(ch)
	r.statuses.Describe(ch)
	r.exchanges.Describe(ch)
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	conns := r.liveConns()
	requests := atomic.LoadUint64(&r.requests)
	responses := atomic.LoadUint64(&r.responses)
	received := atomic.LoadUint64(&r.received)
	sent := atomic.LoadUint64(&r.sent)
	for _, lc := range conns {
		m := lc.info.Metrics()
		requests += m.RequestCount()
		responses += m.ResponseCount()
		received += m.BytesReceived()
		sent += m.BytesSent()
	}

	ch <- prometheus.MustNewConstMetric(r.connections, prometheus.GaugeValue, float64(len(conns)))
	ch <- prometheus.MustNewConstMetric(r.requestsD, prometheus.CounterValue, float64(requests))
	ch <- prometheus.MustNewConstMetric(r.responsesD, prometheus.CounterValue, float64(responses))
	ch <- prometheus.MustNewConstMetric(r.receivedD, prometheus.CounterValue, float64(received))
	ch <- prometheus.MustNewConstMetric(r.sentD, prometheus.CounterValue, float64(sent))
	r.errors.Collect(ch)
	r.statuses.Collect(ch)
	r.exchanges.Collect(ch)
}

func (r *Registry) liveConns() []*liveConn {
	r.lock.Lock()
	defer r.lock.Unlock()
	conns := make([]*liveConn, 0, len(r.live))
	for _, lc := range r.live {
		conns = append(conns, lc)
	}
	return conns
}

func (lc *liveConn) report() ConnReport {
	report := ConnReport{
		ID:       lc.info.ID(),
		Open:     true,
		OpenedAt: lc.openedAt,
		Metrics:  lc.info.Metrics().Snapshot(),
	}
	report.LocalAddr = addrString(lc.info.LocalAddr())
	report.RemoteAddr = addrString(lc.info.RemoteAddr())
	if s, ok := lc.lastErr.Load().(string); ok {
		report.LastError = s
	}
	return report
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, http1.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrMalformedRequest), errors.Is(err, protocol.ErrMalformedResponse),
		errors.Is(err, protocol.ErrMalformedContentLength), errors.Is(err, protocol.ErrChunkFraming):
		return "malformed"
	case errors.Is(err, protocol.ErrMessageTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrNoResponse), errors.Is(err, protocol.ErrConnectionClosed),
		errors.Is(err, protocol.ErrEntityTooShort):
		return "closed"
	default:
		return "io"
	}
}
