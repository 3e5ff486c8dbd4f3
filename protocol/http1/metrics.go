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

package http1

import (
	"sync/atomic"

	"github.com/caiflower/httpcore/protocol/http1/buffer"
)

// Metrics counts what went over one connection. Counters only grow; they
// are written by the connection driver and may be read from anywhere.
type Metrics struct {
	requests  uint64
	responses uint64
	received  buffer.Counter
	sent      buffer.Counter
}

type MetricsSnapshot struct {
	RequestCount  uint64 `json:"requestCount"`
	ResponseCount uint64 `json:"responseCount"`
	BytesReceived uint64 `json:"bytesReceived"`
	BytesSent     uint64 `json:"bytesSent"`
}

func (m *Metrics) RequestCount() uint64  { return atomic.LoadUint64(&m.requests) }
func (m *Metrics) ResponseCount() uint64 { return atomic.LoadUint64(&m.responses) }
func (m *Metrics) BytesReceived() uint64 { return m.received.Load() }
func (m *Metrics) BytesSent() uint64     { return m.sent.Load() }

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestCount:  m.RequestCount(),
		ResponseCount: m.ResponseCount(),
		BytesReceived: m.BytesReceived(),
		BytesSent:     m.BytesSent(),
	}
}

func (m *Metrics) incrementRequests()  { atomic.AddUint64(&m.requests, 1) }
func (m *Metrics) incrementResponses() { atomic.AddUint64(&m.responses, 1) }
