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

package monitor

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/network/pipe"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/tools"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWith(t *testing.T, r *Registry) (*pipe.Session, *http1.Duplexer) {
	f, err := http1.NewServerFactory(http1.ServerConfig{
		Config: http1.Config{ConnectionListener: r, StreamListener: r, Logger: logger.Nop},
		Handler: http1.HandlerFunc(func(context.Context, *protocol.Request) (*protocol.Response, error) {
			resp := protocol.NewResponse(http.StatusOK)
			resp.SetEntity(protocol.NewEntity(strings.NewReader("ok"), 2))
			return resp, nil
		}),
	})
	require.NoError(t, err)
	client, server := pipe.New(0)
	h, err := f.CreateHandler(server)
	require.NoError(t, err)
	require.NoError(t, server.Bind(h))
	client.SetBlocking(true)
	return client, h.(*http1.Duplexer)
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			values[mf.GetName()] += v
		}
	}
	return values
}

func TestRegistryTracksConnections(t *testing.T) {
	r := NewRegistry("test", time.Minute)
	reg := prometheus.NewPedanticRegistry()
	r.MustRegister(reg)

	client, d := serveWith(t, r)
	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.exchanges.WithLabelValues("true")) == 1
	}, 5*time.Second, time.Millisecond)
	values := gather(t, reg)
	assert.Equal(t, float64(1), values["http1_connections_open"])
	assert.Equal(t, float64(1), values["http1_requests_total"])
	assert.Equal(t, float64(1), values["http1_responses_total"])
	assert.Equal(t, float64(1), testutil.ToFloat64(r.statuses.WithLabelValues("2xx")))

	report, ok := r.Lookup(d.ID())
	require.True(t, ok)
	assert.True(t, report.Open)
	assert.Equal(t, "pipe:a", report.RemoteAddr)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		report, ok := r.Lookup(d.ID())
		return ok && !report.Open
	}, 5*time.Second, time.Millisecond)

	values = gather(t, reg)
	assert.Equal(t, float64(0), values["http1_connections_open"])
	assert.Equal(t, float64(1), values["http1_requests_total"])
	assert.Greater(t, values["http1_bytes_sent_total"], float64(0))

	b, err := r.DumpJSON()
	require.NoError(t, err)
	var dumped Report
	require.NoError(t, tools.Unmarshal(b, &dumped))
	assert.Equal(t, "test", dumped.Name)
	assert.Empty(t, dumped.Live)
	require.Len(t, dumped.Closed, 1)
	assert.Equal(t, d.ID(), dumped.Closed[0].ID)
	assert.Equal(t, uint64(1), dumped.Closed[0].Metrics.ResponseCount)
}

func TestRegistryCountsErrors(t *testing.T) {
	r := NewRegistry("errors", time.Minute)
	client, _ := serveWith(t, r)

	_, err := client.Write([]byte("NOT HTTP\r\n\r\n"))
	require.NoError(t, err)
	_, _ = io.ReadAll(client)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.errors.WithLabelValues("malformed")) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.statuses.WithLabelValues("4xx")))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", errorKind(http1.ErrTimeout))
	assert.Equal(t, "too_large", errorKind(protocol.ErrMessageTooLarge))
	assert.Equal(t, "closed", errorKind(protocol.ErrNoResponse))
	assert.Equal(t, "io", errorKind(io.ErrUnexpectedEOF))
}
