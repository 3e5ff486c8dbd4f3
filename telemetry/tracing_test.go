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

package telemetry

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/network/pipe"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type connInfo struct {
	id      string
	metrics http1.Metrics
}

func (c *connInfo) ID() string          { return c.id }
func (c *connInfo) LocalAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80} }
func (c *connInfo) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
func (c *connInfo) Metrics() *http1.Metrics { return &c.metrics }

func newRecorded() (*TracingListener, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracingListener(WithTracer(tp.Tracer("test"))), sr
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestSpansFollowPipelinedOrder(t *testing.T) {
	l, sr := newRecorded()
	c := &connInfo{id: "c1"}

	first, second := protocol.NewRequest("GET", "/a"), protocol.NewRequest("POST", "/b")
	l.OnRequestHead(c, first)
	l.OnRequestHead(c, second)

	l.OnResponseHead(c, protocol.NewResponse(http.StatusContinue))
	l.OnResponseHead(c, protocol.NewResponse(http.StatusOK))
	l.OnExchangeComplete(c, first, nil, true)
	l.OnResponseHead(c, protocol.NewResponse(http.StatusBadGateway))
	l.OnExchangeComplete(c, second, nil, false)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "GET /a", ended[0].Name())
	assert.Equal(t, int64(200), attrs(ended[0])["http.status_code"].AsInt64())
	assert.True(t, attrs(ended[0])["http1.keep_alive"].AsBool())
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)

	assert.Equal(t, "POST /b", ended[1].Name())
	assert.Equal(t, "c1", attrs(ended[1])["http1.conn_id"].AsString())
	assert.False(t, attrs(ended[1])["http1.keep_alive"].AsBool())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Empty(t, l.spans)
}

func TestErrorEndsOpenSpans(t *testing.T) {
	l, sr := newRecorded()
	c, other := &connInfo{id: "c1"}, &connInfo{id: "c2"}

	l.OnRequestHead(c, protocol.NewRequest("GET", "/a"))
	l.OnRequestHead(c, protocol.NewRequest("GET", "/b"))
	l.OnRequestHead(other, protocol.NewRequest("GET", "/c"))
	l.OnError(c, errors.New("reset"))

	ended := sr.Ended()
	require.Len(t, ended, 2)
	for _, s := range ended {
		assert.Equal(t, codes.Error, s.Status().Code)
		assert.Equal(t, "reset", s.Status().Description)
		require.NotEmpty(t, s.Events())
		assert.Equal(t, "exception", s.Events()[0].Name)
	}

	l.OnDisconnect(other)
	require.Len(t, sr.Ended(), 3)
	assert.Equal(t, protocol.ErrConnectionClosed.Error(), sr.Ended()[2].Status().Description)

	// nothing left to end
	l.OnDisconnect(c)
	l.OnExchangeComplete(c, nil, nil, false)
	l.OnResponseHead(c, protocol.NewResponse(http.StatusOK))
	assert.Len(t, sr.Ended(), 3)
}

func TestTracingServerExchange(t *testing.T) {
	l, sr := newRecorded()
	f, err := http1.NewServerFactory(http1.ServerConfig{
		Config: http1.Config{ConnectionListener: l, StreamListener: l, Logger: logger.Nop},
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

	_, err = io.WriteString(client, "GET /traced HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	require.Eventually(t, func() bool { return len(sr.Ended()) == 1 }, 5*time.Second, 5*time.Millisecond)
	span := sr.Ended()[0]
	assert.Equal(t, "GET /traced", span.Name())
	assert.Equal(t, int64(200), attrs(span)["http.status_code"].AsInt64())
	assert.Equal(t, "HTTP/1.1", attrs(span)["http.flavor"].AsString())
	require.NoError(t, client.Close())
}
