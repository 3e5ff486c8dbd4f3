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
	"errors"
	"testing"

	"github.com/caiflower/httpcore/protocol"
	"github.com/stretchr/testify/assert"
)

func response(version protocol.Version, status int, pairs ...string) *protocol.Response {
	resp := protocol.NewResponse(status)
	resp.Version = version
	resp.Header = protocol.NewHeaders(pairs...)
	return resp
}

func TestDefaultReuseStrategy(t *testing.T) {
	get := protocol.NewRequest(protocol.MethodGet, "/")
	closing := protocol.NewRequest(protocol.MethodGet, "/")
	_ = closing.Headers().Set(protocol.HeaderConnection, "close")
	head := protocol.NewRequest(protocol.MethodHead, "/")

	tests := []struct {
		name     string
		req      *protocol.Request
		resp     *protocol.Response
		consumed bool
		want     bool
	}{
		{"http/1.1 with length", get, response(protocol.HTTP11, 200, "Content-Length", "3"), true, true},
		{"body not consumed", get, response(protocol.HTTP11, 200, "Content-Length", "3"), false, false},
		{"request asked to close", closing, response(protocol.HTTP11, 200, "Content-Length", "3"), true, false},
		{"response closes", get, response(protocol.HTTP11, 200, "Content-Length", "3", "Connection", "close"), true, false},
		{"close wins over keep-alive", get, response(protocol.HTTP11, 200, "Content-Length", "3", "Connection", "keep-alive, close"), true, false},
		{"http/1.0 default", get, response(protocol.HTTP10, 200, "Content-Length", "3"), true, false},
		{"http/1.0 keep-alive", get, response(protocol.HTTP10, 200, "Content-Length", "3", "Connection", "Keep-Alive"), true, true},
		{"chunked", get, response(protocol.HTTP11, 200, "Transfer-Encoding", "chunked"), true, true},
		{"gzip last", get, response(protocol.HTTP11, 200, "Transfer-Encoding", "chunked, gzip"), true, false},
		{"no framing", get, response(protocol.HTTP11, 200), true, false},
		{"two lengths", get, response(protocol.HTTP11, 200, "Content-Length", "3", "Content-Length", "3"), true, false},
		{"invalid length", get, response(protocol.HTTP11, 200, "Content-Length", "x"), true, false},
		{"head without framing", head, response(protocol.HTTP11, 200), true, true},
		{"304 without framing", get, response(protocol.HTTP11, 304), true, true},
		{"204", get, response(protocol.HTTP11, 204), true, true},
		{"204 zero length", get, response(protocol.HTTP11, 204, "Content-Length", "0"), true, true},
		{"204 with length", get, response(protocol.HTTP11, 204, "Content-Length", "10"), true, false},
		{"204 chunked", get, response(protocol.HTTP11, 204, "Transfer-Encoding", "chunked"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultReuse.KeepAlive(tt.req, tt.resp, tt.consumed))
		})
	}
}

func TestNoReuseAndFunc(t *testing.T) {
	req := protocol.NewRequest(protocol.MethodGet, "/")
	resp := response(protocol.HTTP11, 200, "Content-Length", "0")
	assert.False(t, NoReuse.KeepAlive(req, resp, true))

	called := false
	f := ReuseStrategyFunc(func(*protocol.Request, *protocol.Response, bool) bool {
		called = true
		return true
	})
	assert.True(t, f.KeepAlive(req, resp, true))
	assert.True(t, called)
}

func TestMetricsSnapshot(t *testing.T) {
	var m Metrics
	m.incrementRequests()
	m.incrementRequests()
	m.incrementResponses()
	m.received.Add(10)
	m.sent.Add(20)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.RequestCount)
	assert.Equal(t, uint64(1), s.ResponseCount)
	assert.Equal(t, uint64(10), m.BytesReceived())
	assert.Equal(t, uint64(20), m.BytesSent())
}

func TestExchangeError(t *testing.T) {
	err := exchangeError("execute", Idle, notSent(protocol.ErrConnectionClosed))
	var xe *ExchangeError
	assert.True(t, errors.As(err, &xe))
	assert.False(t, xe.RequestSent())
	assert.ErrorIs(t, err, ErrRequestNotSent)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)

	err = exchangeError("receive response head", ResponseHeaderIn, protocol.ErrNoResponse)
	assert.True(t, errors.As(err, &xe))
	assert.True(t, xe.RequestSent())
	assert.Contains(t, err.Error(), "receive response head")
}
