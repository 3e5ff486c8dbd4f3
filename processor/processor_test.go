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

package processor

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r recorder) ProcessRequest(*protocol.Request, *Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestChainOrder(t *testing.T) {
	var log []string
	c := NewChain(Item{Interceptor: recorder{name: "c", log: &log}, Order: 30})
	c.Add(recorder{name: "a", log: &log}, 10).Add(recorder{name: "b", log: &log}, 20)
	c.Add(ResponseServer{Name: "x"}, 5)

	require.NoError(t, c.ProcessRequest(protocol.NewRequest("GET", "/"), &Context{}))
	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, 4, c.Len())

	log = nil
	boom := errors.New("boom")
	c = NewChain(Item{Interceptor: recorder{name: "a", log: &log, err: boom}}, Item{Interceptor: recorder{name: "b", log: &log}, Order: 1})
	assert.ErrorIs(t, c.ProcessRequest(protocol.NewRequest("GET", "/"), nil), boom)
	assert.Equal(t, []string{"a"}, log)
}

func TestClientChain(t *testing.T) {
	ctx := &Context{RemoteAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}}

	req := protocol.NewRequest(protocol.MethodPost, "/")
	req.Body = protocol.NewEntity(strings.NewReader("hello"), 5)
	require.NoError(t, NewClient("agent/1").ProcessRequest(req, ctx))
	assert.Equal(t, []string{"5"}, req.Header.Values("Content-Length"))
	host, _ := req.Header.Get("Host")
	assert.Equal(t, "127.0.0.1:8080", host)
	agent, _ := req.Header.Get("User-Agent")
	assert.Equal(t, "agent/1", agent)

	stream := protocol.NewRequest(protocol.MethodPut, "/")
	stream.Body = protocol.NewEntity(strings.NewReader("x"), -1)
	require.NoError(t, NewClient("").ProcessRequest(stream, &Context{TargetHost: "example.com"}))
	assert.True(t, stream.Header.HasToken("Transfer-Encoding", "chunked"))
	assert.False(t, stream.Header.Contains("User-Agent"))

	old := protocol.NewRequest(protocol.MethodPut, "/")
	old.Version = protocol.HTTP10
	old.Body = protocol.NewEntity(strings.NewReader("x"), -1)
	assert.ErrorIs(t, NewClient("").ProcessRequest(old, nil), ErrChunkedNotAllowed)

	empty := protocol.NewRequest(protocol.MethodPost, "/")
	require.NoError(t, RequestContent{}.ProcessRequest(empty, nil))
	assert.Equal(t, []string{"0"}, empty.Header.Values("Content-Length"))

	assert.ErrorIs(t, RequestTargetHost{}.ProcessRequest(protocol.NewRequest("GET", "/"), nil), ErrMissingHost)
}

func TestServerChain(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	chain := NewChain(
		Item{Interceptor: ResponseDate{Now: func() time.Time { return now }}, Order: 10},
		Item{Interceptor: ResponseServer{Name: "httpcore"}, Order: 20},
		Item{Interceptor: ResponseContent{}, Order: 30},
		Item{Interceptor: ResponseConnControl{}, Order: 40},
	)

	req := protocol.NewRequest(protocol.MethodGet, "/")
	resp := protocol.NewResponse(200)
	resp.Body = protocol.NewEntity(strings.NewReader("abc"), 3)
	require.NoError(t, chain.ProcessResponse(resp, &Context{Request: req}))
	date, _ := resp.Header.Get("Date")
	assert.Equal(t, "Wed, 01 May 2024 10:00:00 GMT", date)
	server, _ := resp.Header.Get("Server")
	assert.Equal(t, "httpcore", server)
	assert.Equal(t, []string{"3"}, resp.Header.Values("Content-Length"))
	assert.False(t, resp.Header.Contains("Connection"))

	streamed := protocol.NewResponse(200)
	streamed.Body = protocol.NewEntity(strings.NewReader("abc"), -1)
	require.NoError(t, chain.ProcessResponse(streamed, &Context{Request: req}))
	assert.True(t, streamed.Header.HasToken("Transfer-Encoding", "chunked"))

	req10 := protocol.NewRequest(protocol.MethodGet, "/")
	req10.Version = protocol.HTTP10
	legacy := protocol.NewResponse(200)
	legacy.Body = protocol.NewEntity(strings.NewReader("abc"), -1)
	require.NoError(t, chain.ProcessResponse(legacy, &Context{Request: req10}))
	assert.False(t, legacy.Header.Contains("Transfer-Encoding"))
	assert.True(t, legacy.Header.HasToken("Connection", "close"))

	require.NoError(t, req10.Header.Add("Connection", "keep-alive"))
	kept := protocol.NewResponse(204)
	require.NoError(t, chain.ProcessResponse(kept, &Context{Request: req10}))
	assert.True(t, kept.Header.HasToken("Connection", "keep-alive"))
	assert.False(t, kept.Header.Contains("Content-Length"))

	bad := protocol.NewResponse(400)
	require.NoError(t, chain.ProcessResponse(bad, &Context{Request: req}))
	assert.True(t, bad.Header.HasToken("Connection", "close"))
	assert.Equal(t, []string{"0"}, bad.Header.Values("Content-Length"))

	interim := protocol.NewResponse(100)
	require.NoError(t, ResponseDate{}.ProcessResponse(interim, nil))
	assert.False(t, interim.Header.Contains("Date"))
}

func TestNop(t *testing.T) {
	req := protocol.NewRequest("GET", "/")
	require.NoError(t, Nop.ProcessRequest(req, nil))
	assert.Equal(t, 0, req.Header.Len())
}
