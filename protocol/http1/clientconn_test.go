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
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each request read from conn with the next reply.
func scriptedServer(t *testing.T, conn net.Conn, replies ...string) <-chan []*http.Request {
	ch := make(chan []*http.Request, 1)
	go func() {
		var reqs []*http.Request
		defer func() { ch <- reqs }()
		br := bufio.NewReader(conn)
		for _, reply := range replies {
			req, err := http.ReadRequest(br)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, req.Body)
			reqs = append(reqs, req)
			if _, err = conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	return ch
}

func newClientConn(t *testing.T, conn net.Conn) (*ClientConn, *recorder) {
	rec := &recorder{}
	f, err := NewClientFactory(ClientConfig{
		Config:     Config{Logger: logger.Nop, ConnectionListener: rec, StreamListener: rec},
		TargetHost: "example.com",
	})
	require.NoError(t, err)
	c, err := f.NewClientConn(context.Background(), conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

func TestClientConnExchanges(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	served := scriptedServer(t, remote,
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello",
		"HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
	)
	c, rec := newClientConn(t, local)

	resp, err := c.Execute(protocol.NewRequest(protocol.MethodGet, "/first"))
	require.NoError(t, err)
	assert.Equal(t, "hello", readAll(t, resp.Entity().Body))
	assert.True(t, c.KeepAlive())

	req := protocol.NewRequest(protocol.MethodPost, "/second")
	req.SetEntity(protocol.NewEntity(strings.NewReader("data"), 4))
	resp, err = c.Execute(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "abc", readAll(t, resp.Entity().Body))
	assert.False(t, c.KeepAlive())

	reqs := <-served
	require.Len(t, reqs, 2)
	assert.Equal(t, "example.com", reqs[0].Host)
	assert.Equal(t, "httpcore/1.1", reqs[0].UserAgent())
	assert.Equal(t, int64(4), reqs[1].ContentLength)

	assert.Equal(t, uint64(2), c.Metrics().RequestCount())
	assert.Equal(t, uint64(2), c.Metrics().ResponseCount())
	s := rec.snapshot()
	assert.Equal(t, []bool{true, false}, s.keepAlive)
	assert.Equal(t, 1, s.closes)
	assert.Equal(t, []string{"GET /first", "OK", "POST /second", "Continue", "Created"}, s.heads)
}

func TestClientConnAbandonedBody(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	scriptedServer(t, remote, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789")
	c, _ := newClientConn(t, local)

	resp, err := c.Execute(protocol.NewRequest(protocol.MethodGet, "/"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(resp.Entity().Body, buf)
	require.NoError(t, err)
	require.NoError(t, resp.Entity().Close())
	assert.False(t, c.KeepAlive())
	assert.Equal(t, network.Stale, c.Poll())
}

func TestClientConnResponseAvailability(t *testing.T) {
	local, remote := net.Pipe()
	c, _ := newClientConn(t, local)

	ok, err := c.IsResponseAvailable(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, network.Open, c.Poll())

	go func() { _, _ = remote.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n")) }()
	ok, err = c.IsResponseAvailable(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, network.Open, c.Poll())
}

func TestClientConnStale(t *testing.T) {
	local, remote := net.Pipe()
	c, _ := newClientConn(t, local)
	require.NoError(t, remote.Close())
	assert.Equal(t, network.Stale, c.Poll())
	assert.True(t, c.IsStale())
}

func TestClientConnEntityWithoutHead(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	c, _ := newClientConn(t, local)

	err := c.SendRequestEntity(protocol.NewRequest(protocol.MethodPost, "/"))
	assert.ErrorIs(t, err, ErrNoRequestHead)
	_, err = c.ReceiveResponseHeader()
	assert.ErrorIs(t, err, ErrNoRequestHead)
}
