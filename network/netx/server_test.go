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

package netx

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/config"
	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/syncx"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
	body := "target=" + req.Target
	if ent := req.Entity(); ent != nil {
		b, err := io.ReadAll(ent.Body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}
	resp := protocol.NewResponse(http.StatusOK)
	resp.SetEntity(protocol.NewEntity(strings.NewReader(body), int64(len(body))))
	return resp, nil
}

func selfSigned(t *testing.T) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func startServer(t *testing.T, tlsStrategy network.TLSStrategy, extra ...config.Option) *Server {
	opts := config.NewOptions(append([]config.Option{config.WithAddr("tcp", "127.0.0.1:0"), config.WithIdleTimeout(time.Second)}, extra...)...)
	f, err := http1.NewServerFactory(http1.ServerConfig{
		Config:      http1.Config{Options: opts, Logger: logger.Nop},
		Handler:     http1.HandlerFunc(echo),
		TLSStrategy: tlsStrategy,
	})
	require.NoError(t, err)
	server := NewServerWithAllArgs(opts, syncx.NewSpinLock(), logger.Nop, f)
	require.NoError(t, server.Open())
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *Server, tlsStrategy network.TLSStrategy) *http1.Duplexer {
	opts := config.NewOptions(config.WithAddr("tcp", server.Addr().String()))
	f, err := http1.NewClientFactory(http1.ClientConfig{
		Config:      http1.Config{Options: opts, Logger: logger.Nop},
		TLSStrategy: tlsStrategy,
	})
	require.NoError(t, err)
	handler, _, err := Dial(context.Background(), opts, f)
	require.NoError(t, err)
	d := handler.(*http1.Duplexer)
	t.Cleanup(d.Abort)
	return d
}

func TestServerOverTCP(t *testing.T) {
	server := startServer(t, nil)
	d := dial(t, server, nil)

	for _, target := range []string{"/a", "/b"} {
		resp, err := d.Execute(context.Background(), protocol.NewRequest(protocol.MethodGet, target))
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Entity().Body)
		require.NoError(t, err)
		assert.Equal(t, "target="+target, string(b))
	}
	assert.Eventually(t, func() bool { return server.GetSessionCount() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, d.Close())
	assert.Eventually(t, func() bool { return server.GetSessionCount() == 0 }, 5*time.Second, time.Millisecond)
}

func TestServerOverTLS(t *testing.T) {
	cert := selfSigned(t)
	server := startServer(t, network.NewServerTLSStrategy(&tls.Config{Certificates: []tls.Certificate{cert}}))
	d := dial(t, server, &network.ClientTLSStrategy{Config: &tls.Config{InsecureSkipVerify: true}})

	req := protocol.NewRequest(protocol.MethodPost, "/upload")
	req.SetEntity(protocol.NewEntity(strings.NewReader("secret"), 6))
	resp, err := d.Execute(context.Background(), req)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Entity().Body)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))
}

func TestServerRejectsFailedHandshake(t *testing.T) {
	cert := selfSigned(t)
	server := startServer(t, network.NewServerTLSStrategy(&tls.Config{Certificates: []tls.Certificate{cert}}))

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	b, _ := io.ReadAll(conn)
	assert.False(t, strings.HasPrefix(string(b), "HTTP/1.1"))
	assert.Equal(t, 0, server.GetSessionCount())
}

func TestSyncClientAgainstServer(t *testing.T) {
	server := startServer(t, nil)
	f, err := http1.NewClientFactory(http1.ClientConfig{Config: http1.Config{Logger: logger.Nop}})
	require.NoError(t, err)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	c, err := f.NewClientConn(context.Background(), conn)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Execute(protocol.NewRequest(protocol.MethodGet, "/sync"))
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Entity().Body)
	require.NoError(t, err)
	assert.Equal(t, "target=/sync", string(b))
	assert.True(t, c.KeepAlive())
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	server := startServer(t, nil)
	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
}

func TestMaxConnectionsRejectsExtra(t *testing.T) {
	server := startServer(t, nil, config.WithMaxConnections(1), config.WithAcceptRate(100, 10))
	first := dial(t, server, nil)
	resp, err := first.Execute(context.Background(), protocol.NewRequest(protocol.MethodGet, "/first"))
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Entity().Body)
	require.NoError(t, err)
	require.Equal(t, 1, server.GetSessionCount())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	_ = conn.Close()

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return server.GetSessionCount() == 0 }, 5*time.Second, time.Millisecond)

	second := dial(t, server, nil)
	resp, err = second.Execute(context.Background(), protocol.NewRequest(protocol.MethodGet, "/second"))
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Entity().Body)
	require.NoError(t, err)
	assert.Equal(t, "target=/second", string(b))
}
