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
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/tools"
	"github.com/caiflower/httpcore/processor"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/entity"
	"github.com/caiflower/httpcore/protocol/http1/message"
)

var (
	ErrNoRequestHead = errors.New("http1: request entity sent before its head")
	ErrNonBlocking   = errors.New("http1: session would block")
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// ClientConn is a synchronous client connection over a blocking session.
// Each call runs on the caller's goroutine; it is not safe for concurrent
// use.
type ClientConn struct {
	id      string
	session network.Session
	cfg     *connConfig
	pctx    processor.Context

	in      *buffer.SessionInputBuffer
	out     *buffer.SessionOutputBuffer
	metrics Metrics

	writer message.RequestWriter
	parser message.ResponseParser

	req      *protocol.Request
	reqDisc  entity.Discipline
	body     *responseBody
	closed   bool
	staleEOF bool
}

// NewClientConn wraps a blocking session, securing it first when the
// factory has a TLS strategy.
func (f *ClientFactory) NewClientConn(ctx context.Context, s network.Session) (*ClientConn, error) {
	secure, err := f.cfg.upgrade(ctx, f.tls, s)
	if err != nil {
		return nil, err
	}
	cfg := f.cfg
	c := &ClientConn{
		id:      tools.GenerateId("conn"),
		session: s,
		cfg:     cfg,
		pctx: processor.Context{
			LocalAddr:  s.LocalAddr(),
			RemoteAddr: s.RemoteAddr(),
			TargetHost: f.targetHost,
			Secure:     secure,
		},
	}
	c.in = buffer.NewSessionInputBuffer(s, cfg.options.BufferSize, cfg.constraints.MaxLineLength, &c.metrics.received)
	c.out = buffer.NewSessionOutputBuffer(s, cfg.options.BufferSize, &c.metrics.sent)
	c.writer = cfg.requestWriter(cfg.coding)
	c.parser = cfg.responseParser(c.in, cfg.coding, cfg.constraints)
	cfg.notifier.connected(c)
	return c, nil
}

func (c *ClientConn) ID() string           { return c.id }
func (c *ClientConn) LocalAddr() net.Addr  { return c.session.LocalAddr() }
func (c *ClientConn) RemoteAddr() net.Addr { return c.session.RemoteAddr() }
func (c *ClientConn) Metrics() *Metrics    { return &c.metrics }

// SendRequestHeader buffers the head of req. Nothing reaches the peer until
// Flush.
func (c *ClientConn) SendRequestHeader(req *protocol.Request) error {
	if c.closed {
		return exchangeError("send request head", Idle, notSent(protocol.ErrConnectionClosed))
	}
	pctx := c.pctx
	if err := c.cfg.processor.ProcessRequest(req, &pctx); err != nil {
		return exchangeError("send request head", Idle, notSent(err))
	}
	disc, err := c.cfg.outgoing.Determine(req, entity.Outgoing)
	if err != nil {
		return exchangeError("send request head", Idle, notSent(err))
	}
	if err = c.writer.Write(req, c.out); err != nil {
		return exchangeError("send request head", Idle, notSent(err))
	}
	c.req, c.reqDisc = req, disc
	c.metrics.incrementRequests()
	c.cfg.notifier.requestHead(c, req)
	return nil
}

// SendRequestEntity writes the entity of the request whose head was sent
// last.
func (c *ClientConn) SendRequestEntity(req *protocol.Request) error {
	if c.req != req {
		return ErrNoRequestHead
	}
	enc := entity.NewEncoder(c.reqDisc, req.Entity(), c.out, c.cfg.coding, c.cfg.options.ChunkSizeHint)
	for {
		done, err := enc.Encode()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				err = ErrNonBlocking
			}
			return c.abort(exchangeError("send request entity", RequestEntityOut, err))
		}
		if done {
			return req.Entity().Close()
		}
		if err = c.Flush(); err != nil {
			return err
		}
	}
}

func (c *ClientConn) Flush() error {
	if err := c.out.Flush(); err != nil {
		if buffer.IsWouldBlock(err) {
			err = ErrNonBlocking
		}
		return c.abort(exchangeError("flush", RequestEntityOut, err))
	}
	return nil
}

// ReceiveResponseHeader reads the next final response head. Interim
// responses are reported to the stream listener and skipped.
func (c *ClientConn) ReceiveResponseHeader() (*protocol.Response, error) {
	if c.req == nil {
		return nil, ErrNoRequestHead
	}
	for {
		resp, err := c.parser.Parse()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				err = ErrNonBlocking
			}
			return nil, c.abort(exchangeError("receive response head", ResponseHeaderIn, err))
		}
		resp.RequestMethod = c.req.Method
		pctx := c.pctx
		pctx.Request = c.req
		if err = c.cfg.processor.ProcessResponse(resp, &pctx); err != nil {
			return nil, c.abort(exchangeError("receive response head", ResponseHeaderIn, err))
		}
		c.cfg.notifier.responseHead(c, resp)
		if resp.IsFinal() {
			c.metrics.incrementResponses()
			return resp, nil
		}
	}
}

// ReceiveResponseEntity attaches the body of resp. It must be read to the
// end, or closed, before the next exchange.
func (c *ClientConn) ReceiveResponseEntity(resp *protocol.Response) error {
	disc := entity.NoBody
	if protocol.CanResponseHaveBody(resp.RequestMethod, resp.StatusCode) {
		var err error
		if disc, err = c.cfg.incoming.Determine(resp, entity.Incoming); err != nil {
			return c.abort(exchangeError("receive response entity", ResponseEntityIn, err))
		}
	}
	dec := entity.NewDecoder(disc, c.in, resp, c.cfg.coding, c.cfg.constraints)
	c.body = &responseBody{conn: c, dec: dec, req: c.req, resp: resp}
	if dec.Done() {
		resp.SetEntity(protocol.NewEntity(http.NoBody, 0))
		c.body.finish(true)
		return nil
	}
	length := int64(-1)
	if disc.Kind == entity.Identity {
		length = disc.Length
	}
	resp.SetEntity(&protocol.Entity{Body: c.body, ContentLength: length, Chunked: disc.Kind == entity.Chunked})
	return nil
}

// Execute runs one complete exchange. The response body is left for the
// caller to read.
func (c *ClientConn) Execute(req *protocol.Request) (*protocol.Response, error) {
	if err := c.SendRequestHeader(req); err != nil {
		return nil, err
	}
	if req.Entity() != nil {
		if err := c.SendRequestEntity(req); err != nil {
			return nil, err
		}
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}
	resp, err := c.ReceiveResponseHeader()
	if err != nil {
		return nil, err
	}
	if err = c.ReceiveResponseEntity(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// IsResponseAvailable waits up to timeout for response bytes.
func (c *ClientConn) IsResponseAvailable(timeout time.Duration) (bool, error) {
	if c.in.Buffered() > 0 {
		return true, nil
	}
	if dl, ok := c.session.(deadliner); ok {
		_ = dl.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
	}
	ok, err := c.in.Probe()
	if err != nil && network.IsTimeout(err) {
		return false, nil
	}
	return ok, err
}

// Poll tells whether the idle connection was closed by the peer. It waits at
// most a millisecond for the answer.
func (c *ClientConn) Poll() network.PollStatus {
	if c.closed || c.staleEOF {
		return network.Stale
	}
	if c.in.Buffered() > 0 {
		return network.Open
	}
	if dl, ok := c.session.(deadliner); ok {
		_ = dl.SetReadDeadline(time.Now().Add(time.Millisecond))
		defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
	}
	_, err := c.in.Probe()
	switch {
	case err == nil, network.IsTimeout(err):
		return network.Open
	case err == io.EOF:
		c.staleEOF = true
		return network.Stale
	default:
		return network.Unknown
	}
}

func (c *ClientConn) IsStale() bool {
	return c.Poll() == network.Stale
}

// KeepAlive reports whether the connection may carry another exchange after
// the response last received.
func (c *ClientConn) KeepAlive() bool {
	return c.body != nil && c.body.done && c.body.keep
}

func (c *ClientConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.session.Close()
	c.cfg.notifier.disconnected(c)
	return err
}

func (c *ClientConn) abort(err error) error {
	if !c.closed {
		c.cfg.notifier.failed(c, err)
		_ = c.Close()
	}
	return err
}

// responseBody streams a response entity off a ClientConn.
type responseBody struct {
	conn *ClientConn
	dec  *entity.Decoder
	req  *protocol.Request
	resp *protocol.Response
	done bool
	keep bool
	err  error
}

func (b *responseBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.dec.Read(p)
	switch {
	case err == io.EOF:
		b.finish(true)
		b.err = io.EOF
	case err != nil:
		if buffer.IsWouldBlock(err) {
			err = ErrNonBlocking
		}
		b.err = b.conn.abort(exchangeError("receive response entity", ResponseEntityIn, err))
		b.done = true
	}
	return n, b.err
}

// Close abandons what is left of the body; the connection is not reused.
func (b *responseBody) Close() error {
	if !b.done {
		b.finish(false)
		b.err = protocol.ErrConnectionClosed
	}
	return nil
}

func (b *responseBody) finish(consumed bool) {
	if b.done {
		return
	}
	b.done = true
	b.keep = b.conn.cfg.reuse.KeepAlive(b.req, b.resp, consumed)
	b.conn.cfg.notifier.exchangeComplete(b.conn, b.req, b.resp, b.keep)
	if !b.keep {
		_ = b.conn.Close()
	}
}
