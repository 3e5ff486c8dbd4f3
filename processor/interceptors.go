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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/caiflower/httpcore/protocol"
)

var (
	ErrMissingHost       = errors.New("processor: target host unknown")
	ErrChunkedNotAllowed = errors.New("processor: chunked transfer encoding requires HTTP/1.1")
)

// RequestContent declares the framing of the request entity.
type RequestContent struct{}

func (RequestContent) ProcessRequest(req *protocol.Request, _ *Context) error {
	h := req.Headers()
	if h.Contains(protocol.HeaderContentLength) || h.Contains(protocol.HeaderTransferEncoding) {
		return nil
	}
	e := req.Entity()
	if e == nil {
		if req.Method == protocol.MethodPost || req.Method == protocol.MethodPut {
			return h.Set(protocol.HeaderContentLength, "0")
		}
		return nil
	}
	if e.Chunked || e.ContentLength < 0 {
		if req.Version.LessThan(protocol.HTTP11) {
			return fmt.Errorf("%w: %s %s", ErrChunkedNotAllowed, req.Method, req.Version)
		}
		return h.Set(protocol.HeaderTransferEncoding, "chunked")
	}
	return h.Set(protocol.HeaderContentLength, strconv.FormatInt(e.ContentLength, 10))
}

// RequestTargetHost adds the Host header HTTP/1.1 requires.
type RequestTargetHost struct{}

func (RequestTargetHost) ProcessRequest(req *protocol.Request, ctx *Context) error {
	if req.Method == protocol.MethodConnect || req.Version.LessThan(protocol.HTTP11) || req.Headers().Contains(protocol.HeaderHost) {
		return nil
	}
	host := ""
	if ctx != nil {
		host = ctx.TargetHost
		if host == "" && ctx.RemoteAddr != nil {
			host = ctx.RemoteAddr.String()
		}
	}
	if host == "" {
		return ErrMissingHost
	}
	return req.Headers().Set(protocol.HeaderHost, host)
}

type RequestUserAgent struct {
	Agent string
}

func (r RequestUserAgent) ProcessRequest(req *protocol.Request, _ *Context) error {
	if r.Agent == "" || req.Headers().Contains(protocol.HeaderUserAgent) {
		return nil
	}
	return req.Headers().Set(protocol.HeaderUserAgent, r.Agent)
}

type ResponseDate struct {
	Now func() time.Time
}

func (r ResponseDate) ProcessResponse(resp *protocol.Response, _ *Context) error {
	if !resp.IsFinal() || resp.Headers().Contains(protocol.HeaderDate) {
		return nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return resp.Headers().Set(protocol.HeaderDate, now().UTC().Format(http.TimeFormat))
}

type ResponseServer struct {
	Name string
}

func (r ResponseServer) ProcessResponse(resp *protocol.Response, _ *Context) error {
	if r.Name == "" || resp.Headers().Contains(protocol.HeaderServer) {
		return nil
	}
	return resp.Headers().Set(protocol.HeaderServer, r.Name)
}

// ResponseContent declares the framing of the response entity. A body of
// unknown length sent to an HTTP/1.0 peer gets no framing header and is
// delimited by closing the connection.
type ResponseContent struct{}

func (ResponseContent) ProcessResponse(resp *protocol.Response, ctx *Context) error {
	h := resp.Headers()
	if h.Contains(protocol.HeaderContentLength) || h.Contains(protocol.HeaderTransferEncoding) {
		return nil
	}
	method, version := requestOf(ctx)
	e := resp.Entity()
	if !protocol.CanResponseHaveBody(method, resp.StatusCode) {
		if method == protocol.MethodHead && e != nil && e.ContentLength >= 0 && !e.Chunked {
			return h.Set(protocol.HeaderContentLength, strconv.FormatInt(e.ContentLength, 10))
		}
		return nil
	}
	switch {
	case e == nil:
		return h.Set(protocol.HeaderContentLength, "0")
	case !e.Chunked && e.ContentLength >= 0:
		return h.Set(protocol.HeaderContentLength, strconv.FormatInt(e.ContentLength, 10))
	case !version.LessThan(protocol.HTTP11):
		return h.Set(protocol.HeaderTransferEncoding, "chunked")
	}
	return nil
}

// ResponseConnControl decides the Connection header of a response from the
// request it answers.
type ResponseConnControl struct{}

func (ResponseConnControl) ProcessResponse(resp *protocol.Response, ctx *Context) error {
	h := resp.Headers()
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestTimeout, http.StatusLengthRequired,
		http.StatusRequestEntityTooLarge, http.StatusRequestURITooLong,
		http.StatusServiceUnavailable, http.StatusNotImplemented:
		return h.Set(protocol.HeaderConnection, "close")
	}
	if h.HasToken(protocol.HeaderConnection, "close") {
		return nil
	}
	if !h.Contains(protocol.HeaderContentLength) && !h.Contains(protocol.HeaderTransferEncoding) {
		method, _ := requestOf(ctx)
		if e := resp.Entity(); e != nil && protocol.CanResponseHaveBody(method, resp.StatusCode) {
			return h.Set(protocol.HeaderConnection, "close")
		}
	}
	if ctx == nil || ctx.Request == nil {
		return nil
	}
	req := ctx.Request
	if req.Headers().HasToken(protocol.HeaderConnection, "close") {
		return h.Set(protocol.HeaderConnection, "close")
	}
	if req.Version.LessThan(protocol.HTTP11) {
		if req.Headers().HasToken(protocol.HeaderConnection, "keep-alive") {
			return h.Set(protocol.HeaderConnection, "keep-alive")
		}
		return h.Set(protocol.HeaderConnection, "close")
	}
	return nil
}

func requestOf(ctx *Context) (string, protocol.Version) {
	if ctx == nil || ctx.Request == nil {
		return protocol.MethodGet, protocol.HTTP11
	}
	return ctx.Request.Method, ctx.Request.Version
}
