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

package protocol

import (
	"io"
	"net/http"
)

const (
	MethodGet     = http.MethodGet
	MethodHead    = http.MethodHead
	MethodPost    = http.MethodPost
	MethodPut     = http.MethodPut
	MethodConnect = http.MethodConnect

	HeaderConnection       = "Connection"
	HeaderKeepAlive        = "Keep-Alive"
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderContentType      = "Content-Type"
	HeaderHost             = "Host"
	HeaderDate             = "Date"
	HeaderServer           = "Server"
	HeaderUserAgent        = "User-Agent"
	HeaderExpect           = "Expect"
	HeaderTrailer          = "Trailer"
)

// Message is the part of a request or response the framing layer looks at.
type Message interface {
	Headers() *Headers
	ProtocolVersion() Version
	Entity() *Entity
	SetEntity(e *Entity)
}

type Request struct {
	Method  string
	Target  string
	Version Version
	Header  *Headers
	Body    *Entity
}

func NewRequest(method, target string) *Request {
	return &Request{Method: method, Target: target, Version: HTTP11, Header: &Headers{}}
}

func (r *Request) Headers() *Headers {
	if r.Header == nil {
		r.Header = &Headers{}
	}
	return r.Header
}

func (r *Request) ProtocolVersion() Version { return r.Version }
func (r *Request) Entity() *Entity          { return r.Body }
func (r *Request) SetEntity(e *Entity)      { r.Body = e }

type Response struct {
	Version    Version
	StatusCode int
	Reason     string
	Header     *Headers
	Body       *Entity

	// RequestMethod is the method of the request this response answers. It
	// decides whether a body may follow (HEAD, CONNECT).
	RequestMethod string
}

func NewResponse(status int) *Response {
	return &Response{Version: HTTP11, StatusCode: status, Reason: http.StatusText(status), Header: &Headers{}}
}

func (r *Response) Headers() *Headers {
	if r.Header == nil {
		r.Header = &Headers{}
	}
	return r.Header
}

func (r *Response) ProtocolVersion() Version { return r.Version }
func (r *Response) Entity() *Entity          { return r.Body }
func (r *Response) SetEntity(e *Entity)      { r.Body = e }

// IsFinal reports a non-informational status.
func (r *Response) IsFinal() bool {
	return r.StatusCode >= http.StatusOK
}

// CanResponseHaveBody reports whether a response with status to a request
// using method may carry an entity at all.
func CanResponseHaveBody(method string, status int) bool {
	if method == MethodHead {
		return false
	}
	if method == MethodConnect && status >= 200 && status < 300 {
		return false
	}
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}

// Entity is a message body. Outgoing entities are produced from Body;
// incoming ones are consumed through Body.
type Entity struct {
	Body io.Reader

	// ContentLength is the declared size, -1 if unknown.
	ContentLength int64
	Chunked       bool

	// Trailer fields written after the last chunk of an outgoing chunked entity.
	Trailer *Headers
}

// NewEntity wraps r. length is -1 when unknown.
func NewEntity(r io.Reader, length int64) *Entity {
	return &Entity{Body: r, ContentLength: length}
}

// Close releases an incoming body reader when it implements io.Closer.
func (e *Entity) Close() error {
	if e == nil {
		return nil
	}
	if c, ok := e.Body.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
