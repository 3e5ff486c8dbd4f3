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
	"strconv"
	"strings"

	"github.com/caiflower/httpcore/protocol"
)

// ConnectionReuseStrategy decides after an exchange whether the connection
// may carry another one. consumed tells whether the response entity was
// read to its end.
type ConnectionReuseStrategy interface {
	KeepAlive(req *protocol.Request, resp *protocol.Response, consumed bool) bool
}

type ReuseStrategyFunc func(req *protocol.Request, resp *protocol.Response, consumed bool) bool

func (f ReuseStrategyFunc) KeepAlive(req *protocol.Request, resp *protocol.Response, consumed bool) bool {
	return f(req, resp, consumed)
}

// DefaultReuseStrategy keeps HTTP/1.1 connections alive unless either side
// asked to close or the response body is not delimited unambiguously.
// HTTP/1.0 connections are kept only on an explicit keep-alive.
type DefaultReuseStrategy struct{}

// NoReuseStrategy closes the connection after every exchange.
type NoReuseStrategy struct{}

var (
	DefaultReuse ConnectionReuseStrategy = DefaultReuseStrategy{}
	NoReuse      ConnectionReuseStrategy = NoReuseStrategy{}
)

func (NoReuseStrategy) KeepAlive(*protocol.Request, *protocol.Response, bool) bool {
	return false
}

func (DefaultReuseStrategy) KeepAlive(req *protocol.Request, resp *protocol.Response, consumed bool) bool {
	if resp == nil || !consumed {
		return false
	}
	method := resp.RequestMethod
	if req != nil {
		if req.Headers().HasToken(protocol.HeaderConnection, "close") {
			return false
		}
		method = req.Method
	}

	h := resp.Headers()
	// a 204 must not announce a body
	if resp.StatusCode == 204 {
		if h.Contains(protocol.HeaderTransferEncoding) {
			return false
		}
		if h.Contains(protocol.HeaderContentLength) {
			if n, ok := singleLength(h); !ok || n > 0 {
				return false
			}
		}
	}

	if codings := h.Tokens(protocol.HeaderTransferEncoding); len(codings) > 0 {
		if codings[len(codings)-1] != "chunked" {
			return false
		}
	} else if protocol.CanResponseHaveBody(method, resp.StatusCode) {
		if _, ok := singleLength(h); !ok {
			return false
		}
	}

	tokens := h.Tokens(protocol.HeaderConnection)
	for _, t := range tokens {
		if t == "close" {
			return false
		}
	}
	for _, t := range tokens {
		if t == "keep-alive" {
			return true
		}
	}
	return !resp.Version.LessThan(protocol.HTTP11)
}

// singleLength returns the value of exactly one valid Content-Length.
func singleLength(h *protocol.Headers) (int64, bool) {
	values := h.Values(protocol.HeaderContentLength)
	if len(values) != 1 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
