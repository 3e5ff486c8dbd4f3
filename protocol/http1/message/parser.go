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

package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
)

// Constraints limit what a peer may send in a message head. A value <= 0
// disables the limit.
type Constraints struct {
	MaxHeaderCount int
	MaxLineLength  int

	// MaxGarbageLines is the number of non-status lines tolerated before a
	// response status line.
	MaxGarbageLines int
	// MaxEmptyLines is the number of empty lines tolerated before a request
	// line.
	MaxEmptyLines int
}

var DefaultConstraints = Constraints{}

type RequestParser interface {
	// Parse returns the next request head. A would-block error means the
	// call must be repeated once more input is available; progress is kept.
	Parse() (*protocol.Request, error)
	Reset()
}

type ResponseParser interface {
	Parse() (*protocol.Response, error)
	Reset()
}

type RequestParserFactory func(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) RequestParser

type ResponseParserFactory func(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) ResponseParser

func DefaultRequestParserFactory(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) RequestParser {
	return NewRequestParser(in, coding, c)
}

func DefaultResponseParserFactory(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) ResponseParser {
	return NewResponseParser(in, coding, c)
}

// headParser holds the state shared by both parsers: the line being
// assembled and the header lines collected so far.
type headParser struct {
	in          *buffer.SessionInputBuffer
	coding      *buffer.CharCoding
	constraints Constraints
	line        []byte
	fields      [][]byte
}

func (h *headParser) reset() {
	h.line = h.line[:0]
	h.fields = nil
}

// readHeaders collects header lines up to the empty line. Continuation lines
// starting with SP or HT are joined onto the previous field with one space.
func (h *headParser) readHeaders(malformed error) (*protocol.Headers, error) {
	for {
		ok, err := h.in.ReadLine(&h.line)
		if !ok {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: connection closed inside header block", malformed)
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		line := h.line
		switch {
		case len(line) == 0:
			headers, err := h.buildHeaders(malformed)
			h.reset()
			return headers, err
		case (line[0] == ' ' || line[0] == '\t') && len(h.fields) > 0:
			last := len(h.fields) - 1
			folded := bytes.TrimLeft(line, " \t")
			if limit := h.constraints.MaxLineLength; limit > 0 && len(h.fields[last])+1+len(folded) > limit {
				return nil, fmt.Errorf("%w: folded header line longer than %d", protocol.ErrMessageTooLarge, limit)
			}
			h.fields[last] = append(append(h.fields[last], ' '), folded...)
		default:
			if limit := h.constraints.MaxHeaderCount; limit > 0 && len(h.fields) >= limit {
				return nil, fmt.Errorf("%w: more than %d headers", protocol.ErrMessageTooLarge, limit)
			}
			h.fields = append(h.fields, append([]byte(nil), line...))
		}
		h.line = h.line[:0]
	}
}

func (h *headParser) buildHeaders(malformed error) (*protocol.Headers, error) {
	headers := &protocol.Headers{}
	for _, raw := range h.fields {
		header, err := ParseHeader(raw, h.coding)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", malformed, err)
		}
		_ = headers.AddHeader(header)
	}
	return headers, nil
}

// ParseHeader parses one "name: value" line. The returned header keeps raw
// as its wire form.
func ParseHeader(raw []byte, coding *buffer.CharCoding) (protocol.Header, error) {
	i := bytes.IndexByte(raw, ':')
	if i <= 0 || bytes.ContainsAny(raw[:i], " \t") {
		return protocol.Header{}, fmt.Errorf("invalid header %q", raw)
	}
	name, err := coding.Decode(raw[:i])
	if err != nil {
		return protocol.Header{}, err
	}
	value, err := coding.Decode(bytes.TrimSpace(raw[i+1:]))
	if err != nil {
		return protocol.Header{}, err
	}
	return protocol.NewParsedHeader(name, value, raw), nil
}

// DefaultRequestParser parses request heads. Empty lines before a request
// line are skipped; anything else that is not a request line is rejected.
type DefaultRequestParser struct {
	head  headParser
	empty int
	req   *protocol.Request
}

func NewRequestParser(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) *DefaultRequestParser {
	if coding == nil {
		coding = buffer.Passthrough
	}
	return &DefaultRequestParser{head: headParser{in: in, coding: coding, constraints: c}}
}

func (p *DefaultRequestParser) Reset() {
	p.head.reset()
	p.empty = 0
	p.req = nil
}

// Parse returns io.EOF if the peer closed cleanly between requests.
func (p *DefaultRequestParser) Parse() (*protocol.Request, error) {
	for p.req == nil {
		ok, err := p.head.in.ReadLine(&p.head.line)
		if !ok {
			if err == io.EOF && len(p.head.line) > 0 {
				err = fmt.Errorf("%w: truncated request line", protocol.ErrMalformedRequest)
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if len(p.head.line) == 0 {
			p.empty++
			if limit := p.head.constraints.MaxEmptyLines; limit > 0 && p.empty > limit {
				return nil, fmt.Errorf("%w: more than %d empty lines before request line", protocol.ErrMalformedRequest, limit)
			}
			continue
		}
		p.empty = 0
		s, err := p.head.coding.Decode(p.head.line)
		p.head.line = p.head.line[:0]
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedRequest, err)
		}
		if p.req, err = ParseRequestLine(s); err != nil {
			return nil, err
		}
	}

	headers, err := p.head.readHeaders(protocol.ErrMalformedRequest)
	if err != nil {
		return nil, err
	}
	req := p.req
	req.Header = headers
	p.req = nil
	return req, nil
}

// DefaultResponseParser parses response heads. Lines that do not start with
// "HTTP" are skipped as garbage up to MaxGarbageLines.
type DefaultResponseParser struct {
	head    headParser
	garbage int
	resp    *protocol.Response
}

func NewResponseParser(in *buffer.SessionInputBuffer, coding *buffer.CharCoding, c Constraints) *DefaultResponseParser {
	if coding == nil {
		coding = buffer.Passthrough
	}
	return &DefaultResponseParser{head: headParser{in: in, coding: coding, constraints: c}}
}

func (p *DefaultResponseParser) Reset() {
	p.head.reset()
	p.garbage = 0
	p.resp = nil
}

func (p *DefaultResponseParser) Parse() (*protocol.Response, error) {
	for p.resp == nil {
		ok, err := p.head.in.ReadLine(&p.head.line)
		if !ok {
			if errors.Is(err, io.EOF) {
				if p.garbage == 0 {
					return nil, protocol.ErrNoResponse
				}
				return nil, fmt.Errorf("%w: connection closed after %d garbage lines", protocol.ErrMalformedResponse, p.garbage)
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		line := p.head.line
		if !startsWithHTTP(line) {
			if limit := p.head.constraints.MaxGarbageLines; limit > 0 && p.garbage >= limit {
				return nil, fmt.Errorf("%w: no status line within %d lines", protocol.ErrMalformedResponse, limit+1)
			}
			p.garbage++
			p.head.line = p.head.line[:0]
			continue
		}
		s, err := p.head.coding.Decode(line)
		p.head.line = p.head.line[:0]
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedResponse, err)
		}
		if p.resp, err = ParseStatusLine(s); err != nil {
			return nil, err
		}
	}

	headers, err := p.head.readHeaders(protocol.ErrMalformedResponse)
	if err != nil {
		return nil, err
	}
	resp := p.resp
	resp.Header = headers
	p.resp = nil
	p.garbage = 0
	return resp, nil
}

func startsWithHTTP(line []byte) bool {
	line = bytes.TrimLeft(line, " \t")
	return bytes.HasPrefix(line, []byte("HTTP"))
}

// ParseRequestLine parses "METHOD SP target SP HTTP/x.y".
func ParseRequestLine(s string) (*protocol.Request, error) {
	method, rest, ok := strings.Cut(s, " ")
	if !ok || !isToken(method) {
		return nil, fmt.Errorf("%w: invalid request line %q", protocol.ErrMalformedRequest, s)
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || target == "" {
		return nil, fmt.Errorf("%w: invalid request line %q", protocol.ErrMalformedRequest, s)
	}
	version, err := protocol.ParseVersion(proto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedRequest, err)
	}
	return &protocol.Request{Method: method, Target: target, Version: version}, nil
}

// ParseStatusLine parses "HTTP/x.y SP code [SP reason]", ignoring leading
// whitespace.
func ParseStatusLine(s string) (*protocol.Response, error) {
	s = strings.TrimLeft(s, " \t")
	proto, rest, ok := strings.Cut(s, " ")
	if !ok {
		return nil, fmt.Errorf("%w: invalid status line %q", protocol.ErrMalformedResponse, s)
	}
	version, err := protocol.ParseVersion(proto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformedResponse, err)
	}
	code, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || status < 100 {
		return nil, fmt.Errorf("%w: invalid status code %q", protocol.ErrMalformedResponse, code)
	}
	return &protocol.Response{Version: version, StatusCode: status, Reason: reason}, nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`()<>@,;:\"/[]?={}`, c) >= 0 {
			return false
		}
	}
	return true
}
