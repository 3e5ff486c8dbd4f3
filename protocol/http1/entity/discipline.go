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

package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caiflower/httpcore/protocol"
)

type Kind int

const (
	None Kind = iota
	Identity
	Chunked
	UntilClose
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Identity:
		return "identity"
	case Chunked:
		return "chunked"
	case UntilClose:
		return "until-close"
	default:
		return "unknown"
	}
}

// Discipline decides how many bytes belong to a message body. Length is
// only meaningful for Identity.
type Discipline struct {
	Kind   Kind
	Length int64
}

func (d Discipline) String() string {
	if d.Kind == Identity {
		return "identity(" + strconv.FormatInt(d.Length, 10) + ")"
	}
	return d.Kind.String()
}

var (
	NoBody         = Discipline{Kind: None}
	ChunkedBody    = Discipline{Kind: Chunked}
	UntilCloseBody = Discipline{Kind: UntilClose}
)

func IdentityBody(n int64) Discipline {
	return Discipline{Kind: Identity, Length: n}
}

type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// ContentLengthStrategy determines the body discipline of a message for one
// direction of a connection.
type ContentLengthStrategy interface {
	Determine(msg protocol.Message, dir Direction) (Discipline, error)
}

// StrictStrategy rejects a Content-Length that is not exactly one
// non-negative decimal number, a Content-Length next to a Transfer-Encoding,
// and a request whose final transfer coding is not chunked.
type StrictStrategy struct{}

// LaxStrategy takes the first Content-Length value that parses and ignores
// the rest. Meant for incoming messages from non-conformant peers.
type LaxStrategy struct{}

var (
	Strict ContentLengthStrategy = StrictStrategy{}
	Lax    ContentLengthStrategy = LaxStrategy{}
)

func (StrictStrategy) Determine(msg protocol.Message, dir Direction) (Discipline, error) {
	values := contentLengths(msg)
	if codings := msg.Headers().Tokens(protocol.HeaderTransferEncoding); len(codings) > 0 {
		if len(values) > 0 {
			return Discipline{}, fmt.Errorf("%w: both Transfer-Encoding and Content-Length present", protocol.ErrMalformedContentLength)
		}
		if codings[len(codings)-1] == "chunked" {
			return ChunkedBody, nil
		}
		// only the end of the connection delimits a response body here
		if _, ok := msg.(*protocol.Request); ok {
			return Discipline{}, fmt.Errorf("%w: request transfer coding %q is not chunked", protocol.ErrMalformedContentLength, codings[len(codings)-1])
		}
		return withoutLength(msg, dir), nil
	}
	switch {
	case len(values) > 1:
		return Discipline{}, fmt.Errorf("%w: multiple values %q", protocol.ErrMalformedContentLength, strings.Join(values, ","))
	case len(values) == 1:
		n, err := parseLength(values[0])
		if err != nil {
			return Discipline{}, err
		}
		return IdentityBody(n), nil
	}
	return withoutLength(msg, dir), nil
}

func (LaxStrategy) Determine(msg protocol.Message, dir Direction) (Discipline, error) {
	if isChunked(msg) {
		return ChunkedBody, nil
	}
	for _, v := range contentLengths(msg) {
		if n, err := parseLength(v); err == nil {
			return IdentityBody(n), nil
		}
	}
	return withoutLength(msg, dir), nil
}

// StrategyFunc adapts a function to ContentLengthStrategy.
type StrategyFunc func(msg protocol.Message, dir Direction) (Discipline, error)

func (f StrategyFunc) Determine(msg protocol.Message, dir Direction) (Discipline, error) {
	return f(msg, dir)
}

func isChunked(msg protocol.Message) bool {
	codings := msg.Headers().Tokens(protocol.HeaderTransferEncoding)
	return len(codings) > 0 && codings[len(codings)-1] == "chunked"
}

// contentLengths splits every Content-Length header on commas.
func contentLengths(msg protocol.Message) []string {
	var values []string
	for _, v := range msg.Headers().Values(protocol.HeaderContentLength) {
		for _, s := range strings.Split(v, ",") {
			values = append(values, strings.TrimSpace(s))
		}
	}
	return values
}

func parseLength(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q", protocol.ErrMalformedContentLength, s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", protocol.ErrMalformedContentLength, s)
	}
	return n, nil
}

func withoutLength(msg protocol.Message, dir Direction) Discipline {
	resp, ok := msg.(*protocol.Response)
	if !ok {
		return NoBody
	}
	if !protocol.CanResponseHaveBody(resp.RequestMethod, resp.StatusCode) {
		return NoBody
	}
	if dir == Incoming {
		return UntilCloseBody
	}
	return NoBody
}
