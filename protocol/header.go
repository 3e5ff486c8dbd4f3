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
	"errors"
	"strings"
)

// ErrHeadersFrozen is returned by mutators once the header block was sent.
var ErrHeadersFrozen = errors.New("protocol: header block already sent")

// Header is a single header field. A header parsed from the wire keeps the
// bytes of its line so that it can be written back unchanged.
type Header struct {
	Name  string
	Value string

	raw []byte
}

func NewHeader(name, value string) Header {
	return Header{Name: name, Value: value}
}

// NewParsedHeader builds a header that remembers its wire line (without CRLF).
func NewParsedHeader(name, value string, raw []byte) Header {
	return Header{Name: name, Value: value, raw: raw}
}

// Raw returns the original wire line or nil for constructed headers.
func (h Header) Raw() []byte {
	return h.raw
}

func (h Header) Is(name string) bool {
	return strings.EqualFold(h.Name, name)
}

func (h Header) String() string {
	return h.Name + ": " + h.Value
}

// Headers is an ordered header list. Name lookups are case-insensitive and
// duplicates are kept in insertion order.
type Headers struct {
	list   []Header
	frozen bool
}

func NewHeaders(pairs ...string) *Headers {
	h := &Headers{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.list = append(h.list, NewHeader(pairs[i], pairs[i+1]))
	}
	return h
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.list)
}

// All returns the headers in order. The slice must not be modified.
func (h *Headers) All() []Header {
	if h == nil {
		return nil
	}
	return h.list
}

func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, v := range h.list {
		if v.Is(name) {
			return v.Value, true
		}
	}
	return "", false
}

func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	var values []string
	for _, v := range h.list {
		if v.Is(name) {
			values = append(values, v.Value)
		}
	}
	return values
}

func (h *Headers) Contains(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Tokens returns the comma separated, trimmed and lower-cased elements of
// every header called name, e.g. for Connection or Transfer-Encoding.
func (h *Headers) Tokens(name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, strings.ToLower(t))
			}
		}
	}
	return tokens
}

func (h *Headers) HasToken(name, token string) bool {
	for _, t := range h.Tokens(name) {
		if t == token {
			return true
		}
	}
	return false
}

func (h *Headers) Add(name, value string) error {
	return h.AddHeader(NewHeader(name, value))
}

func (h *Headers) AddHeader(header Header) error {
	if h.frozen {
		return ErrHeadersFrozen
	}
	h.list = append(h.list, header)
	return nil
}

// Set replaces every header called name with a single new one, placed where
// the first of them was.
func (h *Headers) Set(name, value string) error {
	if h.frozen {
		return ErrHeadersFrozen
	}
	idx := -1
	out := h.list[:0]
	for _, v := range h.list {
		if v.Is(name) {
			if idx < 0 {
				idx = len(out)
				out = append(out, NewHeader(name, value))
			}
			continue
		}
		out = append(out, v)
	}
	h.list = out
	if idx < 0 {
		h.list = append(h.list, NewHeader(name, value))
	}
	return nil
}

func (h *Headers) Del(name string) error {
	if h.frozen {
		return ErrHeadersFrozen
	}
	out := h.list[:0]
	for _, v := range h.list {
		if !v.Is(name) {
			out = append(out, v)
		}
	}
	for i := len(out); i < len(h.list); i++ {
		h.list[i] = Header{}
	}
	h.list = out
	return nil
}

// Freeze makes the list read-only.
func (h *Headers) Freeze() {
	h.frozen = true
}

func (h *Headers) Frozen() bool {
	return h.frozen
}

// Append adds trailer fields after the existing headers, even on a frozen
// list, since trailers arrive after the header block was taken.
func (h *Headers) Append(trailers []Header) {
	h.list = append(h.list, trailers...)
}

func (h *Headers) Clone() *Headers {
	c := &Headers{list: make([]Header, len(h.All()))}
	copy(c.list, h.All())
	return c
}
