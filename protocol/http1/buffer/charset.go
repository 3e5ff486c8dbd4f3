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

package buffer

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// CharCodingConfig selects the charset of start lines and header fields.
// Bodies are never transcoded.
type CharCodingConfig struct {
	Charset string `yaml:"charset"`
}

// CharCoding converts header bytes to strings and back. The zero value and
// the US-ASCII charset pass bytes through unchanged.
type CharCoding struct {
	name string
	enc  encoding.Encoding
}

var Passthrough = &CharCoding{name: "US-ASCII"}

func NewCharCoding(config CharCodingConfig) (*CharCoding, error) {
	name := strings.TrimSpace(config.Charset)
	if name == "" || strings.EqualFold(name, "US-ASCII") || strings.EqualFold(name, "ASCII") {
		return Passthrough, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return Passthrough, nil
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return &CharCoding{name: canonical, enc: enc}, nil
}

func (c *CharCoding) Name() string {
	if c == nil {
		return Passthrough.name
	}
	return c.name
}

func (c *CharCoding) Decode(b []byte) (string, error) {
	if c == nil || c.enc == nil {
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AppendEncode appends the encoded form of s to dst.
func (c *CharCoding) AppendEncode(dst []byte, s string) ([]byte, error) {
	if c == nil || c.enc == nil {
		return append(dst, s...), nil
	}
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return dst, err
	}
	return append(dst, out...), nil
}
