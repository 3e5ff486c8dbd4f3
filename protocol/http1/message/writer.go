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
	"io"
	"strconv"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
)

type RequestWriter interface {
	// Write formats the request head into out and freezes its headers.
	Write(req *protocol.Request, out io.Writer) error
}

type ResponseWriter interface {
	Write(resp *protocol.Response, out io.Writer) error
}

type RequestWriterFactory func(coding *buffer.CharCoding) RequestWriter

type ResponseWriterFactory func(coding *buffer.CharCoding) ResponseWriter

func DefaultRequestWriterFactory(coding *buffer.CharCoding) RequestWriter {
	return NewRequestWriter(coding)
}

func DefaultResponseWriterFactory(coding *buffer.CharCoding) ResponseWriter {
	return NewResponseWriter(coding)
}

// AppendRequestLine appends "METHOD SP target SP version CRLF".
func AppendRequestLine(dst []byte, coding *buffer.CharCoding, req *protocol.Request) ([]byte, error) {
	dst, err := coding.AppendEncode(dst, req.Method)
	if err != nil {
		return dst, err
	}
	dst = append(dst, ' ')
	if dst, err = coding.AppendEncode(dst, req.Target); err != nil {
		return dst, err
	}
	dst = append(dst, ' ')
	dst = appendVersion(dst, req.Version)
	return append(dst, '\r', '\n'), nil
}

// AppendStatusLine appends "version SP code SP reason CRLF".
func AppendStatusLine(dst []byte, coding *buffer.CharCoding, resp *protocol.Response) ([]byte, error) {
	dst = appendVersion(dst, resp.Version)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(resp.StatusCode), 10)
	dst = append(dst, ' ')
	dst, err := coding.AppendEncode(dst, resp.Reason)
	if err != nil {
		return dst, err
	}
	return append(dst, '\r', '\n'), nil
}

// AppendHeaders appends every header followed by the empty line ending the
// block. Headers read from the wire are written from their original bytes.
func AppendHeaders(dst []byte, coding *buffer.CharCoding, headers *protocol.Headers) ([]byte, error) {
	var err error
	for _, h := range headers.All() {
		if raw := h.Raw(); raw != nil {
			dst = append(dst, raw...)
		} else {
			if dst, err = coding.AppendEncode(dst, h.Name); err != nil {
				return dst, err
			}
			dst = append(dst, ':', ' ')
			if dst, err = coding.AppendEncode(dst, h.Value); err != nil {
				return dst, err
			}
		}
		dst = append(dst, '\r', '\n')
	}
	return append(dst, '\r', '\n'), nil
}

func appendVersion(dst []byte, v protocol.Version) []byte {
	dst = append(dst, "HTTP/"...)
	dst = strconv.AppendInt(dst, int64(v.Major), 10)
	dst = append(dst, '.')
	return strconv.AppendInt(dst, int64(v.Minor), 10)
}

// DefaultRequestWriter reuses one scratch buffer for every head it formats.
type DefaultRequestWriter struct {
	coding  *buffer.CharCoding
	scratch []byte
}

func NewRequestWriter(coding *buffer.CharCoding) *DefaultRequestWriter {
	if coding == nil {
		coding = buffer.Passthrough
	}
	return &DefaultRequestWriter{coding: coding}
}

func (w *DefaultRequestWriter) Write(req *protocol.Request, out io.Writer) error {
	b, err := AppendRequestLine(w.scratch[:0], w.coding, req)
	if err == nil {
		b, err = AppendHeaders(b, w.coding, req.Headers())
	}
	w.scratch = b
	if err != nil {
		return err
	}
	req.Headers().Freeze()
	_, err = out.Write(b)
	return err
}

type DefaultResponseWriter struct {
	coding  *buffer.CharCoding
	scratch []byte
}

func NewResponseWriter(coding *buffer.CharCoding) *DefaultResponseWriter {
	if coding == nil {
		coding = buffer.Passthrough
	}
	return &DefaultResponseWriter{coding: coding}
}

func (w *DefaultResponseWriter) Write(resp *protocol.Response, out io.Writer) error {
	b, err := AppendStatusLine(w.scratch[:0], w.coding, resp)
	if err == nil {
		b, err = AppendHeaders(b, w.coding, resp.Headers())
	}
	w.scratch = b
	if err != nil {
		return err
	}
	resp.Headers().Freeze()
	_, err = out.Write(b)
	return err
}
