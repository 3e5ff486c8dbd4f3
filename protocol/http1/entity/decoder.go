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
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/message"
)

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkEnd
	chunkTrailer
)

// Decoder is a lazy single-pass reader of one incoming entity. Read returns
// buffer.ErrWouldBlock when the transport has no bytes yet; the decoder then
// continues where it stopped on the next call.
type Decoder struct {
	discipline  Discipline
	in          *buffer.SessionInputBuffer
	msg         protocol.Message
	coding      *buffer.CharCoding
	maxTrailers int

	remaining int64
	consumed  int64
	state     chunkState
	line      []byte
	trailers  []protocol.Header
	done      bool
}

// NewDecoder reads the body of msg from in. Trailer fields of a chunked body
// are appended to the headers of msg.
func NewDecoder(d Discipline, in *buffer.SessionInputBuffer, msg protocol.Message, coding *buffer.CharCoding, c message.Constraints) *Decoder {
	return &Decoder{
		discipline:  d,
		in:          in,
		msg:         msg,
		coding:      coding,
		maxTrailers: c.MaxHeaderCount,
		remaining:   d.Length,
		done:        d.Kind == None || (d.Kind == Identity && d.Length == 0),
	}
}

func (d *Decoder) Discipline() Discipline {
	return d.discipline
}

// Done reports whether the entity was read to its end.
func (d *Decoder) Done() bool {
	return d.done
}

// Consumed is the number of body bytes delivered so far.
func (d *Decoder) Consumed() int64 {
	return d.consumed
}

func (d *Decoder) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n   int
		err error
	)
	switch d.discipline.Kind {
	case Identity:
		n, err = d.readIdentity(p)
	case Chunked:
		n, err = d.readChunked(p)
	default:
		n, err = d.readUntilClose(p)
	}
	d.consumed += int64(n)
	return n, err
}

func (d *Decoder) readIdentity(p []byte) (int, error) {
	if int64(len(p)) > d.remaining {
		p = p[:d.remaining]
	}
	n, err := d.in.Read(p)
	d.remaining -= int64(n)
	if d.remaining == 0 {
		d.done = true
	}
	if n > 0 {
		return n, nil
	}
	if err == io.EOF {
		return 0, fmt.Errorf("%w: received %d of %d bytes", protocol.ErrEntityTooShort, d.discipline.Length-d.remaining, d.discipline.Length)
	}
	return 0, err
}

func (d *Decoder) readUntilClose(p []byte) (int, error) {
	n, err := d.in.Read(p)
	if err == io.EOF {
		d.done = true
	}
	return n, err
}

func (d *Decoder) readChunked(p []byte) (int, error) {
	for {
		switch d.state {
		case chunkSize:
			if err := d.readLine("chunk header"); err != nil {
				return 0, err
			}
			size, err := parseChunkSize(d.line)
			d.line = d.line[:0]
			if err != nil {
				return 0, err
			}
			if size == 0 {
				d.state = chunkTrailer
			} else {
				d.remaining = size
				d.state = chunkData
			}

		case chunkData:
			if int64(len(p)) > d.remaining {
				p = p[:d.remaining]
			}
			n, err := d.in.Read(p)
			d.remaining -= int64(n)
			if d.remaining == 0 {
				d.state = chunkEnd
			}
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				return 0, fmt.Errorf("%w: truncated chunk, %d bytes missing", protocol.ErrEntityTooShort, d.remaining)
			}
			return 0, err

		case chunkEnd:
			if err := d.readLine("chunk terminator"); err != nil {
				return 0, err
			}
			empty := len(d.line) == 0
			d.line = d.line[:0]
			if !empty {
				return 0, fmt.Errorf("%w: missing CRLF after chunk data", protocol.ErrChunkFraming)
			}
			d.state = chunkSize

		case chunkTrailer:
			if err := d.readLine("trailer"); err != nil {
				return 0, err
			}
			if len(d.line) == 0 {
				if len(d.trailers) > 0 && d.msg != nil {
					d.msg.Headers().Append(d.trailers)
				}
				d.trailers = nil
				d.done = true
				return 0, io.EOF
			}
			if d.maxTrailers > 0 && len(d.trailers) >= d.maxTrailers {
				return 0, fmt.Errorf("%w: more than %d trailers", protocol.ErrMessageTooLarge, d.maxTrailers)
			}
			h, err := message.ParseHeader(append([]byte(nil), d.line...), d.coding)
			d.line = d.line[:0]
			if err != nil {
				return 0, fmt.Errorf("%w: %v", protocol.ErrChunkFraming, err)
			}
			d.trailers = append(d.trailers, h)
		}
	}
}

func (d *Decoder) readLine(what string) error {
	ok, err := d.in.ReadLine(&d.line)
	if ok {
		return err
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: connection closed before %s", protocol.ErrChunkFraming, what)
	}
	return err
}

// parseChunkSize reads the hex size, ignoring chunk extensions.
func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty chunk size", protocol.ErrChunkFraming)
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 || line[0] == '+' || line[0] == '-' {
		return 0, fmt.Errorf("%w: invalid chunk size %q", protocol.ErrChunkFraming, line)
	}
	return size, nil
}
