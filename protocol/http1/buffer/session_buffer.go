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
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"github.com/caiflower/httpcore/protocol"
)

const (
	DefaultBufferSize = 8 * 1024
	maxEmptyReads     = 100
)

// ErrWouldBlock is the suspension signal: the transport has no more bytes to
// give (or take) right now and the operation must be repeated later.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err is a suspension rather than a failure.
func IsWouldBlock(err error) bool {
	return errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore)
}

// Counter is a monotonically increasing byte counter, safe to read from any
// goroutine.
type Counter struct {
	n uint64
}

func (c *Counter) Add(n int) {
	if c != nil && n > 0 {
		atomic.AddUint64(&c.n, uint64(n))
	}
}

func (c *Counter) Load() uint64 {
	if c == nil {
		return 0
	}
	return atomic.LoadUint64(&c.n)
}

// SessionInputBuffer buffers bytes read from a transport. It is owned by one
// connection and never shared.
type SessionInputBuffer struct {
	src        io.Reader
	buf        []byte
	pos, lim   int
	eof        bool
	maxLineLen int
	counter    *Counter
}

// NewSessionInputBuffer creates a buffer of size bytes. maxLineLen <= 0
// disables the line length limit.
func NewSessionInputBuffer(src io.Reader, size, maxLineLen int, counter *Counter) *SessionInputBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &SessionInputBuffer{src: src, buf: make([]byte, size), maxLineLen: maxLineLen, counter: counter}
}

func (b *SessionInputBuffer) Buffered() int {
	return b.lim - b.pos
}

// EOF reports whether the transport signalled end of stream.
func (b *SessionInputBuffer) EOF() bool {
	return b.eof && b.pos == b.lim
}

// Fill performs at most one read from the transport.
func (b *SessionInputBuffer) Fill() (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	if b.pos > 0 {
		copy(b.buf, b.buf[b.pos:b.lim])
		b.lim -= b.pos
		b.pos = 0
	}
	if b.lim == len(b.buf) {
		return 0, nil
	}
	n, err := b.src.Read(b.buf[b.lim:])
	if n > 0 {
		b.lim += n
		b.counter.Add(n)
	}
	if err == io.EOF {
		b.eof = true
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// ReadLine appends the next line, without its CRLF or LF terminator, to
// *line and returns true once the whole line was read. When it returns false
// the partial line stays in *line and the call is repeated with the same
// slice after more data arrived. A final unterminated line before EOF is
// returned as a line.
func (b *SessionInputBuffer) ReadLine(line *[]byte) (bool, error) {
	empty := 0
	for {
		if b.pos < b.lim {
			if i := bytes.IndexByte(b.buf[b.pos:b.lim], '\n'); i >= 0 {
				*line = append(*line, b.buf[b.pos:b.pos+i]...)
				b.pos += i + 1
				if n := len(*line); n > 0 && (*line)[n-1] == '\r' {
					*line = (*line)[:n-1]
				}
				return true, b.checkLine(*line)
			}
			*line = append(*line, b.buf[b.pos:b.lim]...)
			b.pos = b.lim
			// a trailing CR may be the first half of the terminator
			partial := *line
			if n := len(partial); n > 0 && partial[n-1] == '\r' {
				partial = partial[:n-1]
			}
			if err := b.checkLine(partial); err != nil {
				return false, err
			}
		}

		n, err := b.Fill()
		if n > 0 {
			empty = 0
			continue
		}
		switch {
		case err == io.EOF:
			if len(*line) > 0 {
				return true, nil
			}
			return false, io.EOF
		case err != nil:
			return false, err
		}
		if empty++; empty >= maxEmptyReads {
			return false, io.ErrNoProgress
		}
	}
}

func (b *SessionInputBuffer) checkLine(line []byte) error {
	if b.maxLineLen > 0 && len(line) > b.maxLineLen {
		return protocol.ErrMessageTooLarge
	}
	return nil
}

// Read reads buffered bytes first, then goes to the transport.
func (b *SessionInputBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.pos == b.lim {
		if b.eof {
			return 0, io.EOF
		}
		if len(p) >= len(b.buf) {
			n, err := b.src.Read(p)
			b.counter.Add(n)
			if err == io.EOF {
				b.eof = true
				if n > 0 {
					err = nil
				}
			}
			return n, err
		}
		n, err := b.Fill()
		if n == 0 {
			if err == nil {
				err = io.ErrNoProgress
			}
			return 0, err
		}
	}
	n := copy(p, b.buf[b.pos:b.lim])
	b.pos += n
	return n, nil
}

// Probe checks for available input without blocking on a transport that
// supports would-block reads: it reports true if bytes are buffered or
// arrived now, false on would-block, and io.EOF when the peer is gone.
func (b *SessionInputBuffer) Probe() (bool, error) {
	if b.pos < b.lim {
		return true, nil
	}
	n, err := b.Fill()
	if n > 0 {
		return true, nil
	}
	if IsWouldBlock(err) {
		return false, nil
	}
	return false, err
}

// SessionOutputBuffer accumulates outgoing bytes and drains them into the
// transport on Flush, resuming after short or would-block writes.
type SessionOutputBuffer struct {
	dst       io.Writer
	buf       []byte
	off       int
	highWater int
	counter   *Counter
}

func NewSessionOutputBuffer(dst io.Writer, highWater int, counter *Counter) *SessionOutputBuffer {
	if highWater <= 0 {
		highWater = DefaultBufferSize
	}
	return &SessionOutputBuffer{dst: dst, buf: make([]byte, 0, highWater), highWater: highWater, counter: counter}
}

// Pending is the number of bytes not yet accepted by the transport.
func (b *SessionOutputBuffer) Pending() int {
	return len(b.buf) - b.off
}

// Full reports whether producers should flush before adding more.
func (b *SessionOutputBuffer) Full() bool {
	return b.Pending() >= b.highWater
}

func (b *SessionOutputBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *SessionOutputBuffer) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// WriteLine writes line followed by CRLF.
func (b *SessionOutputBuffer) WriteLine(line []byte) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\r', '\n')
}

// AvailableBuffer returns an empty slice with free capacity for append-style
// formatting; the result is handed back through Write.
func (b *SessionOutputBuffer) AvailableBuffer() []byte {
	return b.buf[len(b.buf):]
}

// Flush drains pending bytes. On a would-block transport the remaining bytes
// are kept and Flush returns the would-block error.
func (b *SessionOutputBuffer) Flush() error {
	for b.off < len(b.buf) {
		n, err := b.dst.Write(b.buf[b.off:])
		if n > 0 {
			b.off += n
			b.counter.Add(n)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	b.buf = b.buf[:0]
	b.off = 0
	return nil
}
