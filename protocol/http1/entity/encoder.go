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
	"io"
	"strconv"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/message"
)

const (
	DefaultChunkSize = 4096
	maxEmptyReads    = 100
)

// TryReader is implemented by producers that can report buffer.ErrWouldBlock
// instead of blocking, such as Pipe.
type TryReader interface {
	TryRead(p []byte) (int, error)
}

// Encoder frames one outgoing entity into a session output buffer.
type Encoder struct {
	discipline Discipline
	entity     *protocol.Entity
	out        *buffer.SessionOutputBuffer
	coding     *buffer.CharCoding
	chunk      []byte
	remaining  int64
	written    int64
	eof        bool
	done       bool
	empty      int
}

func NewEncoder(d Discipline, e *protocol.Entity, out *buffer.SessionOutputBuffer, coding *buffer.CharCoding, chunkSize int) *Encoder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Encoder{
		discipline: d,
		entity:     e,
		out:        out,
		coding:     coding,
		chunk:      make([]byte, chunkSize),
		remaining:  d.Length,
	}
}

func (e *Encoder) Discipline() Discipline {
	return e.discipline
}

// Written is the number of body bytes taken from the producer so far.
func (e *Encoder) Written() int64 {
	return e.written
}

func (e *Encoder) Done() bool {
	return e.done
}

func (e *Encoder) read(p []byte) (int, error) {
	if e.entity == nil || e.entity.Body == nil {
		return 0, io.EOF
	}
	var (
		n   int
		err error
	)
	if tr, ok := e.entity.Body.(TryReader); ok {
		n, err = tr.TryRead(p)
	} else {
		n, err = e.entity.Body.Read(p)
	}
	if n == 0 && err == nil {
		if e.empty++; e.empty >= maxEmptyReads {
			return 0, io.ErrNoProgress
		}
	} else {
		e.empty = 0
	}
	return n, err
}

// Encode moves producer bytes into the output buffer and returns true once
// the entity, including any terminating chunk, has been framed completely.
// It returns false with a nil error when the buffer reached its high-water
// mark and has to be flushed before calling again. A would-block error means
// the producer has nothing to give right now.
func (e *Encoder) Encode() (bool, error) {
	if e.done {
		return true, nil
	}
	var err error
	switch e.discipline.Kind {
	case Identity:
		err = e.encodeIdentity()
	case Chunked:
		err = e.encodeChunked()
	case UntilClose:
		err = e.encodeUntilClose()
	default:
		err = e.encodeNone()
	}
	if err != nil || !e.done {
		return false, err
	}
	return true, nil
}

func (e *Encoder) encodeIdentity() error {
	for e.remaining > 0 {
		if e.out.Full() {
			return nil
		}
		p := e.chunk
		if int64(len(p)) > e.remaining {
			p = p[:e.remaining]
		}
		n, err := e.read(p)
		if n > 0 {
			_, _ = e.out.Write(p[:n])
			e.remaining -= int64(n)
			e.written += int64(n)
		}
		if err == io.EOF {
			if e.remaining > 0 {
				return fmt.Errorf("%w: produced %d of %d bytes", protocol.ErrEntityTooShort, e.written, e.discipline.Length)
			}
			break
		}
		if err != nil {
			return err
		}
	}
	e.done = true
	return nil
}

func (e *Encoder) encodeChunked() error {
	for !e.eof {
		if e.out.Full() {
			return nil
		}
		n, err := e.read(e.chunk)
		if n > 0 {
			b := e.out.AvailableBuffer()
			b = strconv.AppendInt(b, int64(n), 16)
			b = append(b, '\r', '\n')
			b = append(b, e.chunk[:n]...)
			b = append(b, '\r', '\n')
			_, _ = e.out.Write(b)
			e.written += int64(n)
		}
		if err == io.EOF {
			e.eof = true
			break
		}
		if err != nil {
			return err
		}
	}

	var trailer *protocol.Headers
	if e.entity != nil {
		trailer = e.entity.Trailer
	}
	b := append(e.out.AvailableBuffer(), '0', '\r', '\n')
	b, err := message.AppendHeaders(b, e.coding, trailer)
	if err != nil {
		return err
	}
	_, _ = e.out.Write(b)
	e.done = true
	return nil
}

func (e *Encoder) encodeUntilClose() error {
	for {
		if e.out.Full() {
			return nil
		}
		n, err := e.read(e.chunk)
		if n > 0 {
			_, _ = e.out.Write(e.chunk[:n])
			e.written += int64(n)
		}
		if err == io.EOF {
			e.done = true
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// encodeNone only checks that the producer is empty.
func (e *Encoder) encodeNone() error {
	var probe [1]byte
	n, err := e.read(probe[:])
	if n > 0 {
		return protocol.ErrUnexpectedEntity
	}
	if err == io.EOF {
		e.done = true
		return nil
	}
	return err
}
