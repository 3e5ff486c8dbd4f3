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
	"io"
	"sync"

	"github.com/caiflower/httpcore/protocol/http1/buffer"
)

const DefaultPipeSize = 64 * 1024

// Pipe is a bounded byte pipe between a connection driver and an
// application goroutine. Each side has a blocking and a non-blocking call:
// the driver uses TryRead/TryWrite and is told through the notify callbacks
// when it can make progress again, the application uses Read/Write.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	size   int
	eof    bool
	err    error // set when the writer aborted or the reader closed
	closed bool

	onReadable func()
	onWritable func()
}

func NewPipe(size int) *Pipe {
	if size <= 0 {
		size = DefaultPipeSize
	}
	p := &Pipe{size: size}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Notify installs the callbacks run when data becomes readable or space
// becomes writable. They run without the pipe lock held.
func (p *Pipe) Notify(onReadable, onWritable func()) {
	p.mu.Lock()
	p.onReadable, p.onWritable = onReadable, onWritable
	p.mu.Unlock()
}

// Available is the free space a writer can fill without blocking.
func (p *Pipe) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eof || p.err != nil || p.closed {
		return 0
	}
	return p.size - len(p.buf)
}

func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	for len(p.buf) == 0 && !p.eof && p.err == nil && !p.closed {
		p.cond.Wait()
	}
	n, notify, err := p.readLocked(b)
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return n, err
}

// TryRead returns buffer.ErrWouldBlock instead of waiting.
func (p *Pipe) TryRead(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.buf) == 0 && !p.eof && p.err == nil && !p.closed {
		p.mu.Unlock()
		return 0, buffer.ErrWouldBlock
	}
	n, notify, err := p.readLocked(b)
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return n, err
}

func (p *Pipe) readLocked(b []byte) (int, func(), error) {
	if p.closed {
		return 0, nil, io.ErrClosedPipe
	}
	if len(p.buf) == 0 {
		if p.err != nil {
			return 0, nil, p.err
		}
		return 0, nil, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[:copy(p.buf, p.buf[n:])]
	p.cond.Broadcast()
	return n, p.onWritable, nil
}

func (p *Pipe) Write(b []byte) (int, error) {
	written := 0
	p.mu.Lock()
	for len(b) > 0 {
		for len(p.buf) == p.size && p.err == nil && !p.closed {
			p.cond.Wait()
		}
		n, err := p.writeLocked(b)
		written += n
		b = b[n:]
		if err != nil {
			p.mu.Unlock()
			return written, err
		}
		if n > 0 {
			if notify := p.onReadable; notify != nil {
				p.mu.Unlock()
				notify()
				p.mu.Lock()
			}
		}
	}
	p.mu.Unlock()
	return written, nil
}

// TryWrite writes what fits and returns buffer.ErrWouldBlock for the rest.
func (p *Pipe) TryWrite(b []byte) (int, error) {
	p.mu.Lock()
	n, err := p.writeLocked(b)
	if err == nil && n < len(b) {
		err = buffer.ErrWouldBlock
	}
	notify := p.onReadable
	p.mu.Unlock()
	if n > 0 && notify != nil {
		notify()
	}
	return n, err
}

func (p *Pipe) writeLocked(b []byte) (int, error) {
	switch {
	case p.closed:
		return 0, io.ErrClosedPipe
	case p.err != nil:
		return 0, p.err
	case p.eof:
		return 0, io.ErrClosedPipe
	}
	n := p.size - len(p.buf)
	if n > len(b) {
		n = len(b)
	}
	p.buf = append(p.buf, b[:n]...)
	if n > 0 {
		p.cond.Broadcast()
	}
	return n, nil
}

// CloseWrite marks the end of the data. Buffered bytes stay readable.
func (p *Pipe) CloseWrite() error {
	return p.finish(nil)
}

// CloseWithError aborts the pipe; readers get err once the buffer is drained.
func (p *Pipe) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	return p.finish(err)
}

func (p *Pipe) finish(err error) error {
	p.mu.Lock()
	if p.eof || p.err != nil {
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		p.err = err
	} else {
		p.eof = true
	}
	p.cond.Broadcast()
	notify := p.onReadable
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

// Close is the reader giving up. Pending and future writes fail and the
// buffered bytes are dropped.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.buf = nil
	p.cond.Broadcast()
	notify := p.onWritable
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

// Closed reports whether the reading side was closed.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
