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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/processor"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/entity"
	"github.com/caiflower/httpcore/protocol/http1/message"
)

type role int

const (
	clientRole role = iota
	serverRole
)

func (r role) String() string {
	if r == serverRole {
		return "server"
	}
	return "client"
}

// Duplexer runs HTTP/1.1 exchanges over one session. It is driven by the
// transport through the network.EventHandler methods and by application
// goroutines through Execute, body pipes and handler completion. Only one of
// them drives the connection at any time.
type Duplexer struct {
	id      string
	role    role
	session network.Session
	cfg     *connConfig
	log     logger.ILog
	pctx    processor.Context

	mu     sync.Mutex
	kicked int32

	in      *buffer.SessionInputBuffer
	out     *buffer.SessionOutputBuffer
	metrics Metrics
	scratch []byte

	reqParser  message.RequestParser
	respParser message.ResponseParser
	reqWriter  message.RequestWriter
	respWriter message.ResponseWriter

	outState State
	inState  State
	encoder  *entity.Encoder
	decoder  *entity.Decoder
	inPipe   *entity.Pipe
	seq      uint64

	// client side
	queue    []*exchange
	sending  *exchange
	inflight []*exchange

	// server side
	slots   []*slot
	reading *slot
	writing *slot

	ctx      context.Context
	cancel   context.CancelFunc
	noMore   bool
	inputEOF bool
	closed   bool

	disconnectOnce sync.Once
}

func newDuplexer(id string, r role, s network.Session, cfg *connConfig, secure bool) *Duplexer {
	d := &Duplexer{
		id:      id,
		role:    r,
		session: s,
		cfg:     cfg,
		log:     cfg.log,
		pctx:    processor.Context{LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr(), Secure: secure},
	}
	opts := cfg.options
	d.in = buffer.NewSessionInputBuffer(s, opts.BufferSize, cfg.constraints.MaxLineLength, &d.metrics.received)
	d.out = buffer.NewSessionOutputBuffer(s, opts.BufferSize, &d.metrics.sent)
	d.scratch = make([]byte, opts.BufferSize)
	if r == clientRole {
		d.reqWriter = cfg.requestWriter(cfg.coding)
		d.respParser = cfg.responseParser(d.in, cfg.coding, cfg.constraints)
	} else {
		d.reqParser = cfg.requestParser(d.in, cfg.coding, cfg.constraints)
		d.respWriter = cfg.responseWriter(cfg.coding)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

func (d *Duplexer) ID() string               { return d.id }
func (d *Duplexer) LocalAddr() net.Addr      { return d.session.LocalAddr() }
func (d *Duplexer) RemoteAddr() net.Addr     { return d.session.RemoteAddr() }
func (d *Duplexer) Metrics() *Metrics        { return &d.metrics }
func (d *Duplexer) Session() network.Session { return d.session }

// State reports the outbound state while a message is being written and the
// inbound state otherwise.
func (d *Duplexer) State() State {
	d.mu.Lock()
	defer d.unlock()
	switch {
	case d.closed:
		return Closed
	case d.noMore:
		return Closing
	case d.outState != Idle:
		return d.outState
	}
	return d.inState
}

func (d *Duplexer) Connected() error {
	d.cfg.notifier.connected(d)
	d.run(nil)
	return nil
}

func (d *Duplexer) InputReady() error {
	d.run(nil)
	return nil
}

func (d *Duplexer) OutputReady() error {
	d.run(nil)
	return nil
}

// Timeout closes an idle connection and fails a busy one.
func (d *Duplexer) Timeout() error {
	d.run(func() {
		if d.quiescent() {
			d.noMore = true
			return
		}
		d.fail(exchangeError("timeout", d.busyState(), ErrTimeout))
	})
	return nil
}

func (d *Duplexer) Exception(err error) {
	d.run(func() {
		d.fail(exchangeError("transport", d.busyState(), err))
	})
}

func (d *Duplexer) Disconnected() {
	d.run(func() {
		d.shutdown(protocol.ErrConnectionClosed)
	})
}

// Close stops accepting new exchanges and closes the connection once the
// ones in progress are complete.
func (d *Duplexer) Close() error {
	d.run(func() {
		d.noMore = true
		d.failQueued(protocol.ErrConnectionClosed)
	})
	return nil
}

// Abort closes the connection at once and fails everything in progress.
func (d *Duplexer) Abort() {
	d.run(func() {
		d.shutdown(protocol.ErrConnectionClosed)
	})
}

// Poll checks without blocking whether the connection is still usable.
func (d *Duplexer) Poll() network.PollStatus {
	d.mu.Lock()
	defer d.unlock()
	if d.closed || d.inputEOF {
		return network.Stale
	}
	buffered, err := d.in.Probe()
	if buffered {
		// probed bytes are consumed by the pass unlock runs
		atomic.StoreInt32(&d.kicked, 1)
	}
	switch {
	case err == nil, network.IsTimeout(err):
		return network.Open
	case err == io.EOF:
		d.inputEOF = true
		return network.Stale
	default:
		return network.Unknown
	}
}

func (d *Duplexer) IsStale() bool {
	return d.Poll() == network.Stale
}

// run executes fn and drives the connection under the connection lock.
func (d *Duplexer) run(fn func()) {
	d.mu.Lock()
	if fn != nil {
		fn()
	}
	d.drive()
	d.unlock()
}

// unlock releases the connection lock and runs any pass requested while it
// was held. Every holder of mu must release it this way.
func (d *Duplexer) unlock() {
	d.mu.Unlock()
	d.rerun()
}

// wake asks for another drive pass. It never blocks, so it is safe to call
// from inside a pass, e.g. from pipe callbacks.
func (d *Duplexer) wake() {
	atomic.StoreInt32(&d.kicked, 1)
	d.rerun()
}

func (d *Duplexer) rerun() {
	for atomic.LoadInt32(&d.kicked) == 1 && d.mu.TryLock() {
		atomic.StoreInt32(&d.kicked, 0)
		d.drive()
		d.mu.Unlock()
	}
}

func (d *Duplexer) drive() {
	for !d.closed {
		var (
			wrote, read bool
			err         error
		)
		if d.role == clientRole {
			wrote, err = d.writeRequests()
		} else {
			wrote, err = d.writeResponses()
		}
		if err != nil {
			d.fail(err)
			return
		}

		if d.role == clientRole {
			read, err = d.readResponses()
		} else {
			read, err = d.readRequests()
		}
		if err != nil {
			d.fail(err)
			return
		}

		if err = d.out.Flush(); err != nil && !buffer.IsWouldBlock(err) {
			d.fail(exchangeError("flush", d.busyState(), err))
			return
		}
		if d.noMore && d.quiescent() && d.out.Pending() == 0 {
			d.shutdown(nil)
			return
		}
		if !wrote && !read {
			return
		}
	}
}

// quiescent reports that no exchange is in progress.
func (d *Duplexer) quiescent() bool {
	if d.role == clientRole {
		return d.sending == nil && len(d.inflight) == 0 && len(d.queue) == 0
	}
	return len(d.slots) == 0 && d.reading == nil
}

func (d *Duplexer) busyState() State {
	if d.outState != Idle {
		return d.outState
	}
	return d.inState
}

// flushOut drains the output buffer; would-block is not an error.
func (d *Duplexer) flushOut(state State) (bool, error) {
	if err := d.out.Flush(); err != nil {
		if buffer.IsWouldBlock(err) {
			return false, nil
		}
		return false, exchangeError("flush", state, err)
	}
	return true, nil
}

// pumpEntity moves decoded bytes of the current inbound entity into its
// pipe. If the reader abandoned the pipe the rest of the entity is skipped.
// finished is true once the entity was read to its end.
func (d *Duplexer) pumpEntity() (progress, finished bool, err error) {
	for {
		space := len(d.scratch)
		if d.inPipe != nil {
			if d.inPipe.Closed() {
				if d.role == clientRole {
					return progress, false, nil
				}
				d.inPipe = nil
			} else if a := d.inPipe.Available(); a < space {
				space = a
			}
		}
		if space == 0 {
			return progress, false, nil
		}

		n, err := d.decoder.Read(d.scratch[:space])
		if n > 0 {
			progress = true
			if d.inPipe != nil {
				_, _ = d.inPipe.TryWrite(d.scratch[:n])
			}
		}
		switch {
		case err == io.EOF:
			if d.inPipe != nil {
				_ = d.inPipe.CloseWrite()
			}
			return true, true, nil
		case err == nil:
		case buffer.IsWouldBlock(err):
			return progress, false, nil
		default:
			if d.inPipe != nil {
				_ = d.inPipe.CloseWithError(err)
			}
			return progress, false, err
		}
	}
}

func (d *Duplexer) fail(err error) {
	if d.closed {
		return
	}
	d.log.Warn("[%s] %s connection to %s failed: %s", d.id, d.role, d.session.RemoteAddr(), err.Error())
	d.cfg.notifier.failed(d, err)
	d.shutdown(err)
}

// shutdown closes the session and fails whatever is still in progress.
// A nil cause is an orderly close.
func (d *Duplexer) shutdown(cause error) {
	if d.closed {
		return
	}
	if cause == nil {
		_ = d.out.Flush()
		cause = protocol.ErrConnectionClosed
	}
	d.closed = true
	d.noMore = true
	_ = d.session.Close()
	d.cancel()

	if d.inPipe != nil {
		_ = d.inPipe.CloseWithError(cause)
		d.inPipe = nil
	}
	d.failQueued(cause)
	if d.sending != nil {
		d.sending.finish(nil, exchangeError("send request", d.sending.state, cause))
		d.sending = nil
	}
	for _, ex := range d.inflight {
		ex.finish(nil, exchangeError("receive response", ex.state, cause))
	}
	d.inflight = nil
	for _, s := range d.slots {
		s.abort(cause)
	}
	d.slots, d.reading, d.writing = nil, nil, nil
	d.encoder, d.decoder = nil, nil
	d.outState, d.inState = Closed, Closed

	d.disconnectOnce.Do(func() {
		d.cfg.notifier.disconnected(d)
	})
}

// failQueued fails client exchanges that did not start to send.
func (d *Duplexer) failQueued(cause error) {
	for _, ex := range d.queue {
		ex.finish(nil, exchangeError("execute", Idle, notSent(cause)))
	}
	d.queue = nil
}

func notSent(cause error) error {
	if errors.Is(cause, ErrRequestNotSent) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrRequestNotSent, cause)
}

func bodyOf(msg protocol.Message) io.Reader {
	if e := msg.Entity(); e != nil {
		return e.Body
	}
	return nil
}

func incomingEntity(pipe *entity.Pipe, d entity.Discipline) *protocol.Entity {
	length := int64(-1)
	if d.Kind == entity.Identity {
		length = d.Length
	}
	return &protocol.Entity{Body: pipe, ContentLength: length, Chunked: d.Kind == entity.Chunked}
}
