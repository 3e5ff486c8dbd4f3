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

package network

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock is returned by Read and Write of non-blocking sessions when
// no progress is possible right now.
var ErrWouldBlock = iox.ErrWouldBlock

var ErrTLSUnsupported = errors.New("network: session cannot be upgraded to TLS")

// Session is one byte transport to a peer.
type Session interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// TLSUpgradable is implemented by sessions that can switch to TLS in place
// before any application bytes were exchanged.
type TLSUpgradable interface {
	Session
	StartTLS(ctx context.Context, config *tls.Config, server bool) error
}

// ReadTimeouter is implemented by sessions with a read deadline.
type ReadTimeouter interface {
	SetReadTimeout(d time.Duration) error
}

// EventHandler is driven by a transport for one session. Calls may come
// from different goroutines but never overlap for the same session.
type EventHandler interface {
	Connected() error
	// InputReady is called when bytes, or the end of the stream, can be read.
	InputReady() error
	// OutputReady is called when a write that would have blocked can proceed.
	OutputReady() error
	// Timeout is called when the session saw no input for the idle timeout.
	Timeout() error
	Exception(err error)
	Disconnected()
}

type HandlerFactory interface {
	CreateHandler(s Session) (EventHandler, error)
}

type HandlerFactoryFunc func(s Session) (EventHandler, error)

func (f HandlerFactoryFunc) CreateHandler(s Session) (EventHandler, error) {
	return f(s)
}

type PollStatus int

const (
	Open PollStatus = iota
	Stale
	Unknown
)

func (p PollStatus) String() string {
	switch p {
	case Open:
		return "open"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// IsTimeout reports a deadline error.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
