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
	"errors"
	"fmt"
)

// State is the position of a connection, or of one exchange on it, in the
// message sequence. A client moves through the Out/In states in the order
// they are declared; a server mirrors it.
type State int

const (
	Idle State = iota
	RequestHeaderOut
	RequestEntityOut
	ResponseHeaderIn
	ResponseEntityIn
	RequestHeaderIn
	RequestEntityIn
	ResponseHeaderOut
	ResponseEntityOut
	Closing
	Closed
)

var stateNames = [...]string{
	Idle:              "Idle",
	RequestHeaderOut:  "RequestHeaderOut",
	RequestEntityOut:  "RequestEntityOut",
	ResponseHeaderIn:  "ResponseHeaderIn",
	ResponseEntityIn:  "ResponseEntityIn",
	RequestHeaderIn:   "RequestHeaderIn",
	RequestEntityIn:   "RequestEntityIn",
	ResponseHeaderOut: "ResponseHeaderOut",
	ResponseEntityOut: "ResponseEntityOut",
	Closing:           "Closing",
	Closed:            "Closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrRequestNotSent is wrapped for exchanges that failed before any byte
	// of the request was written, which are safe to retry elsewhere.
	ErrRequestNotSent = errors.New("request not sent")

	ErrTimeout = errors.New("connection timed out")

	ErrHandlerFailed = errors.New("request handler failed")
)

// ExchangeError reports a failure together with the state the exchange was
// in, so a caller can tell an untouched request from a partially sent one.
type ExchangeError struct {
	Op    string
	State State
	Err   error
}

func (e *ExchangeError) Error() string {
	return e.Op + " in state " + e.State.String() + ": " + e.Err.Error()
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// RequestSent reports whether any request byte may have reached the peer.
func (e *ExchangeError) RequestSent() bool {
	return e.State != Idle
}

func exchangeError(op string, state State, err error) error {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return err
	}
	return &ExchangeError{Op: op, State: state, Err: err}
}
