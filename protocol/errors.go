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

import "errors"

// Error kinds reported by the exchange engine. Every one of them is fatal to
// the connection it happened on.
var (
	// ErrNoResponse means the peer closed before sending a single response byte.
	ErrNoResponse = errors.New("the target server failed to respond")

	ErrMalformedResponse = errors.New("malformed response")
	ErrMalformedRequest  = errors.New("malformed request")

	// ErrMessageTooLarge means a header count or line length limit was exceeded.
	ErrMessageTooLarge = errors.New("message too large")

	ErrMalformedContentLength = errors.New("malformed content length")

	// ErrEntityTooShort means fewer body bytes were seen than declared.
	ErrEntityTooShort = errors.New("entity too short")

	ErrChunkFraming = errors.New("chunk framing error")

	// ErrUnexpectedEntity means a body was produced for a message that must not
	// carry one.
	ErrUnexpectedEntity = errors.New("entity not allowed for message")

	// ErrConnectionClosed is returned for operations on a closed connection
	// and delivered to entity readers interrupted by an abort.
	ErrConnectionClosed = errors.New("connection closed")
)
