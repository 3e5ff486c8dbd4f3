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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader yields the body in fixed size pieces.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	n = copy(p[:n], r.data)
	r.data = r.data[n:]
	return n, nil
}

func encodeAll(t *testing.T, d Discipline, e *protocol.Entity) string {
	var wire bytes.Buffer
	out := buffer.NewSessionOutputBuffer(&wire, 16, nil)
	enc := NewEncoder(d, e, out, nil, 8)
	for {
		done, err := enc.Encode()
		require.NoError(t, err)
		require.NoError(t, out.Flush())
		if done {
			return wire.String()
		}
	}
}

func decodeAll(d Discipline, wire string, msg protocol.Message) (string, error) {
	in := buffer.NewSessionInputBuffer(strings.NewReader(wire), 0, 0, nil)
	b, err := io.ReadAll(NewDecoder(d, in, msg, nil, message.Constraints{}))
	return string(b), err
}

func TestRoundTrip(t *testing.T) {
	body := strings.Repeat("0123456789abcdef", 7) + "xyz"
	tests := []struct {
		name string
		d    Discipline
		body string
	}{
		{"identity", IdentityBody(int64(len(body))), body},
		{"identity empty", IdentityBody(0), ""},
		{"chunked", ChunkedBody, body},
		{"chunked empty", ChunkedBody, ""},
		{"none", NoBody, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := encodeAll(t, tt.d, protocol.NewEntity(strings.NewReader(tt.body), -1))
			got, err := decodeAll(tt.d, wire, protocol.NewRequest("POST", "/"))
			require.NoError(t, err)
			assert.Equal(t, tt.body, got)
		})
	}
}

func TestIdentityStopsAtLength(t *testing.T) {
	wire := encodeAll(t, IdentityBody(4), protocol.NewEntity(strings.NewReader("abcdef"), -1))
	assert.Equal(t, "abcd", wire)
}

func TestIdentityTooShort(t *testing.T) {
	var wire bytes.Buffer
	out := buffer.NewSessionOutputBuffer(&wire, 0, nil)
	_, err := NewEncoder(IdentityBody(10), protocol.NewEntity(strings.NewReader("abc"), -1), out, nil, 0).Encode()
	assert.ErrorIs(t, err, protocol.ErrEntityTooShort)

	_, err = decodeAll(IdentityBody(10), "abc", nil)
	assert.ErrorIs(t, err, protocol.ErrEntityTooShort)
}

func TestNoneRejectsBody(t *testing.T) {
	var wire bytes.Buffer
	out := buffer.NewSessionOutputBuffer(&wire, 0, nil)
	_, err := NewEncoder(NoBody, protocol.NewEntity(strings.NewReader("x"), -1), out, nil, 0).Encode()
	assert.ErrorIs(t, err, protocol.ErrUnexpectedEntity)

	done, err := NewEncoder(NoBody, nil, out, nil, 0).Encode()
	assert.NoError(t, err)
	assert.True(t, done)
}

func TestChunkedTrailers(t *testing.T) {
	e := protocol.NewEntity(&chunkReader{data: []byte("hello world, bye"), size: 5}, -1)
	e.Trailer = protocol.NewHeaders("X-Checksum", "abc")

	var wire bytes.Buffer
	out := buffer.NewSessionOutputBuffer(&wire, 0, nil)
	enc := NewEncoder(ChunkedBody, e, out, nil, 64)
	done, err := enc.Encode()
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, out.Flush())
	assert.Equal(t, "5\r\nhello\r\n5\r\n worl\r\n5\r\nd, by\r\n1\r\ne\r\n0\r\nX-Checksum: abc\r\n\r\n", wire.String())
	assert.Equal(t, int64(16), enc.Written())

	resp := protocol.NewResponse(200)
	require.NoError(t, resp.Header.Add("Transfer-Encoding", "chunked"))
	require.NoError(t, resp.Header.Add("Content-Type", "text/plain"))
	resp.Header.Freeze()

	body, err := decodeAll(ChunkedBody, wire.String(), resp)
	require.NoError(t, err)
	assert.Equal(t, "hello world, bye", body)
	require.Equal(t, 3, resp.Header.Len())
	assert.Equal(t, "X-Checksum", resp.Header.All()[2].Name)
	assert.Equal(t, "abc", resp.Header.All()[2].Value)
}

func TestChunkedExtensionsIgnored(t *testing.T) {
	body, err := decodeAll(ChunkedBody, "3;name=value\r\nabc\r\n0;last\r\n\r\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", body)
}

func TestChunkFramingErrors(t *testing.T) {
	for _, wire := range []string{
		"zz\r\nabc\r\n0\r\n\r\n",
		"3\r\nabcX\r\n0\r\n\r\n",
		"3\r\nabc\r\n",
		"-3\r\nabc\r\n0\r\n\r\n",
		"3\r\nabc\r\n0\r\nbad trailer\r\n\r\n",
	} {
		_, err := decodeAll(ChunkedBody, wire, nil)
		assert.ErrorIs(t, err, protocol.ErrChunkFraming, wire)
	}

	_, err := decodeAll(ChunkedBody, "a\r\nabc", nil)
	assert.ErrorIs(t, err, protocol.ErrEntityTooShort)
}

func TestUntilClose(t *testing.T) {
	in := buffer.NewSessionInputBuffer(strings.NewReader("everything until eof"), 4, 0, nil)
	dec := NewDecoder(UntilCloseBody, in, nil, nil, message.Constraints{})
	b, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, "everything until eof", string(b))
	assert.True(t, dec.Done())
}

func TestDecoderResumes(t *testing.T) {
	pipe := NewPipe(64)
	in := buffer.NewSessionInputBuffer(readerFunc(pipe.TryRead), 0, 0, nil)
	dec := NewDecoder(ChunkedBody, in, nil, nil, message.Constraints{})

	p := make([]byte, 16)
	_, err := dec.Read(p)
	assert.True(t, buffer.IsWouldBlock(err))

	_, _ = pipe.TryWrite([]byte("4\r\nab"))
	n, err := dec.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(p[:n]))
	_, err = dec.Read(p)
	assert.True(t, buffer.IsWouldBlock(err))

	_, _ = pipe.TryWrite([]byte("cd\r\n0\r\n\r\n"))
	n, err = dec.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(p[:n]))
	_, err = dec.Read(p)
	assert.Equal(t, io.EOF, err)
	assert.True(t, dec.Done())
	assert.Equal(t, int64(4), dec.Consumed())
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestEncoderWaitsForProducer(t *testing.T) {
	src := NewPipe(16)
	var wire bytes.Buffer
	out := buffer.NewSessionOutputBuffer(&wire, 0, nil)
	enc := NewEncoder(ChunkedBody, protocol.NewEntity(src, -1), out, nil, 0)

	_, err := enc.Encode()
	assert.True(t, buffer.IsWouldBlock(err))

	_, _ = src.TryWrite([]byte("abc"))
	_, err = enc.Encode()
	assert.True(t, buffer.IsWouldBlock(err))

	require.NoError(t, src.CloseWrite())
	done, err := enc.Encode()
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, out.Flush())
	assert.Equal(t, "3\r\nabc\r\n0\r\n\r\n", wire.String())
}

func TestPipeBlockingSides(t *testing.T) {
	p := NewPipe(4)
	readable := make(chan struct{}, 16)
	p.Notify(func() { readable <- struct{}{} }, nil)

	go func() {
		_, _ = p.Write([]byte("0123456789"))
		_ = p.CloseWrite()
	}()

	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := p.TryRead(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if buffer.IsWouldBlock(err) {
			select {
			case <-readable:
			case <-time.After(time.Second):
				t.Fatal("writer never signalled")
			}
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "0123456789", string(got))
}

func TestPipeClose(t *testing.T) {
	p := NewPipe(4)
	n, err := p.TryWrite([]byte("abcdef"))
	assert.Equal(t, 4, n)
	assert.True(t, buffer.IsWouldBlock(err))
	assert.Equal(t, 0, p.Available())

	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
	_, err = p.TryWrite([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	q := NewPipe(4)
	_, _ = q.TryWrite([]byte("ab"))
	_ = q.CloseWithError(protocol.ErrConnectionClosed)
	b, err := io.ReadAll(q)
	assert.Equal(t, "ab", string(b))
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}
