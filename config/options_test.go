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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, 100, opts.MaxHeaderCount)
	assert.Equal(t, 8192, opts.MaxLineLength)
	assert.Equal(t, 0, opts.MaxGarbageLines)
	assert.Equal(t, "US-ASCII", opts.Charset)
	assert.Equal(t, 60*time.Second, opts.IdleTimeout)
	assert.Equal(t, "INFO", opts.Logger.Level)
	assert.False(t, opts.Pipelining)
}

func TestNewOptionsOverrides(t *testing.T) {
	opts := NewOptions(
		WithMaxHeaderCount(5),
		WithMaxGarbageLines(3),
		WithPipelining(true),
		WithIdleTimeout(time.Second),
		WithAddr("tcp", "127.0.0.1:0"),
	)
	assert.Equal(t, 5, opts.MaxHeaderCount)
	assert.Equal(t, 3, opts.MaxGarbageLines)
	assert.True(t, opts.Pipelining)
	assert.Equal(t, time.Second, opts.IdleTimeout)
	assert.Equal(t, "127.0.0.1:0", opts.Addr)
	assert.Equal(t, 8192, opts.MaxLineLength)
}

func TestLoadOptions(t *testing.T) {
	file := filepath.Join(t.TempDir(), "httpcore.yaml")
	content := `
name: edge
maxHeaderCount: 20
idleTimeout: 5s
laxIncomingContentLength: true
logger:
  level: DEBUG
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	opts, err := LoadOptions(file)
	require.NoError(t, err)
	assert.Equal(t, "edge", opts.Name)
	assert.Equal(t, 20, opts.MaxHeaderCount)
	assert.Equal(t, 5*time.Second, opts.IdleTimeout)
	assert.True(t, opts.LaxIncomingContentLength)
	assert.Equal(t, "DEBUG", opts.Logger.Level)
	assert.Equal(t, 8192, opts.BufferSize)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
