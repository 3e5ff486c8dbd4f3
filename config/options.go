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
	"time"

	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/tools"
)

type Option func(*Options) *Options

// Options configure the HTTP/1.1 connection factories. Integer limits of
// zero or less mean unlimited once defaults have been applied.
type Options struct {
	Name            string        `yaml:"name" default:"httpcore"`
	Network         string        `yaml:"network" default:"tcp"`
	Addr            string        `yaml:"addr" default:":8080"`
	MaxHeaderCount  int           `yaml:"maxHeaderCount" default:"100"`
	MaxLineLength   int           `yaml:"maxLineLength" default:"8192"`
	MaxGarbageLines int           `yaml:"maxGarbageLines"`
	MaxEmptyLines   int           `yaml:"maxEmptyLines" default:"10"`
	Charset         string        `yaml:"charset" default:"US-ASCII"`
	BufferSize      int           `yaml:"bufferSize" default:"8192"`
	ChunkSizeHint   int           `yaml:"chunkSizeHint" default:"4096"`
	PipeSize        int           `yaml:"pipeSize" default:"65536"`
	Pipelining      bool          `yaml:"pipelining"`
	MaxPipelined    int           `yaml:"maxPipelined" default:"16"`
	ReadTimeout     time.Duration `yaml:"readTimeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" default:"60s"`
	TLSHandshake    time.Duration `yaml:"tlsHandshakeTimeout" default:"10s"`
	ServerName      string        `yaml:"serverName" default:"httpcore"`
	UserAgent       string        `yaml:"userAgent" default:"httpcore/1.1"`
	EnableMetrics   bool          `yaml:"enableMetrics"`
	MaxConnections  int           `yaml:"maxConnections"`
	AcceptRate      int           `yaml:"acceptRate"`
	AcceptBurst     int           `yaml:"acceptBurst" default:"64"`

	// LaxIncomingContentLength accepts conflicting Content-Length values on
	// incoming messages by taking the first one.
	LaxIncomingContentLength bool `yaml:"laxIncomingContentLength"`
	// RequireTLS refuses sessions that cannot be upgraded when a TLS strategy
	// is set. Such sessions stay plain otherwise.
	RequireTLS bool `yaml:"requireTLS"`

	Logger logger.Config `yaml:"logger"`
}

func NewOptions(opts ...Option) *Options {
	options := &Options{}
	_ = tools.DoTagFunc(options, tools.SetDefaultValueIfNil)

	for _, opt := range opts {
		options = opt(options)
	}
	return options
}

// LoadOptions reads options from a yaml file and applies defaults to every
// field left empty.
func LoadOptions(filename string) (*Options, error) {
	options := &Options{}
	if err := tools.LoadConfig(filename, options); err != nil {
		return nil, err
	}
	return options, nil
}

func WithName(name string) Option {
	return func(opts *Options) *Options {
		opts.Name = name
		return opts
	}
}

func WithAddr(network, addr string) Option {
	return func(opts *Options) *Options {
		opts.Network = network
		opts.Addr = addr
		return opts
	}
}

func WithMaxHeaderCount(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxHeaderCount = n
		return opts
	}
}

func WithMaxLineLength(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxLineLength = n
		return opts
	}
}

func WithMaxGarbageLines(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxGarbageLines = n
		return opts
	}
}

func WithMaxEmptyLines(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxEmptyLines = n
		return opts
	}
}

func WithCharset(charset string) Option {
	return func(opts *Options) *Options {
		opts.Charset = charset
		return opts
	}
}

func WithBufferSize(size int) Option {
	return func(opts *Options) *Options {
		opts.BufferSize = size
		return opts
	}
}

func WithChunkSizeHint(size int) Option {
	return func(opts *Options) *Options {
		opts.ChunkSizeHint = size
		return opts
	}
}

func WithPipeSize(size int) Option {
	return func(opts *Options) *Options {
		opts.PipeSize = size
		return opts
	}
}

func WithPipelining(enable bool) Option {
	return func(opts *Options) *Options {
		opts.Pipelining = enable
		return opts
	}
}

func WithMaxPipelined(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxPipelined = n
		return opts
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(opts *Options) *Options {
		opts.ReadTimeout = d
		return opts
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(opts *Options) *Options {
		opts.WriteTimeout = d
		return opts
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(opts *Options) *Options {
		opts.IdleTimeout = d
		return opts
	}
}

func WithServerName(name string) Option {
	return func(opts *Options) *Options {
		opts.ServerName = name
		return opts
	}
}

func WithUserAgent(agent string) Option {
	return func(opts *Options) *Options {
		opts.UserAgent = agent
		return opts
	}
}

func WithEnableMetrics(enable bool) Option {
	return func(opts *Options) *Options {
		opts.EnableMetrics = enable
		return opts
	}
}

func WithMaxConnections(n int) Option {
	return func(opts *Options) *Options {
		opts.MaxConnections = n
		return opts
	}
}

// WithAcceptRate limits new connections per second.
func WithAcceptRate(rate, burst int) Option {
	return func(opts *Options) *Options {
		opts.AcceptRate = rate
		opts.AcceptBurst = burst
		return opts
	}
}

func WithRequireTLS(require bool) Option {
	return func(opts *Options) *Options {
		opts.RequireTLS = require
		return opts
	}
}

func WithLaxIncomingContentLength(lax bool) Option {
	return func(opts *Options) *Options {
		opts.LaxIncomingContentLength = lax
		return opts
	}
}

func WithLogger(config logger.Config) Option {
	return func(opts *Options) *Options {
		opts.Logger = config
		return opts
	}
}
