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

package global

import (
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/syncx"
)

// ResourceManager starts daemons in order and closes every registered
// resource on shutdown, used for graceful exit of servers and registries.

type Resource interface {
	Close()
}

type DaemonResource interface {
	Resource
	Name() string
	Start() error
}

const (
	resourceOrder = 1000000000
	daemonOrder   = 100000
)

type managed struct {
	resource Resource
	daemon   DaemonResource
	order    int
}

func (m *managed) name() string {
	if m.daemon != nil {
		return m.daemon.Name()
	}
	return "resource"
}

type ResourceManager struct {
	lock     sync.Locker
	managed  []*managed
	started  []*managed
	running  bool
	shutdown chan struct{}
	once     sync.Once
	logger   logger.ILog
}

var DefaultResourceManager = NewResourceManager(nil)

// NewResourceManager logs through log, or the default logger when nil.
func NewResourceManager(log logger.ILog) *ResourceManager {
	return &ResourceManager{lock: syncx.NewSpinLock(), shutdown: make(chan struct{}), logger: log}
}

func (rm *ResourceManager) log() logger.ILog {
	if rm.logger == nil {
		return logger.DefaultLogger()
	}
	return rm.logger
}

// Add registers a resource that is only closed on shutdown.
func (rm *ResourceManager) Add(resource Resource) {
	rm.lock.Lock()
	defer rm.lock.Unlock()
	for _, m := range rm.managed {
		if m.resource == resource {
			return
		}
	}
	rm.managed = append(rm.managed, &managed{resource: resource, order: resourceOrder})
}

// AddDaemonWithOrder registers a daemon. Higher orders start first and
// close first.
func (rm *ResourceManager) AddDaemonWithOrder(daemon DaemonResource, order int) {
	rm.lock.Lock()
	defer rm.lock.Unlock()
	for _, m := range rm.managed {
		if m.daemon == daemon {
			return
		}
	}
	rm.managed = append(rm.managed, &managed{daemon: daemon, order: order})
}

func (rm *ResourceManager) AddDaemon(daemon DaemonResource) {
	rm.AddDaemonWithOrder(daemon, daemonOrder)
}

// Start starts every daemon. On failure the daemons already started are
// closed again.
func (rm *ResourceManager) Start() error {
	rm.lock.Lock()
	defer rm.lock.Unlock()
	if rm.running {
		return errors.New("resource manager already running")
	}

	sort.SliceStable(rm.managed, func(i, j int) bool {
		return rm.managed[i].order > rm.managed[j].order
	})
	for _, m := range rm.managed {
		if m.daemon != nil {
			if err := m.daemon.Start(); err != nil {
				rm.log().Error("Start '%s' failed. Error: %s", m.name(), err.Error())
				rm.closeStarted()
				return err
			}
			rm.log().Info("Start '%s' success.", m.name())
		}
		rm.started = append(rm.started, m)
	}
	rm.running = true
	return nil
}

// Signal starts everything and blocks until a termination signal arrives or
// Shutdown is called, then closes every resource.
func (rm *ResourceManager) Signal() error {
	if err := rm.Start(); err != nil {
		return err
	}
	sign := make(chan os.Signal, 1)
	signal.Notify(sign, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sign)

	select {
	case s := <-sign:
		rm.log().Info("Accept signal %s. The application is shutting down...", s)
	case <-rm.shutdown:
		rm.log().Info("The application is shutting down...")
	}
	rm.destroy()
	return nil
}

// Shutdown releases a blocked Signal.
func (rm *ResourceManager) Shutdown() {
	rm.once.Do(func() { close(rm.shutdown) })
}

func (rm *ResourceManager) destroy() {
	rm.lock.Lock()
	defer rm.lock.Unlock()
	rm.closeStarted()
	rm.running = false
}

func (rm *ResourceManager) closeStarted() {
	for _, m := range rm.started {
		if m.daemon != nil {
			m.daemon.Close()
		} else {
			m.resource.Close()
		}
	}
	rm.started = nil
}
