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

package env

import (
	"net"
	"os"
	"sync"
)

var (
	once        sync.Once
	localhostIP string
	hostname    string
)

func detect() {
	hostname, _ = os.Hostname()

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return
	}
	for _, address := range addrs {
		// skip loopback addresses
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				localhostIP = ipnet.IP.String()
				return
			}
		}
	}
}

// GetLocalHostIP is the first non-loopback IPv4 address, empty if none.
func GetLocalHostIP() string {
	once.Do(detect)
	return localhostIP
}

func GetHostname() string {
	once.Do(detect)
	return hostname
}
