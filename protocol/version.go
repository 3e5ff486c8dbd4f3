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

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an HTTP protocol version.
type Version struct {
	Major int
	Minor int
}

var (
	HTTP10 = Version{Major: 1, Minor: 0}
	HTTP11 = Version{Major: 1, Minor: 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

func (v Version) LessThan(o Version) bool {
	return v.Major < o.Major || (v.Major == o.Major && v.Minor < o.Minor)
}

// ParseVersion parses "HTTP/x.y".
func ParseVersion(s string) (Version, error) {
	if !strings.HasPrefix(s, "HTTP/") {
		return Version{}, fmt.Errorf("invalid protocol version %q", s)
	}
	major, minor, ok := strings.Cut(s[5:], ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid protocol version %q", s)
	}
	ma, err := strconv.Atoi(major)
	if err != nil || ma < 0 || len(major) > 3 {
		return Version{}, fmt.Errorf("invalid protocol version %q", s)
	}
	mi, err := strconv.Atoi(minor)
	if err != nil || mi < 0 || len(minor) > 3 {
		return Version{}, fmt.Errorf("invalid protocol version %q", s)
	}
	return Version{Major: ma, Minor: mi}, nil
}
