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

package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const gz = ".gz"

type appender struct {
	timeFormat     string
	enableTrace    bool
	enableCompress bool
	enableColor    bool
	dir            string
	fileName       string
	maxSize        int64
	maxBackups     int

	buf      strings.Builder
	out      io.Writer
	logFile  *os.File
	filesize int64
	mu       sync.Mutex
}

func newAppender(timeFormat, dir, fileName, maxSize string, maxBackups int, enableTrace, enableCompress, enableColor bool) *appender {
	a := &appender{
		timeFormat:     timeFormat,
		enableTrace:    enableTrace,
		enableCompress: enableCompress,
		enableColor:    enableColor,
		dir:            dir,
		fileName:       fileName,
		maxSize:        getMaxSize(maxSize),
		maxBackups:     maxBackups,
		out:            os.Stdout,
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			panic(fmt.Sprintf("[logger appender] mkdir err: %s", err))
		}
		a.openFile()
	}
	return a
}

func getMaxSize(maxSize string) int64 {
	units := []struct {
		suffix string
		factor int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}}
	for _, u := range units {
		if strings.HasSuffix(maxSize, u.suffix) {
			num, err := strconv.ParseInt(strings.TrimSuffix(maxSize, u.suffix), 10, 64)
			if err != nil {
				panic(fmt.Sprintf("[logger appender] convert %s num err: %s", maxSize, err.Error()))
			}
			return num * u.factor
		}
	}
	return 0
}

func (a *appender) openFile() {
	path := filepath.Join(a.dir, a.fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		panic(fmt.Sprintf("[logger appender] open logfile err: %s", err))
	}
	a.logFile, a.out = f, f
	if info, err := f.Stat(); err == nil {
		a.filesize = info.Size()
	}
}

func (a *appender) write(d entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	level := d.level
	if a.enableColor {
		level = getLevelColor(level)
	}
	a.buf.Reset()
	a.buf.WriteString(d.timestamp.Format(a.timeFormat))
	a.buf.WriteString(" [")
	a.buf.WriteString(level)
	a.buf.WriteString("] ")
	if a.enableTrace && (d.traceID != "" || d.connID != "") {
		a.buf.WriteString("[")
		a.buf.WriteString(d.traceID)
		if d.connID != "" {
			a.buf.WriteString("|")
			a.buf.WriteString(d.connID)
		}
		a.buf.WriteString("] ")
	}
	a.buf.WriteString(d.position)
	a.buf.WriteString(" - ")
	a.buf.WriteString(d.content)
	a.buf.WriteByte('\n')

	n, err := io.WriteString(a.out, a.buf.String())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[logger appender] write err: %s\n", err)
		return
	}
	if a.logFile != nil {
		a.filesize += int64(n)
		if a.maxSize > 0 && a.filesize > a.maxSize {
			a.roll()
		}
	}
}

// roll renames the current file with a timestamp suffix and reopens a fresh
// one. Called with a.mu held.
func (a *appender) roll() {
	_ = a.logFile.Close()
	backup := filepath.Join(a.dir, a.fileName+"-"+time.Now().Format("20060102150405.000"))
	if err := os.Rename(filepath.Join(a.dir, a.fileName), backup); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[logger appender] rename logfile err: %s\n", err)
	}
	a.openFile()
	if a.enableCompress {
		compressFile(backup)
	}
	a.cleanBackups()
}

func compressFile(path string) {
	from, err := os.Open(path)
	if err != nil {
		return
	}
	defer from.Close()
	to, err := os.Create(path + gz)
	if err != nil {
		return
	}
	defer to.Close()
	w := gzip.NewWriter(to)
	if _, err = io.Copy(w, from); err == nil {
		err = w.Close()
	}
	if err == nil {
		_ = os.Remove(path)
	}
}

func (a *appender) cleanBackups() {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return
	}
	var backups []string
	for _, v := range entries {
		if name := v.Name(); !v.IsDir() && strings.HasPrefix(name, a.fileName+"-") {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)
	for len(backups) > a.maxBackups {
		_ = os.Remove(filepath.Join(a.dir, backups[0]))
		backups = backups[1:]
	}
}

func (a *appender) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
		a.logFile = nil
		a.out = os.Stdout
	}
}
