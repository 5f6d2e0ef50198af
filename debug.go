// go-st25r39
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25r39.
//
// go-st25r39 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25r39 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25r39; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package st25r39

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/phsym/console-slog"
)

var (
	debugEnabled atomic.Bool
	loggerMu     sync.RWMutex
	logger       = newConsoleLogger()
)

func newConsoleLogger() *slog.Logger {
	return slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// SetDebugEnabled turns driver debug output on or off
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// SetLogger replaces the logger used for debug output. A nil logger restores
// the console handler on stderr.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newConsoleLogger()
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func currentLogger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func debugf(format string, args ...any) {
	if !debugEnabled.Load() {
		return
	}
	currentLogger().Debug(fmt.Sprintf(format, args...))
}

func debugln(args ...any) {
	if !debugEnabled.Load() {
		return
	}
	currentLogger().Debug(fmt.Sprint(args...))
}
