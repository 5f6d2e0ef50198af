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

package detection

import (
	"path/filepath"
	"strings"
)

// IsPathIgnored checks if a device path should be ignored.
// Paths are compared exactly and after cleaning, case-insensitively. An I2C
// device path "bus:address" also matches when its bus is ignored.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	busOnly := normalizedDevice
	if i := strings.LastIndex(normalizedDevice, ":"); i > 0 {
		busOnly = normalizedDevice[:i]
	}

	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath {
			return true
		}
		normalizedIgnore := normalizedPath(ignorePath)
		if normalizedDevice == normalizedIgnore || busOnly == normalizedIgnore {
			return true
		}
	}
	return false
}

// normalizedPath normalizes a device path for comparison
func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
