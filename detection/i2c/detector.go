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

// Package i2c detects ST25R39xx readers on I2C buses
package i2c

import (
	"context"

	"github.com/ZaparooProject/go-st25r39/detection"
)

// DefaultAddress is the fixed 7-bit I2C address of the ST25R3916
const DefaultAddress = 0x50

type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Detect searches for readers on the I2C buses of the host
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if opts == nil {
		defaults := detection.DefaultOptions()
		opts = &defaults
	}
	return detectPlatform(ctx, opts)
}
