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

// Package spi detects ST25R39xx readers on SPI ports
package spi

import (
	"context"

	"github.com/ZaparooProject/go-st25r39/detection"
)

type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect searches for readers on the SPI ports of the host
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if opts == nil {
		defaults := detection.DefaultOptions()
		opts = &defaults
	}
	return detectPlatform(ctx, opts)
}

// halfDuplex adapts a full duplex transfer to a register transfer: w is
// clocked out first and r is filled from the bytes clocked in after it.
func halfDuplex(tx func(w, r []byte) error) func(w, r []byte) error {
	return func(w, r []byte) error {
		out := make([]byte, len(w)+len(r))
		copy(out, w)
		in := make([]byte, len(out))
		if err := tx(out, in); err != nil {
			return err
		}
		copy(r, in[len(w):])
		return nil
	}
}
