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
	"time"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithTimeout sets the default response timeout of Exchange
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		return d.SetTimeout(timeout)
	}
}

// WithMaxRetries sets the retry bound of the request and anticollision stages
func WithMaxRetries(maxRetries int) Option {
	return func(d *Device) error {
		if maxRetries < 0 {
			return fmt.Errorf("%w: negative retry count", ErrInvalidParameter)
		}
		d.config.Poll.MaxRetries = maxRetries
		return nil
	}
}

// WithFIFOSize sets the FIFO capacity of the chip
func WithFIFOSize(size int) Option {
	return func(d *Device) error {
		if size <= 0 {
			return fmt.Errorf("%w: FIFO size %d", ErrInvalidParameter, size)
		}
		d.config.FIFOSize = size
		return nil
	}
}

// WithPollConfig sets the discovery configuration
func WithPollConfig(config *PollConfig) Option {
	return func(d *Device) error {
		return d.SetPollConfig(config)
	}
}

// WithFieldConfig sets the front end configuration applied by Init
func WithFieldConfig(config FieldConfig) Option {
	return func(d *Device) error {
		d.config.Field = config
		return nil
	}
}

// WithLogger routes debug output to logger
func WithLogger(logger *slog.Logger) Option {
	return func(*Device) error {
		SetLogger(logger)
		return nil
	}
}
