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
	"time"
)

// PollConfig configures card discovery
type PollConfig struct {
	// RequestTimeout is the frame waiting time for REQA/WUPA and
	// anticollision frames
	RequestTimeout time.Duration
	// SelectTimeout is the frame waiting time for SELECT
	SelectTimeout time.Duration
	// MaxRetries bounds the retries of each request and anticollision frame
	MaxRetries int
	// Wakeup sends WUPA instead of REQA so halted cards answer as well
	Wakeup bool
}

// DefaultPollConfig returns the default discovery configuration
func DefaultPollConfig() *PollConfig {
	return &PollConfig{
		RequestTimeout: 5 * time.Millisecond,
		SelectTimeout:  5 * time.Millisecond,
		MaxRetries:     2,
	}
}

// Validate checks if the configuration is valid
func (c *PollConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidParameter)
	}
	if c.RequestTimeout < 0 || c.SelectTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidParameter)
	}
	return nil
}

// Clone creates a copy of the configuration
func (c *PollConfig) Clone() *PollConfig {
	clone := *c
	return &clone
}
