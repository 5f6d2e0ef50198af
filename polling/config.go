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

package polling

import (
	"errors"
	"time"
)

// Config configures continuous card monitoring
type Config struct {
	// PollInterval is the pause between two polling cycles
	PollInterval time.Duration
	// PollTimeout bounds a single polling cycle
	PollTimeout time.Duration
	// CardRemovalTimeout is how long a card may stay unseen before it is
	// reported as removed
	CardRemovalTimeout time.Duration
}

// DefaultConfig returns the default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       100 * time.Millisecond,
		PollTimeout:        50 * time.Millisecond,
		CardRemovalTimeout: 600 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.New("poll timeout must be positive")
	}
	if c.CardRemovalTimeout <= 0 {
		return errors.New("card removal timeout must be positive")
	}
	return nil
}
