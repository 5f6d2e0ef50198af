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

// Package i2c provides the I2C transport of the ST25R39xx
package i2c

import (
	"fmt"
	"io"
	"sync"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the fixed 7-bit I2C address of the ST25R3916
	DefaultAddress = 0x50

	// Max clock frequency (400 kHz); the chip also supports fast mode plus
	maxClockFreq = 400 * physic.KiloHertz
)

// Transport implements st25r39.Transport over a periph I2C bus. Register
// reads are a write of the address byte followed by a repeated start read.
type Transport struct {
	dev     *i2c.Dev
	closer  io.Closer
	busName string
	mu      sync.Mutex
	closed  bool
}

// New opens the I2C bus called busName ("" selects the first one)
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	t := NewFromBus(bus, DefaultAddress, busName)
	t.closer = bus
	return t, nil
}

// NewFromBus wraps an open bus talking to the chip at addr
func NewFromBus(bus i2c.Bus, addr uint16, busName string) *Transport {
	if busName == "" {
		busName = bus.String()
	}
	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		busName: busName,
	}
}

// Tx writes w and then reads len(r) bytes in one transaction
func (t *Transport) Tx(w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("i2c %s: transport closed", t.busName)
	}
	if err := t.dev.Tx(w, r); err != nil {
		return fmt.Errorf("i2c %s: %w", t.busName, err)
	}
	return nil
}

// Port returns the bus name
func (t *Transport) Port() string {
	return t.busName
}

// Type returns the transport type
func (*Transport) Type() st25r39.TransportType {
	return st25r39.TransportI2C
}

// Close closes the bus if this transport opened it
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus %s: %w", t.busName, err)
		}
	}
	return nil
}

// Ensure Transport implements st25r39.Transport
var (
	_ st25r39.Transport = (*Transport)(nil)
	_ st25r39.PortNamer = (*Transport)(nil)
)
