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

// Package spi provides the SPI transport of the ST25R39xx
package spi

import (
	"fmt"
	"sync"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// MaxFrequency is the highest SPI clock the chip accepts
	MaxFrequency = 10 * physic.MegaHertz

	// defaultMaxTx applies when the port does not report a limit
	defaultMaxTx = 4096
)

// Transport implements st25r39.Transport over a periph SPI connection.
// The chip samples on the falling edge with an idle low clock (mode 1).
type Transport struct {
	conn   spi.Conn
	port   spi.PortCloser
	name   string
	buf    []byte
	maxTx  int
	mu     sync.Mutex
	closed bool
}

// New opens the SPI port called name ("" selects the first one) at freq.
// A zero freq selects MaxFrequency.
func New(name string, freq physic.Frequency) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	if freq == 0 {
		freq = MaxFrequency
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", name, err)
	}
	c, err := port.Connect(freq, spi.Mode1, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI port %q: %w", name, err)
	}

	t := NewFromConn(c, name)
	t.port = port
	return t, nil
}

// NewFromConn wraps an already connected SPI connection
func NewFromConn(c spi.Conn, name string) *Transport {
	maxTx := defaultMaxTx
	if lim, ok := c.(conn.Limits); ok && lim.MaxTxSize() > 0 {
		maxTx = lim.MaxTxSize()
	}
	if name == "" {
		name = c.String()
	}
	return &Transport{
		conn:  c,
		name:  name,
		maxTx: maxTx,
		buf:   make([]byte, 2*maxTx),
	}
}

// Tx performs one chip select framed register transfer. w is clocked out
// first. r is filled with the bytes clocked in after w.
func (t *Transport) Tx(w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("spi %s: transport closed", t.name)
	}
	n := len(w) + len(r)
	if n > t.maxTx {
		return fmt.Errorf("spi %s: transfer of %d bytes exceeds %d", t.name, n, t.maxTx)
	}

	out, in := t.buf[:n], t.buf[t.maxTx:t.maxTx+n]
	copy(out, w)
	clear(out[len(w):])
	if err := t.conn.Tx(out, in); err != nil {
		return fmt.Errorf("spi %s: %w", t.name, err)
	}
	copy(r, in[len(w):])
	return nil
}

// MaxTxSize returns the longest transfer the port supports
func (t *Transport) MaxTxSize() int {
	return t.maxTx
}

// Port returns the port name
func (t *Transport) Port() string {
	return t.name
}

// Type returns the transport type
func (*Transport) Type() st25r39.TransportType {
	return st25r39.TransportSPI
}

// Close releases the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("failed to close SPI port %s: %w", t.name, err)
		}
	}
	return nil
}

var (
	_ st25r39.Transport       = (*Transport)(nil)
	_ st25r39.TransferLimiter = (*Transport)(nil)
	_ st25r39.PortNamer       = (*Transport)(nil)
)
