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
	"sync"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// Bus performs one chip-select scoped transfer: w is written, then len(r)
// bytes are read into r. Implementations are half duplex from the caller's
// point of view.
type Bus interface {
	Tx(w, r []byte) error
}

// Transport is a Bus that can be closed and identifies its kind.
// This is implemented by the SPI and I2C backends and the simulator.
type Transport interface {
	Bus

	// Close releases the underlying bus
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// DefaultFIFOSize is the FIFO capacity of the ST25R3916.
const DefaultFIFOSize = 512

// RegisterTransport implements register, FIFO and direct command access on
// top of a Bus. Each operation holds the transport lock for its duration.
type RegisterTransport struct {
	bus      Bus
	port     string
	fifoSize int
	maxXfer  int
	mu       sync.Mutex
}

// NewRegisterTransport creates a register transport over bus with the given
// FIFO capacity. A non-positive fifoSize selects DefaultFIFOSize.
func NewRegisterTransport(bus Bus, fifoSize int) *RegisterTransport {
	if fifoSize <= 0 {
		fifoSize = DefaultFIFOSize
	}
	return &RegisterTransport{
		bus:      bus,
		port:     portOf(bus),
		fifoSize: fifoSize,
		maxXfer:  maxTransfer(bus),
	}
}

// FIFOSize returns the FIFO capacity in bytes
func (t *RegisterTransport) FIFOSize() int {
	return t.fifoSize
}

// ReadRegister reads a single register
func (t *RegisterTransport) ReadRegister(reg regs.Register) (byte, error) {
	var buf [1]byte
	if err := t.ReadRegisters(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadRegisters reads len(buf) consecutive registers starting at reg using
// address auto-increment.
func (t *RegisterTransport) ReadRegisters(reg regs.Register, buf []byte) error {
	if !reg.Valid() || len(buf) == 0 {
		return fmt.Errorf("%w: read of %d registers at %#02x", ErrInvalidParameter, len(buf), byte(reg))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w := addressFrame(regs.ModeReadReg, reg)
	if err := t.bus.Tx(w, buf); err != nil {
		return NewTransportError("ReadRegister", t.port, err)
	}
	return nil
}

// WriteRegister writes a single register
func (t *RegisterTransport) WriteRegister(reg regs.Register, value byte) error {
	return t.WriteRegisters(reg, value)
}

// WriteRegisters writes consecutive registers starting at reg using address
// auto-increment. Writes touching a read-only register are rejected before
// the bus is used.
func (t *RegisterTransport) WriteRegisters(reg regs.Register, values ...byte) error {
	if !reg.Valid() || len(values) == 0 || int(reg.Addr())+len(values)-1 > int(regs.ICIdentity) {
		return fmt.Errorf("%w: write of %d registers at %#02x", ErrInvalidParameter, len(values), byte(reg))
	}
	for i := range values {
		r := regs.Register(byte(reg) + byte(i))
		if regs.AccessOf(r) == regs.ReadOnly {
			return fmt.Errorf("%w: %#02x", ErrReadOnlyRegister, byte(r))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(addressFrame(regs.ModeWriteReg, reg), values...)
	if err := t.bus.Tx(w, nil); err != nil {
		return NewTransportError("WriteRegister", t.port, err)
	}
	return nil
}

// ModifyRegister clears and sets bits of reg in one locked read-modify-write
func (t *RegisterTransport) ModifyRegister(reg regs.Register, clearBits, setBits byte) error {
	if regs.AccessOf(reg) == regs.ReadOnly {
		return fmt.Errorf("%w: %#02x", ErrReadOnlyRegister, byte(reg))
	}
	if !reg.Valid() {
		return fmt.Errorf("%w: register %#02x", ErrInvalidParameter, byte(reg))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var cur [1]byte
	if err := t.bus.Tx(addressFrame(regs.ModeReadReg, reg), cur[:]); err != nil {
		return NewTransportError("ModifyRegister", t.port, err)
	}
	w := append(addressFrame(regs.ModeWriteReg, reg), cur[0]&^clearBits|setBits)
	if err := t.bus.Tx(w, nil); err != nil {
		return NewTransportError("ModifyRegister", t.port, err)
	}
	return nil
}

// WriteFIFO loads data into the FIFO. Loads are split into several bus
// transfers when the bus limits the transfer size.
func (t *RegisterTransport) WriteFIFO(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > t.fifoSize {
		return fmt.Errorf("%w: FIFO write of %d bytes, capacity %d", ErrCapacityExceeded, len(data), t.fifoSize)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, chunk := range splitTransfer(data, t.maxXfer-1) {
		w := make([]byte, 0, len(chunk)+1)
		w = append(w, regs.LoadFIFO)
		w = append(w, chunk...)
		if err := t.bus.Tx(w, nil); err != nil {
			return NewTransportError("WriteFIFO", t.port, err)
		}
	}
	return nil
}

// ReadFIFO reads n bytes from the FIFO
func (t *RegisterTransport) ReadFIFO(n int) ([]byte, error) {
	if n < 0 || n > t.fifoSize {
		return nil, fmt.Errorf("%w: FIFO read of %d bytes, capacity %d", ErrCapacityExceeded, n, t.fifoSize)
	}
	if n == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, n)
	for _, chunk := range splitTransfer(buf, t.maxXfer-1) {
		if err := t.bus.Tx([]byte{regs.ReadFIFO}, chunk); err != nil {
			return nil, NewTransportError("ReadFIFO", t.port, err)
		}
	}
	return buf, nil
}

// Command issues a direct command
func (t *RegisterTransport) Command(cmd regs.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.bus.Tx([]byte{byte(cmd)}, nil); err != nil {
		return NewTransportError(fmt.Sprintf("Command(%#02x)", byte(cmd)), t.port, err)
	}
	return nil
}

func addressFrame(mode byte, reg regs.Register) []byte {
	if reg.IsSpaceB() {
		return []byte{regs.SpaceBAccess, mode | reg.Addr()}
	}
	return []byte{mode | reg.Addr()}
}

// splitTransfer slices b into chunks of at most limit bytes sharing b's
// backing array. A non-positive limit returns b whole.
func splitTransfer(b []byte, limit int) [][]byte {
	if limit <= 0 || len(b) <= limit {
		return [][]byte{b}
	}
	chunks := make([][]byte, 0, (len(b)+limit-1)/limit)
	for len(b) > 0 {
		n := min(limit, len(b))
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}
