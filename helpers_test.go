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
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
	testutil "github.com/ZaparooProject/go-st25r39/internal/testing"
	"github.com/stretchr/testify/require"
)

// newSimDevice returns an initialized device on a simulated chip with tags
// in its field
func newSimDevice(t *testing.T, tags ...*testutil.VirtualTag) (*Device, *testutil.Chip) {
	t.Helper()
	return newSimDeviceWithChip(t, testutil.NewChip(tags...))
}

func newSimDeviceWithChip(t *testing.T, chip *testutil.Chip, opts ...Option) (*Device, *testutil.Chip) {
	t.Helper()
	device, err := New(NewMockTransport(chip), chip, opts...)
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	t.Cleanup(func() { _ = device.Close() })
	chip.ResetCounters()
	return device, chip
}

// quietLine is an interrupt line that never fires
type quietLine struct {
	ch chan struct{}
}

func newQuietLine() *quietLine {
	return &quietLine{ch: make(chan struct{}, 1)}
}

func (l *quietLine) Edges() <-chan struct{} {
	return l.ch
}

var errBusGlitch = errors.New("bus glitch")

// tapBus sits between the driver and a simulated chip. It records the no
// response timer programmed for each command, can fail a command a number of
// times and can alter FIFO reads.
type tapBus struct {
	chip     *testutil.Chip
	onRead   func(r []byte)
	timers   map[regs.Command][]uint16
	failures int
	failCmd  regs.Command
	timer    uint16
}

func newTapBus(chip *testutil.Chip) *tapBus {
	return &tapBus{chip: chip, timers: make(map[regs.Command][]uint16)}
}

func (b *tapBus) Tx(w, r []byte) error {
	if b.failures > 0 && len(w) == 1 && w[0] == byte(b.failCmd) {
		b.failures--
		return errBusGlitch
	}
	if err := b.chip.Tx(w, r); err != nil {
		return err
	}
	switch {
	case len(w) == 4 && w[0] == regs.ModeWriteReg|regs.NoResponseTimer1.Addr():
		b.timer = uint16(w[1])<<8 | uint16(w[2])
	case len(w) == 1 && w[0] == regs.ReadFIFO:
		if b.onRead != nil {
			b.onRead(r)
		}
	case len(w) == 1 && w[0]&0xc0 == regs.ModeCommand:
		cmd := regs.Command(w[0])
		b.timers[cmd] = append(b.timers[cmd], b.timer)
	}
	return nil
}

// newTapDevice returns an initialized device talking to chip through a tap
func newTapDevice(t *testing.T, chip *testutil.Chip, opts ...Option) (*Device, *tapBus) {
	t.Helper()
	tap := newTapBus(chip)
	device, err := New(NewMockTransport(tap), chip, opts...)
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	t.Cleanup(func() { _ = device.Close() })
	clear(tap.timers)
	return device, tap
}
