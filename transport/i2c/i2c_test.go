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

package i2c

import (
	"errors"
	"testing"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	"github.com/ZaparooProject/go-st25r39/internal/regs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type fakeBus struct {
	err    error
	addrs  []uint16
	writes [][]byte
	answer []byte
}

func (*fakeBus) String() string { return "fake-i2c" }

func (*fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.addrs = append(f.addrs, addr)
	f.writes = append(f.writes, append([]byte(nil), w...))
	copy(r, f.answer)
	return nil
}

func TestTransportTx(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{answer: []byte{0x2A}}
	tr := NewFromBus(bus, DefaultAddress, "")
	assert.Equal(t, "fake-i2c", tr.Port())
	assert.Equal(t, st25r39.TransportI2C, tr.Type())

	rt := st25r39.NewRegisterTransport(tr, 0)
	id, err := rt.ReadRegister(regs.ICIdentity)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2A), id)
	assert.Equal(t, []uint16{DefaultAddress}, bus.addrs)
	assert.Equal(t, []byte{0x7F}, bus.writes[0])
}

func TestTransportErrors(t *testing.T) {
	t.Parallel()

	errNack := errors.New("nack")
	tr := NewFromBus(&fakeBus{err: errNack}, DefaultAddress, "i2c-1")
	err := tr.Tx([]byte{0x40}, make([]byte, 1))
	require.ErrorIs(t, err, errNack)
	assert.Contains(t, err.Error(), "i2c-1")

	rt := st25r39.NewRegisterTransport(tr, 0)
	_, err = rt.ReadRegister(regs.IOConf1)
	require.ErrorIs(t, err, st25r39.ErrTransport)
	assert.True(t, st25r39.IsRetryable(err))

	require.NoError(t, tr.Close())
	require.Error(t, tr.Tx([]byte{0x40}, make([]byte, 1)))
}
