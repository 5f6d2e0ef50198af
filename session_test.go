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
	"testing"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
	"github.com/ZaparooProject/go-st25r39/internal/regs"
	testutil "github.com/ZaparooProject/go-st25r39/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pollOne(t *testing.T, device *Device) CardHandle {
	t.Helper()
	h, err := device.PollForCard(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	return *h
}

func TestExchangeReadsType2Pages(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualNTAG213(nil)
	require.NoError(t, tag.SetNDEFText("hello"))
	device, _ := newSimDevice(t, tag)
	h := pollOne(t, device)

	resp, err := device.Exchange(context.Background(), h, []byte{0x30, 0x04})
	require.NoError(t, err)
	assert.Equal(t, tag.Memory[16:32], resp)

	// reads roll over at the end of memory
	last := len(tag.Memory)/4 - 1
	resp, err = device.Exchange(context.Background(), h, []byte{0x30, byte(last)})
	require.NoError(t, err)
	require.Len(t, resp, 16)
	assert.Equal(t, tag.Memory[:4], resp[4:8])
}

func TestExchangeUnansweredCommand(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, testutil.NewVirtualTag(testutil.TestUID4, 0x08))
	h := pollOne(t, device)

	_, err := device.ExchangeWithTimeout(context.Background(), h, []byte{0xA2, 0x04}, 2*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	_, err = device.Card(h)
	require.NoError(t, err, "a timeout keeps the selection")
}

func TestReleaseHaltsCard(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualTag(testutil.TestUID4, 0x08)
	device, chip := newSimDevice(t, tag)
	h := pollOne(t, device)

	chip.ResetCounters()
	require.NoError(t, device.Release(context.Background(), h))
	assert.Equal(t, testutil.TagHalted, tag.State())
	assert.Contains(t, chip.Counters().Commands, byte(regs.CmdTransmitWithCRC))

	_, err := device.Exchange(context.Background(), h, []byte{0x30, 0x00})
	require.ErrorIs(t, err, ErrStaleHandle)
	err = device.Release(context.Background(), h)
	require.ErrorIs(t, err, ErrStaleHandle)
}

func TestReleaseAnswered(t *testing.T) {
	t.Parallel()

	device, chip := newSimDevice(t, testutil.NewVirtualTag(testutil.TestUID4, 0x08))
	h := pollOne(t, device)

	chip.SetResponder(func(frame []byte) ([]byte, bool) {
		return []byte{0x0A}, frame[0] == iso14443.HltA
	})
	err := device.Release(context.Background(), h)
	require.ErrorIs(t, err, ErrHaltRejected)

	_, err = device.Card(h)
	require.ErrorIs(t, err, ErrStaleHandle, "the handle is invalid even when HLTA is answered")
}

func TestReleaseGarbledAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		irq  uint32
	}{
		{name: "crc error", irq: regs.IntrCRC},
		{name: "parity error", irq: regs.IntrPar},
		{name: "framing error", irq: regs.IntrErr1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, chip := newSimDevice(t, testutil.NewVirtualTag(testutil.TestUID4, 0x08))
			h := pollOne(t, device)

			// a NACK: something answers, but not a well formed frame
			chip.SetResponder(func(frame []byte) ([]byte, bool) {
				return []byte{0x05}, frame[0] == iso14443.HltA
			})
			chip.InjectFault(testutil.Fault{
				Match: func(frame []byte) bool { return frame[0] == iso14443.HltA },
				IRQ:   tt.irq,
			})
			err := device.Release(context.Background(), h)
			require.ErrorIs(t, err, ErrHaltRejected)
			assert.Equal(t, ErrorTypeProtocol, GetErrorType(err))

			_, err = device.Card(h)
			require.ErrorIs(t, err, ErrStaleHandle)
		})
	}
}

func TestFieldOffInvalidatesHandles(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualTag(testutil.TestUID4, 0x08)
	device, _ := newSimDevice(t, tag)
	ctx := context.Background()
	h := pollOne(t, device)
	require.Equal(t, PollerSelected, device.poller.State())

	require.NoError(t, device.SetField(ctx, false))
	assert.Equal(t, PollerIdle, device.poller.State())
	assert.Equal(t, testutil.TagIdle, tag.State())
	_, err := device.Exchange(ctx, h, []byte{0x30, 0x00})
	require.ErrorIs(t, err, ErrStaleHandle)

	require.NoError(t, device.SetField(ctx, true))
	_, err = device.Card(h)
	require.ErrorIs(t, err, ErrStaleHandle)

	h2 := pollOne(t, device)
	_, err = device.Card(h2)
	require.NoError(t, err)
}

func TestActivateISODEP(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, testutil.NewVirtualISODEP(nil))
	ctx := context.Background()
	h := pollOne(t, device)

	card, err := device.Card(h)
	require.NoError(t, err)
	require.True(t, card.SupportsISODEP())

	ats, err := device.ActivateISODEP(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 256, ats.FSC)
	assert.Equal(t, byte(7), ats.FWI)
	assert.Equal(t, []byte{0x80, 0x31}, ats.Historical)

	// the card echoes each I-block, so the framer must track block numbers
	for _, apdu := range [][]byte{
		{0x00, 0xA4, 0x04, 0x00},
		{0x00, 0xB0, 0x00, 0x00, 0x10},
		{0x90, 0x00},
	} {
		resp, err := device.Exchange(ctx, h, apdu)
		require.NoError(t, err)
		assert.Equal(t, apdu, resp)
	}
}

func TestExchangeUsesFrameWaitingTime(t *testing.T) {
	t.Parallel()

	device, tap := newTapDevice(t, testutil.NewChip(testutil.NewVirtualISODEP(nil)))
	ctx := context.Background()
	h := pollOne(t, device)
	assert.Zero(t, device.session.FrameWaitingTime(h))
	_, configured := noResponseTimer(device.config.Timeout)

	ats, err := device.ActivateISODEP(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, ats.FWT(), device.session.FrameWaitingTime(h))

	clear(tap.timers)
	_, err = device.Exchange(ctx, h, []byte{0x90, 0x00})
	require.NoError(t, err)
	_, err = device.ExchangeWithTimeout(ctx, h, []byte{0x90, 0x00}, 20*time.Millisecond)
	require.NoError(t, err)

	_, fwt := noResponseTimer(ats.FWT())
	_, explicit := noResponseTimer(20 * time.Millisecond)
	assert.NotEqual(t, configured, fwt)
	assert.Equal(t, []uint16{fwt, explicit}, tap.timers[regs.CmdTransmitWithCRC])
}

func TestActivateISODEPRejectsType2(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t, testutil.NewVirtualNTAG213(nil))
	h := pollOne(t, device)

	_, err := device.ActivateISODEP(context.Background(), h)
	require.ErrorIs(t, err, ErrProtocol)
}

type upperFramer struct{}

func (upperFramer) Encode(p []byte) ([]byte, error) { return append([]byte{0xEE}, p...), nil }

func (upperFramer) Decode(f []byte) ([]byte, error) { return f[1:], nil }

func TestSessionFramer(t *testing.T) {
	t.Parallel()

	device, chip := newSimDevice(t, testutil.NewVirtualTag(testutil.TestUID4, 0x08))
	h := pollOne(t, device)

	var sent []byte
	chip.SetResponder(func(frame []byte) ([]byte, bool) {
		sent = append([]byte(nil), frame...)
		return frame, true
	})
	require.NoError(t, device.session.SetFramer(h, upperFramer{}))

	resp, err := device.Exchange(context.Background(), h, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE, 0x01, 0x02}, sent)
	assert.Equal(t, []byte{0x01, 0x02}, resp)
}
