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

	testutil "github.com/ZaparooProject/go-st25r39/internal/testing"
	"github.com/ZaparooProject/go-st25r39/internal/regs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsBitLatchedBeforeWait(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	rt := NewRegisterTransport(chip, 0)
	line := newQuietLine()
	w := newIRQWaiter(rt, line)

	require.NoError(t, w.arm(IRQOsc))
	// starting the oscillator latches the interrupt before anyone waits
	require.NoError(t, rt.WriteRegister(regs.OpCtrl, regs.OpCtrlEn))

	start := time.Now()
	got, err := w.wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, IRQOsc, got)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitKeepsBitsReadEarlier(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	rt := NewRegisterTransport(chip, 0)
	w := newIRQWaiter(rt, newQuietLine())

	require.NoError(t, rt.WriteRegister(regs.OpCtrl, regs.OpCtrlEn))
	// a poll for other reasons clears the status register on the chip
	require.NoError(t, w.poll())
	assert.Zero(t, chip.Peek(regs.MainIntr))

	require.NoError(t, w.arm(IRQOsc))
	got, err := w.wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, IRQOsc, got)

	w.clear(got)
	require.NoError(t, w.discard(IRQAll))
	assert.Zero(t, w.pending)
}

func TestWaitDeadline(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	w := newIRQWaiter(NewRegisterTransport(chip, 0), chip)
	require.NoError(t, w.arm(IRQTxe))

	start := time.Now()
	got, err := w.wait(context.Background(), time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitPollsWithoutLine(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	rt := NewRegisterTransport(chip, 0)
	w := newIRQWaiter(rt, nil)
	require.NoError(t, w.arm(IRQOsc))

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = rt.WriteRegister(regs.OpCtrl, regs.OpCtrlEn)
	}()

	got, err := w.wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, IRQOsc, got)
}

func TestWaitCancellationDisarms(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	line := newQuietLine()
	w := newIRQWaiter(NewRegisterTransport(chip, 0), line)
	require.NoError(t, w.arm(IRQRxe))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		line.ch <- struct{}{}
		cancel()
	}()

	_, err := w.wait(ctx, time.Now().Add(time.Second))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.armed)
	for _, reg := range []regs.Register{regs.MaskMainIntr, regs.MaskTimerNFCIntr, regs.MaskErrorIntr, regs.MaskPassiveIntr} {
		assert.Equal(t, byte(0xff), chip.Peek(reg))
	}
	assert.Empty(t, line.ch)
}

func TestArmWritesInvertedMask(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	w := newIRQWaiter(NewRegisterTransport(chip, 0), chip)
	require.NoError(t, w.arm(IRQTxe|IRQNre|IRQCRC))

	assert.Equal(t, ^byte(IRQTxe), chip.Peek(regs.MaskMainIntr))
	assert.Equal(t, ^byte(IRQNre>>8), chip.Peek(regs.MaskTimerNFCIntr))
	assert.Equal(t, ^byte(IRQCRC>>16), chip.Peek(regs.MaskErrorIntr))
	assert.Equal(t, byte(0xff), chip.Peek(regs.MaskPassiveIntr))
}

func TestIRQString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", IRQ(0).String())
	assert.Equal(t, "txe|nre", (IRQTxe | IRQNre).String())
	assert.Equal(t, "rxe|0x80000000", (IRQRxe | IRQ(1<<31)).String())
	assert.True(t, (IRQTxe | IRQRxe).Has(IRQRxe))
	assert.False(t, IRQTxe.Has(IRQRxe))
}
