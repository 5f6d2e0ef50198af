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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
	testutil "github.com/ZaparooProject/go-st25r39/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func TestTransceiveStreamsThroughFIFO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fifoSize int
		size     int
	}{
		{name: "fits", fifoSize: 512, size: 100},
		{name: "just over", fifoSize: 512, size: 600},
		{name: "several chunks", fifoSize: 512, size: 1300},
		{name: "small fifo", fifoSize: 32, size: 200},
		{name: "exact multiple", fifoSize: 64, size: 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chip := testutil.NewChipWithFIFO(tt.fifoSize)
			chip.Loopback()
			device, _ := newSimDeviceWithChip(t, chip, WithFIFOSize(tt.fifoSize))

			payload := make([]byte, tt.size)
			for i := range payload {
				payload[i] = byte(i * 7)
			}
			resp, err := device.Controller().Transceive(context.Background(), payload, MaxFrameSize, 10*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, payload, resp)

			// received bytes carry the CRC until the host strips it
			counters := chip.Counters()
			assert.Equal(t, ceilDiv(tt.size, tt.fifoSize), counters.FIFOLoads, "fill operations")
			assert.Equal(t, ceilDiv(tt.size+2, tt.fifoSize), counters.FIFOReads, "drain operations")
			assert.Equal(t, StateCompleted, device.Controller().LastOutcome())
			assert.Equal(t, StateIdle, device.Controller().State())
		})
	}
}

func TestTransceiveNoResponse(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	ctrl := device.Controller()

	_, err := ctrl.Transceive(context.Background(), []byte{0x30, 0x04}, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsNoResponse(err))
	assert.False(t, ctrl.Stale())
	assert.Equal(t, StateTimedOut, ctrl.LastOutcome())
}

func TestTransceiveSilentChipHitsHostDeadline(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.SetSilent(true)
	device, _ := newSimDeviceWithChip(t, chip)
	ctrl := device.Controller()

	start := time.Now()
	_, err := ctrl.Transceive(context.Background(), []byte{0x30, 0x04}, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.True(t, ctrl.Stale())
}

func TestCancelledTransceiveRecoversOnNextOperation(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.Loopback()
	chip.InjectFault(testutil.Fault{
		Match: func(frame []byte) bool { return bytes.Equal(frame, []byte{0xAA, 0xBB, 0xCC}) },
		Stall: true,
	})
	device, _ := newSimDeviceWithChip(t, chip)
	ctrl := device.Controller()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ctrl.Transceive(ctx, []byte{0xAA, 0xBB, 0xCC}, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ctrl.Stale())
	assert.Equal(t, StateIdle, ctrl.State())
	assert.Positive(t, chip.FIFOLen(), "the stalled answer is left in the FIFO")

	clears := chip.Counters().FIFOClears
	resp, err := ctrl.Transceive(context.Background(), []byte{0x01, 0x02}, 16, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp, "no leftover bytes in the next exchange")
	assert.Equal(t, clears+1, chip.Counters().FIFOClears)
	assert.Equal(t, 1, ctrl.Recoveries())
	assert.False(t, ctrl.Stale())
}

func TestCancelledByCaller(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.Loopback()
	chip.InjectFault(testutil.Fault{Stall: true})
	device, _ := newSimDeviceWithChip(t, chip)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := device.Controller().Transceive(ctx, []byte{0x01}, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, device.Controller().Stale())
}

func TestTransceiveRFErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want  error
		name  string
		fault testutil.Fault
	}{
		{name: "crc", fault: testutil.Fault{IRQ: regs.IntrCRC}, want: ErrCRC},
		{name: "parity", fault: testutil.Fault{IRQ: regs.IntrPar}, want: ErrParity},
		{name: "hard framing", fault: testutil.Fault{IRQ: regs.IntrErr1}, want: ErrFraming},
		{name: "soft framing", fault: testutil.Fault{IRQ: regs.IntrErr2}, want: ErrFraming},
		{name: "collision", fault: testutil.Fault{IRQ: regs.IntrCol}, want: ErrCollision},
		{name: "overflow", fault: testutil.Fault{FIFOFlags: regs.FIFOStatusOverflow}, want: ErrFIFOOverflow},
		{name: "underflow", fault: testutil.Fault{FIFOFlags: regs.FIFOStatusUnderflw}, want: ErrFIFOUnderflow},
		{name: "missing parity", fault: testutil.Fault{FIFOFlags: regs.FIFOStatusNpLb}, want: ErrMissingParity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chip := testutil.NewChip()
			chip.Loopback()
			chip.InjectFault(tt.fault)
			device, _ := newSimDeviceWithChip(t, chip)
			ctrl := device.Controller()

			_, err := ctrl.Transceive(context.Background(), []byte{0x10, 0x20}, 16, 5*time.Millisecond)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateErrored, ctrl.LastOutcome())
			assert.Zero(t, chip.FIFOLen())

			resp, err := ctrl.Transceive(context.Background(), []byte{0x10, 0x20}, 16, 5*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x10, 0x20}, resp)
		})
	}
}

func TestTransceiveResponseLength(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.SetResponder(func(frame []byte) ([]byte, bool) {
		return bytes.Repeat([]byte{0x55}, int(frame[0])), true
	})
	device, _ := newSimDeviceWithChip(t, chip)
	ctrl := device.Controller()

	_, err := ctrl.Transceive(context.Background(), []byte{8}, 4, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrResponseTooLong)

	resp, err := ctrl.Transceive(context.Background(), []byte{4}, 4, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, resp, 4)

	resp2, err := ctrl.TransceiveFrame(context.Background(), Frame{Kind: FrameReqA}, nil, 2)
	require.ErrorIs(t, err, ErrTimeout, "no card answers REQA")
	assert.Empty(t, resp2.Data)
}

func TestCheckFrame(t *testing.T) {
	t.Parallel()

	device, _ := newSimDevice(t)
	ctrl := device.Controller()
	ctx := context.Background()

	tests := []struct {
		want  error
		name  string
		tx    []byte
		frame Frame
		rxMax int
	}{
		{name: "empty standard", frame: StandardFrame(0), want: ErrInvalidParameter},
		{name: "huge rx", frame: StandardFrame(0), tx: []byte{1}, rxMax: MaxFrameSize + 1, want: ErrCapacityExceeded},
		{name: "huge tx", frame: StandardFrame(0), tx: make([]byte, regs.MaxTxBytes+1), want: ErrCapacityExceeded},
		{name: "anticoll without bits", frame: AnticollFrame(0), tx: []byte{0x93, 0x20}, want: ErrInvalidParameter},
		{name: "anticoll bits beyond data", frame: AnticollFrame(24), tx: []byte{0x93, 0x20}, want: ErrInvalidParameter},
		{name: "unknown kind", frame: Frame{Kind: FrameKind(9)}, tx: []byte{1}, want: ErrInvalidParameter},
	}
	for _, tt := range tests {
		_, err := ctrl.TransceiveFrame(ctx, tt.frame, tt.tx, tt.rxMax)
		require.ErrorIs(t, err, tt.want, tt.name)
	}
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestTransceiveFieldOff(t *testing.T) {
	t.Parallel()

	device, chip := newSimDevice(t)
	require.NoError(t, device.SetField(context.Background(), false))
	assert.False(t, chip.FieldOn())

	_, err := device.Controller().Transceive(context.Background(), []byte{1}, 1, 0)
	require.ErrorIs(t, err, ErrFieldOff)

	require.NoError(t, device.SetField(context.Background(), true))
	assert.True(t, chip.FieldOn())
}

func TestFieldCollision(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.SetExternalField(true)
	device, err := New(NewMockTransport(chip), chip)
	require.NoError(t, err)

	err = device.InitContext(context.Background())
	require.ErrorIs(t, err, ErrFieldCollision)
	assert.False(t, device.Controller().FieldOn())
	assert.False(t, chip.FieldOn())
}

func TestResetRejectsUnknownChip(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{answer: 0x10}
	ctrl := NewController(bus, nil, 0)
	err := ctrl.Reset(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedChip)
	assert.Equal(t, StateErrored, ctrl.LastOutcome())
}

func TestControllerRejectsOverlappingOperations(t *testing.T) {
	t.Parallel()

	chip := testutil.NewChip()
	chip.Loopback()
	blocking := NewBlockingBus(chip)
	device, err := New(NewMockTransport(blocking), chip)
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	ctrl := device.Controller()

	blocking.Block()
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Transceive(context.Background(), []byte{0x42}, 1, 5*time.Millisecond)
		done <- err
	}()
	<-blocking.Started()

	_, err = ctrl.Transceive(context.Background(), []byte{0x43}, 1, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrBusy)
	assert.NotEqual(t, StateIdle, ctrl.State())

	blocking.Unblock()
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestNoResponseTimer(t *testing.T) {
	t.Parallel()

	step, n := noResponseTimer(5 * time.Millisecond)
	assert.Zero(t, step)
	assert.Equal(t, uint16(1060), n)

	step, n = noResponseTimer(time.Second)
	assert.Equal(t, regs.TimerNRTStep, step)
	assert.Equal(t, uint16(3312), n)

	step, n = noResponseTimer(time.Hour)
	assert.Equal(t, regs.TimerNRTStep, step)
	assert.Equal(t, uint16(0xffff), n)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "executing", StateExecuting.String())
	assert.Equal(t, "timed out", StateTimedOut.String())
	assert.Equal(t, "State(99)", State(99).String())
	assert.Equal(t, "anticoll", FrameAnticoll.String())
}
