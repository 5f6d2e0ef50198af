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
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// MaxFrameSize is the largest response length the controller services.
const MaxFrameSize = 4096

const (
	// defaultFWT is the frame waiting time used when a frame carries none.
	defaultFWT = 5 * time.Millisecond
	// fwtMargin lets the chip's no-response timer fire before the host
	// deadline does.
	fwtMargin = 2 * time.Millisecond
	// rxSafetyTimeout bounds the time from receive start to receive end.
	rxSafetyTimeout = 500 * time.Millisecond
	// txBaseTimeout is added to the air time of a frame to bound transmit.
	txBaseTimeout = 20 * time.Millisecond
	// bitDuration is the duration of one bit at 106 kbit/s.
	bitDuration = 9440 * time.Nanosecond

	oscillatorTimeout = 100 * time.Millisecond
	fieldOnTimeout    = 10 * time.Millisecond

	// nrtFineStep and nrtCoarseStep are the no-response timer steps, 64/fc
	// and 4096/fc.
	nrtFineStep   = 4720 * time.Nanosecond
	nrtCoarseStep = 302 * time.Microsecond
)

// frameIRQs are the sources armed while a transceive executes.
const frameIRQs = IRQTxe | IRQRxs | IRQRxe | IRQWL | IRQCol | IRQNre |
	IRQErr1 | IRQErr2 | IRQPar | IRQCRC

// State is the state of the controller's current operation
type State int

const (
	StateIdle State = iota
	StateLoading
	StateExecuting
	StateCompleted
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed out"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FieldConfig configures the analog front end and the RF field
type FieldConfig struct {
	// GuardTime is waited after the field is switched on
	GuardTime time.Duration
	// RxGain is written to receiver configuration register 3
	RxGain byte
	// Modulation is written to the TX driver register (AM modulation depth
	// and driver resistance)
	Modulation byte
	// FieldOn switches the RF field on or off
	FieldOn bool
}

// DefaultFieldConfig returns the configuration used by Device.Init
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		FieldOn:   true,
		GuardTime: 5 * time.Millisecond,
	}
}

// Controller drives the reader IC: it configures the front end and runs one
// transceive at a time through the FIFO and the interrupt waiter.
//
// Thread Safety: a Controller must be driven by one goroutine at a time.
// Overlapping operations fail with ErrBusy. State may be called from any
// goroutine.
type Controller struct {
	t          *RegisterTransport
	irq        *irqWaiter
	state      State
	last       State
	fieldGen   uint32
	recoveries int
	mu         sync.Mutex
	stale      bool
	fieldOn    bool
}

// NewController creates a controller for the chip behind bus. line may be nil,
// in which case the status registers are polled.
func NewController(bus Bus, line InterruptLine, fifoSize int) *Controller {
	t := NewRegisterTransport(bus, fifoSize)
	return &Controller{
		t:   t,
		irq: newIRQWaiter(t, line),
	}
}

// State returns the state of the current operation
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome returns the final state of the last finished operation
func (c *Controller) LastOutcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stale reports whether the last operation ended without observing
// completion, so the next one starts with a recovery.
func (c *Controller) Stale() bool {
	return c.stale
}

// Recoveries returns the number of stale recoveries performed
func (c *Controller) Recoveries() int {
	return c.recoveries
}

// FieldOn reports whether the RF field is on
func (c *Controller) FieldOn() bool {
	return c.fieldOn
}

// FieldGeneration changes every time the field is switched on or off
func (c *Controller) FieldGeneration() uint32 {
	return c.fieldGen
}

// FIFOSize returns the configured FIFO capacity
func (c *Controller) FIFOSize() int {
	return c.t.FIFOSize()
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrBusy, c.state)
	}
	c.state = StateLoading
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controller) finish(outcome State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = outcome
	c.state = StateIdle
}

func outcomeOf(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, ErrTimeout):
		return StateTimedOut
	default:
		return StateErrored
	}
}

// Reset issues the set-default command, verifies the IC identity and starts
// the oscillator. The field is off afterwards.
func (c *Controller) Reset(ctx context.Context) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer func() { c.finish(outcomeOf(err)) }()

	if err := c.t.Command(regs.CmdSetDefault); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.stale = false
	c.switchedOff()

	id, err := c.t.ReadRegister(regs.ICIdentity)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if id>>3 != regs.ICTypeST25R3916 {
		return fmt.Errorf("%w: %#02x", ErrUnexpectedChip, id)
	}
	debugf("IC identity %#02x (revision %d)", id, id&0b111)

	if err := c.irq.disarm(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := c.irq.discard(IRQAll); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := c.enableOscillator(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Configure programs the ISO 14443-A front end and switches the field.
// Switching the field on runs the initial RF collision avoidance and waits
// the guard time; an external field fails with ErrFieldCollision.
func (c *Controller) Configure(ctx context.Context, fc FieldConfig) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer func() { c.finish(outcomeOf(err)) }()

	steps := []struct {
		reg    regs.Register
		values []byte
	}{
		{regs.ModeDef, []byte{regs.ModeISO14443A, 0x00}}, // mode, 106 kbit/s
		{regs.ISO14443AConf, []byte{0x00}},
		{regs.RXConf1, []byte{0x08, 0x2d, fc.RxGain, 0x00}},
		{regs.MaskReceiveTimer, []byte{0x0e}},
		{regs.TXDriver, []byte{fc.Modulation}},
		{regs.CorrConf1, []byte{0x51, 0x00}},
	}
	for _, s := range steps {
		if err := c.t.WriteRegisters(s.reg, s.values...); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}

	if !fc.FieldOn {
		if err := c.t.WriteRegister(regs.OpCtrl, 0); err != nil {
			return fmt.Errorf("configure: field off: %w", err)
		}
		c.switchedOff()
		return nil
	}
	if c.fieldOn {
		return nil
	}
	if err := c.enableOscillator(ctx); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := c.switchOn(ctx, fc.GuardTime); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return nil
}

func (c *Controller) switchedOff() {
	if c.fieldOn {
		c.fieldGen++
	}
	c.fieldOn = false
}

func (c *Controller) enableOscillator(ctx context.Context) error {
	aux, err := c.t.ReadRegister(regs.AuxDisplay)
	if err != nil {
		return err
	}
	if aux&regs.AuxDisplayOscOK != 0 {
		return nil
	}
	if err := c.irq.discard(IRQOsc); err != nil {
		return err
	}
	if err := c.irq.arm(IRQOsc); err != nil {
		return err
	}
	if err := c.t.ModifyRegister(regs.OpCtrl, 0, regs.OpCtrlEn); err != nil {
		return err
	}
	got, err := c.irq.wait(ctx, time.Now().Add(oscillatorTimeout))
	if err != nil {
		return err
	}
	if got == 0 {
		return fmt.Errorf("%w: oscillator not stable", ErrTimeout)
	}
	c.irq.clear(got)
	return nil
}

func (c *Controller) switchOn(ctx context.Context, guard time.Duration) error {
	if err := c.irq.discard(IRQCat | IRQCac); err != nil {
		return err
	}
	if err := c.irq.arm(IRQCat | IRQCac); err != nil {
		return err
	}
	if err := c.t.Command(regs.CmdInitialFieldOn); err != nil {
		return err
	}
	got, err := c.irq.wait(ctx, time.Now().Add(fieldOnTimeout))
	if err != nil {
		return err
	}
	if got == 0 {
		return fmt.Errorf("%w: initial field on", ErrTimeout)
	}
	c.irq.clear(got)
	if got.Has(IRQCac) {
		if err := c.t.WriteRegister(regs.OpCtrl, 0); err != nil {
			return err
		}
		return ErrFieldCollision
	}
	if err := c.t.ModifyRegister(regs.OpCtrl, 0, regs.OpCtrlEn|regs.OpCtrlRxEn|regs.OpCtrlTxEn); err != nil {
		return err
	}
	c.fieldOn = true
	c.fieldGen++

	if guard <= 0 {
		return nil
	}
	timer := time.NewTimer(guard)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transceive sends tx as a standard frame and returns the response without
// its CRC. timeout bounds the wait for the response to start.
func (c *Controller) Transceive(ctx context.Context, tx []byte, rxMax int, timeout time.Duration) ([]byte, error) {
	resp, err := c.TransceiveFrame(ctx, StandardFrame(timeout), tx, rxMax)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// TransceiveFrame transmits tx framed as f and collects at most rxMax
// received bytes. Payloads and responses larger than the FIFO are streamed
// through it on water level interrupts.
func (c *Controller) TransceiveFrame(ctx context.Context, f Frame, tx []byte, rxMax int) (Response, error) {
	if err := c.checkFrame(f, tx, rxMax); err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := c.begin(); err != nil {
		return Response{}, err
	}
	resp, err := c.transceive(ctx, f, tx, rxMax)
	c.finish(outcomeOf(err))
	return resp, err
}

func (c *Controller) checkFrame(f Frame, tx []byte, rxMax int) error {
	if len(tx) > regs.MaxTxBytes {
		return fmt.Errorf("%w: transmit of %d bytes", ErrCapacityExceeded, len(tx))
	}
	if rxMax < 0 || rxMax > MaxFrameSize {
		return fmt.Errorf("%w: receive of %d bytes", ErrCapacityExceeded, rxMax)
	}
	switch f.Kind {
	case FrameStandard:
		if len(tx) == 0 {
			return fmt.Errorf("%w: empty frame", ErrInvalidParameter)
		}
	case FrameAnticoll:
		if f.Bits <= 0 || (f.Bits+7)/8 > len(tx) {
			return fmt.Errorf("%w: anticollision frame of %d bits with %d bytes", ErrInvalidParameter, f.Bits, len(tx))
		}
	case FrameReqA, FrameWupA:
	default:
		return fmt.Errorf("%w: frame kind %s", ErrInvalidParameter, f.Kind)
	}
	if !c.fieldOn {
		return ErrFieldOff
	}
	return nil
}

// exchange tracks one transceive in flight
type exchange struct {
	frame     Frame
	tx        []byte
	pending   []byte
	rx        []byte
	rxMax     int
	txDone    bool
	rxStarted bool
	collision bool
}

func (c *Controller) transceive(ctx context.Context, f Frame, tx []byte, rxMax int) (Response, error) {
	debugf("TX %s: % x", f.Kind, tx)
	if err := c.prepare(); err != nil {
		c.stale = true
		return Response{}, err
	}

	cmd, payload, err := c.program(f, tx)
	if err != nil {
		c.stale = true
		return Response{}, err
	}
	ex := &exchange{frame: f, tx: tx, rxMax: rxMax}
	first := min(len(payload), c.t.FIFOSize())
	if err := c.t.WriteFIFO(payload[:first]); err != nil {
		c.stale = true
		return Response{}, err
	}
	ex.pending = payload[first:]

	if err := c.irq.arm(frameIRQs); err != nil {
		c.stale = true
		return Response{}, err
	}
	c.setState(StateExecuting)
	if err := c.t.Command(cmd); err != nil {
		c.stale = true
		return Response{}, err
	}
	return c.run(ctx, ex)
}

// prepare stops the previous command and forgets its interrupts. After an
// unfinished operation the FIFO is cleared as well.
func (c *Controller) prepare() error {
	if err := c.t.Command(regs.CmdStopAll); err != nil {
		return err
	}
	if c.stale {
		debugln("recovering from unfinished operation")
		if err := c.t.Command(regs.CmdClearFIFO); err != nil {
			return err
		}
		c.recoveries++
	}
	if err := c.irq.discard(IRQAll); err != nil {
		return err
	}
	c.stale = false
	return c.t.Command(regs.CmdResetRXGain)
}

func (c *Controller) program(f Frame, tx []byte) (regs.Command, []byte, error) {
	anticoll := f.Kind == FrameAnticoll

	var cmd regs.Command
	var payload []byte
	switch f.Kind {
	case FrameReqA:
		cmd = regs.CmdTransmitREQA
	case FrameWupA:
		cmd = regs.CmdTransmitWUPA
	case FrameAnticoll:
		payload = tx[:(f.Bits+7)/8]
		cmd = regs.CmdTransmitWithoutCRC
	default:
		payload = tx
		cmd = regs.CmdTransmitWithCRC
	}
	if payload != nil {
		partial := byte(0)
		if anticoll {
			partial = byte(f.Bits % 8)
		}
		hi, lo := regs.EncodeNumTX(len(payload), partial)
		if err := c.t.WriteRegisters(regs.NumTX1, hi, lo); err != nil {
			return 0, nil, err
		}
	}

	corr := regs.CorrConf1Base
	antcl := byte(0)
	rxConf2 := regs.RXConf2SqmDyn | regs.RXConf2AgcM | regs.RXConf2Agc63
	if anticoll {
		antcl = regs.ISO14443AAntcl
	} else {
		corr |= regs.CorrConf1S6
		rxConf2 |= regs.RXConf2AgcEn
	}
	aux := byte(0)
	if f.raw() {
		aux = regs.AuxNoCRCRx
	}

	step, nrt := noResponseTimer(f.fwt())
	writes := []struct {
		reg   regs.Register
		value []byte
	}{
		{regs.CorrConf1, []byte{corr}},
		{regs.ISO14443AConf, []byte{antcl}},
		{regs.AuxDef, []byte{aux}},
		{regs.RXConf2, []byte{rxConf2}},
		{regs.NoResponseTimer1, []byte{byte(nrt >> 8), byte(nrt), step}},
	}
	for _, w := range writes {
		if err := c.t.WriteRegisters(w.reg, w.value...); err != nil {
			return 0, nil, err
		}
	}
	return cmd, payload, nil
}

func (f Frame) fwt() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultFWT
}

// noResponseTimer converts d to the timer step selection and count
func noResponseTimer(d time.Duration) (step byte, count uint16) {
	n := (d + nrtFineStep - 1) / nrtFineStep
	if n <= 0xffff {
		return 0, uint16(n)
	}
	n = (d + nrtCoarseStep - 1) / nrtCoarseStep
	return regs.TimerNRTStep, uint16(min(n, 0xffff))
}

func txDuration(n int) time.Duration {
	return txBaseTimeout + time.Duration(n*9)*bitDuration
}

func (c *Controller) run(ctx context.Context, ex *exchange) (Response, error) {
	deadline := time.Now().Add(txDuration(len(ex.tx)))
	for {
		got, err := c.irq.wait(ctx, deadline)
		if err != nil {
			c.stale = true
			if errors.Is(err, context.DeadlineExceeded) {
				return Response{}, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return Response{}, err
		}
		if got == 0 {
			c.stale = true
			return Response{}, ErrTimeout
		}
		c.irq.clear(got)

		if err := frameError(got, ex.frame); err != nil {
			c.discardFIFO(got.Has(IRQRxe))
			return Response{}, err
		}
		if got.Has(IRQTxe) {
			ex.txDone = true
			deadline = time.Now().Add(ex.frame.fwt() + fwtMargin)
		}
		if got.Has(IRQRxs) {
			ex.rxStarted = true
			deadline = time.Now().Add(rxSafetyTimeout)
		}
		if got.Has(IRQNre) && !ex.rxStarted {
			return Response{}, ErrTimeout
		}
		if got.Has(IRQWL) {
			switch {
			case !ex.txDone:
				err = c.refill(ex)
			case ex.rxStarted:
				err = c.drain(ex)
			}
			if err != nil {
				c.stale = true
				return Response{}, err
			}
		}
		if got.Has(IRQCol) {
			ex.collision = true
		}
		if got.Has(IRQRxe) {
			return c.complete(ex)
		}
	}
}

// frameError maps the error interrupts of a frame. Collisions are an error
// only for standard frames.
func frameError(got IRQ, f Frame) error {
	switch {
	case got.Has(IRQErr1):
		return ErrFraming
	case got.Has(IRQErr2):
		return fmt.Errorf("%w: soft framing error", ErrFraming)
	case got.Has(IRQPar):
		return ErrParity
	case got.Has(IRQCRC):
		return ErrCRC
	case got.Has(IRQCol) && f.Kind == FrameStandard:
		return ErrCollision
	}
	return nil
}

// discardFIFO drops received bytes after a failed frame. Without a receive
// end the chip may still be receiving, so the next operation recovers.
func (c *Controller) discardFIFO(received bool) {
	if !received {
		c.stale = true
		return
	}
	if err := c.t.Command(regs.CmdClearFIFO); err != nil {
		c.stale = true
	}
}

func (c *Controller) fifoStatus() (count int, status2 byte, err error) {
	var st [2]byte
	if err := c.t.ReadRegisters(regs.FIFOStatus1, st[:]); err != nil {
		return 0, 0, err
	}
	return regs.FIFOCount(st[0], st[1]), st[1], nil
}

func (c *Controller) refill(ex *exchange) error {
	if len(ex.pending) == 0 {
		return nil
	}
	inFIFO, _, err := c.fifoStatus()
	if err != nil {
		return err
	}
	n := min(len(ex.pending), c.t.FIFOSize()-inFIFO)
	if n <= 0 {
		return nil
	}
	if err := c.t.WriteFIFO(ex.pending[:n]); err != nil {
		return err
	}
	ex.pending = ex.pending[n:]
	return nil
}

func (c *Controller) drain(ex *exchange) error {
	n, _, err := c.fifoStatus()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	data, err := c.t.ReadFIFO(n)
	if err != nil {
		return err
	}
	ex.rx = append(ex.rx, data...)
	if len(ex.rx) > MaxFrameSize+2 {
		return ErrResponseTooLong
	}
	return nil
}

func (c *Controller) complete(ex *exchange) (Response, error) {
	n, status2, err := c.fifoStatus()
	if err != nil {
		c.stale = true
		return Response{}, err
	}
	var fifoErr error
	switch {
	case status2&regs.FIFOStatusOverflow != 0:
		fifoErr = ErrFIFOOverflow
	case status2&regs.FIFOStatusUnderflw != 0:
		fifoErr = ErrFIFOUnderflow
	case status2&regs.FIFOStatusNpLb != 0:
		fifoErr = ErrMissingParity
	}
	if fifoErr != nil {
		c.discardFIFO(true)
		return Response{}, fifoErr
	}
	if n > 0 {
		data, err := c.t.ReadFIFO(n)
		if err != nil {
			c.stale = true
			return Response{}, err
		}
		ex.rx = append(ex.rx, data...)
	}

	switch ex.frame.Kind {
	case FrameAnticoll:
		return c.anticollResponse(ex)
	case FrameStandard:
		if len(ex.rx) < 2 {
			return Response{}, ErrResponseTooShort
		}
		ex.rx = ex.rx[:len(ex.rx)-2]
	}
	if len(ex.rx) > ex.rxMax {
		return Response{}, fmt.Errorf("%w: %d bytes, limit %d", ErrResponseTooLong, len(ex.rx), ex.rxMax)
	}
	debugf("RX: % x", ex.rx)
	return Response{Data: ex.rx, Bits: len(ex.rx) * 8}, nil
}

// anticollResponse merges the transmitted prefix with the received bits.
// The chip aligns the first received byte to the split position, so a
// partial transmitted byte is ORed into it.
func (c *Controller) anticollResponse(ex *exchange) (Response, error) {
	if len(ex.rx) > ex.rxMax {
		return Response{}, fmt.Errorf("%w: %d bytes, limit %d", ErrResponseTooLong, len(ex.rx), ex.rxMax)
	}
	bits := ex.frame.Bits
	full := bits / 8
	data := make([]byte, full+len(ex.rx))
	copy(data, ex.tx[:full])
	copy(data[full:], ex.rx)
	if bits%8 != 0 && len(ex.rx) > 0 {
		data[full] |= ex.tx[full] & (1<<(bits%8) - 1)
	}

	valid := len(data) * 8
	if ex.collision {
		coll, err := c.t.ReadRegister(regs.CollisionStatus)
		if err != nil {
			c.stale = true
			return Response{}, err
		}
		valid = regs.DecodeCollision(coll)
	}
	debugf("RX: % x bits: %d", data, valid)
	return Response{Data: data, Bits: valid}, nil
}
