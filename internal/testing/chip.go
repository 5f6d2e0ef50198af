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

// Package testing provides an in memory ST25R3916 simulator with virtual
// type A cards. The simulator implements the register bus and the IRQ line
// and reacts synchronously to every transfer.
package testing

import (
	"errors"
	"slices"
	"sync"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// ICIdentity is the identity register value reported by the simulator
const ICIdentity = 0x2A

// DefaultFIFOSize is the FIFO capacity of the simulated chip
const DefaultFIFOSize = 512

// ErrClosed is returned by Tx after Close
var ErrClosed = errors.New("simulator closed")

// Fault alters the answer to the next frame that Match accepts. Faults are
// one-shot.
type Fault struct {
	// Match selects the frame, received without CRC
	Match func(frame []byte) bool
	// IRQ is raised together with the receive end
	IRQ uint32
	// FIFOFlags are reported in FIFO status 2 after the frame
	FIFOFlags byte
	// Stall delivers only the first byte of the answer and never raises
	// the receive end
	Stall bool
}

// Counters are bus level statistics of the simulator
type Counters struct {
	Transactions int
	FIFOLoads    int
	FIFOReads    int
	FIFOClears   int
	Commands     []byte
}

// Chip is the simulated reader IC
type Chip struct {
	edges     chan struct{}
	responder func(frame []byte) ([]byte, bool)
	tags      []*VirtualTag
	faults    []Fault
	fifo      []byte
	counters  Counters
	tx        txState
	rx        rxState
	fifoSize  int
	regsA     [64]byte
	regsB     [64]byte
	status    [4]byte
	mu        sync.Mutex
	fifoFlags byte
	extField  bool
	silent    bool
	closed    bool
}

// NewChip creates a simulator with the default FIFO size
func NewChip(tags ...*VirtualTag) *Chip {
	return NewChipWithFIFO(DefaultFIFOSize, tags...)
}

// NewChipWithFIFO creates a simulator with a custom FIFO capacity
func NewChipWithFIFO(fifoSize int, tags ...*VirtualTag) *Chip {
	c := &Chip{
		edges:    make(chan struct{}, 1),
		fifoSize: fifoSize,
		tags:     tags,
	}
	c.setDefault()
	return c
}

// Edges implements the IRQ line
func (c *Chip) Edges() <-chan struct{} {
	return c.edges
}

// Close makes later transfers fail
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// AddTag places a tag in the field
func (c *Chip) AddTag(tag *VirtualTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tag)
}

// RemoveTag takes a tag out of the field
func (c *Chip) RemoveTag(tag *VirtualTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag.Remove()
}

// InsertTag puts a removed tag back into the field
func (c *Chip) InsertTag(tag *VirtualTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag.Insert()
}

// SetExternalField simulates another reader's field, which makes the
// initial field on collide
func (c *Chip) SetExternalField(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extField = on
}

// SetSilent suppresses the no-response timer interrupt, so an absent card
// is only noticed by the host's own deadline
func (c *Chip) SetSilent(silent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.silent = silent
}

// SetResponder answers every standard frame with fn instead of the cards
func (c *Chip) SetResponder(fn func(frame []byte) ([]byte, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = fn
}

// Loopback makes the chip echo every standard frame
func (c *Chip) Loopback() {
	c.SetResponder(func(frame []byte) ([]byte, bool) {
		return slices.Clone(frame), true
	})
}

// InjectFault queues a one-shot fault
func (c *Chip) InjectFault(f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, f)
}

// Counters returns a copy of the statistics
func (c *Chip) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counters
	out.Commands = slices.Clone(c.counters.Commands)
	return out
}

// ResetCounters zeroes the statistics
func (c *Chip) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = Counters{}
}

// FIFOLen returns the number of bytes held in the FIFO
func (c *Chip) FIFOLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fifo)
}

// Peek returns a register value without the side effects of a bus read
func (c *Chip) Peek(reg regs.Register) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg(reg)
}

// FieldOn reports whether the transmitter is enabled
func (c *Chip) FieldOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldOn()
}

// Tx implements the register bus. The first byte selects the operation:
// register write, register read, FIFO load, FIFO read or direct command,
// with an optional space-B prefix.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if len(w) == 0 {
		return errors.New("empty transfer")
	}
	c.counters.Transactions++

	spaceB := false
	if w[0] == regs.SpaceBAccess && len(w) > 1 {
		spaceB = true
		w = w[1:]
	}
	op := w[0]
	switch {
	case op == regs.LoadFIFO:
		c.loadFIFO(w[1:])
	case op == regs.ReadFIFO:
		c.readFIFO(r)
	case op&0xc0 == regs.ModeWriteReg:
		for i, v := range w[1:] {
			c.writeReg(c.register(op&0x3f+byte(i), spaceB), v)
		}
	case op&0xc0 == regs.ModeReadReg:
		for i := range r {
			r[i] = c.readReg(c.register(op&0x3f+byte(i), spaceB))
		}
	case op&0xc0 == regs.ModeCommand:
		c.command(regs.Command(op))
	default:
		return errors.New("unsupported FIFO operation")
	}
	return nil
}

func (*Chip) register(addr byte, spaceB bool) regs.Register {
	if spaceB {
		return regs.SpaceB | regs.Register(addr)
	}
	return regs.Register(addr)
}

func (c *Chip) reg(reg regs.Register) byte {
	if reg.IsSpaceB() {
		return c.regsB[reg.Addr()]
	}
	switch {
	case reg >= regs.MainIntr && reg <= regs.PassiveIntr:
		return c.status[reg-regs.MainIntr]
	case reg == regs.FIFOStatus1:
		return byte(len(c.fifo))
	case reg == regs.FIFOStatus2:
		return byte(len(c.fifo)>>8)<<6&regs.FIFOStatusCountHi | c.fifoFlags
	}
	return c.regsA[reg.Addr()]
}

func (c *Chip) readReg(reg regs.Register) byte {
	v := c.reg(reg)
	if !reg.IsSpaceB() && reg >= regs.MainIntr && reg <= regs.PassiveIntr {
		c.status[reg-regs.MainIntr] = 0
	}
	return v
}

func (c *Chip) writeReg(reg regs.Register, v byte) {
	if regs.AccessOf(reg) == regs.ReadOnly {
		return
	}
	if reg.IsSpaceB() {
		c.regsB[reg.Addr()] = v
		return
	}
	prev := c.regsA[reg.Addr()]
	c.regsA[reg.Addr()] = v
	if reg != regs.OpCtrl {
		return
	}
	if v&regs.OpCtrlEn != 0 && c.regsA[regs.AuxDisplay]&regs.AuxDisplayOscOK == 0 {
		c.regsA[regs.AuxDisplay] |= regs.AuxDisplayOscOK
		c.raise(regs.IntrOsc)
	}
	if v&regs.OpCtrlEn == 0 {
		c.regsA[regs.AuxDisplay] &^= regs.AuxDisplayOscOK
	}
	if prev&regs.OpCtrlTxEn != 0 && v&regs.OpCtrlTxEn == 0 {
		c.fieldLost()
	}
}

func (c *Chip) fieldOn() bool {
	return c.regsA[regs.OpCtrl]&regs.OpCtrlTxEn != 0
}

// fieldLost powers every tag down
func (c *Chip) fieldLost() {
	for _, tag := range c.tags {
		tag.state = TagIdle
	}
}

// raise latches bits in the status registers and signals the IRQ line when
// an unmasked bit is set
func (c *Chip) raise(bits uint32) {
	for i := range c.status {
		c.status[i] |= byte(bits >> (8 * i))
	}
	mask := uint32(c.regsA[regs.MaskMainIntr]) | uint32(c.regsA[regs.MaskTimerNFCIntr])<<8 |
		uint32(c.regsA[regs.MaskErrorIntr])<<16 | uint32(c.regsA[regs.MaskPassiveIntr])<<24
	if bits&^mask == 0 {
		return
	}
	select {
	case c.edges <- struct{}{}:
	default:
	}
}

func (c *Chip) setDefault() {
	c.regsA = [64]byte{}
	c.regsB = [64]byte{}
	c.regsA[regs.ICIdentity] = ICIdentity
	c.status = [4]byte{}
	c.fifo = nil
	c.fifoFlags = 0
	c.tx = txState{}
	c.rx = rxState{}
	c.fieldLost()
}

func (c *Chip) command(cmd regs.Command) {
	c.counters.Commands = append(c.counters.Commands, byte(cmd))
	switch cmd {
	case regs.CmdSetDefault:
		c.setDefault()
	case regs.CmdStopAll:
		c.tx = txState{}
		c.rx = rxState{}
	case regs.CmdClearFIFO:
		c.fifo = nil
		c.fifoFlags = 0
		c.counters.FIFOClears++
	case regs.CmdInitialFieldOn:
		if c.extField {
			c.raise(regs.IntrCac)
			return
		}
		c.regsA[regs.OpCtrl] |= regs.OpCtrlTxEn
		c.raise(regs.IntrCat)
	case regs.CmdTransmitREQA, regs.CmdTransmitWUPA,
		regs.CmdTransmitWithCRC, regs.CmdTransmitWithoutCRC:
		c.startTransmit(cmd)
	}
}

func (c *Chip) loadFIFO(data []byte) {
	c.counters.FIFOLoads++
	c.fifo = append(c.fifo, data...)
	if len(c.fifo) > c.fifoSize {
		c.fifo = c.fifo[:c.fifoSize]
		c.fifoFlags |= regs.FIFOStatusOverflow
	}
	if c.tx.active {
		c.consumeTX()
	}
}

func (c *Chip) readFIFO(r []byte) {
	c.counters.FIFOReads++
	n := copy(r, c.fifo)
	c.fifo = c.fifo[n:]
	if n < len(r) {
		clear(r[n:])
		c.fifoFlags |= regs.FIFOStatusUnderflw
	}
	if len(c.fifo) == 0 && c.rx.active {
		c.pushRX()
	}
}
