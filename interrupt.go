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
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// IRQ is a set of interrupt sources laid out as main | timer<<8 | error<<16 |
// passive<<24.
type IRQ uint32

// Interrupt sources
const (
	IRQCol  = IRQ(regs.IntrCol)
	IRQTxe  = IRQ(regs.IntrTxe)
	IRQRxe  = IRQ(regs.IntrRxe)
	IRQRxs  = IRQ(regs.IntrRxs)
	IRQWL   = IRQ(regs.IntrWL)
	IRQOsc  = IRQ(regs.IntrOsc)
	IRQCat  = IRQ(regs.IntrCat)
	IRQCac  = IRQ(regs.IntrCac)
	IRQNre  = IRQ(regs.IntrNre)
	IRQErr1 = IRQ(regs.IntrErr1)
	IRQErr2 = IRQ(regs.IntrErr2)
	IRQPar  = IRQ(regs.IntrPar)
	IRQCRC  = IRQ(regs.IntrCRC)
	IRQAll  = IRQ(regs.IntrAll)
)

var irqNames = []struct {
	name string
	bit  IRQ
}{
	{"col", IRQCol}, {"txe", IRQTxe}, {"rxe", IRQRxe}, {"rxs", IRQRxs},
	{"wl", IRQWL}, {"osc", IRQOsc}, {"cat", IRQCat}, {"cac", IRQCac},
	{"nre", IRQNre}, {"err1", IRQErr1}, {"err2", IRQErr2}, {"par", IRQPar},
	{"crc", IRQCRC},
}

// Has reports whether any of bits is set
func (i IRQ) Has(bits IRQ) bool {
	return i&bits != 0
}

// String lists the names of the set sources
func (i IRQ) String() string {
	if i == 0 {
		return "none"
	}
	var names []string
	rest := i
	for _, n := range irqNames {
		if i&n.bit != 0 {
			names = append(names, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("%#08x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// InterruptLine delivers edges of the chip's IRQ output. The channel should
// be buffered with capacity one and written without blocking, so that an
// edge arriving while nobody waits is kept as a single token.
type InterruptLine interface {
	Edges() <-chan struct{}
}

// pollInterval is used to sample the status registers when no interrupt
// line is wired.
const pollInterval = time.Millisecond

// irqWaiter bridges the chip's interrupt status registers to blocking waits.
// Status registers clear on read, so every read is folded into pending and
// bits leave pending only through clear.
type irqWaiter struct {
	t       *RegisterTransport
	line    InterruptLine
	pending IRQ
	armed   IRQ
}

func newIRQWaiter(t *RegisterTransport, line InterruptLine) *irqWaiter {
	return &irqWaiter{t: t, line: line}
}

// arm enables mask as wakeup sources. The mask registers are inverted: a set
// bit disables the source.
func (w *irqWaiter) arm(mask IRQ) error {
	if err := w.t.WriteRegisters(regs.MaskMainIntr,
		^byte(mask), ^byte(mask>>8), ^byte(mask>>16), ^byte(mask>>24)); err != nil {
		return err
	}
	w.armed = mask
	return nil
}

// disarm masks every source
func (w *irqWaiter) disarm() error {
	w.armed = 0
	return w.t.WriteRegisters(regs.MaskMainIntr, 0xff, 0xff, 0xff, 0xff)
}

// poll folds the status registers into pending
func (w *irqWaiter) poll() error {
	var status [4]byte
	if err := w.t.ReadRegisters(regs.MainIntr, status[:]); err != nil {
		return err
	}
	w.pending |= IRQ(status[0]) | IRQ(status[1])<<8 | IRQ(status[2])<<16 | IRQ(status[3])<<24
	return nil
}

// clear removes bits from the pending set
func (w *irqWaiter) clear(bits IRQ) {
	w.pending &^= bits
}

// discard reads the status registers and drops bits from pending, used to
// forget events latched by an earlier operation.
func (w *irqWaiter) discard(bits IRQ) error {
	if err := w.poll(); err != nil {
		return err
	}
	w.clear(bits)
	return nil
}

// wait blocks until an armed source is pending, the deadline passes or ctx is
// done. Sources that fired between arm and wait are returned at once. An
// expired deadline returns 0 and no error. On cancellation the sources are
// disarmed and a pending edge token is drained.
func (w *irqWaiter) wait(ctx context.Context, deadline time.Time) (IRQ, error) {
	if err := w.poll(); err != nil {
		return 0, err
	}
	if got := w.pending & w.armed; got != 0 {
		return got, nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var edges <-chan struct{}
	var tick <-chan time.Time
	if w.line != nil {
		edges = w.line.Edges()
	} else {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.abandon()
			return 0, ctx.Err()
		case <-timer.C:
			return 0, nil
		case <-edges:
		case <-tick:
		}
		if err := w.poll(); err != nil {
			return 0, err
		}
		if got := w.pending & w.armed; got != 0 {
			return got, nil
		}
	}
}

func (w *irqWaiter) abandon() {
	if err := w.disarm(); err != nil {
		debugf("disarm after cancellation failed: %v", err)
	}
	if w.line == nil {
		return
	}
	select {
	case <-w.line.Edges():
	default:
	}
}
