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

// Package gpioirq delivers the IRQ output of the ST25R39xx from a GPIO pin
package gpioirq

import (
	"errors"
	"fmt"
	"sync"
	"time"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgeTimeout bounds each WaitForEdge so that Close is noticed
const edgeTimeout = 50 * time.Millisecond

// ErrPinNotFound is returned when the named pin does not exist
var ErrPinNotFound = errors.New("gpio pin not found")

// Line watches the rising edges of the IRQ pin. The pin is active high and
// stays high until the interrupt status is read.
type Line struct {
	pin   gpio.PinIn
	edges chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// Open configures the pin called name as the IRQ input
func Open(name string) (*Line, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return NewLine(pin)
}

// NewLine starts watching pin
func NewLine(pin gpio.PinIn) (*Line, error) {
	if err := pin.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("failed to configure IRQ pin %s: %w", pin, err)
	}
	l := &Line{
		pin:   pin,
		edges: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.watch()
	return l, nil
}

// Edges returns the edge channel. At most one edge is buffered.
func (l *Line) Edges() <-chan struct{} {
	return l.edges
}

func (l *Line) watch() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		default:
		}
		// A level that stayed high is reported as well, an edge may
		// have been missed while the status was pending.
		if l.pin.WaitForEdge(edgeTimeout) || l.pin.Read() == gpio.High {
			l.signal()
		}
	}
}

func (l *Line) signal() {
	select {
	case l.edges <- struct{}{}:
	default:
	}
}

// Close stops the watcher and releases the pin
func (l *Line) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.pin.Halt()
		l.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to halt IRQ pin: %w", err)
	}
	return nil
}

var _ st25r39.InterruptLine = (*Line)(nil)
