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
	"errors"
	"io"
	"sync"
	"time"
)

// ErrMockClosed is returned by the mock buses after Close
var ErrMockClosed = errors.New("mock bus closed")

// MockTransport turns any Bus, such as the chip simulator, into a Transport.
// Close is forwarded when the bus implements io.Closer.
type MockTransport struct {
	Bus
	mu     sync.Mutex
	closed bool
}

// NewMockTransport wraps bus
func NewMockTransport(bus Bus) *MockTransport {
	return &MockTransport{Bus: bus}
}

// Tx forwards to the wrapped bus until the transport is closed
func (m *MockTransport) Tx(w, r []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMockClosed
	}
	return m.Bus.Tx(w, r)
}

// Close marks the transport closed
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if c, ok := m.Bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// BlockingBus is a bus whose transfers block on demand. It is used for
// testing overlapping operations and context cancellation.
type BlockingBus struct {
	next      Bus
	blockChan chan struct{}
	started   chan struct{}
	timeout   time.Duration
	mu        sync.Mutex
	blocking  bool
	closed    bool
}

// NewBlockingBus creates a blocking bus that forwards to next once released.
// A nil next answers every read with zeros.
func NewBlockingBus(next Bus) *BlockingBus {
	return &BlockingBus{
		next:      next,
		blockChan: make(chan struct{}),
		started:   make(chan struct{}, 1),
		timeout:   5 * time.Second,
	}
}

// Block makes later transfers wait for Unblock
func (m *BlockingBus) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocking = true
}

// Started delivers a token whenever a transfer starts blocking
func (m *BlockingBus) Started() <-chan struct{} {
	return m.started
}

// Tx blocks while blocking is on, until Unblock, the timeout or Close
func (m *BlockingBus) Tx(w, r []byte) error {
	m.mu.Lock()
	blockChan := m.blockChan
	blocking := m.blocking
	closed := m.closed
	timeout := m.timeout
	m.mu.Unlock()

	if closed {
		return ErrMockClosed
	}
	if blocking {
		select {
		case m.started <- struct{}{}:
		default:
		}
		select {
		case <-blockChan:
		case <-time.After(timeout):
			return NewTransportError("Tx", "mock", ErrTimeout)
		}
	}

	m.mu.Lock()
	closed = m.closed
	m.mu.Unlock()
	if closed {
		return ErrMockClosed
	}
	if m.next != nil {
		return m.next.Tx(w, r)
	}
	clear(r)
	return nil
}

// Unblock releases the blocked transfers and stops blocking
func (m *BlockingBus) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.blocking = false
		close(m.blockChan)
		m.blockChan = make(chan struct{})
	}
}

// SetTimeout configures how long a transfer blocks at most
func (m *BlockingBus) SetTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
}

// Close unblocks all transfers and marks the bus closed
func (m *BlockingBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.blockChan)
	}
	return nil
}
