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

// Package polling watches a reader continuously and reports cards as they
// arrive, change and leave the field.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25r39"
	"github.com/puzpuzpuz/xsync/v3"
)

// Event describes a card seen in one polling cycle. Handle is valid only
// while the detection callback runs.
type Event struct {
	DetectedAt time.Time
	Card       st25r39.Card
	Handle     st25r39.CardHandle
}

// SeenCard summarizes every sighting of one UID
type SeenCard struct {
	FirstSeen time.Time
	LastSeen  time.Time
	UID       string
	Card      st25r39.Card
	Sightings int64
}

// Metrics are operational counters of a Monitor
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of failed polling cycles
	CardsDetected   int64         // Number of arrivals and changes
	CardsRemoved    int64         // Number of removals
	CallbackErrors  int64         // Number of callback errors
	LastPollLatency time.Duration // Duration of last polling cycle
}

// Monitor polls a device in a loop and tracks the card in its field.
//
// The detection callbacks run on the polling goroutine and may use the
// device through the event's handle. OnCardRemoved runs on a timer goroutine
// and must not touch the device.
type Monitor struct {
	device         *st25r39.Device
	config         *Config
	OnCardDetected func(ctx context.Context, ev Event) error
	OnCardChanged  func(ctx context.Context, ev Event) error
	OnCardRemoved  func(last Event)
	seen           *xsync.MapOf[string, SeenCard]
	current        Event
	state          CardState
	pollCycles     atomic.Int64
	pollErrors     atomic.Int64
	cardsDetected  atomic.Int64
	cardsRemoved   atomic.Int64
	callbackErrors atomic.Int64
	lastLatency    atomic.Int64
	mu             sync.Mutex
	removalGen     uint64
	running        atomic.Bool
}

// ErrMonitorRunning is returned by Start on a monitor that already runs
var ErrMonitorRunning = errors.New("monitor already running")

// NewMonitor creates a new card monitor
func NewMonitor(device *st25r39.Device, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Monitor{
		device: device,
		config: config,
		seen:   xsync.NewMapOf[string, SeenCard](),
	}
}

// Start polls until ctx is done and returns ctx's error. It switches the
// device to WUPA polling, since every detected card is halted at the end of
// its cycle.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("invalid monitor config: %w", err)
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer m.running.Store(false)

	pc := m.device.GetPollConfig()
	if !pc.Wakeup {
		pc.Wakeup = true
		if err := m.device.SetPollConfig(pc); err != nil {
			return fmt.Errorf("failed to enable wakeup polling: %w", err)
		}
	}
	return m.continuousPolling(ctx)
}

// GetState returns a copy of the current card state
func (m *Monitor) GetState() CardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the card in the field, if any
func (m *Monitor) Current() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.state.Present
}

// GetDevice returns the underlying device
func (m *Monitor) GetDevice() *st25r39.Device {
	return m.device
}

// Seen returns the sightings of uid. It is safe to call from any goroutine.
func (m *Monitor) Seen(uid string) (SeenCard, bool) {
	return m.seen.Load(uid)
}

// SeenCards returns every card seen so far, most recent first
func (m *Monitor) SeenCards() []SeenCard {
	cards := make([]SeenCard, 0, m.seen.Size())
	m.seen.Range(func(_ string, c SeenCard) bool {
		cards = append(cards, c)
		return true
	})
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].LastSeen.After(cards[j].LastSeen)
	})
	return cards
}

// GetMetrics returns current operational metrics
func (m *Monitor) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      m.pollCycles.Load(),
		PollErrors:      m.pollErrors.Load(),
		CardsDetected:   m.cardsDetected.Load(),
		CardsRemoved:    m.cardsRemoved.Load(),
		CallbackErrors:  m.callbackErrors.Load(),
		LastPollLatency: time.Duration(m.lastLatency.Load()),
	}
}

// Close stops the removal timer and closes the device
func (m *Monitor) Close() error {
	m.mu.Lock()
	safeTimerStop(m.state.RemovalTimer)
	m.state.RemovalTimer = nil
	m.removalGen++
	m.mu.Unlock()

	if err := m.device.Close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}

func (m *Monitor) continuousPolling(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := m.PollOnce(ctx); err != nil && !errors.Is(err, ErrNoTagInPoll) {
			m.handlePollingError(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.PollInterval):
		}
	}
}

// PollOnce runs a single polling cycle. It returns ErrNoTagInPoll when the
// field is empty. A detected card is halted before PollOnce returns.
func (m *Monitor) PollOnce(ctx context.Context) (*Event, error) {
	ev, err := m.performSinglePoll(ctx)
	if err != nil {
		return nil, err
	}
	m.processPollingResults(ctx, *ev)
	if err := m.device.Release(ctx, ev.Handle); err != nil && !errors.Is(err, st25r39.ErrStaleHandle) {
		m.pollErrors.Add(1)
		return ev, fmt.Errorf("failed to halt card: %w", err)
	}
	return ev, nil
}

func (m *Monitor) performSinglePoll(ctx context.Context) (*Event, error) {
	pollCtx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	defer cancel()

	start := time.Now()
	h, err := m.device.PollForCard(pollCtx)
	m.pollCycles.Add(1)
	m.lastLatency.Store(int64(time.Since(start)))
	if err != nil {
		m.pollErrors.Add(1)
		return nil, fmt.Errorf("tag detection failed: %w", err)
	}
	if h == nil {
		return nil, ErrNoTagInPoll
	}
	card, err := m.device.Card(*h)
	if err != nil {
		m.pollErrors.Add(1)
		return nil, fmt.Errorf("tag detection failed: %w", err)
	}
	return &Event{Card: card, Handle: *h, DetectedAt: start}, nil
}

// handlePollingError reports the card as removed on device failures. RF
// errors only mean that this cycle was garbled.
func (m *Monitor) handlePollingError(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if st25r39.GetErrorType(err) != st25r39.ErrorTypeTransport {
		return
	}
	m.mu.Lock()
	gen := m.removalGen
	m.mu.Unlock()
	m.handleCardRemoval(gen)
}

// handleCardRemoval reports the current card as gone unless a newer
// sighting superseded the timer that called it
func (m *Monitor) handleCardRemoval(gen uint64) {
	m.mu.Lock()
	if gen != m.removalGen || !m.state.Present || !m.state.CanStartRemovalTimer() {
		m.mu.Unlock()
		return
	}
	last := m.current
	m.current = Event{}
	m.state.TransitionToIdle()
	m.removalGen++
	m.mu.Unlock()

	m.cardsRemoved.Add(1)
	if m.OnCardRemoved != nil {
		m.OnCardRemoved(last)
	}
}

func (m *Monitor) armRemoval(grace bool) {
	m.removalGen++
	gen := m.removalGen
	callback := func() { m.handleCardRemoval(gen) }
	if grace {
		m.state.TransitionToPostReadGrace(m.config.CardRemovalTimeout, callback)
	} else {
		m.state.TransitionToDetected(m.config.CardRemovalTimeout, callback)
	}
}

type cardChange int

const (
	cardSame cardChange = iota
	cardArrived
	cardSwapped
)

func (m *Monitor) processPollingResults(ctx context.Context, ev Event) {
	m.record(ev)

	m.mu.Lock()
	change := m.updateCardState(ev)
	if change == cardSame && !m.shouldTestCard(ev.Card.UIDString()) {
		m.armRemoval(false)
		m.mu.Unlock()
		return
	}
	m.state.TransitionToReading()
	m.removalGen++
	m.state.TestedUID = ev.Card.UIDString()
	m.mu.Unlock()

	m.cardsDetected.Add(1)
	callback := m.OnCardDetected
	if change == cardSwapped && m.OnCardChanged != nil {
		callback = m.OnCardChanged
	}
	if callback != nil {
		if err := callback(ctx, ev); err != nil {
			m.callbackErrors.Add(1)
		}
	}

	m.mu.Lock()
	m.armRemoval(true)
	m.mu.Unlock()
}

// updateCardState records ev as the current card. m.mu must be held.
func (m *Monitor) updateCardState(ev Event) cardChange {
	uid := ev.Card.UIDString()
	change := cardSame
	switch {
	case !m.state.Present:
		change = cardArrived
	case m.state.LastUID != uid:
		change = cardSwapped
	}
	if change != cardSame {
		m.state.Present = true
		m.state.LastUID = uid
		m.state.LastSAK = ev.Card.SAK
		m.state.TestedUID = ""
	}
	m.current = ev
	return change
}

func (m *Monitor) shouldTestCard(uid string) bool {
	return m.state.TestedUID != uid
}

func (m *Monitor) record(ev Event) {
	uid := ev.Card.UIDString()
	m.seen.Compute(uid, func(old SeenCard, loaded bool) (SeenCard, bool) {
		if !loaded {
			old = SeenCard{UID: uid, FirstSeen: ev.DetectedAt}
		}
		old.Card = ev.Card
		old.LastSeen = ev.DetectedAt
		old.Sightings++
		return old, false
	})
}
