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
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
)

// haltTimeout is how long a halted card is given to (not) answer.
const haltTimeout = time.Millisecond

// Framer adds and removes protocol framing around exchanged payloads.
type Framer interface {
	// Encode wraps an outgoing payload
	Encode(payload []byte) ([]byte, error)
	// Decode unwraps an incoming frame
	Decode(frame []byte) ([]byte, error)
}

// Session performs card I/O on cards selected by a Poller
type Session struct {
	ctrl   *Controller
	poller *Poller
}

// NewSession creates a session on the cards selected by poller
func NewSession(poller *Poller) *Session {
	return &Session{ctrl: poller.ctrl, poller: poller}
}

// SetFramer installs framer for the selection behind h. A nil framer sends
// payloads unchanged.
func (s *Session) SetFramer(h CardHandle, framer Framer) error {
	slot, err := s.poller.cards.slot(h, s.ctrl.FieldGeneration())
	if err != nil {
		return err
	}
	slot.framer = framer
	return nil
}

// FrameWaitingTime returns the frame waiting time announced by the card
// behind h, or zero when the card announced none
func (s *Session) FrameWaitingTime(h CardHandle) time.Duration {
	slot, err := s.poller.cards.slot(h, s.ctrl.FieldGeneration())
	if err != nil {
		return 0
	}
	return slot.fwt
}

// Exchange sends payload to the card behind h and returns its answer.
// timeout bounds the wait for the answer to start. A zero timeout selects the
// card's frame waiting time.
func (s *Session) Exchange(ctx context.Context, h CardHandle, payload []byte, timeout time.Duration) ([]byte, error) {
	slot, err := s.poller.cards.slot(h, s.ctrl.FieldGeneration())
	if err != nil {
		return nil, err
	}
	framer := slot.framer
	if timeout <= 0 {
		timeout = slot.fwt
	}

	frame := payload
	if framer != nil {
		if frame, err = framer.Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
	}
	resp, err := s.ctrl.Transceive(ctx, frame, MaxFrameSize, timeout)
	if err != nil {
		return nil, err
	}
	if framer != nil {
		if resp, err = framer.Decode(resp); err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
	}
	return resp, nil
}

// Halt invalidates h and sends HLTA. The handle is invalid afterwards even if
// sending fails. A card must not answer HLTA, so a timeout is success and
// any answer, garbled or not, is ErrHaltRejected.
func (s *Session) Halt(ctx context.Context, h CardHandle) error {
	if _, err := s.poller.cards.slot(h, s.ctrl.FieldGeneration()); err != nil {
		return err
	}
	s.poller.cards.invalidate(h)
	s.poller.setState(PollerIdle)

	resp, err := s.ctrl.Transceive(ctx, []byte{iso14443.HltA, 0x00}, MaxFrameSize, haltTimeout)
	switch {
	case IsNoResponse(err):
		return nil
	case GetErrorType(err) == ErrorTypeRF, errors.Is(err, ErrResponseTooLong):
		return fmt.Errorf("%w: %w", ErrHaltRejected, err)
	case err != nil:
		return fmt.Errorf("halt: %w", err)
	default:
		return fmt.Errorf("%w: % x", ErrHaltRejected, resp)
	}
}
