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

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
	"github.com/ZaparooProject/go-st25r39/internal/retry"
)

// PollerState is the state of the type A discovery state machine
type PollerState int

const (
	PollerIdle PollerState = iota
	PollerRequestSent
	PollerAnticollision
	PollerSelect
	PollerSelected
)

func (s PollerState) String() string {
	switch s {
	case PollerIdle:
		return "idle"
	case PollerRequestSent:
		return "request sent"
	case PollerAnticollision:
		return "anticollision"
	case PollerSelect:
		return "select"
	case PollerSelected:
		return "selected"
	default:
		return fmt.Sprintf("PollerState(%d)", int(s))
	}
}

// Poller discovers and selects a single ISO 14443-A card. It owns the table
// of selected cards.
type Poller struct {
	ctrl   *Controller
	config *PollConfig
	cards  cardTable
	state  PollerState
	// fieldGen is the field generation of the current selection
	fieldGen uint32
	mu       sync.Mutex
}

// NewPoller creates a poller driving ctrl. A nil config selects
// DefaultPollConfig.
func NewPoller(ctrl *Controller, config *PollConfig) *Poller {
	if config == nil {
		config = DefaultPollConfig()
	}
	return &Poller{ctrl: ctrl, config: config.Clone()}
}

// State returns the current discovery state. A selection does not survive
// the field being switched off.
func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollerSelected && p.fieldGen != p.ctrl.FieldGeneration() {
		p.state = PollerIdle
	}
	return p.state
}

func (p *Poller) setState(s PollerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// SetConfig replaces the discovery configuration
func (p *Poller) SetConfig(config *PollConfig) error {
	if config == nil {
		return ErrInvalidParameter
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid poll config: %w", err)
	}
	p.config = config.Clone()
	return nil
}

// Config returns a copy of the discovery configuration
func (p *Poller) Config() *PollConfig {
	return p.config.Clone()
}

// Poll runs request, anticollision and select. It returns a nil handle and
// no error when no card answers or ctx's deadline passes before a card is
// resolved. Earlier selections are invalidated.
func (p *Poller) Poll(ctx context.Context) (*CardHandle, error) {
	p.cards.invalidateAll()
	p.setState(PollerRequestSent)

	atqa, err := p.request(ctx)
	if err != nil {
		p.setState(PollerIdle)
		if p.noCard(ctx, err) {
			debugln("no card")
			return nil, nil
		}
		return nil, err
	}

	card, err := p.resolve(ctx, atqa)
	if err != nil {
		p.setState(PollerIdle)
		if !errors.Is(err, ErrSelectionFailed) && p.noCard(ctx, err) {
			return nil, nil
		}
		return nil, err
	}

	gen := p.ctrl.FieldGeneration()
	h := p.cards.insert(card, gen)
	p.mu.Lock()
	p.state = PollerSelected
	p.fieldGen = gen
	p.mu.Unlock()
	debugf("selected %s as %s", card, h)
	return &h, nil
}

// noCard reports whether err during request or anticollision means that
// no card is present
func (*Poller) noCard(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsNoResponse(err) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (p *Poller) retryConfig(stage string) retry.Config {
	return retry.Config{
		MaxRetries: p.config.MaxRetries,
		OnRetry: func(attempt int, err error) {
			debugf("%s retry %d: %v", stage, attempt, err)
		},
	}
}

// transceiveRetry runs one request or anticollision frame, retrying
// timeouts, bus failures and corrupted responses
func (p *Poller) transceiveRetry(ctx context.Context, stage string, f Frame, tx []byte, rxMax int,
	check func(Response) error,
) (Response, error) {
	return retry.Do(ctx, p.retryConfig(stage), func(ctx context.Context) (Response, bool, error) {
		resp, err := p.ctrl.TransceiveFrame(ctx, f, tx, rxMax)
		if err == nil && check != nil {
			err = check(resp)
		}
		if err != nil {
			return resp, IsRetryable(err) && ctx.Err() == nil, err
		}
		return resp, false, nil
	})
}

func (p *Poller) request(ctx context.Context) ([2]byte, error) {
	f := Frame{Kind: FrameReqA, Timeout: p.config.RequestTimeout}
	if p.config.Wakeup {
		f.Kind = FrameWupA
	}
	resp, err := p.transceiveRetry(ctx, "request", f, nil, 2, func(r Response) error {
		if len(r.Data) != 2 {
			return fmt.Errorf("%w: ATQA of %d bytes", ErrResponseTooShort, len(r.Data))
		}
		return nil
	})
	if err != nil {
		return [2]byte{}, err
	}
	return [2]byte{resp.Data[0], resp.Data[1]}, nil
}

// resolve walks the cascade levels until the UID is complete
func (p *Poller) resolve(ctx context.Context, atqa [2]byte) (Card, error) {
	var uid []byte
	for level := range iso14443.SelectCodes {
		p.setState(PollerAnticollision)
		part, err := p.anticollision(ctx, level)
		if err != nil {
			return Card{}, err
		}

		p.setState(PollerSelect)
		sak, err := p.selectPart(ctx, level, part)
		if err != nil {
			return Card{}, err
		}
		if sak&iso14443.SAKCascade == 0 {
			uid = append(uid, part[:4]...)
			return Card{UID: uid, ATQA: atqa, SAK: sak}, nil
		}
		if part[0] != iso14443.CascadeTag {
			return Card{}, fmt.Errorf("%w: cascade bit without cascade tag at level %d", ErrSelectionFailed, level+1)
		}
		uid = append(uid, part[1:4]...)
	}
	return Card{}, fmt.Errorf("%w: UID incomplete after %d cascade levels", ErrSelectionFailed, len(iso14443.SelectCodes))
}

// anticollision resolves the UID part of one cascade level. A collision at
// bit k extends the known prefix with k set to 0; if that branch goes silent
// the 1 branch is tried.
func (p *Poller) anticollision(ctx context.Context, level int) ([iso14443.UIDPartLen]byte, error) {
	const partBits = iso14443.UIDPartLen * 8
	sel := iso14443.SelectCodes[level]

	var part [iso14443.UIDPartLen]byte
	known := 0
	branch := -1
	flipped := false

	for known < partBits {
		f := Frame{Kind: FrameAnticoll, Bits: 16 + known, Timeout: p.config.RequestTimeout}
		prefix := (known + 7) / 8
		tx := make([]byte, 0, 2+prefix)
		tx = append(tx, sel, iso14443.NVB(known))
		tx = append(tx, part[:prefix]...)

		resp, err := p.transceiveRetry(ctx, "anticollision", f, tx, iso14443.UIDPartLen, nil)
		if err != nil {
			if IsNoResponse(err) && branch >= 0 && !flipped && ctx.Err() == nil {
				debugf("no answer on 0 branch at bit %d, trying 1", branch)
				iso14443.SetBit(part[:], branch, 1)
				flipped = true
				continue
			}
			return part, err
		}
		if len(resp.Data) < 2 {
			return part, ErrResponseTooShort
		}

		got := resp.Data[2:]
		valid := min(resp.Bits-16, partBits, len(got)*8)
		for pos := known; pos < valid; pos++ {
			iso14443.SetBit(part[:], pos, iso14443.BitAt(got, pos))
		}

		if resp.Bits >= len(resp.Data)*8 {
			if valid < partBits {
				return part, fmt.Errorf("%w: %d of %d UID bits", ErrResponseTooShort, valid, partBits)
			}
			break
		}

		// collision at bit valid
		if valid < known || valid >= partBits {
			return part, fmt.Errorf("%w: at bit %d with %d bits known", ErrCollision, valid, known)
		}
		debugf("collision at bit %d", valid)
		iso14443.SetBit(part[:], valid, 0)
		branch = valid
		flipped = false
		known = valid + 1
	}

	if bcc := iso14443.BCC(part[:4]); bcc != part[4] {
		return part, fmt.Errorf("%w: BCC %02X, want %02X", ErrSelectionFailed, part[4], bcc)
	}
	return part, nil
}

func (p *Poller) selectPart(ctx context.Context, level int, part [iso14443.UIDPartLen]byte) (byte, error) {
	tx := make([]byte, 0, 2+iso14443.UIDPartLen)
	tx = append(tx, iso14443.SelectCodes[level], iso14443.NVBSelect)
	tx = append(tx, part[:]...)

	data, err := p.ctrl.Transceive(ctx, tx, 1, p.config.SelectTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSelectionFailed, err)
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: %w: SAK of %d bytes", ErrSelectionFailed, ErrResponseTooShort, len(data))
	}
	return data[0], nil
}

// card resolves h to its card
func (p *Poller) card(h CardHandle) (Card, error) {
	return p.cards.lookup(h, p.ctrl.FieldGeneration())
}
