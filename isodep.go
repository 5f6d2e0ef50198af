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
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
)

const (
	// fsdi256 announces a maximum frame size of 256 bytes in RATS.
	fsdi256 = 0x8

	ratsTimeout = 5 * time.Millisecond

	pcbIBlock     = 0x02
	pcbBlockMask  = 0xe2
	pcbChaining   = 0x10
	pcbBlockNum   = 0x01
	pcbTypeMask   = 0xc0
	pcbTypeSBlock = 0xc0
)

// fsc maps FSCI to the maximum frame size of the card.
var fsc = [...]int{16, 24, 32, 40, 48, 64, 96, 128, 256, 512, 1024, 2048, 4096}

// ATS is the answer to RATS of an ISO/IEC 14443-4 card
type ATS struct {
	Raw        []byte
	Historical []byte
	FSC        int
	FWI        byte
	SFGI       byte
}

// FWT returns the frame waiting time announced by the card
func (a ATS) FWT() time.Duration {
	return nrtCoarseStep << a.FWI
}

// ParseATS decodes an answer to RATS
func ParseATS(raw []byte) (ATS, error) {
	if len(raw) == 0 || int(raw[0]) != len(raw) {
		return ATS{}, fmt.Errorf("%w: ATS length byte does not match %d bytes", ErrProtocol, len(raw))
	}
	ats := ATS{Raw: raw, FSC: 32, FWI: 4}
	if len(raw) == 1 {
		return ats, nil
	}
	t0 := raw[1]
	if fsci := int(t0 & 0x0f); fsci < len(fsc) {
		ats.FSC = fsc[fsci]
	} else {
		ats.FSC = 4096
	}
	i := 2
	if t0&0x10 != 0 { // TA(1)
		i++
	}
	if t0&0x20 != 0 { // TB(1)
		if i >= len(raw) {
			return ATS{}, fmt.Errorf("%w: truncated ATS", ErrProtocol)
		}
		ats.FWI = raw[i] >> 4
		ats.SFGI = raw[i] & 0x0f
		i++
	}
	if t0&0x40 != 0 { // TC(1)
		i++
	}
	if i > len(raw) {
		return ATS{}, fmt.Errorf("%w: truncated ATS", ErrProtocol)
	}
	ats.Historical = raw[i:]
	return ats, nil
}

// ISODEPFramer wraps payloads in ISO/IEC 14443-4 I-blocks without CID and
// NAD, toggling the block number on every acknowledged exchange.
type ISODEPFramer struct {
	block byte
}

// Encode wraps payload in an I-block
func (f *ISODEPFramer) Encode(payload []byte) ([]byte, error) {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, pcbIBlock|f.block)
	return append(frame, payload...), nil
}

// Decode unwraps an I-block answer. Chained and S-block answers are not
// supported.
func (f *ISODEPFramer) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrProtocol)
	}
	pcb := frame[0]
	switch {
	case pcb&pcbTypeMask == pcbTypeSBlock:
		return nil, fmt.Errorf("%w: unsupported S-block %02X", ErrProtocol, pcb)
	case pcb&pcbBlockMask != pcbIBlock:
		return nil, fmt.Errorf("%w: unexpected block %02X", ErrProtocol, pcb)
	case pcb&pcbChaining != 0:
		return nil, fmt.Errorf("%w: chained I-block", ErrProtocol)
	case pcb&pcbBlockNum != f.block:
		return nil, fmt.Errorf("%w: block number %d, want %d", ErrProtocol, pcb&pcbBlockNum, f.block)
	}
	f.block ^= pcbBlockNum
	return frame[1:], nil
}

// ActivateISODEP sends RATS to the card behind h and installs an
// ISODEPFramer for its later exchanges.
func (s *Session) ActivateISODEP(ctx context.Context, h CardHandle) (ATS, error) {
	card, err := s.poller.card(h)
	if err != nil {
		return ATS{}, err
	}
	if !card.SupportsISODEP() {
		return ATS{}, fmt.Errorf("%w: SAK %02X does not announce ISO-DEP", ErrProtocol, card.SAK)
	}

	resp, err := s.ctrl.Transceive(ctx, []byte{iso14443.RATS, fsdi256 << 4}, 256, ratsTimeout)
	if err != nil {
		return ATS{}, fmt.Errorf("RATS: %w", err)
	}
	ats, err := ParseATS(resp)
	if err != nil {
		return ATS{}, err
	}
	slot, err := s.poller.cards.slot(h, s.ctrl.FieldGeneration())
	if err != nil {
		return ATS{}, err
	}
	slot.framer = &ISODEPFramer{}
	slot.fwt = ats.FWT()
	debugf("ISO-DEP active: FSC %d FWI %d", ats.FSC, ats.FWI)
	return ats, nil
}
