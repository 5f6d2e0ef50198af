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
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
)

// maxCards is the number of selections the card table remembers.
const maxCards = 4

// Card is a selected ISO 14443-A card
type Card struct {
	UID  []byte
	ATQA [2]byte
	SAK  byte
}

// UIDString returns the UID as upper case hex
func (c Card) UIDString() string {
	return strings.ToUpper(hex.EncodeToString(c.UID))
}

// SupportsISODEP reports whether the SAK announces ISO/IEC 14443-4
func (c Card) SupportsISODEP() bool {
	return c.SAK&iso14443.SAKISODEP != 0
}

func (c Card) String() string {
	return fmt.Sprintf("UID=%s ATQA=%02X%02X SAK=%02X", c.UIDString(), c.ATQA[1], c.ATQA[0], c.SAK)
}

// CardHandle addresses one selection of a card. It stops resolving once the
// card is halted, another card is selected or the field is switched off.
type CardHandle struct {
	index      uint8
	generation uint32
}

func (h CardHandle) String() string {
	return fmt.Sprintf("card#%d.%d", h.index, h.generation)
}

type cardSlot struct {
	framer     Framer
	card       Card
	fwt        time.Duration
	generation uint32
	fieldGen   uint32
	live       bool
}

// cardTable holds the selected cards. A handle is valid while its slot
// carries the same generation and the field has not changed since.
type cardTable struct {
	slots [maxCards]cardSlot
	gen   uint32
	next  uint8
}

// insert adds card, invalidating every earlier selection
func (t *cardTable) insert(card Card, fieldGen uint32) CardHandle {
	t.invalidateAll()
	t.gen++
	idx := t.next
	t.next = (t.next + 1) % maxCards
	t.slots[idx] = cardSlot{
		card:       card,
		generation: t.gen,
		fieldGen:   fieldGen,
		live:       true,
	}
	return CardHandle{index: idx, generation: t.gen}
}

func (t *cardTable) slot(h CardHandle, fieldGen uint32) (*cardSlot, error) {
	if int(h.index) >= maxCards {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation || h.generation == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	if s.fieldGen != fieldGen {
		s.live = false
		return nil, fmt.Errorf("%w: %s: field was switched", ErrStaleHandle, h)
	}
	return s, nil
}

func (t *cardTable) lookup(h CardHandle, fieldGen uint32) (Card, error) {
	s, err := t.slot(h, fieldGen)
	if err != nil {
		return Card{}, err
	}
	return s.card, nil
}

func (t *cardTable) invalidate(h CardHandle) {
	if int(h.index) >= maxCards {
		return
	}
	if s := &t.slots[h.index]; s.generation == h.generation {
		s.live = false
		s.framer = nil
	}
}

func (t *cardTable) invalidateAll() {
	for i := range t.slots {
		t.slots[i].live = false
		t.slots[i].framer = nil
	}
}
