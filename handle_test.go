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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardTable(t *testing.T) {
	t.Parallel()

	var table cardTable
	card := Card{UID: []byte{1, 2, 3, 4}, SAK: 0x08}

	var zero CardHandle
	_, err := table.lookup(zero, 0)
	require.ErrorIs(t, err, ErrStaleHandle, "the zero handle never resolves")

	h1 := table.insert(card, 1)
	got, err := table.lookup(h1, 1)
	require.NoError(t, err)
	assert.Equal(t, card, got)

	h2 := table.insert(Card{UID: []byte{5, 6, 7, 8}}, 1)
	assert.NotEqual(t, h1, h2)
	_, err = table.lookup(h1, 1)
	require.ErrorIs(t, err, ErrStaleHandle, "a new selection invalidates the old one")

	_, err = table.lookup(h2, 2)
	require.ErrorIs(t, err, ErrStaleHandle, "field change")
	_, err = table.lookup(h2, 1)
	require.ErrorIs(t, err, ErrStaleHandle, "stays invalid after the field change")

	h3 := table.insert(card, 2)
	table.invalidate(h3)
	_, err = table.lookup(h3, 2)
	require.ErrorIs(t, err, ErrStaleHandle)

	_, err = table.lookup(CardHandle{index: maxCards, generation: 1}, 2)
	require.ErrorIs(t, err, ErrStaleHandle)
}

func TestCardTableReusesSlots(t *testing.T) {
	t.Parallel()

	var table cardTable
	handles := make([]CardHandle, 0, 2*maxCards)
	for range 2 * maxCards {
		handles = append(handles, table.insert(Card{UID: []byte{1}}, 0))
	}
	last := handles[len(handles)-1]
	for _, h := range handles[:len(handles)-1] {
		_, err := table.lookup(h, 0)
		require.ErrorIs(t, err, ErrStaleHandle)
	}
	_, err := table.lookup(last, 0)
	require.NoError(t, err)
	assert.Equal(t, handles[0].index, handles[maxCards].index, "slots wrap around")
}

func TestCardString(t *testing.T) {
	t.Parallel()

	card := Card{UID: []byte{0x04, 0xa1, 0xb2, 0xc3}, ATQA: [2]byte{0x04, 0x00}, SAK: 0x20}
	assert.Equal(t, "04A1B2C3", card.UIDString())
	assert.Equal(t, "UID=04A1B2C3 ATQA=0004 SAK=20", card.String())
	assert.True(t, card.SupportsISODEP())
	assert.False(t, Card{SAK: 0x08}.SupportsISODEP())
	assert.Equal(t, "card#2.7", CardHandle{index: 2, generation: 7}.String())
}
