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

package spi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHalfDuplex(t *testing.T) {
	t.Parallel()

	var clocked []byte
	full := func(w, r []byte) error {
		require.Len(t, r, len(w))
		clocked = append([]byte(nil), w...)
		for i := range r {
			r[i] = byte(0xA0 + i)
		}
		return nil
	}

	r := make([]byte, 2)
	require.NoError(t, halfDuplex(full)([]byte{0x7F}, r))
	assert.Equal(t, []byte{0x7F, 0x00, 0x00}, clocked)
	assert.Equal(t, []byte{0xA1, 0xA2}, r)
}

func TestHalfDuplexError(t *testing.T) {
	t.Parallel()

	errBus := errors.New("bus")
	err := halfDuplex(func(_, _ []byte) error { return errBus })([]byte{0x7F}, make([]byte, 1))
	assert.ErrorIs(t, err, errBus)
}

func TestDetectorTransport(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "spi", New().Transport())
}
