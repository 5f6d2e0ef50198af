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

import "context"

// Reader is the capability set offered to applications: discover a card,
// exchange frames with it and release it. Every call is cancellable through
// its context.
type Reader interface {
	// PollForCard returns a handle to a newly selected card, or nil when
	// no card answered.
	PollForCard(ctx context.Context) (*CardHandle, error)
	// Exchange sends data to the card and returns its answer
	Exchange(ctx context.Context, h CardHandle, data []byte) ([]byte, error)
	// Release halts the card and invalidates h
	Release(ctx context.Context, h CardHandle) error
}

var _ Reader = (*Device)(nil)
