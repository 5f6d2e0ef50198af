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

// TransferLimiter is implemented by buses that cap the number of bytes in a
// single transfer, mirroring periph's conn.Limits.
type TransferLimiter interface {
	// MaxTxSize returns the largest transfer in bytes, or 0 when unlimited
	MaxTxSize() int
}

// PortNamer is implemented by buses that can name the port they drive. The
// name is carried in TransportError.
type PortNamer interface {
	Port() string
}

// maxTransfer returns the transfer size limit of bus, 0 when unlimited
func maxTransfer(bus Bus) int {
	limiter, ok := bus.(TransferLimiter)
	if !ok {
		return 0
	}
	if n := limiter.MaxTxSize(); n > 1 {
		return n
	}
	return 0
}

func portOf(bus Bus) string {
	if namer, ok := bus.(PortNamer); ok {
		return namer.Port()
	}
	return ""
}
