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
	"fmt"
	"time"
)

// FrameKind selects how a frame is put on air
type FrameKind int

const (
	// FrameStandard is a frame with CRC appended on transmit and checked and
	// stripped on receive.
	FrameStandard FrameKind = iota
	// FrameReqA transmits the 7 bit REQA short frame.
	FrameReqA
	// FrameWupA transmits the 7 bit WUPA short frame.
	FrameWupA
	// FrameAnticoll is a bit oriented anticollision frame without CRC.
	FrameAnticoll
)

func (k FrameKind) String() string {
	switch k {
	case FrameStandard:
		return "standard"
	case FrameReqA:
		return "reqa"
	case FrameWupA:
		return "wupa"
	case FrameAnticoll:
		return "anticoll"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame describes one transceive
type Frame struct {
	// Kind selects the framing
	Kind FrameKind
	// Bits is the number of bits to transmit for FrameAnticoll, counting the
	// SEL and NVB bytes.
	Bits int
	// Timeout bounds the wait for the start of the response after transmit
	// ends. Zero selects the default frame waiting time of 5 ms.
	Timeout time.Duration
}

// StandardFrame returns a CRC framed frame with the given response timeout
func StandardFrame(timeout time.Duration) Frame {
	return Frame{Kind: FrameStandard, Timeout: timeout}
}

// AnticollFrame returns an anticollision frame transmitting bits bits
func AnticollFrame(bits int) Frame {
	return Frame{Kind: FrameAnticoll, Bits: bits}
}

// raw reports whether the response carries no CRC
func (f Frame) raw() bool {
	return f.Kind != FrameStandard
}

// Response is the result of a transceive
type Response struct {
	// Data holds the received bytes. For anticollision frames the transmitted
	// prefix is merged in front, so Data is the complete frame as seen on air.
	Data []byte
	// Bits is the number of valid bits in Data. For anticollision frames
	// with a collision it is the position of the first colliding bit.
	Bits int
}
