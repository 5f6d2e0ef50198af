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

// Package iso14443 provides the ISO/IEC 14443-3 type A framing helpers used by
// both the poller and the chip simulator.
package iso14443

// Short frames and command bytes.
const (
	ReqA byte = 0x26
	WupA byte = 0x52

	HltA byte = 0x50

	SelCL1 byte = 0x93
	SelCL2 byte = 0x95
	SelCL3 byte = 0x97

	// NVBSelect is the NVB value of a full SELECT frame (7 bytes, 0 bits).
	NVBSelect byte = 0x70

	// CascadeTag marks an incomplete UID part at cascade levels 1 and 2.
	CascadeTag byte = 0x88

	// SAKCascade is set in the SAK when the UID is not complete yet.
	SAKCascade byte = 1 << 2
	// SAKISODEP is set when the card supports ISO/IEC 14443-4.
	SAKISODEP byte = 1 << 5

	// RATS starts ISO-DEP activation.
	RATS byte = 0xe0
)

// ShortFrameBits is the bit length of REQA and WUPA.
const ShortFrameBits = 7

// UIDPartLen is the length of a UID part including its BCC.
const UIDPartLen = 5

// SelectCodes lists the SEL byte of each cascade level in order.
var SelectCodes = [...]byte{SelCL1, SelCL2, SelCL3}

// BCC returns the block check character of a four byte UID part.
func BCC(part []byte) byte {
	var bcc byte
	for _, b := range part[:4] {
		bcc ^= b
	}
	return bcc
}

// CRCA computes the ISO 14443 type A CRC of data.
func CRCA(data []byte) [2]byte {
	crc := uint32(0x6363)
	for _, bt := range data {
		bt ^= uint8(crc & 0xff)
		bt ^= bt << 4
		bt32 := uint32(bt)
		crc = (crc >> 8) ^ (bt32 << 8) ^ (bt32 << 3) ^ (bt32 >> 4)
	}
	return [2]byte{byte(crc & 0xff), byte((crc >> 8) & 0xff)}
}

// AppendCRCA appends the type A CRC of data to data.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	return append(data, crc[0], crc[1])
}

// NVB encodes the number of valid bits of an anticollision frame, counting the
// SEL and NVB bytes themselves.
func NVB(knownBits int) byte {
	total := 16 + knownBits
	return byte(total/8)<<4 | byte(total%8)
}

// BitAt returns bit pos of b, counted LSB first across bytes as transmitted.
func BitAt(b []byte, pos int) byte {
	return b[pos/8] >> (pos % 8) & 1
}

// SetBit sets or clears bit pos of b.
func SetBit(b []byte, pos int, v byte) {
	if v != 0 {
		b[pos/8] |= 1 << (pos % 8)
	} else {
		b[pos/8] &^= 1 << (pos % 8)
	}
}
