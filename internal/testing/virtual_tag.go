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

package testing

import (
	"encoding/hex"
	"fmt"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
	"github.com/hsanjuan/go-ndef"
)

// Common test UIDs
var (
	TestUID4  = []byte{0x04, 0xA1, 0xB2, 0xC3}
	TestUID7  = []byte{0x04, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}
	TestUID10 = []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}
)

// TagState is the ISO 14443-3 state of a virtual tag
type TagState int

const (
	TagIdle TagState = iota
	TagReady
	TagActive
	TagHalted
)

const (
	ntag213Pages = 45
	pageSize     = 4

	cmdRead = 0x30
)

// VirtualTag represents a simulated type A card
type VirtualTag struct {
	// Respond answers standard frames once the tag is active. A nil
	// Respond falls back to the built in behaviour of the tag type.
	Respond func(frame []byte) ([]byte, bool)

	Type    string
	UID     []byte
	ATQA    [2]byte
	SAK     byte
	ATS     []byte
	Memory  []byte // 4 byte pages for type 2 tags
	Present bool

	state TagState
	level int
}

// NewVirtualNTAG213 creates a virtual NTAG213 with a capability container
// and an empty NDEF message
func NewVirtualNTAG213(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestUID7
	}
	tag := &VirtualTag{
		Type:    "NTAG213",
		UID:     append([]byte(nil), uid...),
		ATQA:    [2]byte{0x44, 0x00},
		SAK:     0x00,
		Memory:  make([]byte, ntag213Pages*pageSize),
		Present: true,
	}
	tag.initNTAG213Memory()
	return tag
}

// NewVirtualISODEP creates a virtual ISO/IEC 14443-4 card. Its I-blocks are
// echoed back.
func NewVirtualISODEP(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestUID4
	}
	return &VirtualTag{
		Type: "ISODEP",
		UID:  append([]byte(nil), uid...),
		ATQA: [2]byte{0x04, 0x00},
		SAK:  iso14443.SAKISODEP,
		// TL, T0 (FSCI 8, TB present), TB (FWI 7, SFGI 0), historical bytes
		ATS:     []byte{0x05, 0x28, 0x70, 0x80, 0x31},
		Present: true,
	}
}

// NewVirtualTag creates a plain card with the given UID and SAK
func NewVirtualTag(uid []byte, sak byte) *VirtualTag {
	return &VirtualTag{
		Type:    "generic",
		UID:     append([]byte(nil), uid...),
		ATQA:    [2]byte{0x04, 0x00},
		SAK:     sak,
		Present: true,
	}
}

// GetUIDString returns the UID as a hex string
func (v *VirtualTag) GetUIDString() string {
	return hex.EncodeToString(v.UID)
}

// State returns the protocol state
func (v *VirtualTag) State() TagState {
	return v.state
}

// Remove takes the tag out of the field
func (v *VirtualTag) Remove() {
	v.Present = false
	v.state = TagIdle
}

// Insert puts the tag back into the field
func (v *VirtualTag) Insert() {
	v.Present = true
	v.state = TagIdle
}

// ReadPage returns page n of a type 2 tag
func (v *VirtualTag) ReadPage(n int) ([]byte, error) {
	if n < 0 || (n+1)*pageSize > len(v.Memory) {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	return append([]byte(nil), v.Memory[n*pageSize:(n+1)*pageSize]...), nil
}

// SetNDEF stores msg in the user area of a type 2 tag
func (v *VirtualTag) SetNDEF(msg *ndef.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal NDEF: %w", err)
	}
	if len(payload) > 0xfe {
		return fmt.Errorf("NDEF message of %d bytes needs a long TLV", len(payload))
	}
	tlv := make([]byte, 0, len(payload)+3)
	tlv = append(tlv, 0x03, byte(len(payload)))
	tlv = append(tlv, payload...)
	tlv = append(tlv, 0xFE)

	user := v.Memory[4*pageSize:]
	if len(tlv) > len(user) {
		return fmt.Errorf("NDEF data too large for %s", v.Type)
	}
	clear(user)
	copy(user, tlv)
	return nil
}

// SetNDEFText stores a single text record
func (v *VirtualTag) SetNDEFText(text string) error {
	return v.SetNDEF(ndef.NewTextMessage(text, "en"))
}

// SetNDEFURI stores a single URI record
func (v *VirtualTag) SetNDEFURI(uri string) error {
	return v.SetNDEF(ndef.NewURIMessage(uri))
}

func (v *VirtualTag) initNTAG213Memory() {
	// Pages 0-2: serial number, internal and lock bytes
	if len(v.UID) == 7 {
		copy(v.Memory[0:3], v.UID[:3])
		v.Memory[3] = iso14443.CascadeTag ^ v.UID[0] ^ v.UID[1] ^ v.UID[2]
		copy(v.Memory[4:8], v.UID[3:7])
		v.Memory[8] = iso14443.BCC(v.UID[3:7])
	}
	// Page 3: capability container, NDEF 1.0, 144 bytes, read/write
	copy(v.Memory[12:16], []byte{0xE1, 0x10, 0x12, 0x00})
	// Empty NDEF message TLV
	copy(v.Memory[16:], []byte{0x03, 0x00, 0xFE})
}

// parts splits the UID into its cascade level parts including the BCC
func (v *VirtualTag) parts() [][iso14443.UIDPartLen]byte {
	var chunks [][]byte
	switch len(v.UID) {
	case 4:
		chunks = [][]byte{v.UID}
	case 7:
		chunks = [][]byte{
			{iso14443.CascadeTag, v.UID[0], v.UID[1], v.UID[2]},
			v.UID[3:7],
		}
	case 10:
		chunks = [][]byte{
			{iso14443.CascadeTag, v.UID[0], v.UID[1], v.UID[2]},
			{iso14443.CascadeTag, v.UID[3], v.UID[4], v.UID[5]},
			v.UID[6:10],
		}
	default:
		return nil
	}
	parts := make([][iso14443.UIDPartLen]byte, len(chunks))
	for i, c := range chunks {
		copy(parts[i][:4], c)
		parts[i][4] = iso14443.BCC(c)
	}
	return parts
}

// sakAt returns the SAK answered at a cascade level
func (v *VirtualTag) sakAt(level int) byte {
	if level < len(v.parts())-1 {
		return iso14443.SAKCascade
	}
	return v.SAK
}

// respond answers a standard frame in the active state
func (v *VirtualTag) respond(frame []byte) ([]byte, bool) {
	if v.Respond != nil {
		return v.Respond(frame)
	}
	switch {
	case len(frame) == 2 && frame[0] == cmdRead && v.Memory != nil:
		return v.read(int(frame[1])), true
	case v.Type == "ISODEP" && len(frame) > 0 && frame[0]&0xe2 == 0x02:
		// I-block: acknowledge with the same block number and echo
		return append([]byte(nil), frame...), true
	}
	return nil, false
}

// read returns four pages starting at page, rolling over at the end
func (v *VirtualTag) read(page int) []byte {
	pages := len(v.Memory) / pageSize
	out := make([]byte, 0, 4*pageSize)
	for i := range 4 {
		p := (page + i) % pages
		out = append(out, v.Memory[p*pageSize:(p+1)*pageSize]...)
	}
	return out
}
