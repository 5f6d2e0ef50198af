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

package tagops

import (
	"context"
	"fmt"

	"github.com/hsanjuan/go-ndef"
)

// TLV block types of the Type 2 tag data area
const (
	tlvNull        = 0x00
	tlvLockCtrl    = 0x01
	tlvMemoryCtrl  = 0x02
	tlvNDEF        = 0x03
	tlvProprietary = 0xFD
	tlvTerminator  = 0xFE
)

// ReadNDEFRaw returns the value of the first NDEF message TLV
func (t *TagOperations) ReadNDEFRaw(ctx context.Context) ([]byte, error) {
	if t.tagType != TagTypeNTAG {
		return nil, fmt.Errorf("%w: NDEF on %s", ErrNotSupported, t.tagType)
	}
	if t.totalPages <= firstUserPage {
		return nil, ErrNotFormatted
	}

	var area []byte
	page := firstUserPage
	for {
		if value, done, err := findNDEF(area); done {
			return value, err
		}
		if page >= t.totalPages {
			return nil, fmt.Errorf("%w: TLV runs past the end of memory", ErrInvalidTLV)
		}
		data, err := t.ReadPages(ctx, page)
		if err != nil {
			return nil, err
		}
		// reads roll over at the end of memory
		n := min(pagesPerRead, t.totalPages-page)
		area = append(area, data[:n*pageSize]...)
		page += n
	}
}

// ReadNDEF reads and decodes the NDEF message of a Type 2 tag
func (t *TagOperations) ReadNDEF(ctx context.Context) (*ndef.Message, error) {
	raw, err := t.ReadNDEFRaw(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNoNDEF
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("failed to decode NDEF message: %w", err)
	}
	return msg, nil
}

// findNDEF walks the TLV blocks in area. done is false when area ends before
// the NDEF TLV or the terminator is complete.
func findNDEF(area []byte) (value []byte, done bool, err error) {
	i := 0
	for i < len(area) {
		typ := area[i]
		switch typ {
		case tlvNull:
			i++
			continue
		case tlvTerminator:
			return nil, true, ErrNoNDEF
		}

		length, header, ok := tlvLength(area[i+1:])
		if !ok {
			return nil, false, nil
		}
		start := i + 1 + header
		end := start + length
		if end > len(area) {
			return nil, false, nil
		}
		switch typ {
		case tlvNDEF:
			return area[start:end], true, nil
		case tlvLockCtrl, tlvMemoryCtrl, tlvProprietary:
		default:
			return nil, true, fmt.Errorf("%w: unknown TLV %02X", ErrInvalidTLV, typ)
		}
		i = end
	}
	return nil, false, nil
}

// tlvLength decodes a one byte or three byte TLV length field
func tlvLength(b []byte) (length, header int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0] != 0xFF {
		return int(b[0]), 1, true
	}
	if len(b) < 3 {
		return 0, 0, false
	}
	return int(b[1])<<8 | int(b[2]), 3, true
}
