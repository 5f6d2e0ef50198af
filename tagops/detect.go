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
	"bytes"
	"fmt"

	"github.com/ZaparooProject/go-st25r39"
)

const (
	unknownTagName    = "Unknown"
	ntagTypeName      = "NTAG"
	mifareClassicName = "MIFARE Classic"
	isoDEPName        = "ISO-DEP"
)

// TagInfo contains detailed information about a detected tag
type TagInfo struct {
	TypeName   string
	NTAGType   string
	MIFAREType string
	UID        []byte

	Type        TagType
	TotalPages  int
	UserMemory  int
	Sectors     int
	TotalMemory int
}

// GetTagInfo returns detailed information about the selected tag
func (t *TagOperations) GetTagInfo() (*TagInfo, error) {
	if t.tag == nil {
		return nil, ErrNoTag
	}

	info := &TagInfo{
		Type: t.tagType,
		UID:  t.tag.UID,
	}

	switch t.tagType {
	case TagTypeNTAG:
		info.TypeName = ntagTypeName
		info.TotalPages = t.totalPages
		info.UserMemory = (t.totalPages - firstUserPage) * pageSize

		switch t.totalPages {
		case 16:
			info.NTAGType = "MIFARE Ultralight"
		case 45:
			info.NTAGType = "NTAG213"
		case 135:
			info.NTAGType = "NTAG215"
		case 231:
			info.NTAGType = "NTAG216"
		default:
			info.NTAGType = fmt.Sprintf("Type 2 (unknown, %d pages)", t.totalPages)
		}

	case TagTypeMIFARE:
		info.TypeName = mifareClassicName
		switch t.tag.SAK {
		case 0x09:
			info.MIFAREType = "MIFARE Mini"
			info.Sectors = 5
			info.TotalMemory = 320
		case 0x18:
			info.MIFAREType = "MIFARE Classic 4K"
			info.Sectors = 40
			info.TotalMemory = 4096
		default:
			info.MIFAREType = "MIFARE Classic 1K"
			info.Sectors = 16
			info.TotalMemory = 1024
		}

	case TagTypeISODEP:
		info.TypeName = isoDEPName

	default:
		info.TypeName = unknownTagName
	}

	return info, nil
}

// String returns a human-readable string representation of the tag type
func (t TagType) String() string {
	switch t {
	case TagTypeNTAG:
		return ntagTypeName
	case TagTypeMIFARE:
		return mifareClassicName
	case TagTypeISODEP:
		return isoDEPName
	default:
		return unknownTagName
	}
}

// DetectTagType classifies a card by its SAK, using the ATQA to tell Type 2
// tags from other cards that complete selection without ISO-DEP
func DetectTagType(card st25r39.Card) TagType {
	switch {
	case card.SupportsISODEP():
		return TagTypeISODEP
	case card.SAK == 0x08 || card.SAK == 0x09 || card.SAK == 0x18 || card.SAK == 0x88:
		return TagTypeMIFARE
	case card.SAK == 0x00 && card.ATQA[0] == 0x44 && card.ATQA[1] == 0x00:
		return TagTypeNTAG
	default:
		return TagTypeUnknown
	}
}

// IsNDEFCapable returns whether the tag can be read with ReadNDEF. MIFARE
// Classic needs sector authentication, which is not implemented.
func (t *TagOperations) IsNDEFCapable() bool {
	return t.tagType == TagTypeNTAG && t.totalPages > firstUserPage
}

// CompareUID compares two UIDs for equality
func CompareUID(uid1, uid2 []byte) bool {
	return bytes.Equal(uid1, uid2)
}
