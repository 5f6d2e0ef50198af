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

// Package tagops provides tag level operations on top of a selected card:
// tag classification and reading NDEF messages from NFC Forum Type 2 tags.
package tagops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-st25r39"
)

// TagType is the family of a selected card
type TagType int

const (
	TagTypeUnknown TagType = iota
	TagTypeNTAG
	TagTypeMIFARE
	TagTypeISODEP
)

const (
	cmdRead = 0x30

	pageSize      = 4
	pagesPerRead  = 4
	firstUserPage = 4
	ccPage        = 3
	ccMagic       = 0xE1

	readTimeout = 5 * time.Millisecond
)

// Tag operation errors
var (
	ErrNoTag          = errors.New("no tag selected")
	ErrNotSupported   = errors.New("operation not supported by tag")
	ErrNotFormatted   = errors.New("tag is not NDEF formatted")
	ErrNoNDEF         = errors.New("no NDEF message on tag")
	ErrInvalidTLV     = errors.New("invalid TLV structure")
	ErrShortReadReply = errors.New("short read reply")
)

// TagOperations performs tag level operations on one selected card
type TagOperations struct {
	device     *st25r39.Device
	tag        *st25r39.Card
	handle     st25r39.CardHandle
	tagType    TagType
	totalPages int
}

// New classifies the card behind h. For Type 2 tags it reads the capability
// container to learn the memory size.
func New(ctx context.Context, device *st25r39.Device, h st25r39.CardHandle) (*TagOperations, error) {
	if device == nil {
		return nil, errors.New("device cannot be nil")
	}
	card, err := device.Card(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTag, err)
	}
	t := &TagOperations{
		device:  device,
		tag:     &card,
		handle:  h,
		tagType: DetectTagType(card),
	}
	if t.tagType == TagTypeNTAG {
		if err := t.readCapabilityContainer(ctx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Type returns the detected tag family
func (t *TagOperations) Type() TagType {
	return t.tagType
}

// Card returns the selected card
func (t *TagOperations) Card() st25r39.Card {
	return *t.tag
}

// ReadPages reads the four pages starting at page of a Type 2 tag
func (t *TagOperations) ReadPages(ctx context.Context, page int) ([]byte, error) {
	if t.tagType != TagTypeNTAG {
		return nil, fmt.Errorf("%w: page read on %s", ErrNotSupported, t.tagType)
	}
	if page < 0 || page > 0xff {
		return nil, fmt.Errorf("%w: page %d", st25r39.ErrInvalidParameter, page)
	}
	data, err := t.device.ExchangeWithTimeout(ctx, t.handle, []byte{cmdRead, byte(page)}, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	if len(data) != pagesPerRead*pageSize {
		return nil, fmt.Errorf("%w: %d bytes from page %d", ErrShortReadReply, len(data), page)
	}
	return data, nil
}

func (t *TagOperations) readCapabilityContainer(ctx context.Context) error {
	data, err := t.ReadPages(ctx, ccPage)
	if err != nil {
		return err
	}
	cc := data[:pageSize]
	if cc[0] != ccMagic {
		// unformatted tags still answer page reads
		t.totalPages = firstUserPage
		return nil
	}
	t.totalPages = totalPagesFor(cc[2])
	return nil
}

// totalPagesFor maps the CC data area size byte to the page count of the
// product, falling back to the data area plus the header pages
func totalPagesFor(size byte) int {
	switch size {
	case 0x06:
		return 16 // MIFARE Ultralight
	case 0x12:
		return 45 // NTAG213
	case 0x3E:
		return 135 // NTAG215
	case 0x6D:
		return 231 // NTAG216
	default:
		return firstUserPage + int(size)*8/pageSize
	}
}
