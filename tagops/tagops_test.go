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
	"testing"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	testutil "github.com/ZaparooProject/go-st25r39/internal/testing"
	"github.com/hsanjuan/go-ndef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectTag(t *testing.T, tag *testutil.VirtualTag) (*TagOperations, *st25r39.Device) {
	t.Helper()
	chip := testutil.NewChip(tag)
	device, err := st25r39.New(st25r39.NewMockTransport(chip), chip)
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	t.Cleanup(func() { _ = device.Close() })

	h, err := device.PollForCard(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	ops, err := New(context.Background(), device, *h)
	require.NoError(t, err)
	return ops, device
}

func TestDetectTagType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		card st25r39.Card
		want TagType
	}{
		{name: "ntag", card: st25r39.Card{ATQA: [2]byte{0x44, 0x00}, SAK: 0x00}, want: TagTypeNTAG},
		{name: "classic 1k", card: st25r39.Card{ATQA: [2]byte{0x04, 0x00}, SAK: 0x08}, want: TagTypeMIFARE},
		{name: "classic 4k", card: st25r39.Card{ATQA: [2]byte{0x02, 0x00}, SAK: 0x18}, want: TagTypeMIFARE},
		{name: "iso-dep", card: st25r39.Card{ATQA: [2]byte{0x04, 0x00}, SAK: 0x20}, want: TagTypeISODEP},
		{name: "dual interface", card: st25r39.Card{SAK: 0x28}, want: TagTypeISODEP},
		{name: "unknown", card: st25r39.Card{ATQA: [2]byte{0x04, 0x00}, SAK: 0x00}, want: TagTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectTagType(tt.card))
		})
	}
}

func TestTotalPagesFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 45, totalPagesFor(0x12))
	assert.Equal(t, 135, totalPagesFor(0x3E))
	assert.Equal(t, 231, totalPagesFor(0x6D))
	assert.Equal(t, 16, totalPagesFor(0x06))
	assert.Equal(t, 12, totalPagesFor(0x04))
}

func TestGetTagInfo(t *testing.T) {
	t.Parallel()

	ops, _ := selectTag(t, testutil.NewVirtualNTAG213(nil))
	info, err := ops.GetTagInfo()
	require.NoError(t, err)
	assert.Equal(t, "NTAG213", info.NTAGType)
	assert.Equal(t, 45, info.TotalPages)
	assert.Equal(t, 164, info.UserMemory)
	assert.Equal(t, testutil.TestUID7, info.UID)
	assert.True(t, ops.IsNDEFCapable())

	classic, _ := selectTag(t, testutil.NewVirtualTag(testutil.TestUID4, 0x08))
	info, err = classic.GetTagInfo()
	require.NoError(t, err)
	assert.Equal(t, "MIFARE Classic 1K", info.MIFAREType)
	assert.False(t, classic.IsNDEFCapable())
	_, err = classic.ReadNDEF(context.Background())
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestReadNDEF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup    func(*testutil.VirtualTag) error
		name     string
		wantType string
	}{
		{name: "text", setup: func(v *testutil.VirtualTag) error { return v.SetNDEFText("hello") }, wantType: "T"},
		{
			name: "uri", wantType: "U",
			setup: func(v *testutil.VirtualTag) error { return v.SetNDEFURI("https://zaparoo.org/launch") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tag := testutil.NewVirtualNTAG213(nil)
			require.NoError(t, tt.setup(tag))
			ops, _ := selectTag(t, tag)

			msg, err := ops.ReadNDEF(context.Background())
			require.NoError(t, err)
			require.Len(t, msg.Records, 1)
			assert.Equal(t, tt.wantType, msg.Records[0].Type())
		})
	}
}

func TestReadNDEFLongMessage(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualNTAG213(nil)
	text := "a message long enough to need several page reads across the user area"
	require.NoError(t, tag.SetNDEF(ndef.NewTextMessage(text, "en")))
	ops, _ := selectTag(t, tag)

	raw, err := ops.ReadNDEFRaw(context.Background())
	require.NoError(t, err)
	want, err := ndef.NewTextMessage(text, "en").Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, raw)
}

func TestReadNDEFEmpty(t *testing.T) {
	t.Parallel()

	ops, _ := selectTag(t, testutil.NewVirtualNTAG213(nil))
	_, err := ops.ReadNDEF(context.Background())
	require.ErrorIs(t, err, ErrNoNDEF)
}

func TestNewWithStaleHandle(t *testing.T) {
	t.Parallel()

	ops, device := selectTag(t, testutil.NewVirtualNTAG213(nil))
	require.NoError(t, device.Release(context.Background(), ops.handle))

	_, err := New(context.Background(), device, ops.handle)
	require.ErrorIs(t, err, ErrNoTag)
	require.ErrorIs(t, err, st25r39.ErrStaleHandle)

	_, err = ops.ReadPages(context.Background(), 4)
	require.ErrorIs(t, err, st25r39.ErrStaleHandle)
}

func TestFindNDEF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		area    []byte
		want    []byte
		done    bool
	}{
		{name: "simple", area: []byte{0x03, 0x02, 0xAA, 0xBB, 0xFE}, want: []byte{0xAA, 0xBB}, done: true},
		{name: "after null and lock", area: []byte{0x00, 0x01, 0x03, 0xA0, 0x0C, 0x34, 0x03, 0x01, 0x42}, want: []byte{0x42}, done: true},
		{name: "long length", area: append([]byte{0x03, 0xFF, 0x00, 0x02}, 0x01, 0x02), want: []byte{0x01, 0x02}, done: true},
		{name: "terminator first", area: []byte{0xFE, 0x03}, done: true, wantErr: ErrNoNDEF},
		{name: "unknown tlv", area: []byte{0x42, 0x00}, done: true, wantErr: ErrInvalidTLV},
		{name: "needs more data", area: []byte{0x03, 0x05, 0x01}},
		{name: "length split", area: []byte{0x03, 0xFF, 0x00}},
		{name: "empty", area: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, done, err := findNDEF(tt.area)
			assert.Equal(t, tt.done, done)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestCompareUID(t *testing.T) {
	t.Parallel()
	assert.True(t, CompareUID([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, CompareUID([]byte{1, 2}, []byte{1, 3}))
	assert.Equal(t, "ISO-DEP", TagTypeISODEP.String())
}
