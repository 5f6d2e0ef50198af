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

package detection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer byte
		err    error
		wantOK bool
	}{
		{name: "st25r3916", answer: 0x2A, wantOK: true},
		{name: "st25r3916 other revision", answer: 0x29, wantOK: true},
		{name: "other chip", answer: 0x10},
		{name: "floating bus", answer: 0xFF},
		{name: "bus error", err: errors.New("nack")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var sent []byte
			tx := func(w, r []byte) error {
				sent = append([]byte(nil), w...)
				if tt.err != nil {
					return tt.err
				}
				r[0] = tt.answer
				return nil
			}
			_, ok := ProbeIdentity(tx)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, []byte{0x7F}, sent)
		})
	}
}

type stubDetector struct {
	transport string
	devices   []DeviceInfo
	err       error
}

func (s stubDetector) Transport() string { return s.transport }

func (s stubDetector) Detect(context.Context, *Options) ([]DeviceInfo, error) {
	return s.devices, s.err
}

func TestModeAndConfidenceString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "low", Low.String())
}

//nolint:paralleltest // mutates the detector registry
func TestDetectAllOrdersAndFilters(t *testing.T) {
	saved := registered()
	t.Cleanup(func() {
		detectorsMu.Lock()
		detectors = saved
		detectorsMu.Unlock()
	})
	detectorsMu.Lock()
	detectors = nil
	detectorsMu.Unlock()

	RegisterDetector(stubDetector{transport: "i2c", devices: []DeviceInfo{
		{Transport: "i2c", Path: "/dev/i2c-1:0x50", Confidence: Medium},
		{Transport: "i2c", Path: "/dev/i2c-2:0x50", Confidence: High},
	}})
	RegisterDetector(stubDetector{transport: "spi", err: ErrUnsupportedPlatform})
	RegisterDetector(stubDetector{transport: "spi2", devices: []DeviceInfo{
		{Transport: "spi", Path: "/dev/spidev0.0", Confidence: Low},
	}})

	opts := DefaultOptions()
	opts.IgnorePaths = []string{"/dev/i2c-1"}
	devices, err := DetectAll(&opts)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "/dev/i2c-2:0x50", devices[0].Path)
	assert.Equal(t, "/dev/spidev0.0", devices[1].Path)

	_, err = DetectByTransport(context.Background(), "uart", &opts)
	require.Error(t, err)

	opts.IgnorePaths = []string{"/dev/i2c-1", "/dev/i2c-2", "/dev/spidev0.0"}
	_, err = DetectAll(&opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
}
