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

//go:build linux

package i2c

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-st25r39/detection"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func detectPlatform(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	refs := i2creg.All()
	if len(refs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	devices := make([]detection.DeviceInfo, 0, len(refs))
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			if len(devices) > 0 {
				return devices, nil
			}
			return nil, detection.ErrDetectionTimeout
		default:
		}

		device, ok := probeBus(ref, opts)
		if ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// probeBus checks the default address on one bus
func probeBus(ref *i2creg.Ref, opts *detection.Options) (detection.DeviceInfo, bool) {
	busPath := busPathOf(ref)
	devicePath := fmt.Sprintf("%s:0x%02X", busPath, DefaultAddress)
	if detection.IsPathIgnored(devicePath, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  "i2c",
		Path:       devicePath,
		Name:       fmt.Sprintf("ST25R39xx on %s", ref.Name),
		Confidence: detection.Low,
		Metadata: map[string]string{
			"bus":     ref.Name,
			"address": fmt.Sprintf("0x%02X", DefaultAddress),
		},
	}
	if opts.Mode == detection.Passive {
		return device, true
	}

	bus, err := ref.Open()
	if err != nil {
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = bus.Close() }()

	dev := &i2c.Dev{Addr: DefaultAddress, Bus: bus}
	id, ok := detection.ProbeIdentity(dev.Tx)
	if !ok {
		if opts.Mode == detection.Full && id != 0 {
			// Something answered at the address
			device.Metadata["ic_identity"] = fmt.Sprintf("0x%02X", id)
			return device, true
		}
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	device.Metadata["ic_identity"] = fmt.Sprintf("0x%02X", id)
	return device, true
}

func busPathOf(ref *i2creg.Ref) string {
	if ref.Number >= 0 {
		return fmt.Sprintf("/dev/i2c-%d", ref.Number)
	}
	return ref.Name
}
