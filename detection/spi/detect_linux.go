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

package spi

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-st25r39/detection"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const probeFrequency = physic.MegaHertz

func detectPlatform(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	refs := spireg.All()
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

		if device, ok := probePort(ref, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func probePort(ref *spireg.Ref, opts *detection.Options) (detection.DeviceInfo, bool) {
	path := devicePath(ref)
	if detection.IsPathIgnored(path, opts.IgnorePaths) || detection.IsPathIgnored(ref.Name, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}
	if strings.HasPrefix(path, "/dev/") && unix.Access(path, unix.R_OK|unix.W_OK) != nil {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       path,
		Name:       fmt.Sprintf("ST25R39xx on %s", ref.Name),
		Confidence: detection.Low,
		Metadata:   map[string]string{"port": ref.Name},
	}
	if opts.Mode == detection.Passive {
		return device, true
	}

	port, err := ref.Open()
	if err != nil {
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = port.Close() }()

	c, err := port.Connect(probeFrequency, spi.Mode1, 8)
	if err != nil {
		return detection.DeviceInfo{}, false
	}
	id, ok := detection.ProbeIdentity(halfDuplex(c.Tx))
	if !ok {
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	device.Metadata["ic_identity"] = fmt.Sprintf("0x%02X", id)
	return device, true
}

// devicePath prefers the /dev alias of a port
func devicePath(ref *spireg.Ref) string {
	for _, alias := range ref.Aliases {
		if strings.HasPrefix(alias, "/dev/") {
			return alias
		}
	}
	return ref.Name
}
