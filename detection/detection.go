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

// Package detection finds ST25R39xx readers attached to the host. Transport
// specific detectors register themselves on import.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// Detection errors
var (
	ErrNoDevicesFound      = errors.New("no devices found")
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
	ErrDetectionTimeout    = errors.New("detection timeout")
)

// Mode controls how intrusive detection is
type Mode int

const (
	// Passive only enumerates buses and never talks to a device.
	Passive Mode = iota
	// Safe reads the IC identity register at the default addresses.
	Safe
	// Full reads the IC identity register on every candidate.
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence rates how certain a detector is about a device
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// DeviceInfo describes a detected reader
type DeviceInfo struct {
	Metadata   map[string]string
	Transport  string
	Path       string
	Name       string
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s %s (%s confidence)", d.Transport, d.Path, d.Confidence)
}

// Options configures detection
type Options struct {
	// IgnorePaths lists device paths that are never reported or probed
	IgnorePaths []string
	// Timeout bounds the whole detection
	Timeout time.Duration
	// Mode controls probing
	Mode Mode
}

// DefaultOptions returns the default detection options
func DefaultOptions() Options {
	return Options{
		Mode:    Safe,
		Timeout: 5 * time.Second,
	}
}

// Detector finds devices on one transport
type Detector interface {
	// Transport returns the transport name, e.g. "spi"
	Transport() string
	// Detect returns the devices found on this transport
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

var (
	detectorsMu sync.RWMutex
	detectors   []Detector
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	detectors = append(detectors, d)
}

func registered() []Detector {
	detectorsMu.RLock()
	defer detectorsMu.RUnlock()
	return append([]Detector(nil), detectors...)
}

// DetectAll runs every registered detector
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	return DetectAllContext(context.Background(), opts)
}

// DetectAllContext runs every registered detector within ctx and opts.Timeout.
// Devices are ordered by confidence, highest first.
func DetectAllContext(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var devices []DeviceInfo
	for _, d := range registered() {
		if ctx.Err() != nil {
			if len(devices) > 0 {
				break
			}
			return nil, ErrDetectionTimeout
		}
		found, err := d.Detect(ctx, opts)
		if err != nil {
			continue
		}
		for _, dev := range found {
			if !IsPathIgnored(dev.Path, opts.IgnorePaths) {
				devices = append(devices, dev)
			}
		}
	}

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Confidence > devices[j].Confidence
	})
	return devices, nil
}

// DetectByTransport runs only the detector for transport
func DetectByTransport(ctx context.Context, transport string, opts *Options) ([]DeviceInfo, error) {
	for _, d := range registered() {
		if d.Transport() == transport {
			return d.Detect(ctx, opts)
		}
	}
	return nil, fmt.Errorf("no detector for transport %q", transport)
}

// ProbeIdentity reads the IC identity register through tx and reports
// whether it identifies an ST25R3916. tx must perform one half duplex
// register bus transfer.
func ProbeIdentity(tx func(w, r []byte) error) (id byte, ok bool) {
	var r [1]byte
	if err := tx([]byte{regs.ModeReadReg | regs.ICIdentity.Addr()}, r[:]); err != nil {
		return 0, false
	}
	return r[0], r[0]>>3 == regs.ICTypeST25R3916
}
