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

package st25r39

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/ZaparooProject/go-st25r39/detection"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// Poll configures card discovery
	Poll *PollConfig
	// Field configures the front end applied by Init
	Field FieldConfig
	// Timeout is the default response timeout of Exchange
	Timeout time.Duration
	// FIFOSize is the FIFO capacity of the chip
	FIFOSize int
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Poll:     DefaultPollConfig(),
		Field:    DefaultFieldConfig(),
		Timeout:  100 * time.Millisecond,
		FIFOSize: DefaultFIFOSize,
	}
}

// Device represents an ST25R39xx reader
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. Overlapping
// operations are detected and fail with ErrBusy rather than being queued.
type Device struct {
	transport Transport
	line      InterruptLine
	config    *DeviceConfig
	ctrl      *Controller
	poller    *Poller
	session   *Session
}

// New creates a new device on transport. line delivers the chip's IRQ edges
// and may be nil, in which case the interrupt status is polled.
func New(transport Transport, line InterruptLine, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	device := &Device{
		transport: transport,
		line:      line,
		config:    DefaultDeviceConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	device.ctrl = NewController(transport, line, device.config.FIFOSize)
	device.poller = NewPoller(device.ctrl, device.config.Poll)
	device.session = NewSession(device.poller)
	return device, nil
}

// TransportFactory creates a transport and its interrupt line for a detected device
type TransportFactory func(device detection.DeviceInfo) (Transport, InterruptLine, error)

// ConnectDevice detects a reader with opts, opens it through factory and
// initializes it.
func ConnectDevice(ctx context.Context, factory TransportFactory, opts *detection.Options,
	deviceOpts ...Option,
) (*Device, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}
	if opts == nil {
		defaults := detection.DefaultOptions()
		opts = &defaults
	}

	devices, err := detection.DetectAllContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no ST25R39 devices found")
	}

	transport, line, err := factory(devices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %s: %w", devices[0].Path, err)
	}
	device, err := New(transport, line, deviceOpts...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.InitContext(ctx); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Controller returns the reader IC controller
func (d *Device) Controller() *Controller {
	return d.ctrl
}

// Init resets the chip and applies the field configuration
func (d *Device) Init() error {
	return d.InitContext(context.Background())
}

// InitContext resets the chip and applies the field configuration
func (d *Device) InitContext(ctx context.Context) error {
	if err := d.ctrl.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset chip: %w", err)
	}
	if err := d.ctrl.Configure(ctx, d.config.Field); err != nil {
		return fmt.Errorf("failed to configure chip: %w", err)
	}
	return nil
}

// SetField switches the RF field. Switching it off invalidates every card
// handle.
func (d *Device) SetField(ctx context.Context, on bool) error {
	fc := d.config.Field
	fc.FieldOn = on
	if err := d.ctrl.Configure(ctx, fc); err != nil {
		return fmt.Errorf("failed to switch field: %w", err)
	}
	d.config.Field.FieldOn = on
	return nil
}

// SetTimeout sets the default response timeout of Exchange
func (d *Device) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout %v", ErrInvalidParameter, timeout)
	}
	d.config.Timeout = timeout
	return nil
}

// SetPollConfig sets the discovery configuration
func (d *Device) SetPollConfig(config *PollConfig) error {
	if config == nil {
		return ErrInvalidParameter
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid poll config: %w", err)
	}
	d.config.Poll = config.Clone()
	if d.poller != nil {
		return d.poller.SetConfig(config)
	}
	return nil
}

// GetPollConfig returns the current discovery configuration
func (d *Device) GetPollConfig() *PollConfig {
	return d.config.Poll.Clone()
}

// PollForCard looks for a card and selects it. A nil handle and nil error
// mean that no card answered.
func (d *Device) PollForCard(ctx context.Context) (*CardHandle, error) {
	h, err := d.poller.Poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return h, nil
}

// Card returns the card behind h
func (d *Device) Card(h CardHandle) (Card, error) {
	card, err := d.poller.card(h)
	if err != nil {
		return Card{}, err
	}
	card.UID = slices.Clone(card.UID)
	return card, nil
}

// Exchange sends data to the card behind h and returns its answer. Cards
// activated with ActivateISODEP are given their frame waiting time, others
// the configured timeout.
func (d *Device) Exchange(ctx context.Context, h CardHandle, data []byte) ([]byte, error) {
	timeout := d.config.Timeout
	if fwt := d.session.FrameWaitingTime(h); fwt > 0 {
		timeout = fwt
	}
	return d.ExchangeWithTimeout(ctx, h, data, timeout)
}

// ExchangeWithTimeout is Exchange with an explicit response timeout
func (d *Device) ExchangeWithTimeout(ctx context.Context, h CardHandle, data []byte,
	timeout time.Duration,
) ([]byte, error) {
	resp, err := d.session.Exchange(ctx, h, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	return resp, nil
}

// ActivateISODEP switches the card behind h to ISO/IEC 14443-4. Later
// exchanges are framed as I-blocks.
func (d *Device) ActivateISODEP(ctx context.Context, h CardHandle) (ATS, error) {
	return d.session.ActivateISODEP(ctx, h)
}

// Release halts the card behind h. The handle is invalid afterwards.
func (d *Device) Release(ctx context.Context, h CardHandle) error {
	return d.session.Halt(ctx, h)
}

// Close switches the field off and closes the transport
func (d *Device) Close() error {
	if d.ctrl != nil && d.ctrl.FieldOn() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := d.SetField(ctx, false); err != nil {
			debugf("field off on close failed: %v", err)
		}
		cancel()
	}
	if c, ok := d.line.(io.Closer); ok {
		if err := c.Close(); err != nil {
			debugf("closing interrupt line failed: %v", err)
		}
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return nil
}
