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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	st25r39 "github.com/ZaparooProject/go-st25r39"
	"github.com/ZaparooProject/go-st25r39/detection"
	// Import all detectors to register them
	_ "github.com/ZaparooProject/go-st25r39/detection/i2c"
	_ "github.com/ZaparooProject/go-st25r39/detection/spi"
	"github.com/ZaparooProject/go-st25r39/polling"
	"github.com/ZaparooProject/go-st25r39/tagops"
	"github.com/ZaparooProject/go-st25r39/transport/gpioirq"
	"github.com/ZaparooProject/go-st25r39/transport/i2c"
	"github.com/ZaparooProject/go-st25r39/transport/spi"
)

type config struct {
	spiPort      *string
	i2cBus       *string
	irqPin       *string
	timeout      *time.Duration
	pollInterval *time.Duration
	debug        *bool
	monitor      *bool
}

func parseFlags() *config {
	cfg := &config{
		spiPort: flag.String("spi", "", "SPI port of the reader (e.g. /dev/spidev0.0). Leave empty for auto-detection."),
		i2cBus:  flag.String("i2c", "", "I2C bus of the reader (e.g. /dev/i2c-1)"),
		irqPin:  flag.String("irq", "GPIO25", "GPIO pin wired to the IRQ output"),
		timeout: flag.Duration("timeout", 30*time.Second, "Timeout for tag detection"),
		pollInterval: flag.Duration("poll-interval", 100*time.Millisecond,
			"Polling interval in monitor mode"),
		debug:   flag.Bool("debug", false, "Enable debug output"),
		monitor: flag.Bool("monitor", false, "Keep reporting tags until interrupted"),
	}
	flag.Parse()

	if *cfg.debug {
		st25r39.SetDebugEnabled(true)
	}
	return cfg
}

// openTransport opens the bus of a detected or named device together with
// the IRQ line
func openTransport(info detection.DeviceInfo, irqPin string) (st25r39.Transport, st25r39.InterruptLine, error) {
	var (
		transport st25r39.Transport
		err       error
	)
	switch strings.ToLower(info.Transport) {
	case "spi":
		transport, err = spi.New(info.Path, 0)
	case "i2c":
		transport, err = i2c.New(info.Path)
	default:
		return nil, nil, fmt.Errorf("unsupported transport type: %s", info.Transport)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s transport: %w", info.Transport, err)
	}

	line, err := gpioirq.Open(irqPin)
	if err != nil {
		_ = transport.Close()
		return nil, nil, fmt.Errorf("failed to open IRQ line: %w", err)
	}
	return transport, line, nil
}

func connectToDevice(ctx context.Context, cfg *config) (*st25r39.Device, error) {
	factory := func(info detection.DeviceInfo) (st25r39.Transport, st25r39.InterruptLine, error) {
		return openTransport(info, *cfg.irqPin)
	}

	var info detection.DeviceInfo
	switch {
	case *cfg.spiPort != "":
		info = detection.DeviceInfo{Transport: "spi", Path: *cfg.spiPort}
	case *cfg.i2cBus != "":
		info = detection.DeviceInfo{Transport: "i2c", Path: *cfg.i2cBus}
	default:
		_, _ = fmt.Println("Auto-detecting ST25R39 devices...")
		device, err := st25r39.ConnectDevice(ctx, factory, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ST25R39 device: %w", err)
		}
		return device, nil
	}

	_, _ = fmt.Printf("Opening device: %s\n", info)
	transport, line, err := factory(info)
	if err != nil {
		return nil, err
	}
	device, err := st25r39.New(transport, line)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.InitContext(ctx); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	return device, nil
}

func printTag(ctx context.Context, device *st25r39.Device, h st25r39.CardHandle) error {
	ops, err := tagops.New(ctx, device, h)
	if err != nil {
		return fmt.Errorf("failed to inspect tag: %w", err)
	}
	info, err := ops.GetTagInfo()
	if err != nil {
		return fmt.Errorf("failed to inspect tag: %w", err)
	}

	card := ops.Card()
	_, _ = fmt.Printf("\n=== %s ===\n", info.TypeName)
	_, _ = fmt.Printf("UID:  %s\n", card.UIDString())
	_, _ = fmt.Printf("ATQA: %02X %02X\n", card.ATQA[0], card.ATQA[1])
	_, _ = fmt.Printf("SAK:  %02X\n", card.SAK)
	switch {
	case info.NTAGType != "":
		_, _ = fmt.Printf("Chip: %s, %d bytes user memory\n", info.NTAGType, info.UserMemory)
	case info.MIFAREType != "":
		_, _ = fmt.Printf("Chip: %s, %d sectors\n", info.MIFAREType, info.Sectors)
	}

	if ops.Type() == tagops.TagTypeISODEP {
		ats, err := device.ActivateISODEP(ctx, h)
		if err != nil {
			return fmt.Errorf("failed to activate ISO-DEP: %w", err)
		}
		_, _ = fmt.Printf("ATS:  FSC %d, FWT %s\n", ats.FSC, ats.FWT())
		return nil
	}
	if !ops.IsNDEFCapable() {
		return nil
	}

	msg, err := ops.ReadNDEF(ctx)
	switch {
	case errors.Is(err, tagops.ErrNoNDEF):
		_, _ = fmt.Println("NDEF: empty")
		return nil
	case err != nil:
		return fmt.Errorf("failed to read NDEF: %w", err)
	}
	for i, record := range msg.Records {
		_, _ = fmt.Printf("NDEF record %d: type %s\n", i, record.Type())
	}
	return nil
}

// waitForTag polls until a card answers or ctx ends
func waitForTag(ctx context.Context, device *st25r39.Device, interval time.Duration) error {
	for {
		h, err := device.PollForCard(ctx)
		switch {
		case err != nil && ctx.Err() == nil && st25r39.IsRetryable(err):
		case err != nil:
			return fmt.Errorf("tag detection failed: %w", err)
		case h != nil:
			defer func() { _ = device.Release(context.Background(), *h) }()
			return printTag(ctx, device, *h)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func runMonitor(ctx context.Context, device *st25r39.Device, interval time.Duration) error {
	pollCfg := polling.DefaultConfig()
	pollCfg.PollInterval = interval
	monitor := polling.NewMonitor(device, pollCfg)
	monitor.OnCardDetected = func(ctx context.Context, ev polling.Event) error {
		return printTag(ctx, device, ev.Handle)
	}
	monitor.OnCardChanged = monitor.OnCardDetected
	monitor.OnCardRemoved = func(last polling.Event) {
		_, _ = fmt.Printf("Tag %s removed - ready for next tag...\n", last.Card.UIDString())
	}

	err := monitor.Start(ctx)
	metrics := monitor.GetMetrics()
	_, _ = fmt.Printf("\n%d poll cycles, %d cards detected, %d removed\n",
		metrics.PollCycles, metrics.CardsDetected, metrics.CardsRemoved)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	device, err := connectToDevice(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to connect to device: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = device.Close() }()

	if *cfg.monitor {
		_, _ = fmt.Println("Monitoring tags, press Ctrl-C to stop...")
		err = runMonitor(ctx, device, *cfg.pollInterval)
	} else {
		_, _ = fmt.Printf("Waiting for NFC tag (timeout: %s)...\n", *cfg.timeout)
		waitCtx, cancel := context.WithTimeout(ctx, *cfg.timeout)
		err = waitForTag(waitCtx, device, *cfg.pollInterval)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			_, _ = fmt.Printf("timeout: no tag detected within %s\n", *cfg.timeout)
			err = nil
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
