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

/*
Package st25r39 provides a pure Go driver for ST25R3916 and ST25R3917 NFC
reader ICs acting as ISO/IEC 14443 Type A readers.

The host talks to the chip through its register interface over SPI or I2C.
The driver keeps the chip's FIFO fed and drained for frames of any length,
runs the Type A discovery (REQA/WUPA, cascaded anticollision and select)
and hands out card handles that stop resolving once the card is halted,
replaced by another selection or lost with the field.

Features:
  - SPI and I2C transports on periph.io, with a GPIO IRQ line
  - Frames larger than the FIFO, streamed with the water level interrupts
  - Bit-oriented anticollision with deterministic tie-breaking
  - ISO-DEP (ISO/IEC 14443-4) activation and block framing
  - Bus auto-detection by the IC identity register
  - NDEF reading from NFC Forum Type 2 tags (package tagops)
  - Card presence monitoring (package polling)

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-st25r39"
	    "github.com/ZaparooProject/go-st25r39/transport/gpioirq"
	    "github.com/ZaparooProject/go-st25r39/transport/spi"
	)

	transport, err := spi.New("/dev/spidev0.0", 0)
	if err != nil {
	    log.Fatal(err)
	}
	irq, err := gpioirq.Open("GPIO25")
	if err != nil {
	    log.Fatal(err)
	}

	device, err := st25r39.New(transport, irq,
	    st25r39.WithTimeout(50*time.Millisecond),
	    st25r39.WithMaxRetries(3),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer device.Close()

	if err := device.InitContext(ctx); err != nil {
	    log.Fatal(err)
	}

	h, err := device.PollForCard(ctx)
	if err != nil {
	    log.Fatal(err)
	}
	if h != nil {
	    card, _ := device.Card(*h)
	    fmt.Printf("Card detected: %s\n", card)

	    // READ of pages 4-7 of a Type 2 tag
	    data, err := device.Exchange(ctx, *h, []byte{0x30, 0x04})
	    if err != nil {
	        log.Fatal(err)
	    }
	    fmt.Printf("% X\n", data)

	    _ = device.Release(ctx, *h)
	}

Error Handling:

RF failures are reported as distinct errors that can be inspected:

	switch {
	case errors.Is(err, st25r39.ErrTimeout):
	    // no answer within the frame waiting time
	case errors.Is(err, st25r39.ErrCRC), errors.Is(err, st25r39.ErrParity):
	    // garbled answer, usually worth a retry
	case st25r39.GetErrorType(err) == st25r39.ErrorTypeTransport:
	    // the bus to the chip failed
	}

Thread Safety:

Device operations are not thread-safe. An operation started while another
one is in flight fails with ErrBusy.
*/
package st25r39
