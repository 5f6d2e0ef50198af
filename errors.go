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
)

// Transport and contract errors
var (
	// ErrTransport matches every bus transaction failure (see TransportError).
	ErrTransport = errors.New("transport error")
	// ErrReadOnlyRegister is returned when writing a read-only register.
	ErrReadOnlyRegister = errors.New("register is read-only")
	// ErrCapacityExceeded is returned for payloads or receive lengths the FIFO
	// chunking logic cannot service.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrInvalidParameter is returned for malformed arguments.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrBusy is returned when an operation starts while another is outstanding.
	ErrBusy = errors.New("controller busy")
	// ErrUnexpectedChip is returned when the IC identity is not recognised.
	ErrUnexpectedChip = errors.New("unexpected IC identity")
)

// RF errors
var (
	ErrTimeout          = errors.New("operation timeout")
	ErrFraming          = errors.New("framing error")
	ErrMissingParity    = fmt.Errorf("%w: last byte missing parity", ErrFraming)
	ErrCRC              = errors.New("CRC error")
	ErrParity           = errors.New("parity error")
	ErrCollision        = errors.New("collision")
	ErrFIFOOverflow     = errors.New("FIFO overflow")
	ErrFIFOUnderflow    = errors.New("FIFO underflow")
	ErrResponseTooShort = errors.New("response too short")
	ErrResponseTooLong  = errors.New("response too long")
	ErrFieldCollision   = errors.New("external field detected")
	ErrFieldOff         = errors.New("RF field is off")
)

// Protocol errors
var (
	ErrSelectionFailed = errors.New("selection failed")
	ErrStaleHandle     = errors.New("stale card handle")
	ErrHaltRejected    = errors.New("card answered HLTA")
	ErrProtocol        = errors.New("protocol error")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent covers contract violations and parameter errors.
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransport covers bus failures.
	ErrorTypeTransport
	// ErrorTypeTimeout covers missing card responses.
	ErrorTypeTimeout
	// ErrorTypeRF covers corrupted card responses.
	ErrorTypeRF
	// ErrorTypeProtocol covers protocol level rejections.
	ErrorTypeProtocol
)

// String returns the name of the error type
func (t ErrorType) String() string {
	switch t {
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeRF:
		return "rf"
	case ErrorTypeProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// TransportError represents a failed bus transaction
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s on %s: %v", ErrTransport, e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrTransport, e.Op, e.Err)
}

// Unwrap returns the underlying bus error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes every TransportError match ErrTransport
func (*TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError wraps a bus failure
func NewTransportError(op, port string, err error) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      ErrorTypeTransport,
		Retryable: true,
	}
}

// GetErrorType returns the class of err
func GetErrorType(err error) ErrorType {
	var te *TransportError
	switch {
	case err == nil:
		return ErrorTypePermanent
	case errors.As(err, &te):
		return te.Type
	case errors.Is(err, ErrSelectionFailed), errors.Is(err, ErrStaleHandle),
		errors.Is(err, ErrHaltRejected), errors.Is(err, ErrProtocol):
		return ErrorTypeProtocol
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrFraming), errors.Is(err, ErrCRC), errors.Is(err, ErrParity),
		errors.Is(err, ErrCollision), errors.Is(err, ErrFIFOOverflow),
		errors.Is(err, ErrFIFOUnderflow), errors.Is(err, ErrResponseTooShort):
		return ErrorTypeRF
	default:
		return ErrorTypePermanent
	}
}

// IsRetryable reports whether a polling stage may retry after err.
// Timeouts, bus failures and corrupted frames are retryable; contract
// violations, protocol rejections and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	switch GetErrorType(err) {
	case ErrorTypeTimeout, ErrorTypeRF:
		return true
	default:
		return false
	}
}

// IsNoResponse reports whether err means that no card answered, as opposed to
// a corrupted answer.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrTimeout)
}
