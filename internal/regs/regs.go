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

// Package regs holds the ST25R39xx register map, direct command codes and
// interrupt bit assignments shared by the driver and the chip simulator.
package regs

// Register is a register address. Bit 7 selects register space B.
type Register uint8

// Command is a direct command code, including the 0b11 command mode prefix.
type Command uint8

// SpaceB marks registers that live in space B and need the space-B prefix.
const SpaceB Register = 0x80

// SPI operation modes, see table 11 in the ST25R3916 datasheet.
const (
	ModeWriteReg byte = 0b00 << 6
	ModeReadReg  byte = 0b01 << 6
	ModeFIFO     byte = 0b10 << 6
	ModeCommand  byte = 0b11 << 6

	LoadFIFO byte = ModeFIFO | 0b000000
	ReadFIFO byte = ModeFIFO | 0b011111

	// SpaceBAccess prefixes a register access to space B.
	SpaceBAccess byte = 0xfb
)

// Space A registers.
const (
	IOConf1            Register = 0x00
	IOConf2            Register = 0x01
	OpCtrl             Register = 0x02
	ModeDef            Register = 0x03
	BitRate            Register = 0x04
	ISO14443AConf      Register = 0x05
	AuxDef             Register = 0x0a
	RXConf1            Register = 0x0b
	RXConf2            Register = 0x0c
	RXConf3            Register = 0x0d
	RXConf4            Register = 0x0e
	MaskReceiveTimer   Register = 0x0f
	NoResponseTimer1   Register = 0x10
	NoResponseTimer2   Register = 0x11
	TimerEMVCtrl       Register = 0x12
	MaskMainIntr       Register = 0x16
	MaskTimerNFCIntr   Register = 0x17
	MaskErrorIntr      Register = 0x18
	MaskPassiveIntr    Register = 0x19
	MainIntr           Register = 0x1a
	TimerNFCIntr       Register = 0x1b
	ErrorIntr          Register = 0x1c
	PassiveIntr        Register = 0x1d
	FIFOStatus1        Register = 0x1e
	FIFOStatus2        Register = 0x1f
	CollisionStatus    Register = 0x20
	NumTX1             Register = 0x22
	NumTX2             Register = 0x23
	ADConvOut          Register = 0x25
	TXDriver           Register = 0x28
	AuxDisplay         Register = 0x31
	AmplitudeAutoDisp  Register = 0x35
	AmplitudeDisp      Register = 0x36
	PhaseAutoDisp      Register = 0x39
	PhaseDisp          Register = 0x3a
	ICIdentity         Register = 0x3f
	RegulatorDisp      Register = SpaceB | 0x2c
	CorrConf1          Register = SpaceB | 0x0c
	CorrConf2          Register = SpaceB | 0x0d
	ResAMMod           Register = SpaceB | 0x2a
	FieldOnGuardTime   Register = SpaceB | 0x15
	lastSpaceARegister Register = 0x3f
)

// Direct commands, see table 13. Values include the command mode prefix.
const (
	CmdSetDefault         Command = 0xc0
	CmdStopAll            Command = 0xc2
	CmdTransmitWithCRC    Command = 0xc4
	CmdTransmitWithoutCRC Command = 0xc5
	CmdTransmitREQA       Command = 0xc6
	CmdTransmitWUPA       Command = 0xc7
	CmdInitialFieldOn     Command = 0xc8
	CmdGotoSense          Command = 0xcd
	CmdGotoSleep          Command = 0xce
	CmdResetRXGain        Command = 0xd5
	CmdAdjustRegulator    Command = 0xd6
	CmdClearFIFO          Command = 0xdb
)

// Operation control bits.
const (
	OpCtrlRxEn byte = 1 << 6
	OpCtrlTxEn byte = 1 << 3
	OpCtrlEn   byte = 1 << 7
)

// Mode definition values.
const (
	ModeISO14443A byte = 1 << 3
)

// ISO14443A configuration bits.
const (
	ISO14443AAntcl byte = 1 << 0
)

// Auxiliary definition bits.
const (
	AuxNoCRCRx byte = 1 << 7
)

// Receiver configuration 2 bits.
const (
	RXConf2SqmDyn byte = 1 << 5
	RXConf2AgcEn  byte = 1 << 3
	RXConf2AgcM   byte = 1 << 2
	RXConf2Agc63  byte = 1 << 0
)

// Correlator configuration 1 bits.
const (
	CorrConf1Base byte = 0x13
	CorrConf1S6   byte = 1 << 6
)

// Timer and EMV control bits.
const (
	// TimerNRTStep selects the 4096/fc step of the no-response timer
	// instead of 64/fc.
	TimerNRTStep byte = 1 << 0
)

// FIFO status 2 bits.
const (
	FIFOStatusNpLb     byte = 1 << 0
	FIFOStatusOverflow byte = 1 << 4
	FIFOStatusUnderflw byte = 1 << 5
	FIFOStatusCountHi  byte = 0b11 << 6
)

// Auxiliary display bits.
const (
	AuxDisplayOscOK byte = 1 << 4
)

// ICTypeST25R3916 is the ic_type field (bits 7:3) of the IC identity register.
const ICTypeST25R3916 byte = 0b00101

// Interrupt bits as laid out in the combined 32 bit interrupt word:
// main | timer<<8 | error<<16 | passive<<24.
const (
	IntrCol   uint32 = 1 << 2
	IntrTxe   uint32 = 1 << 3
	IntrRxe   uint32 = 1 << 4
	IntrRxs   uint32 = 1 << 5
	IntrWL    uint32 = 1 << 6
	IntrOsc   uint32 = 1 << 7
	IntrCat   uint32 = 1 << (8 + 1)
	IntrCac   uint32 = 1 << (8 + 2)
	IntrNre   uint32 = 1 << (8 + 6)
	IntrDct   uint32 = 1 << (8 + 7)
	IntrErr1  uint32 = 1 << (16 + 4)
	IntrErr2  uint32 = 1 << (16 + 5)
	IntrPar   uint32 = 1 << (16 + 6)
	IntrCRC   uint32 = 1 << (16 + 7)
	IntrWuA   uint32 = 1 << (24 + 0)
	IntrWuAX  uint32 = 1 << (24 + 1)
	IntrAll   uint32 = 0xffffffff
)

// MaxTxBytes is the largest frame the NumTX registers can describe.
const MaxTxBytes = 1<<13 - 1

// Access describes how the host may access a register.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
)

var readOnly = map[Register]bool{
	MainIntr:          true,
	TimerNFCIntr:      true,
	ErrorIntr:         true,
	PassiveIntr:       true,
	FIFOStatus1:       true,
	FIFOStatus2:       true,
	CollisionStatus:   true,
	ADConvOut:         true,
	AuxDisplay:        true,
	AmplitudeAutoDisp: true,
	AmplitudeDisp:     true,
	PhaseAutoDisp:     true,
	PhaseDisp:         true,
	ICIdentity:        true,
	RegulatorDisp:     true,
}

// AccessOf returns the access mode of reg.
func AccessOf(reg Register) Access {
	if readOnly[reg] {
		return ReadOnly
	}
	return ReadWrite
}

// ReadOnlyRegisters lists every register the host must never write.
func ReadOnlyRegisters() []Register {
	out := make([]Register, 0, len(readOnly))
	for reg := range readOnly {
		out = append(out, reg)
	}
	return out
}

// IsSpaceB reports whether reg lives in register space B.
func (r Register) IsSpaceB() bool {
	return r&SpaceB != 0
}

// Addr returns the 6 bit address used on the wire.
func (r Register) Addr() byte {
	return byte(r &^ SpaceB)
}

// Valid reports whether the address fits the register space.
func (r Register) Valid() bool {
	return Register(r.Addr()) <= lastSpaceARegister
}

// EncodeNumTX encodes a transmit length as the NumTX1/NumTX2 pair: the
// complete byte count in bits 12:0 shifted left by three, followed by the
// number of valid bits in a trailing partial byte.
func EncodeNumTX(bytes int, bits byte) (hi, lo byte) {
	if bits > 0 {
		bytes--
	}
	return byte(bytes >> 5), byte((bytes&0b11111)<<3) | bits&0b111
}

// DecodeNumTX reverses EncodeNumTX and returns the total bit count.
func DecodeNumTX(hi, lo byte) int {
	bytes := int(hi)<<5 | int(lo>>3)
	return bytes*8 + int(lo&0b111)
}

// EncodeCollision encodes a collision position as the collision status
// register does: byte index in bits 7:4 and bit index in bits 3:1.
func EncodeCollision(bitPos int) byte {
	return byte(bitPos/8)<<4 | byte(bitPos%8)<<1
}

// DecodeCollision returns the absolute bit position of a collision.
func DecodeCollision(v byte) int {
	return int(v>>4)*8 + int(v>>1&0b111)
}

// FIFOCount decodes the number of bytes held in the FIFO.
func FIFOCount(status1, status2 byte) int {
	return int(status2&FIFOStatusCountHi)<<2 | int(status1)
}
