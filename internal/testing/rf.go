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

package testing

import (
	"bytes"

	"github.com/ZaparooProject/go-st25r39/internal/iso14443"
	"github.com/ZaparooProject/go-st25r39/internal/regs"
)

// txState tracks a transmission waiting for FIFO data
type txState struct {
	frame  []byte
	cmd    regs.Command
	bits   int
	active bool
}

// rxState tracks an answer larger than the FIFO
type rxState struct {
	pending []byte
	extra   uint32
	flags   byte
	active  bool
}

// answer is what the RF side returns for one frame
type answer struct {
	data      []byte
	collision int // absolute frame bit, -1 without collision
	crc       bool
}

func (c *Chip) startTransmit(cmd regs.Command) {
	c.rx = rxState{}
	c.tx = txState{cmd: cmd, active: true}
	switch cmd {
	case regs.CmdTransmitREQA:
		c.tx.frame, c.tx.bits = []byte{iso14443.ReqA}, iso14443.ShortFrameBits
		c.finishTransmit()
		return
	case regs.CmdTransmitWUPA:
		c.tx.frame, c.tx.bits = []byte{iso14443.WupA}, iso14443.ShortFrameBits
		c.finishTransmit()
		return
	}
	c.tx.bits = regs.DecodeNumTX(c.regsA[regs.NumTX1], c.regsA[regs.NumTX2])
	c.consumeTX()
}

// consumeTX moves FIFO bytes into the frame on air. A frame longer than the
// FIFO content raises the water level interrupt and waits for more data.
func (c *Chip) consumeTX() {
	want := (c.tx.bits + 7) / 8
	n := min(len(c.fifo), want-len(c.tx.frame))
	c.tx.frame = append(c.tx.frame, c.fifo[:n]...)
	c.fifo = c.fifo[n:]
	if len(c.tx.frame) < want {
		c.raise(regs.IntrWL)
		return
	}
	c.finishTransmit()
}

func (c *Chip) finishTransmit() {
	tx := c.tx
	c.tx = txState{}
	c.raise(regs.IntrTxe)
	if !c.fieldOn() {
		c.noAnswer()
		return
	}

	var ans *answer
	switch {
	case tx.cmd == regs.CmdTransmitREQA || tx.cmd == regs.CmdTransmitWUPA:
		ans = c.request(tx.cmd == regs.CmdTransmitWUPA)
	case tx.cmd == regs.CmdTransmitWithoutCRC && c.regsA[regs.ISO14443AConf]&regs.ISO14443AAntcl != 0:
		ans = c.anticollision(tx.frame, tx.bits)
	case tx.cmd == regs.CmdTransmitWithCRC:
		ans = c.standard(tx.frame)
	}
	if ans == nil {
		c.noAnswer()
		return
	}
	c.deliver(tx.frame, ans)
}

func (c *Chip) noAnswer() {
	nrt := uint16(c.regsA[regs.NoResponseTimer1])<<8 | uint16(c.regsA[regs.NoResponseTimer2])
	if nrt != 0 && !c.silent {
		c.raise(regs.IntrNre)
	}
}

func (c *Chip) takeFault(frame []byte) (Fault, bool) {
	for i, f := range c.faults {
		if f.Match == nil || f.Match(frame) {
			c.faults = append(c.faults[:i], c.faults[i+1:]...)
			return f, true
		}
	}
	return Fault{}, false
}

func (c *Chip) deliver(frame []byte, ans *answer) {
	data := ans.data
	if ans.crc && c.regsA[regs.AuxDef]&regs.AuxNoCRCRx == 0 {
		data = iso14443.AppendCRCA(bytes.Clone(data))
	}
	rx := rxState{pending: data, active: true}
	if ans.collision >= 0 {
		c.regsA[regs.CollisionStatus] = regs.EncodeCollision(ans.collision)
		rx.extra |= regs.IntrCol
	}
	if fault, ok := c.takeFault(frame); ok {
		if fault.Stall {
			c.fifo = append(c.fifo, data[:min(1, len(data))]...)
			c.raise(regs.IntrRxs)
			return
		}
		rx.extra |= fault.IRQ
		rx.flags |= fault.FIFOFlags
	}
	c.rx = rx
	c.raise(regs.IntrRxs)
	c.pushRX()
}

// pushRX moves answer bytes into the FIFO. While bytes remain the water
// level interrupt asks the host to drain; the last chunk ends the reception.
func (c *Chip) pushRX() {
	n := min(c.fifoSize-len(c.fifo), len(c.rx.pending))
	c.fifo = append(c.fifo, c.rx.pending[:n]...)
	c.rx.pending = c.rx.pending[n:]
	if len(c.rx.pending) > 0 {
		c.raise(regs.IntrWL)
		return
	}
	c.fifoFlags |= c.rx.flags
	extra := c.rx.extra
	c.rx = rxState{}
	c.raise(regs.IntrRxe | extra)
}

// request answers REQA and WUPA. Any present tag that is not halted wakes
// up, WUPA wakes halted tags as well.
func (c *Chip) request(wakeup bool) *answer {
	var atqa []byte
	collision := -1
	for _, tag := range c.tags {
		if !tag.Present || (tag.state == TagHalted && !wakeup) {
			continue
		}
		tag.state = TagReady
		tag.level = 0
		if atqa == nil {
			atqa = []byte{tag.ATQA[0], tag.ATQA[1]}
			continue
		}
		if pos := firstDiff(atqa, tag.ATQA[:], 0, 16); pos >= 0 && collision < 0 {
			collision = pos
		}
		atqa[0] |= tag.ATQA[0]
		atqa[1] |= tag.ATQA[1]
	}
	if atqa == nil {
		return nil
	}
	return &answer{data: atqa, collision: collision}
}

// anticollision answers an anticollision frame of bits bits. Ready tags of
// the cascade level whose UID part starts with the transmitted bits answer
// the rest of the part; the answers are wired-OR and the first disagreeing
// bit is reported as collision.
func (c *Chip) anticollision(frame []byte, bits int) *answer {
	if len(frame) < 2 {
		return nil
	}
	level := levelOf(frame[0])
	known := bits - 16
	if level < 0 || known < 0 || known >= iso14443.UIDPartLen*8 {
		return nil
	}

	var parts [][iso14443.UIDPartLen]byte
	for _, tag := range c.tags {
		if !tag.Present || tag.state != TagReady || tag.level != level {
			continue
		}
		tp := tag.parts()
		if level >= len(tp) {
			continue
		}
		if firstDiff(tp[level][:], frame[2:], 0, known) >= 0 {
			continue
		}
		parts = append(parts, tp[level])
	}
	if len(parts) == 0 {
		return nil
	}

	collision := -1
	for _, p := range parts[1:] {
		pos := firstDiff(parts[0][:], p[:], known, iso14443.UIDPartLen*8)
		if pos >= 0 && (collision < 0 || pos < collision) {
			collision = pos
		}
	}

	start := known / 8
	data := make([]byte, iso14443.UIDPartLen-start)
	for _, p := range parts {
		for i := range data {
			data[i] |= p[start+i]
		}
	}
	data[0] &^= 1<<(known%8) - 1

	ans := &answer{data: data, collision: -1}
	if collision >= 0 {
		ans.collision = 16 + collision
	}
	return ans
}

// standard answers a frame sent with CRC
func (c *Chip) standard(frame []byte) *answer {
	if c.responder != nil {
		if data, ok := c.responder(frame); ok {
			return &answer{data: data, collision: -1, crc: true}
		}
		return nil
	}

	switch {
	case len(frame) == 2 && frame[0] == iso14443.HltA && frame[1] == 0x00:
		for _, tag := range c.tags {
			if tag.Present && tag.state == TagActive {
				tag.state = TagHalted
			}
		}
		return nil
	case len(frame) == 2+iso14443.UIDPartLen && frame[1] == iso14443.NVBSelect && levelOf(frame[0]) >= 0:
		return c.selectTag(levelOf(frame[0]), frame[2:])
	}

	for _, tag := range c.tags {
		if !tag.Present || tag.state != TagActive {
			continue
		}
		if frame[0] == iso14443.RATS && tag.ATS != nil {
			return &answer{data: bytes.Clone(tag.ATS), collision: -1, crc: true}
		}
		if data, ok := tag.respond(frame); ok {
			return &answer{data: data, collision: -1, crc: true}
		}
		return nil
	}
	return nil
}

func (c *Chip) selectTag(level int, part []byte) *answer {
	var sak []byte
	for _, tag := range c.tags {
		if !tag.Present || tag.state != TagReady || tag.level != level {
			continue
		}
		tp := tag.parts()
		if level >= len(tp) || !bytes.Equal(tp[level][:], part) {
			tag.state = TagIdle
			continue
		}
		s := tag.sakAt(level)
		if s&iso14443.SAKCascade != 0 {
			tag.level++
		} else {
			tag.state = TagActive
		}
		sak = []byte{s}
	}
	if sak == nil {
		return nil
	}
	return &answer{data: sak, collision: -1, crc: true}
}

func levelOf(sel byte) int {
	for i, code := range iso14443.SelectCodes {
		if code == sel {
			return i
		}
	}
	return -1
}

// firstDiff returns the first bit in [from, to) where a and b differ, or -1
func firstDiff(a, b []byte, from, to int) int {
	for pos := from; pos < to; pos++ {
		if pos/8 >= len(a) || pos/8 >= len(b) {
			return -1
		}
		if iso14443.BitAt(a, pos) != iso14443.BitAt(b, pos) {
			return pos
		}
	}
	return -1
}
