// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// device is the MPSSE engine behind a Transport.
//
// It is not thread safe; Channel serializes the accesses.
type device struct {
	t       Transport
	timeout time.Duration
}

// syncOp is an invalid opcode appended to every command expecting a
// response. The engine answers it with badCommand, syncOp which terminates
// the response.
const syncOp byte = 0xAB

// exec sends the command and decodes the response, if any.
//
// A send immediate is appended when a response is expected, otherwise the
// engine would keep the bytes until its latency timer expires. The response
// must end with the echo of syncOp; anything else means a command was
// rejected or stale bytes were pending, and the channel is faulted.
func (d *device) exec(c *command) ([][]byte, error) {
	b := c.b
	if c.n != 0 {
		b = append(b[:len(b):len(b)], syncOp, flush)
	}
	if err := d.write(b); err != nil {
		return nil, err
	}
	if c.n == 0 {
		return nil, nil
	}
	raw := make([]byte, c.n+2)
	if err := d.readAll(raw); err != nil {
		return nil, err
	}
	if raw[c.n] != badCommand || raw[c.n+1] != syncOp {
		return nil, d.misaligned(raw)
	}
	return decode(c.reads, raw[:c.n])
}

// misaligned discards the rest of a response that wasn't terminated by the
// syncOp echo and returns the error to report.
func (d *device) misaligned(raw []byte) error {
	n, err := d.drain()
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == badCommand && raw[i+1] != syncOp {
			glog.Warningf("ftdi: command %#02x rejected; discarded %d bytes", raw[i+1], n)
			return &BadCommandError{Op: raw[i+1]}
		}
	}
	glog.Warningf("ftdi: misaligned response; discarded %d bytes", n)
	return &ProtocolAlignmentError{Want: len(raw), Got: len(raw) + n}
}

// write sends all of b.
func (d *device) write(b []byte) error {
	if glog.V(2) {
		glog.Infof("ftdi: write %d bytes:\n%s", len(b), hex.Dump(b[:min(len(b), 64)]))
	}
	for len(b) != 0 {
		n, err := d.t.Write(b)
		if err != nil {
			return &TransportError{Op: "write", Err: err}
		}
		if n == 0 {
			return &TransportError{Op: "write", Err: fmt.Errorf("wrote 0 of %d bytes", len(b))}
		}
		b = b[n:]
	}
	return nil
}

// readAll reads exactly len(b) bytes or fails once the timeout expired.
func (d *device) readAll(b []byte) error {
	got := 0
	for start := time.Now(); got < len(b); {
		n, err := d.t.Read(b[got:])
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			if time.Since(start) > d.timeout {
				return &ProtocolAlignmentError{Want: len(b), Got: got}
			}
			// Slow down the busy loop a little.
			time.Sleep(10 * time.Microsecond)
			continue
		}
		got += n
	}
	if glog.V(2) {
		glog.Infof("ftdi: read %d bytes:\n%s", len(b), hex.Dump(b[:min(len(b), 64)]))
	}
	return nil
}

// drain discards any pending response byte.
//
// It returns the number of bytes discarded.
func (d *device) drain() (int, error) {
	var buf [512]byte
	total := 0
	for empty := 0; empty < 3; {
		n, err := d.t.Read(buf[:])
		if err != nil {
			return total, &TransportError{Op: "drain", Err: err}
		}
		if n == 0 {
			empty++
			continue
		}
		total += n
	}
	return total, nil
}

// setupMPSSE puts the interface into MPSSE mode and initializes the engine to
// a known state.
//
// GPIOs are all set as inputs since their previous state cannot be read back.
func (d *device) setupMPSSE(upper bool) error {
	if c, ok := d.t.(Controller); ok {
		if err := c.Reset(); err != nil {
			return &TransportError{Op: "reset", Err: err}
		}
		if err := c.Purge(); err != nil {
			return &TransportError{Op: "purge", Err: err}
		}
		if err := c.SetLatencyTimer(16); err != nil {
			return &TransportError{Op: "latency timer", Err: err}
		}
		if err := c.SetBitMode(0, BitModeReset); err != nil {
			return &TransportError{Op: "bit mode", Err: err}
		}
		if err := c.SetBitMode(0, BitModeMPSSE); err != nil {
			return &TransportError{Op: "bit mode", Err: err}
		}
		glog.V(1).Infof("ftdi: interface in MPSSE mode")
	}
	if err := d.mpsseVerify(); err != nil {
		return err
	}
	cmd := []byte{
		gpioSetD, 0x00, 0x00,
		internalLoopbackDisable, clock2Phase, clockNormal, clock30MHz,
	}
	if upper {
		cmd = append(cmd, gpioSetC, 0x00, 0x00)
	}
	return d.write(cmd)
}

// mpsseVerify sends invalid MPSSE commands and verifies the engine rejects
// them.
//
// It confirms the engine is in sync with the host: the next response byte
// belongs to the next command.
func (d *device) mpsseVerify() error {
	for _, v := range []byte{0xAA, 0xAB} {
		if err := d.write([]byte{v, flush}); err != nil {
			return err
		}
		var b [2]byte
		if err := d.readAll(b[:]); err != nil {
			return err
		}
		// 0xFA means invalid command, followed by the command echoed back.
		if b[0] == badCommand && b[1] != v {
			// An earlier command was rejected. Discard the rest of its answer
			// and the echo.
			if _, err := d.drain(); err != nil {
				return err
			}
			return &BadCommandError{Op: b[1]}
		}
		if b[0] != badCommand {
			return &TransportError{Op: "mpsse sync", Err: fmt.Errorf("failed test for byte %#x: %#x", v, b)}
		}
	}
	return nil
}
