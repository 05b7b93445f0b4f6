// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
)

// Sentinel errors, to be used with errors.Is().
var (
	// ErrChannelFaulted is matched by every TransportError and
	// ProtocolAlignmentError. The channel must be resynchronized with
	// Channel.Resync() or reopened before being used again.
	ErrChannelFaulted = errors.New("ftdi: channel faulted")
	// ErrChannelUnsupported is returned when an interface has no MPSSE engine.
	ErrChannelUnsupported = errors.New("ftdi: channel unsupported")
	// ErrInUse is returned when a pin or the channel is already owned.
	ErrInUse = errors.New("ftdi: already in use")
	// ErrClosed is returned when using a master after Close().
	ErrClosed = errors.New("ftdi: closed")

	// ErrNACK is returned when an I²C device doesn't acknowledge.
	ErrNACK = errors.New("ftdi: i2c: NACK")

	// ErrWait is returned when a SWD target answered WAIT.
	ErrWait = errors.New("ftdi: swd: WAIT")
	// ErrFault is returned when a SWD target answered FAULT. The sticky flags
	// must be cleared with SWD.Abort().
	ErrFault = errors.New("ftdi: swd: FAULT")
	// ErrProtocol is returned when a SWD target answered an invalid ACK,
	// usually because nothing is connected or the line is not in SWD mode.
	ErrProtocol = errors.New("ftdi: swd: protocol error")
	// ErrParity is returned when the parity bit of the data read doesn't
	// match.
	ErrParity = errors.New("ftdi: swd: parity error")
)

// TransportError is an I/O failure on the underlying byte channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ftdi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is.
func (e *TransportError) Is(target error) bool {
	return target == ErrChannelFaulted
}

// ProtocolAlignmentError is returned when the MPSSE engine returned fewer or
// more bytes than the command expected.
type ProtocolAlignmentError struct {
	Want int
	Got  int
}

func (e *ProtocolAlignmentError) Error() string {
	if e.Got < e.Want {
		return fmt.Sprintf("ftdi: short read; expected %d bytes, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("ftdi: misaligned response; expected %d bytes, got %d", e.Want, e.Got)
}

// Is implements errors.Is.
func (e *ProtocolAlignmentError) Is(target error) bool {
	return target == ErrChannelFaulted
}

// BadCommandError is returned when the MPSSE engine rejected an opcode.
type BadCommandError struct {
	Op byte
}

func (e *BadCommandError) Error() string {
	return fmt.Sprintf("ftdi: bad command %#02x", e.Op)
}

// Is implements errors.Is.
func (e *BadCommandError) Is(target error) bool {
	return target == ErrChannelFaulted
}

// BusProtocolError is a negative outcome on the bus: an I²C NACK or a SWD
// WAIT, FAULT or parity mismatch.
//
// It is not fatal; the channel is still usable.
type BusProtocolError struct {
	// Bus is "i2c" or "swd".
	Bus string
	// Op describes the operation, for example "address 0x50" or "read AP 0x0C".
	Op string
	// Ack is the raw 3 bits SWD acknowledge. Unused for I²C.
	Ack byte
	Err error
}

func (e *BusProtocolError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Op)
}

func (e *BusProtocolError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned for requests that cannot be honored, like an
// out of range frequency, before anything is sent to the device.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ftdi: %s: %v", e.Msg, stripPrefix(e.Err))
	}
	return "ftdi: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a bounded poll or retry loop gave up.
type TimeoutError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ftdi: %s: gave up after %d attempts: %v", e.Op, e.Attempts, stripPrefix(e.Err))
	}
	return fmt.Sprintf("ftdi: %s: gave up after %d attempts", e.Op, e.Attempts)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Timeout returns true.
func (e *TimeoutError) Timeout() bool {
	return true
}

//

func configErr(msg string, err error) error {
	return &ConfigurationError{Msg: msg, Err: err}
}

// stripPrefix removes the redundant "ftdi: " of a wrapped error.
func stripPrefix(err error) string {
	s := err.Error()
	const p = "ftdi: "
	if len(s) > len(p) && s[:len(p)] == p {
		return s[len(p):]
	}
	return s
}
