// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

// Transport is the byte channel to one MPSSE engine.
//
// Read may return 0 bytes and no error when no data is pending yet; the
// caller polls until its deadline. Any error is considered fatal to the
// operation in flight.
//
// USB implements Transport. Tests use the simulator in package ftditest.
type Transport interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
}

// Controller is implemented by transports that can issue the vendor control
// requests needed to put an interface in MPSSE mode.
//
// When the Transport passed to Open() implements it, Open() resets the
// interface, purges the buffers, sets the latency timer and the bit mode.
type Controller interface {
	// Reset resets the interface.
	Reset() error
	// Purge discards the content of the RX and TX buffers.
	Purge() error
	// SetLatencyTimer sets the delay in ms after which a partially filled
	// response buffer is sent to the host.
	SetLatencyTimer(ms uint8) error
	// SetBitMode sets the operating mode. mask sets the direction of the
	// pins for bit-bang modes.
	SetBitMode(mask, mode byte) error
}

// Bit modes for Controller.SetBitMode.
const (
	BitModeReset byte = 0x00
	BitModeMPSSE byte = 0x02
)
