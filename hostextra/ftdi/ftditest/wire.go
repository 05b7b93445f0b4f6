// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftditest

// Wire connects pin From to pin To, for example MOSI (1) to MISO (2) for a
// SPI loopback.
type Wire struct {
	From uint8
	To   uint8
}

// Drive implements Target.
func (w *Wire) Drive(out uint16) uint16 {
	if out&(1<<w.From) != 0 {
		return 0xFFFF
	}
	return ^uint16(1 << w.To)
}

// Pull pulls pins low; a 1 in Low grounds the pin.
type Pull struct {
	Low uint16
}

// Drive implements Target.
func (p *Pull) Drive(out uint16) uint16 {
	return ^p.Low
}

// Recorder records every distinct pin state the host drives.
type Recorder struct {
	// States is the sequence of host outputs, without repetition.
	States []uint16
}

// Drive implements Target.
func (r *Recorder) Drive(out uint16) uint16 {
	if l := len(r.States); l == 0 || r.States[l-1] != out {
		r.States = append(r.States, out)
	}
	return 0xFFFF
}
