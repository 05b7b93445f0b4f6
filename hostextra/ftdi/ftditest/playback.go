// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftditest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// IO is one write and the bytes the engine answers to it.
type IO struct {
	W []byte
	R []byte
}

// Playback implements ftdi.Transport and plays back a recorded exchange.
//
// Every Write() must match the next IO exactly. Its R bytes then become
// readable.
type Playback struct {
	sync.Mutex
	Ops   []IO
	Count int
	// DontPanic returns an error instead of panicking on a mismatch.
	DontPanic bool

	pending []byte
}

func (p *Playback) String() string {
	return "playback"
}

// Write implements ftdi.Transport.
func (p *Playback) Write(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.Count >= len(p.Ops) {
		return 0, p.fail(fmt.Errorf("ftditest: unexpected Write(%#v)", b))
	}
	if want := p.Ops[p.Count].W; !bytes.Equal(want, b) {
		return 0, p.fail(fmt.Errorf("ftditest: write #%d: got %#v, want %#v", p.Count, b, want))
	}
	p.pending = append(p.pending, p.Ops[p.Count].R...)
	p.Count++
	return len(b), nil
}

// Read implements ftdi.Transport.
func (p *Playback) Read(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close verifies that all the expected IOs were done.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if p.Count != len(p.Ops) {
		return p.fail(fmt.Errorf("ftditest: expected playback to be empty: done %d of %d", p.Count, len(p.Ops)))
	}
	if len(p.pending) != 0 {
		return p.fail(errors.New("ftditest: unread response bytes"))
	}
	return nil
}

func (p *Playback) fail(err error) error {
	if !p.DontPanic {
		panic(err)
	}
	return err
}
