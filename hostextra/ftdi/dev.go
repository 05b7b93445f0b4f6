// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Opts are the options to open a Channel.
type Opts struct {
	// Name is used as the channel and pin name prefix. Defaults to the
	// variant and the interface, e.g. "FT232H.A".
	Name string
	// Timeout bounds how long a response is waited for. Defaults to 1s.
	Timeout time.Duration
}

// Channel is one MPSSE engine, i.e. one interface of a chip.
//
// It owns the GPIO state of its lower (D) and upper (C) banks. At most one
// protocol master (SPI, I²C, JTAG or SWD) can be active on a channel at a
// time; pins not used by the master stay available as GPIOs.
//
// Each group of pins D0~D7 and C0~C7 can be changed at once in one pass via
// DBus() or CBus(). The FT4232H has no C pins.
//
// Separate channels share no state and can be used concurrently.
type Channel struct {
	D0 gpio.PinIO // Clock output
	D1 gpio.PinIO // Data out
	D2 gpio.PinIO // Data in
	D3 gpio.PinIO // Chip select or TMS
	D4 gpio.PinIO
	D5 gpio.PinIO
	D6 gpio.PinIO
	D7 gpio.PinIO // RTCK with adaptive clocking
	C0 gpio.PinIO
	C1 gpio.PinIO
	C2 gpio.PinIO
	C3 gpio.PinIO
	C4 gpio.PinIO
	C5 gpio.PinIO
	C6 gpio.PinIO
	C7 gpio.PinIO

	// Immutable.
	name    string
	profile Profile
	iface   Interface
	t       Transport

	mu       sync.Mutex
	h        device
	dbus     gpiosMPSSE
	cbus     gpiosMPSSE
	freq     physic.Frequency
	master   PinUse
	closed   bool
	loopback bool

	hdr [16]gpio.PinIO
}

// Open initializes the MPSSE engine behind t and returns the channel.
//
// If t implements Controller, the interface is first reset and switched to
// MPSSE mode. All the pins start as inputs.
func Open(t Transport, p Profile, i Interface, opts *Opts) (*Channel, error) {
	if err := p.Check(i); err != nil {
		return nil, err
	}
	c := &Channel{profile: p, iface: i, t: t, h: device{t: t, timeout: time.Second}}
	c.name = p.String() + "." + i.String()
	if opts != nil {
		if opts.Name != "" {
			c.name = opts.Name
		}
		if opts.Timeout > 0 {
			c.h.timeout = opts.Timeout
		}
	}
	if err := c.h.setupMPSSE(p.UpperPins != 0); err != nil {
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s opened", c.name)
	c.dbus.init(c, Lower, 8)
	c.cbus.init(c, Upper, p.UpperPins)
	c.dbus.pins[0].dp = gpio.Float
	c.dbus.pins[2].dp = gpio.Float
	c.dbus.pins[4].dp = gpio.Float
	for i := range c.dbus.pins {
		c.hdr[i] = &c.dbus.pins[i]
	}
	for i := range c.cbus.pins {
		if i < p.UpperPins {
			c.hdr[i+8] = &c.cbus.pins[i]
		} else {
			c.hdr[i+8] = &invalidPin{num: i + 8, n: c.name + ".C" + fmt.Sprint(i)}
		}
	}
	c.D0 = c.hdr[0]
	c.D1 = c.hdr[1]
	c.D2 = c.hdr[2]
	c.D3 = c.hdr[3]
	c.D4 = c.hdr[4]
	c.D5 = c.hdr[5]
	c.D6 = c.hdr[6]
	c.D7 = c.hdr[7]
	c.C0 = c.hdr[8]
	c.C1 = c.hdr[9]
	c.C2 = c.hdr[10]
	c.C3 = c.hdr[11]
	c.C4 = c.hdr[12]
	c.C5 = c.hdr[13]
	c.C6 = c.hdr[14]
	c.C7 = c.hdr[15]
	return c, nil
}

func (c *Channel) String() string {
	return c.name
}

// Halt implements conn.Resource.
//
// It sets all the pins not owned by a master as inputs.
func (c *Channel) Halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.dbus.setDirection(0); err != nil {
		return err
	}
	if c.cbus.n != 0 {
		return c.cbus.setDirection(0)
	}
	return nil
}

// Close closes the transport if it implements io.Closer.
//
// The channel cannot be used afterward.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if cl, ok := c.t.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Profile returns the chip profile the channel was opened with.
func (c *Channel) Profile() Profile {
	return c.profile.clone()
}

// Interface returns the chip interface of this channel.
func (c *Channel) Interface() Interface {
	return c.iface
}

// Header returns the GPIO pins exposed on the channel.
func (c *Channel) Header() []gpio.PinIO {
	out := make([]gpio.PinIO, len(c.hdr))
	copy(out, c.hdr[:])
	return out
}

// SetDirection sets the direction of the pins of a bank; 1 means output.
//
// Pins owned by the active master keep their current direction.
func (c *Channel) SetDirection(b Bank, mask byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.bankOf(b)
	if err != nil {
		return err
	}
	return g.setDirection(mask)
}

// SetValue sets the output value of the pins of a bank.
//
// Pins owned by the active master keep their current value.
func (c *Channel) SetValue(b Bank, v byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.bankOf(b)
	if err != nil {
		return err
	}
	return g.setValue(v)
}

// ReadValue reads the levels of the pins of a bank.
func (c *Channel) ReadValue(b Bank) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.bankOf(b)
	if err != nil {
		return 0, err
	}
	return g.read()
}

// Shadow returns the cached direction and value bytes of a bank.
func (c *Channel) Shadow(b Bank) (direction, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.bankOf(b)
	if err != nil {
		return 0, 0
	}
	return g.direction, g.value
}

// DBus sets the values of D0 to D7 in the specified direction and value.
//
// 0 direction means input, 1 means output.
func (c *Channel) DBus(direction, value byte) error {
	return c.setBus(Lower, direction, value)
}

// CBus sets the values of C0 to C7 in the specified direction and value.
//
// 0 direction means input, 1 means output.
func (c *Channel) CBus(direction, value byte) error {
	return c.setBus(Upper, direction, value)
}

// DBusRead reads the values of D0 to D7.
func (c *Channel) DBusRead() (byte, error) {
	return c.ReadValue(Lower)
}

// CBusRead reads the values of C0 to C7.
func (c *Channel) CBusRead() (byte, error) {
	return c.ReadValue(Upper)
}

// Loopback connects D1 (data out) to D2 (data in) inside the chip.
func (c *Channel) Loopback(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	var cmd command
	if on {
		cmd.raw(internalLoopbackEnable)
	} else {
		cmd.raw(internalLoopbackDisable)
	}
	if _, err := c.h.exec(&cmd); err != nil {
		return err
	}
	c.loopback = on
	return nil
}

// Resync drains pending data and verifies the engine is in sync again.
//
// It is the recovery path after an operation failed with ErrChannelFaulted.
// The GPIO shadow bytes are updated before a command is sent, so after a
// failure they may not match the pins; set the pins that matter again. The
// clock divisor is sent again on the next frequency change.
func (c *Channel) Resync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.freq = 0
	n, err := c.h.drain()
	if err != nil {
		return err
	}
	if n != 0 {
		glog.Warningf("ftdi: %s: discarded %d stale bytes", c.name, n)
	}
	return c.h.mpsseVerify()
}

//

func (c *Channel) setBus(b Bank, direction, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := c.bankOf(b)
	if err != nil {
		return err
	}
	free := ^g.reserved()
	g.direction = g.direction&^free | direction&free
	g.value = g.value&^free | value&free
	return g.apply()
}

func (c *Channel) bankOf(b Bank) (*gpiosMPSSE, error) {
	switch b {
	case Lower:
		return &c.dbus, nil
	case Upper:
		if c.cbus.n == 0 {
			return nil, configErr(fmt.Sprintf("%s has no %s bank", c.profile.Variant, b), ErrChannelUnsupported)
		}
		return &c.cbus, nil
	default:
		return nil, configErr("invalid bank "+b.String(), nil)
	}
}

// claim allocates pins to a use.
//
// GPIO pins can be claimed again as GPIO. Invalid pins (NoPin) are skipped.
// Must be called with mu held.
func (c *Channel) claim(u PinUse, pins ...Pin) error {
	for _, p := range pins {
		if !p.Valid() {
			if p != NoPin {
				return configErr("invalid pin "+p.String(), nil)
			}
			continue
		}
		g, err := c.bankOf(p.Bank)
		if err != nil {
			return err
		}
		if int(p.Num) >= g.n {
			return configErr(fmt.Sprintf("%s has no pin %s", c.profile.Variant, p), ErrChannelUnsupported)
		}
		if cur := g.use[p.Num]; cur != Unused && (cur != UseGPIO || u != UseGPIO) {
			if cur == UseGPIO {
				// A master can take over a pin used as a GPIO.
				continue
			}
			return configErr(fmt.Sprintf("pin %s is used by %s", p, cur), ErrInUse)
		}
	}
	for _, p := range pins {
		if p.Valid() {
			g, _ := c.bankOf(p.Bank)
			g.use[p.Num] = u
		}
	}
	return nil
}

// release frees all the pins allocated to a use.
//
// Must be called with mu held.
func (c *Channel) release(u PinUse) {
	for _, g := range []*gpiosMPSSE{&c.dbus, &c.cbus} {
		for i := range g.use {
			if g.use[i] == u {
				g.use[i] = Unused
			}
		}
	}
}

// releasePin frees pins allocated to u. Pins owned by another use are left
// alone.
//
// Must be called with mu held.
func (c *Channel) releasePin(u PinUse, pins ...Pin) {
	for _, p := range pins {
		if !p.Valid() {
			continue
		}
		g, err := c.bankOf(p.Bank)
		if err != nil || int(p.Num) >= g.n {
			continue
		}
		if g.use[p.Num] == u {
			g.use[p.Num] = Unused
		}
	}
}

// acquire makes u the active master and claims its pins.
//
// Must be called with mu held.
func (c *Channel) acquire(u PinUse, pins ...Pin) error {
	if c.closed {
		return ErrClosed
	}
	if c.master != Unused {
		return configErr(fmt.Sprintf("%s: already using %s", c.name, c.master), ErrInUse)
	}
	if err := c.claim(u, pins...); err != nil {
		return err
	}
	c.master = u
	return nil
}

// releaseMaster frees the active master and its pins.
//
// Must be called with mu held.
func (c *Channel) releaseMaster(u PinUse) {
	if c.master == u {
		c.master = Unused
		c.release(u)
	}
}

// pinOf returns the gpio.PinIO of p.
func (c *Channel) pinOf(p Pin) gpio.PinIO {
	if !p.Valid() {
		return gpio.INVALID
	}
	if p.Bank == Upper {
		return c.hdr[8+int(p.Num)]
	}
	return c.hdr[p.Num]
}

// Master returns the active master, or Unused.
func (c *Channel) Master() PinUse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master
}

func pinNames(pins ...Pin) string {
	s := make([]string, 0, len(pins))
	for _, p := range pins {
		if p.Valid() {
			s = append(s, p.String())
		}
	}
	return strings.Join(s, ",")
}

var _ conn.Resource = &Channel{}
