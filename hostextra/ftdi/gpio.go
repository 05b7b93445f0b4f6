// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// PinUse is what a pin is currently allocated to.
type PinUse uint8

// Pin uses.
const (
	Unused PinUse = iota
	UseGPIO
	UseSPI
	UseI2C
	UseJTAG
	UseSWD
)

func (u PinUse) String() string {
	switch u {
	case Unused:
		return "Unused"
	case UseGPIO:
		return "GPIO"
	case UseSPI:
		return "SPI"
	case UseI2C:
		return "I2C"
	case UseJTAG:
		return "JTAG"
	case UseSWD:
		return "SWD"
	default:
		return "PinUse(" + strconv.Itoa(int(u)) + ")"
	}
}

// gpiosMPSSE is a bank of 8 GPIO pins driven via MPSSE.
//
// It keeps the shadow of the direction and value bytes; the engine only
// accepts a full byte so every change is computed against the shadow.
//
// All the methods must be called with Channel.mu held.
type gpiosMPSSE struct {
	// Immutable.
	c    *Channel
	bank Bank
	n    int // Number of usable pins.
	pins [8]gpioMPSSE

	// Mutable.
	use       [8]PinUse
	direction byte
	value     byte
}

func (g *gpiosMPSSE) init(c *Channel, bank Bank, n int) {
	g.c = c
	g.bank = bank
	g.n = n
	for i := range g.pins {
		g.pins[i].a = g
		g.pins[i].n = c.name + "." + bank.String() + strconv.Itoa(i)
		g.pins[i].num = i
		g.pins[i].dp = gpio.PullUp
	}
}

// reserved returns the mask of the pins owned by a master.
func (g *gpiosMPSSE) reserved() byte {
	m := byte(0)
	for i, u := range g.use {
		if u != Unused && u != UseGPIO {
			m |= 1 << uint(i)
		}
	}
	return m
}

// apply sends the shadow bytes.
func (g *gpiosMPSSE) apply() error {
	if err := g.check(); err != nil {
		return err
	}
	var cmd command
	cmd.gpioSet(g.bank, g.value, g.direction)
	_, err := g.c.h.exec(&cmd)
	return err
}

// read returns the levels of the pins.
func (g *gpiosMPSSE) read() (byte, error) {
	if err := g.check(); err != nil {
		return 0, err
	}
	var cmd command
	cmd.gpioRead(g.bank)
	r, err := g.c.h.exec(&cmd)
	if err != nil {
		return 0, err
	}
	return r[0][0], nil
}

func (g *gpiosMPSSE) check() error {
	if g.n == 0 {
		return configErr(fmt.Sprintf("%s has no %s bank", g.c.profile.Variant, g.bank), ErrChannelUnsupported)
	}
	if g.c.closed {
		return ErrClosed
	}
	return nil
}

// setDirection sets the direction of the pins not owned by a master.
func (g *gpiosMPSSE) setDirection(mask byte) error {
	free := ^g.reserved()
	g.direction = g.direction&^free | mask&free
	return g.apply()
}

// setValue sets the value of the pins not owned by a master.
func (g *gpiosMPSSE) setValue(v byte) error {
	free := ^g.reserved()
	g.value = g.value&^free | v&free
	return g.apply()
}

func (g *gpiosMPSSE) in(n int) error {
	if err := g.c.claim(UseGPIO, Pin{g.bank, uint8(n)}); err != nil {
		return err
	}
	g.direction &^= 1 << uint(n)
	return g.apply()
}

func (g *gpiosMPSSE) out(n int, l gpio.Level) error {
	if err := g.c.claim(UseGPIO, Pin{g.bank, uint8(n)}); err != nil {
		return err
	}
	g.direction |= 1 << uint(n)
	if l {
		g.value |= 1 << uint(n)
	} else {
		g.value &^= 1 << uint(n)
	}
	return g.apply()
}

// setPin changes the shadow of one pin without sending anything.
//
// Must be called with Channel.mu held.
func (c *Channel) setPin(p Pin, out bool, l gpio.Level) {
	if !p.Valid() {
		return
	}
	g := &c.dbus
	if p.Bank == Upper {
		g = &c.cbus
	}
	m := p.mask()
	if out {
		g.direction |= m
	} else {
		g.direction &^= m
	}
	if l {
		g.value |= m
	} else {
		g.value &^= m
	}
}

// emit appends the set command of every bank the pins are on.
//
// Must be called with Channel.mu held.
func (c *Channel) emit(cmd *command, pins ...Pin) {
	var done [3]bool
	for _, p := range pins {
		if !p.Valid() || done[p.Bank] {
			continue
		}
		done[p.Bank] = true
		g := &c.dbus
		if p.Bank == Upper {
			g = &c.cbus
		}
		cmd.gpioSet(g.bank, g.value, g.direction)
	}
}

//

// gpioMPSSE is a GPIO pin on a FTDI device driven via MPSSE.
//
// gpioMPSSE implements gpio.PinIO.
type gpioMPSSE struct {
	a   *gpiosMPSSE
	n   string
	num int
	dp  gpio.Pull
}

// String implements pin.Pin.
func (g *gpioMPSSE) String() string {
	return g.n
}

// Name implements pin.Pin.
func (g *gpioMPSSE) Name() string {
	return g.n
}

// Number implements pin.Pin.
func (g *gpioMPSSE) Number() int {
	return g.num
}

// Function implements pin.Pin.
func (g *gpioMPSSE) Function() string {
	g.a.c.mu.Lock()
	defer g.a.c.mu.Unlock()
	if u := g.a.use[g.num]; u != Unused && u != UseGPIO {
		return u.String()
	}
	m := byte(1 << uint(g.num))
	if g.a.direction&m != 0 {
		return "Out/" + gpio.Level(g.a.value&m != 0).String()
	}
	v, err := g.a.read()
	if err != nil {
		return "In/" + err.Error()
	}
	return "In/" + gpio.Level(v&m != 0).String()
}

// Halt implements conn.Resource.
//
// It releases the pin as an input if it was used as a GPIO.
func (g *gpioMPSSE) Halt() error {
	g.a.c.mu.Lock()
	defer g.a.c.mu.Unlock()
	if g.a.use[g.num] != UseGPIO {
		return nil
	}
	g.a.use[g.num] = Unused
	g.a.direction &^= 1 << uint(g.num)
	return g.a.apply()
}

// In implements gpio.PinIn.
func (g *gpioMPSSE) In(pull gpio.Pull, e gpio.Edge) error {
	if e != gpio.NoEdge {
		// We could support it on D5.
		return errors.New("ftdi: edge triggering is not supported")
	}
	if pull != gpio.PullUp && pull != gpio.Float && pull != gpio.PullNoChange {
		// The pins have a weak internal pull up when used as input.
		return errors.New("ftdi: pull down is not supported")
	}
	g.a.c.mu.Lock()
	defer g.a.c.mu.Unlock()
	return g.a.in(g.num)
}

// Read implements gpio.PinIn.
func (g *gpioMPSSE) Read() gpio.Level {
	g.a.c.mu.Lock()
	defer g.a.c.mu.Unlock()
	v, _ := g.a.read()
	return gpio.Level(v&(1<<uint(g.num)) != 0)
}

// WaitForEdge implements gpio.PinIn.
func (g *gpioMPSSE) WaitForEdge(t time.Duration) bool {
	return false
}

// DefaultPull implements gpio.PinIn.
func (g *gpioMPSSE) DefaultPull() gpio.Pull {
	return g.dp
}

// Pull implements gpio.PinIn.
func (g *gpioMPSSE) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (g *gpioMPSSE) Out(l gpio.Level) error {
	g.a.c.mu.Lock()
	defer g.a.c.mu.Unlock()
	return g.a.out(g.num, l)
}

// PWM implements gpio.PinOut.
func (g *gpioMPSSE) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("ftdi: not implemented")
}

var _ gpio.PinIO = &gpioMPSSE{}
