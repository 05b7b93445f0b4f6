// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/gousb"
)

// Vendor requests.
const (
	sioReset        uint8 = 0x00
	sioSetLatency   uint8 = 0x09
	sioSetBitMode   uint8 = 0x0B
	sioResetSIO           = 0
	sioPurgeRX            = 1
	sioPurgeTX            = 2
	rTypeControlOut uint8 = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice
)

// modemStatusLen is the number of status bytes prepended by the chip to every
// bulk IN packet.
const modemStatusLen = 2

// USBInfo describes a supported chip found on the bus.
type USBInfo struct {
	Profile Profile
	Serial  string
	Bus     int
	Address int
}

func (u *USBInfo) String() string {
	return fmt.Sprintf("%s(%s) bus %d addr %d", u.Profile.Variant, u.Serial, u.Bus, u.Address)
}

// USBOpts selects the device and interface opened by OpenUSB.
type USBOpts struct {
	// Serial selects the chip by serial number. The first chip found is used
	// when empty.
	Serial string
	// Interface defaults to InterfaceA.
	Interface Interface
	// Poll bounds how long a single bulk read waits. Defaults to 50ms.
	Poll time.Duration
}

// Enumerate lists the supported chips connected.
func Enumerate() ([]USBInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		_, err := ProfileFor(uint16(d.Vendor), uint16(d.Product), uint16(d.Device))
		return err == nil
	})
	var out []USBInfo
	for _, d := range devs {
		p, _ := ProfileFor(uint16(d.Desc.Vendor), uint16(d.Desc.Product), uint16(d.Desc.Device))
		s, e := d.SerialNumber()
		if e != nil {
			glog.V(1).Infof("ftdi: %s: no serial number: %v", p.Variant, e)
		}
		out = append(out, USBInfo{Profile: p, Serial: s, Bus: d.Desc.Bus, Address: d.Desc.Address})
		d.Close()
	}
	if err != nil && len(out) == 0 {
		return nil, &TransportError{Op: "enumerate", Err: err}
	}
	return out, nil
}

// USB is a Transport over libusb to one interface of a chip.
//
// It strips the modem status bytes the chip prepends to every packet and
// implements Controller.
type USB struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
	index uint16
	poll  time.Duration
	maxP  int

	mu      sync.Mutex
	buf     []byte
	pending []byte
}

// OpenUSB opens one interface of a chip.
//
// The returned Profile matches the chip found; pass both to Open().
func OpenUSB(opts *USBOpts) (*USB, Profile, error) {
	o := USBOpts{Interface: InterfaceA, Poll: 50 * time.Millisecond}
	if opts != nil {
		o.Serial = opts.Serial
		if opts.Interface != 0 {
			o.Interface = opts.Interface
		}
		if opts.Poll > 0 {
			o.Poll = opts.Poll
		}
	}
	ctx := gousb.NewContext()
	u, p, err := openUSB(ctx, &o)
	if err != nil {
		ctx.Close()
		return nil, Profile{}, err
	}
	return u, p, nil
}

func openUSB(ctx *gousb.Context, o *USBOpts) (*USB, Profile, error) {
	devs, err := ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		_, err := ProfileFor(uint16(d.Vendor), uint16(d.Product), uint16(d.Device))
		return err == nil
	})
	if err != nil && len(devs) == 0 {
		return nil, Profile{}, &TransportError{Op: "open", Err: err}
	}
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			if o.Serial == "" {
				dev = d
				continue
			}
			if s, _ := d.SerialNumber(); s == o.Serial {
				dev = d
				continue
			}
		}
		d.Close()
	}
	if dev == nil {
		if o.Serial != "" {
			return nil, Profile{}, configErr(fmt.Sprintf("no chip with serial %q", o.Serial), nil)
		}
		return nil, Profile{}, configErr("no chip found", nil)
	}
	p, _ := ProfileFor(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), uint16(dev.Desc.Device))
	if err := p.Check(o.Interface); err != nil {
		dev.Close()
		return nil, Profile{}, err
	}
	u := &USB{ctx: ctx, dev: dev, index: o.Interface.number(), poll: o.Poll}
	if err := u.claim(o.Interface); err != nil {
		// The caller owns ctx.
		u.ctx = nil
		u.close()
		return nil, Profile{}, err
	}
	glog.V(1).Infof("ftdi: opened %s interface %s on bus %d addr %d", p.Variant, o.Interface, dev.Desc.Bus, dev.Desc.Address)
	return u, p, nil
}

func (u *USB) claim(i Interface) error {
	if err := u.dev.SetAutoDetach(true); err != nil {
		glog.V(1).Infof("ftdi: auto detach: %v", err)
	}
	var err error
	if u.cfg, err = u.dev.Config(1); err != nil {
		return &TransportError{Op: "config", Err: err}
	}
	if u.intf, err = u.cfg.Interface(int(i)-1, 0); err != nil {
		return &TransportError{Op: "claim " + i.String(), Err: err}
	}
	in, out := i.endpoints()
	if u.in, err = u.intf.InEndpoint(in); err != nil {
		return &TransportError{Op: "endpoint", Err: err}
	}
	if u.out, err = u.intf.OutEndpoint(out); err != nil {
		return &TransportError{Op: "endpoint", Err: err}
	}
	u.maxP = int(u.in.Desc.MaxPacketSize)
	if u.maxP <= modemStatusLen {
		return &TransportError{Op: "endpoint", Err: fmt.Errorf("invalid max packet size %d", u.maxP)}
	}
	u.buf = make([]byte, 8*u.maxP)
	return nil
}

// Read implements Transport.
//
// It returns 0 bytes and no error when nothing arrived within the poll
// interval.
func (u *USB) Read(b []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.in == nil {
		return 0, ErrClosed
	}
	if len(u.pending) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), u.poll)
		n, err := u.in.ReadContext(ctx, u.buf)
		cancel()
		if err != nil && !errors.Is(err, gousb.TransferCancelled) && !errors.Is(err, gousb.ErrorTimeout) {
			return 0, err
		}
		u.pending = stripModemStatus(u.buf[:n], u.maxP)
	}
	n := copy(b, u.pending)
	u.pending = u.pending[n:]
	return n, nil
}

// Write implements Transport.
func (u *USB) Write(b []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.out == nil {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return u.out.WriteContext(ctx, b)
}

// Reset implements Controller.
func (u *USB) Reset() error {
	return u.control(sioReset, sioResetSIO)
}

// Purge implements Controller.
func (u *USB) Purge() error {
	if err := u.control(sioReset, sioPurgeRX); err != nil {
		return err
	}
	u.mu.Lock()
	u.pending = nil
	u.mu.Unlock()
	return u.control(sioReset, sioPurgeTX)
}

// SetLatencyTimer implements Controller.
func (u *USB) SetLatencyTimer(ms uint8) error {
	return u.control(sioSetLatency, uint16(ms))
}

// SetBitMode implements Controller.
func (u *USB) SetBitMode(mask, mode byte) error {
	return u.control(sioSetBitMode, uint16(mode)<<8|uint16(mask))
}

// Close releases the interface and the device.
func (u *USB) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.close()
}

func (u *USB) close() error {
	u.in = nil
	u.out = nil
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	var err error
	if u.cfg != nil {
		err = u.cfg.Close()
		u.cfg = nil
	}
	if u.dev != nil {
		if e := u.dev.Close(); err == nil {
			err = e
		}
		u.dev = nil
	}
	if u.ctx != nil {
		if e := u.ctx.Close(); err == nil {
			err = e
		}
		u.ctx = nil
	}
	return err
}

func (u *USB) control(req uint8, val uint16) error {
	if u.dev == nil {
		return ErrClosed
	}
	_, err := u.dev.Control(rTypeControlOut, req, val, u.index, nil)
	return err
}

// stripModemStatus removes the status bytes at the start of every max packet
// sized chunk, in place.
func stripModemStatus(b []byte, maxP int) []byte {
	out := b[:0]
	for len(b) != 0 {
		n := len(b)
		if n > maxP {
			n = maxP
		}
		if n > modemStatusLen {
			out = append(out, b[modemStatusLen:n]...)
		}
		b = b[n:]
	}
	return out
}

var _ Transport = &USB{}
var _ Controller = &USB{}
