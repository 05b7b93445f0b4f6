// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"io"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/periph"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/pin"
	"periph.io/x/periph/conn/pin/pinreg"
	"periph.io/x/periph/conn/spi/spireg"
)

// All returns the channels opened by the driver, one per MPSSE interface of
// every chip found on the bus.
func All() []*Channel {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]*Channel, len(drv.all))
	copy(out, drv.all)
	return out
}

//

// registerChannel registers the header and the buses in the relevant
// registries.
func registerChannel(c *Channel) error {
	hdr := c.Header()
	p := make([][]pin.Pin, len(hdr))
	for i := range hdr {
		p[i] = []pin.Pin{hdr[i]}
	}
	if err := pinreg.Register(c.String(), p); err != nil {
		return err
	}
	if err := spireg.Register(c.String(), nil, -1, c.SPI); err != nil {
		return err
	}
	return i2creg.Register(c.String(), nil, -1, c.I2C)
}

// driver implements periph.Driver.
type driver struct {
	mu  sync.Mutex
	all []*Channel

	enumerate func() ([]USBInfo, error)
	open      func(info *USBInfo, i Interface) (Transport, error)
}

func (d *driver) String() string {
	return "ftdi"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	infos, err := d.enumerate()
	if err != nil {
		return true, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range infos {
		info := &infos[k]
		for _, i := range info.Profile.MPSSE {
			t, err1 := d.open(info, i)
			if err1 != nil {
				// Keep going so the other chips are usable.
				glog.Warningf("ftdi: %s: %v", info, err1)
				err = err1
				continue
			}
			name := info.Profile.String() + "." + i.String()
			if info.Serial != "" {
				name = info.Profile.String() + "(" + info.Serial + ")." + i.String()
			}
			c, err1 := Open(t, info.Profile, i, &Opts{Name: name})
			if err1 != nil {
				glog.Warningf("ftdi: %s: %v", name, err1)
				if cl, ok := t.(io.Closer); ok {
					cl.Close()
				}
				err = err1
				continue
			}
			d.all = append(d.all, c)
			if err := registerChannel(c); err != nil {
				return true, err
			}
		}
	}
	return true, err
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = nil
	d.enumerate = Enumerate
	d.open = openInfo
}

func openInfo(info *USBInfo, i Interface) (Transport, error) {
	u, _, err := OpenUSB(&USBOpts{Serial: info.Serial, Interface: i})
	if err != nil {
		return nil, err
	}
	return u, nil
}

var drv driver

func init() {
	drv.reset()
	periph.MustRegister(&drv)
}

var _ periph.Driver = &drv
