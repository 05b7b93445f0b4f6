// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi_test

import (
	"fmt"
	"log"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/host"
)

func Example() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	for _, c := range ftdi.All() {
		fmt.Printf("%s\n", c)
	}
}

func ExampleChannel_OpenSPI() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	all := ftdi.All()
	if len(all) == 0 {
		log.Fatal("no FTDI chip found")
	}
	c := all[0]
	// Use C0 as the chip select instead of D3.
	p, err := c.OpenSPI(&ftdi.SPIConfig{CS: ftdi.AC0})
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()
	conn, err := p.Connect(10*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		log.Fatal(err)
	}
	// JEDEC ID of a SPI flash.
	r := make([]byte, 4)
	if err := conn.Tx([]byte{0x9F, 0, 0, 0}, r); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%x\n", r[1:])
	// D3 is free to use as a GPIO.
	if err := c.D3.Out(gpio.High); err != nil {
		log.Fatal(err)
	}
}

func ExampleJTAG_DetectChain() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	all := ftdi.All()
	if len(all) == 0 {
		log.Fatal("no FTDI chip found")
	}
	j, err := all[0].OpenJTAG(&ftdi.JTAGConfig{Speed: 6 * physic.MegaHertz})
	if err != nil {
		log.Fatal(err)
	}
	defer j.Close()
	ids, err := j.DetectChain()
	if err != nil {
		log.Fatal(err)
	}
	for i, id := range ids {
		fmt.Printf("%d: %#08x\n", i, id)
	}
}

func ExampleSWD_ReadIDCode() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	all := ftdi.All()
	if len(all) == 0 {
		log.Fatal("no FTDI chip found")
	}
	s, err := all[0].OpenSWD(&ftdi.SWDConfig{MaxWaitRetries: 10})
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()
	if err := s.Enable(); err != nil {
		log.Fatal(err)
	}
	id, err := s.ReadIDCode()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("DPIDR: %#08x\n", id)
}
