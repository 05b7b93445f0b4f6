// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/spf13/cobra"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

var (
	spiMode int
	spiLSB  bool
	spiCS   string
	spiHigh bool
	i2cRead int
	i2cDir  string
)

var spiCmd = &cobra.Command{
	Use:   "spi",
	Short: "SPI master",
}

var spiTxCmd = &cobra.Command{
	Use:   "tx <hex>",
	Short: "Write the bytes and print the bytes read at the same time",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSPITx,
}

var i2cCmd = &cobra.Command{
	Use:   "i2c",
	Short: "I²C master",
}

var i2cScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the 7 bits addresses that acknowledge",
	Args:  cobra.NoArgs,
	RunE:  runI2CScan,
}

var i2cTxCmd = &cobra.Command{
	Use:   "tx <addr> [hex]",
	Short: "Write the bytes then read --read bytes with a repeated start",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runI2CTx,
}

func init() {
	rootCmd.AddCommand(spiCmd, i2cCmd)
	spiCmd.AddCommand(spiTxCmd)
	spiTxCmd.Flags().IntVarP(&spiMode, "mode", "m", 0, "SPI mode, 0 to 3")
	spiTxCmd.Flags().BoolVar(&spiLSB, "lsb", false, "send the least significant bit first")
	spiTxCmd.Flags().StringVar(&spiCS, "cs", "D3", "chip select pin, or none")
	spiTxCmd.Flags().BoolVar(&spiHigh, "cs-high", false, "chip select is active high")
	i2cCmd.AddCommand(i2cScanCmd, i2cTxCmd)
	i2cCmd.PersistentFlags().StringVar(&i2cDir, "dir", "", "SDA buffer direction pin, if any")
	i2cTxCmd.Flags().IntVarP(&i2cRead, "read", "r", 0, "number of bytes to read")
}

func runSPITx(cmd *cobra.Command, args []string) error {
	w, err := parseHex(args)
	if err != nil {
		return err
	}
	if spiMode < 0 || spiMode > 3 {
		return fmt.Errorf("invalid mode %d", spiMode)
	}
	m := spi.Mode(spiMode)
	if spiLSB {
		m |= spi.LSBFirst
	}
	cfg := ftdi.SPIConfig{CS: ftdi.NoPin, CSActiveHigh: spiHigh}
	if spiCS == "none" {
		m |= spi.NoCS
	} else if cfg.CS, err = ftdi.ParsePin(spiCS); err != nil {
		return err
	}
	f, err := speed()
	if err != nil {
		return err
	}
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	p, err := c.OpenSPI(&cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	r, err := p.Transfer(m, f, w)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(r))
	return nil
}

// openI2C opens the channel and the I²C master at --speed.
func openI2C() (*ftdi.Channel, *ftdi.I2CBus, error) {
	f, err := speed()
	if err != nil {
		return nil, nil, err
	}
	if f > physic.MegaHertz {
		return nil, nil, fmt.Errorf("I²C speed %s is too high", f)
	}
	cfg := ftdi.I2CConfig{Speed: f}
	if i2cDir != "" {
		if cfg.Dir, err = ftdi.ParsePin(i2cDir); err != nil {
			return nil, nil, err
		}
	}
	c, err := openChannel()
	if err != nil {
		return nil, nil, err
	}
	b, err := c.OpenI2C(&cfg)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, b, nil
}

func runI2CScan(cmd *cobra.Command, args []string) error {
	c, b, err := openI2C()
	if err != nil {
		return err
	}
	defer c.Close()
	defer b.Close()
	addrs, err := b.Scan()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Printf("%#02x\n", a)
	}
	fmt.Printf("Found %d device(s)\n", len(addrs))
	return nil
}

func runI2CTx(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0], 7)
	if err != nil {
		return err
	}
	var w []byte
	if len(args) > 1 {
		if w, err = parseHex(args[1:]); err != nil {
			return err
		}
	}
	if i2cRead < 0 {
		return fmt.Errorf("invalid --read %d", i2cRead)
	}
	c, b, err := openI2C()
	if err != nil {
		return err
	}
	defer c.Close()
	defer b.Close()
	r := make([]byte, i2cRead)
	if err := b.Tx(uint16(addr), w, r); err != nil {
		return err
	}
	if len(r) != 0 {
		fmt.Println(hex.EncodeToString(r))
	}
	return nil
}
