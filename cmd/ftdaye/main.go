// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ftdaye drives the MPSSE engine of a FTDI FT232H, FT2232H or FT4232H from
// the command line: GPIO, SPI, I²C, JTAG and SWD.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"periph.io/x/periph/conn/physic"
)

var (
	// Global flags
	serial    string
	intf      string
	speedHz   int64
	timeoutMS int
)

var rootCmd = &cobra.Command{
	Use:   "ftdaye",
	Short: "FTDI MPSSE multi protocol tool",
	Long: `Drives one MPSSE channel of a FT232H, FT2232H or FT4232H.

Examples:
  ftdaye list                              # List the chips connected
  ftdaye gpio set D4=1 C0=0                # Drive pins
  ftdaye gpio watch                        # Show the pins levels live
  ftdaye spi tx --mode 0 9f000000          # Read a SPI flash JEDEC ID
  ftdaye i2c scan                          # List the I²C addresses that ACK
  ftdaye jtag detect                       # Read the IDCODEs of the scan chain
  ftdaye swd idcode                        # Read the ARM debug port DPIDR

glog flags (-v, -logtostderr, ...) are accepted as well.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serial, "serial", "s", "", "chip serial number; the first chip found when empty")
	rootCmd.PersistentFlags().StringVarP(&intf, "interface", "i", "A", "chip interface, A or B")
	rootCmd.PersistentFlags().Int64Var(&speedHz, "speed", 1000000, "clock speed in Hz")
	rootCmd.PersistentFlags().IntVar(&timeoutMS, "timeout", 1000, "read timeout in milliseconds")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// speed returns the --speed flag.
func speed() (physic.Frequency, error) {
	if speedHz <= 0 {
		return 0, errors.New("--speed must be positive")
	}
	return physic.Frequency(speedHz) * physic.Hertz, nil
}

// openChannel opens the channel selected with --serial and --interface.
func openChannel() (*ftdi.Channel, error) {
	i, err := ftdi.ParseInterface(intf)
	if err != nil {
		return nil, err
	}
	u, p, err := ftdi.OpenUSB(&ftdi.USBOpts{Serial: serial, Interface: i})
	if err != nil {
		return nil, err
	}
	name := p.String() + "." + i.String()
	if serial != "" {
		name = p.String() + "(" + serial + ")." + i.String()
	}
	c, err := ftdi.Open(u, p, i, &ftdi.Opts{Name: name, Timeout: msToDuration(timeoutMS)})
	if err != nil {
		u.Close()
		return nil, err
	}
	glog.V(1).Infof("opened %s", c)
	return c, nil
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ftdaye: %s.\n", err)
		glog.Flush()
		os.Exit(1)
	}
}
