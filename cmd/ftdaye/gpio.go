// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ftdaye/mpsse/devices/screen"
	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/spf13/cobra"
	"periph.io/x/periph/conn/gpio"
)

var watchInterval time.Duration

var gpioCmd = &cobra.Command{
	Use:   "gpio",
	Short: "Read and drive the channel pins",
}

var gpioGetCmd = &cobra.Command{
	Use:   "get [pin...]",
	Short: "Print the pins levels; all of them without argument",
	RunE:  runGPIOGet,
}

var gpioSetCmd = &cobra.Command{
	Use:   "set <pin>=<0|1|in>...",
	Short: "Drive pins or set them as inputs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGPIOSet,
}

var gpioWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the pins state live until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runGPIOWatch,
}

func init() {
	rootCmd.AddCommand(gpioCmd)
	gpioCmd.AddCommand(gpioGetCmd, gpioSetCmd, gpioWatchCmd)
	gpioWatchCmd.Flags().DurationVar(&watchInterval, "interval", 100*time.Millisecond, "refresh interval")
}

// pinsOf returns the gpio.PinIO of the named pins.
func pinsOf(c *ftdi.Channel, names []string) ([]gpio.PinIO, error) {
	hdr := c.Header()
	if len(names) == 0 {
		return hdr, nil
	}
	out := make([]gpio.PinIO, 0, len(names))
	for _, n := range names {
		p, err := ftdi.ParsePin(n)
		if err != nil {
			return nil, err
		}
		i := int(p.Num)
		if p.Bank == ftdi.Upper {
			i += 8
		}
		if i >= len(hdr) {
			return nil, fmt.Errorf("%s has no pin %s", c, p)
		}
		out = append(out, hdr[i])
	}
	return out, nil
}

func runGPIOGet(cmd *cobra.Command, args []string) error {
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	pins, err := pinsOf(c, args)
	if err != nil {
		return err
	}
	for _, p := range pins {
		fmt.Printf("%s: %s\n", p, p.Read())
	}
	return nil
}

func runGPIOSet(cmd *cobra.Command, args []string) error {
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	for _, a := range args {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid %q; expected <pin>=<0|1|in>", a)
		}
		pins, err := pinsOf(c, parts[:1])
		if err != nil {
			return err
		}
		p := pins[0]
		switch strings.ToLower(parts[1]) {
		case "0", "low":
			err = p.Out(gpio.Low)
		case "1", "high":
			err = p.Out(gpio.High)
		case "in":
			err = p.In(gpio.PullNoChange, gpio.NoEdge)
		default:
			return fmt.Errorf("invalid level %q", parts[1])
		}
		if err != nil {
			return err
		}
	}
	// The pins keep their state until the chip is reset or reopened.
	return nil
}

func runGPIOWatch(cmd *cobra.Command, args []string) error {
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	d := screen.New(c.Header())
	defer d.Halt()
	if err := d.Legend(); err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	t := time.NewTicker(watchInterval)
	defer t.Stop()
	for {
		if err := d.Refresh(); err != nil {
			return err
		}
		select {
		case <-sig:
			return nil
		case <-t.C:
		}
	}
}
