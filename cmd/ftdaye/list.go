// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/spf13/cobra"
)

var listPins bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the supported chips connected",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listPins, "pins", "p", false, "open each channel and print its pins")
}

func runList(cmd *cobra.Command, args []string) error {
	all, err := ftdi.Enumerate()
	if err != nil {
		return err
	}
	plural := ""
	if len(all) > 1 {
		plural = "s"
	}
	fmt.Printf("Found %d device%s\n", len(all), plural)
	for i := range all {
		info := &all[i]
		p := &info.Profile
		fmt.Printf("- Device #%d\n", i)
		fmt.Printf("  Type:           %s\n", p.Variant)
		fmt.Printf("  Vendor ID:      %#04x\n", ftdi.VendorID)
		fmt.Printf("  Product ID:     %#04x\n", p.ProductID)
		fmt.Printf("  Serial:         %s\n", info.Serial)
		fmt.Printf("  Bus:            %d\n", info.Bus)
		fmt.Printf("  Address:        %d\n", info.Address)
		fmt.Printf("  MPSSE:          %v\n", p.MPSSE)
		fmt.Printf("  Upper pins:     %d\n", p.UpperPins)
		fmt.Printf("  Open drain:     %t\n", p.DriveZero)
		if !listPins {
			continue
		}
		for _, i := range p.MPSSE {
			if err := printPins(info, i); err != nil {
				fmt.Printf("  %s: %v\n", i, err)
			}
		}
	}
	return nil
}

func printPins(info *ftdi.USBInfo, i ftdi.Interface) error {
	u, p, err := ftdi.OpenUSB(&ftdi.USBOpts{Serial: info.Serial, Interface: i})
	if err != nil {
		return err
	}
	c, err := ftdi.Open(u, p, i, nil)
	if err != nil {
		u.Close()
		return err
	}
	defer c.Close()
	for _, pin := range c.Header() {
		fmt.Printf("  %s: %s\n", pin, pin.Function())
	}
	return nil
}
