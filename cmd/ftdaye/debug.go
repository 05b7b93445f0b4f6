// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/ftdaye/mpsse/hostextra/ftdi/idcode"
	"github.com/spf13/cobra"
	"periph.io/x/periph/conn/gpio"
)

var (
	jtagAdaptive bool
	jtagTCK      string
	jtagTMS      string
	jtagTDI      string
	jtagTDO      string
	jtagTDIHigh  bool
	swdRetries   int
	swdDir       string
)

var jtagCmd = &cobra.Command{
	Use:   "jtag",
	Short: "JTAG master",
}

var jtagDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Count the devices on the scan chain and read their IDCODE",
	Args:  cobra.NoArgs,
	RunE:  runJTAGDetect,
}

var jtagScanTDOCmd = &cobra.Command{
	Use:   "scan-tdo",
	Short: "Look for the TDO pin of an unknown JTAG port",
	Long: `Bit bangs TCK and TMS on the given pins and samples every other pin
while shifting the data register after a TAP reset. Pins that shift out a
valid IDCODE are reported.`,
	Args: cobra.NoArgs,
	RunE: runJTAGScanTDO,
}

var jtagScanTDICmd = &cobra.Command{
	Use:   "scan-tdi",
	Short: "Look for the TDI pin once TCK, TDO and TMS are known",
	Long: `Clocks a pattern in every other pin in turn while shifting the data
register, and reports the pins whose pattern comes back on TDO.`,
	Args: cobra.NoArgs,
	RunE: runJTAGScanTDI,
}

var jtagScanChainCmd = &cobra.Command{
	Use:   "scan-chain",
	Short: "Read the IDCODEs of a JTAG port on any pins by bit banging",
	Args:  cobra.NoArgs,
	RunE:  runJTAGScanChain,
}

var swdCmd = &cobra.Command{
	Use:   "swd",
	Short: "ARM Serial Wire Debug master",
}

var swdIDCodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Switch the target to SWD and read DPIDR",
	Args:  cobra.NoArgs,
	RunE:  runSWDIDCode,
}

var swdReadCmd = &cobra.Command{
	Use:   "read <dp|ap> <addr>",
	Short: "Read a debug or access port register",
	Args:  cobra.ExactArgs(2),
	RunE:  runSWDRead,
}

var swdWriteCmd = &cobra.Command{
	Use:   "write <dp|ap> <addr> <value>",
	Short: "Write a debug or access port register",
	Args:  cobra.ExactArgs(3),
	RunE:  runSWDWrite,
}

func init() {
	rootCmd.AddCommand(jtagCmd, swdCmd)
	jtagCmd.AddCommand(jtagDetectCmd, jtagScanTDOCmd, jtagScanTDICmd, jtagScanChainCmd)
	jtagDetectCmd.Flags().BoolVar(&jtagAdaptive, "adaptive", false, "wait for RTCK on D7")
	for _, c := range []*cobra.Command{jtagScanTDOCmd, jtagScanTDICmd, jtagScanChainCmd} {
		c.Flags().StringVar(&jtagTCK, "tck", "D0", "TCK pin")
		c.Flags().StringVar(&jtagTMS, "tms", "D3", "TMS pin")
	}
	for _, c := range []*cobra.Command{jtagScanTDICmd, jtagScanChainCmd} {
		c.Flags().StringVar(&jtagTDO, "tdo", "D2", "TDO pin")
	}
	jtagScanChainCmd.Flags().StringVar(&jtagTDI, "tdi", "D1", "TDI pin")
	jtagScanChainCmd.Flags().BoolVar(&jtagTDIHigh, "tdi-high", true, "hold TDI high; low hides BYPASS devices next to TDI")
	swdCmd.AddCommand(swdIDCodeCmd, swdReadCmd, swdWriteCmd)
	swdCmd.PersistentFlags().IntVar(&swdRetries, "retries", 10, "retries on WAIT")
	swdCmd.PersistentFlags().StringVar(&swdDir, "dir", "", "SWDIO buffer direction pin, if any")
}

func runJTAGDetect(cmd *cobra.Command, args []string) error {
	f, err := speed()
	if err != nil {
		return err
	}
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	j, err := c.OpenJTAG(&ftdi.JTAGConfig{Speed: f, Adaptive: jtagAdaptive})
	if err != nil {
		return err
	}
	defer j.Close()
	ids, err := j.DetectChain()
	if err != nil {
		return err
	}
	fmt.Printf("Found %d device(s), closest to TDO first\n", len(ids))
	for i, raw := range ids {
		fmt.Printf("- #%d: %s\n", i, describe(raw))
	}
	return nil
}

// describe decodes an IDCODE; 0 is a device without one.
func describe(raw uint32) string {
	if raw == 0 {
		return "BYPASS only"
	}
	id, err := idcode.Parse(raw)
	if err != nil {
		return fmt.Sprintf("%#08x (invalid)", raw)
	}
	return id.String()
}

func runJTAGScanTDO(cmd *cobra.Command, args []string) error {
	tck, err := ftdi.ParsePin(jtagTCK)
	if err != nil {
		return err
	}
	tms, err := ftdi.ParsePin(jtagTMS)
	if err != nil {
		return err
	}
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	cands, err := c.ScanTDO(tck, tms)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		fmt.Println("No TDO found")
	}
	for _, cand := range cands {
		fmt.Printf("TDO on %s: %s\n", cand.Pin, describe(cand.IDCode))
	}
	return nil
}

func runJTAGScanTDI(cmd *cobra.Command, args []string) error {
	pins, err := parsePins(jtagTCK, jtagTDO, jtagTMS)
	if err != nil {
		return err
	}
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	cands, err := c.ScanTDI(pins[0], pins[1], pins[2])
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		fmt.Println("No TDI found")
	}
	for _, cand := range cands {
		fmt.Printf("TDI on %s: %d bits to TDO\n", cand.Pin, cand.Length)
	}
	return nil
}

func runJTAGScanChain(cmd *cobra.Command, args []string) error {
	pins, err := parsePins(jtagTCK, jtagTDI, jtagTDO, jtagTMS)
	if err != nil {
		return err
	}
	c, err := openChannel()
	if err != nil {
		return err
	}
	defer c.Close()
	ids, err := c.ScanChain(ftdi.JTAGPins{TCK: pins[0], TDI: pins[1], TDO: pins[2], TMS: pins[3]}, gpio.Level(jtagTDIHigh))
	if err != nil {
		return err
	}
	fmt.Printf("Found %d device(s), closest to TDO first\n", len(ids))
	for i, raw := range ids {
		fmt.Printf("- #%d: %s\n", i, describe(raw))
	}
	return nil
}

// parsePins parses pin names in order.
func parsePins(names ...string) ([]ftdi.Pin, error) {
	out := make([]ftdi.Pin, 0, len(names))
	for _, n := range names {
		p, err := ftdi.ParsePin(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// openSWD opens the SWD master and switches the target to SWD.
func openSWD() (*ftdi.Channel, *ftdi.SWD, error) {
	f, err := speed()
	if err != nil {
		return nil, nil, err
	}
	cfg := ftdi.SWDConfig{Speed: f, MaxWaitRetries: swdRetries}
	if swdDir != "" {
		if cfg.Dir, err = ftdi.ParsePin(swdDir); err != nil {
			return nil, nil, err
		}
	}
	c, err := openChannel()
	if err != nil {
		return nil, nil, err
	}
	s, err := c.OpenSWD(&cfg)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	if err := s.Enable(); err != nil {
		s.Close()
		c.Close()
		return nil, nil, err
	}
	// DPIDR must be read first after the line reset.
	if _, err := s.ReadIDCode(); err != nil {
		s.Close()
		c.Close()
		return nil, nil, err
	}
	return c, s, nil
}

func runSWDIDCode(cmd *cobra.Command, args []string) error {
	c, s, err := openSWD()
	if err != nil {
		return err
	}
	defer c.Close()
	defer s.Close()
	id, err := s.ReadIDCode()
	if err != nil {
		return err
	}
	fmt.Printf("DPIDR: %s\n", describe(id))
	return nil
}

func parseReg(port, addr string) (ftdi.Port, uint8, error) {
	var p ftdi.Port
	switch strings.ToLower(port) {
	case "dp":
		p = ftdi.DP
	case "ap":
		p = ftdi.AP
	default:
		return 0, 0, fmt.Errorf("invalid port %q; expected dp or ap", port)
	}
	a, err := parseUint(addr, 8)
	if err != nil {
		return 0, 0, err
	}
	return p, uint8(a), nil
}

func runSWDRead(cmd *cobra.Command, args []string) error {
	p, a, err := parseReg(args[0], args[1])
	if err != nil {
		return err
	}
	c, s, err := openSWD()
	if err != nil {
		return err
	}
	defer c.Close()
	defer s.Close()
	v, err := s.ReadRegister(p, a)
	if err != nil {
		return err
	}
	if p == ftdi.AP {
		// AP reads are posted.
		if v, err = s.ReadRegister(ftdi.DP, ftdi.RDBUFF); err != nil {
			return err
		}
	}
	fmt.Printf("%s %#x: %#08x\n", p, a, v)
	return nil
}

func runSWDWrite(cmd *cobra.Command, args []string) error {
	p, a, err := parseReg(args[0], args[1])
	if err != nil {
		return err
	}
	v, err := parseUint(args[2], 32)
	if err != nil {
		return err
	}
	c, s, err := openSWD()
	if err != nil {
		return err
	}
	defer c.Close()
	defer s.Close()
	return s.WriteRegister(p, a, uint32(v))
}
