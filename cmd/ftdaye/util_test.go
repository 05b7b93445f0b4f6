// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"testing"

	"github.com/ftdaye/mpsse/hostextra/ftdi"
)

func TestParseHex(t *testing.T) {
	b, err := parseHex([]string{"0x9f", "00:01", "AB cd"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{0x9F, 0x00, 0x01, 0xAB, 0xCD}) {
		t.Fatalf("%#v", b)
	}
	if _, err := parseHex([]string{"9"}); err == nil {
		t.Fatal("odd length")
	}
}

func TestParseReg(t *testing.T) {
	p, a, err := parseReg("AP", "0xC")
	if err != nil {
		t.Fatal(err)
	}
	if p != ftdi.AP || a != 0xC {
		t.Fatal(p, a)
	}
	if _, _, err := parseReg("mem", "0"); err == nil {
		t.Fatal("invalid port")
	}
	if _, _, err := parseReg("dp", "256"); err == nil {
		t.Fatal("invalid address")
	}
}

func TestDescribe(t *testing.T) {
	if s := describe(0); s != "BYPASS only" {
		t.Fatal(s)
	}
	if s := describe(0x12345678); s != "0x12345678 (invalid)" {
		t.Fatal(s)
	}
}

func TestCommands(t *testing.T) {
	want := map[string]bool{"list": true, "gpio": true, "spi": true, "i2c": true, "jtag": true, "swd": true}
	for _, c := range rootCmd.Commands() {
		delete(want, c.Name())
	}
	if len(want) != 0 {
		t.Fatalf("missing commands %v", want)
	}
}

func TestJTAGCommands(t *testing.T) {
	want := map[string]bool{"detect": true, "scan-tdo": true, "scan-tdi": true, "scan-chain": true}
	for _, c := range jtagCmd.Commands() {
		delete(want, c.Name())
	}
	if len(want) != 0 {
		t.Fatalf("missing commands %v", want)
	}
	if f := jtagScanChainCmd.Flags().Lookup("tdi-high"); f == nil || f.DefValue != "true" {
		t.Fatal("scan-chain holds TDI high by default")
	}
}

func TestParsePins(t *testing.T) {
	p, err := parsePins("D0", "C1")
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 2 || p[0] != ftdi.AD0 || p[1] != ftdi.AC1 {
		t.Fatal(p)
	}
	if _, err := parsePins("D0", "X9"); err == nil {
		t.Fatal("invalid pin")
	}
}
