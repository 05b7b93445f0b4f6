// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mpsse is for documentation only. Explains how to setup cgo and
// libusb, which the ftdi driver depends on.
//
// The driver itself is in hostextra/ftdi, the command line tool in
// cmd/ftdaye.
//
// Debian
//
// This includes Raspbian and Ubuntu.
//
// You need to install pkg-config and libusb to enable cgo, run:
//
//  sudo apt install pkg-config libusb-1.0-0-dev
//
// MacOS
//
// You can install pkg-config and libusb via Homebrew (https://brew.sh):
//
//  brew install pkgconfig libusb
//
// Windows
//
// libusb needs the WinUSB driver bound to the FTDI interface instead of the
// vendor's driver; Zadig (https://zadig.akeo.ie) does this.
package mpsse
