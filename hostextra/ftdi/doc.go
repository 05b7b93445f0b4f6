// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi drives the MPSSE engine of the FTDI FT232H, FT2232H and
// FT4232H over libusb.
//
// Each MPSSE capable interface of a chip is a Channel. A Channel exposes its
// 16 pins (8 on the FT4232H) as gpio.PinIO and can run one protocol master at
// a time: SPI, I²C, JTAG or SWD. The pins not used by the master stay usable
// as GPIOs.
//
// Commands are batched per operation and sent in a single USB transfer; the
// response is read back in one go and split per command.
//
// The driver registers every channel found at periph.Init() in pinreg, spireg
// and i2creg. A Channel can also be opened directly over any Transport with
// Open(), which is how package ftditest simulates a chip.
//
// Debian
//
// This includes Raspbian and Ubuntu.
//
// You need to install libusb-1.0:
//
//  sudo apt install libusb-1.0-0-dev
//
// The kernel ftdi_sio driver is detached automatically when an interface is
// claimed. To access the device without root, add an udev rule:
//
//  echo 'SUBSYSTEM=="usb", ATTR{idVendor}=="0403", MODE="0666"' | \
//    sudo tee /etc/udev/rules.d/98-ftdi.rules
//  sudo udevadm control --reload-rules
//  sudo udevadm trigger --verbose
//
// MacOS
//
//  brew install libusb
//
// Disable Apple's native FTDI driver with:
//  sudo kextunload -b com.apple.driver.AppleUSBFTDI
//
// Supported products
//
// http://www.ftdichip.com/Products/ICs/FT232H.htm
//
// http://www.ftdichip.com/Products/ICs/FT2232H.html
//
// http://www.ftdichip.com/Products/ICs/FT4232H.htm
//
// Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT2232H.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT4232H.pdf
package ftdi
