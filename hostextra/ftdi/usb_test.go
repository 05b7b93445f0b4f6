// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"bytes"
	"testing"
)

func TestStripModemStatus(t *testing.T) {
	data := []struct {
		in   []byte
		maxP int
		want []byte
	}{
		{nil, 512, nil},
		// Status only; nothing to read yet.
		{[]byte{0x32, 0x60}, 512, nil},
		{[]byte{0x32, 0x60, 1, 2, 3}, 512, []byte{1, 2, 3}},
		{[]byte{0x32, 0x60, 1, 2, 3, 0x32, 0x60, 4}, 5, []byte{1, 2, 3, 4}},
		{[]byte{0x32, 0x60, 1, 2, 3, 0x32, 0x60}, 5, []byte{1, 2, 3}},
	}
	for i, line := range data {
		in := append([]byte(nil), line.in...)
		got := stripModemStatus(in, line.maxP)
		if !bytes.Equal(got, line.want) {
			t.Fatalf("#%d: stripModemStatus() = %#v, want %#v", i, got, line.want)
		}
	}
}
