// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"

	"periph.io/x/periph/conn/physic"
)

// Clock divisor
//
// The data clock is base / (2 * (1 + divisor)) with a 16 bits divisor. The
// base is 60MHz, or 12MHz with the divide by 5 prescaler:
//
// - 0 30MHz / 6MHz
// - 1 15MHz / 3MHz
// - 2 10MHz / 2MHz
// - ...
// - 0xFFFF 457.763Hz / 91.553Hz

// maxClock is the fastest data clock.
const maxClock = 30 * physic.MegaHertz

// clockSetting is a divisor along the achieved frequency.
type clockSetting struct {
	div    uint16
	div5   bool
	actual physic.Frequency
}

// computeClock returns the divisor closest to f.
//
// The divide by 5 prescaler is selected only when the divisor overflows at
// the full base clock. In that case the divisor is kept at or above the
// value where the prescaled clock drops under the slowest non-prescaled
// clock, so that computeClock(actual) returns the same setting.
func computeClock(base, f physic.Frequency) (clockSetting, error) {
	if f > maxClock || f > base/2 {
		return clockSetting{}, configErr(fmt.Sprintf("invalid speed %s; maximum supported clock is %s", f, min(maxClock, base/2)), nil)
	}
	slowBase := base / 5
	if f <= 0 || f < slowBase/(2*65536) {
		return clockSetting{}, configErr(fmt.Sprintf("invalid speed %s; minimum supported clock is %s", f, slowBase/(2*65536)), nil)
	}
	if f >= base/(2*65536) {
		k := (base + f) / (2 * f)
		if k > 65536 {
			k = 65536
		}
		return clockSetting{div: uint16(k - 1), actual: base / (2 * k)}, nil
	}
	// Slowest clock at full base clock, rounded down.
	floor := base / (2 * 65536)
	// Smallest k such that slowBase/(2k) < floor.
	kmin := slowBase/(2*floor) + 1
	k := (slowBase + f) / (2 * f)
	if k < kmin {
		k = kmin
	}
	if k > 65536 {
		k = 65536
	}
	return clockSetting{div: uint16(k - 1), div5: true, actual: slowBase / (2 * k)}, nil
}

// SetFrequency sets the data clock to the closest value of f and returns the
// achieved frequency.
//
// It fails with a ConfigurationError, without sending anything, when f is
// outside [91.553Hz, 30MHz].
func (c *Channel) SetFrequency(f physic.Frequency) (physic.Frequency, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFrequency(f)
}

// Frequency returns the current data clock.
//
// It is 0 until a frequency is set, and again after Resync.
func (c *Channel) Frequency() physic.Frequency {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq
}

func (c *Channel) setFrequency(f physic.Frequency) (physic.Frequency, error) {
	s, err := computeClock(c.profile.BaseClock, f)
	if err != nil {
		return 0, err
	}
	if s.actual == c.freq {
		return s.actual, nil
	}
	var cmd command
	cmd.divisor(s.div, s.div5)
	if _, err := c.h.exec(&cmd); err != nil {
		return 0, err
	}
	c.freq = s.actual
	return s.actual, nil
}
