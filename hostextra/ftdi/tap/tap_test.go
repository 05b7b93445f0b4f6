// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tap

import (
	"testing"
)

func TestNextState(t *testing.T) {
	data := []struct {
		start State
		tms   bool
		end   State
	}{
		{TestLogicReset, false, RunTestIdle},
		{TestLogicReset, true, TestLogicReset},
		{RunTestIdle, true, SelectDRScan},
		{SelectDRScan, false, CaptureDR},
		{ShiftDR, true, Exit1DR},
		{Exit2DR, false, ShiftDR},
		{SelectIRScan, true, TestLogicReset},
		{CaptureIR, false, ShiftIR},
		{PauseIR, true, Exit2IR},
		{Exit2IR, true, UpdateIR},
		{UpdateIR, false, RunTestIdle},
	}
	for _, line := range data {
		if got := NextState(line.start, line.tms); got != line.end {
			t.Fatalf("NextState(%s, %t) = %s, want %s", line.start, line.tms, got, line.end)
		}
	}
}

func TestNextState_invalid(t *testing.T) {
	if got := NextState(State(42), true); got != State(42) {
		t.Fatalf("got %s", got)
	}
	if _, err := Path(State(42), RunTestIdle); err != ErrInvalidState {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestString(t *testing.T) {
	if s := ShiftDR.String(); s != "Shift-DR" {
		t.Fatal(s)
	}
	if s := UpdateIR.String(); s != "Update-IR" {
		t.Fatal(s)
	}
	if s := TestLogicReset.String(); s != "Test-Logic-Reset" {
		t.Fatal(s)
	}
	if s := State(16).String(); s != "State(16)" {
		t.Fatal(s)
	}
}

func TestPath_known(t *testing.T) {
	data := []struct {
		from, to State
		want     string
	}{
		{RunTestIdle, ShiftIR, "1100"},
		{RunTestIdle, ShiftDR, "100"},
		{ShiftDR, RunTestIdle, "110"},
		{Exit1IR, RunTestIdle, "10"},
		{TestLogicReset, RunTestIdle, "0"},
		{ShiftIR, TestLogicReset, "11111"},
		{RunTestIdle, RunTestIdle, ""},
	}
	for _, line := range data {
		q, err := Path(line.from, line.to)
		if err != nil {
			t.Fatal(err)
		}
		if s := q.String(); s != line.want {
			t.Fatalf("Path(%s, %s) = %q, want %q", line.from, line.to, s, line.want)
		}
	}
}

// minLen is a reference search without the precomputed table.
func minLen(from, to State) int {
	if from == to {
		return 0
	}
	cur := []State{from}
	for n := 1; n < NumStates; n++ {
		var next []State
		for _, s := range cur {
			for _, b := range []bool{false, true} {
				x := NextState(s, b)
				if x == to {
					return n
				}
				next = append(next, x)
			}
		}
		cur = next
	}
	return -1
}

func TestPath_all(t *testing.T) {
	longest := 0
	for from := State(0); from < NumStates; from++ {
		for to := State(0); to < NumStates; to++ {
			q, err := Path(from, to)
			if err != nil {
				t.Fatal(err)
			}
			if q.Len > 8 {
				t.Fatalf("Path(%s, %s) too long: %d", from, to, q.Len)
			}
			if q.Len > longest {
				longest = q.Len
			}
			if want := minLen(from, to); q.Len != want {
				t.Fatalf("Path(%s, %s) = %d clocks, want %d", from, to, q.Len, want)
			}
			var m StateMachine
			m.state = from
			if got := m.Apply(q); got != to {
				t.Fatalf("Path(%s, %s) leads to %s", from, to, got)
			}
		}
	}
	if longest != 8 {
		t.Fatalf("longest path is %d clocks", longest)
	}
	q, err := Path(CaptureDR, Exit2IR)
	if err != nil {
		t.Fatal(err)
	}
	if q.String() != "11110101" {
		t.Fatalf("Path(Capture-DR, Exit2-IR) = %s", q)
	}
}

func TestStateMachine_roundTrip(t *testing.T) {
	for s1 := State(0); s1 < NumStates; s1++ {
		for s2 := State(0); s2 < NumStates; s2++ {
			m := StateMachine{state: s1}
			there, err := m.GoTo(s2)
			if err != nil {
				t.Fatal(err)
			}
			back, err := m.GoTo(s1)
			if err != nil {
				t.Fatal(err)
			}
			if m.State() != s1 {
				t.Fatalf("%s -> %s -> %s", s1, s2, m.State())
			}
			// The tracked state matches what the hardware would do.
			hw := StateMachine{state: s1}
			hw.Apply(there)
			if hw.State() != s2 {
				t.Fatalf("%s -> %s: hardware in %s", s1, s2, hw.State())
			}
			hw.Apply(back)
			if hw.State() != s1 {
				t.Fatalf("%s -> %s -> %s: hardware in %s", s1, s2, s1, hw.State())
			}
		}
	}
}

func TestStateMachine_Reset(t *testing.T) {
	for s := State(0); s < NumStates; s++ {
		m := StateMachine{state: s}
		q := m.Reset()
		if m.State() != TestLogicReset {
			t.Fatal(m.State())
		}
		hw := StateMachine{state: s}
		if got := hw.Apply(q); got != TestLogicReset {
			t.Fatalf("reset from %s ended in %s", s, got)
		}
	}
}

func TestWalk(t *testing.T) {
	q, _ := Path(RunTestIdle, ShiftDR)
	got := Walk(RunTestIdle, q)
	want := []State{SelectDRScan, CaptureDR, ShiftDR}
	if len(got) != len(want) {
		t.Fatal(got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%d: %s != %s", i, got[i], want[i])
		}
	}
	if b := q.Bits(); len(b) != 3 || !b[0] || b[1] || b[2] {
		t.Fatal(b)
	}
}
