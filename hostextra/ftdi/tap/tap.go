// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tap implements the IEEE 1149.1 JTAG Test Access Port state machine.
//
// It does not do any I/O. It computes the TMS sequences needed to move
// between states, so a JTAG master can clock them out and keep its tracked
// state in sync with the hardware.
package tap

import (
	"errors"
	"strconv"
)

// State is one of the 16 TAP controller states.
type State uint8

// TAP controller states.
const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR

	// NumStates is the number of valid states.
	NumStates = 16
)

const stateName = "Test-Logic-ResetRun-Test/IdleSelect-DR-ScanCapture-DRShift-DRExit1-DRPause-DRExit2-DRUpdate-DRSelect-IR-ScanCapture-IRShift-IRExit1-IRPause-IRExit2-IRUpdate-IR"

var stateIndex = [...]uint8{0, 16, 29, 43, 53, 61, 69, 77, 85, 94, 108, 118, 126, 134, 142, 150, 159}

func (s State) String() string {
	if !s.Valid() {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateName[stateIndex[s]:stateIndex[s+1]]
}

// Valid returns true if s is one of the 16 states.
func (s State) Valid() bool {
	return s < NumStates
}

// IsShift returns true for Shift-DR and Shift-IR.
func (s State) IsShift() bool {
	return s == ShiftDR || s == ShiftIR
}

// transitions is indexed by [state][tms].
var transitions = [NumStates][2]State{
	TestLogicReset: {RunTestIdle, TestLogicReset},
	RunTestIdle:    {RunTestIdle, SelectDRScan},
	SelectDRScan:   {CaptureDR, SelectIRScan},
	CaptureDR:      {ShiftDR, Exit1DR},
	ShiftDR:        {ShiftDR, Exit1DR},
	Exit1DR:        {PauseDR, UpdateDR},
	PauseDR:        {PauseDR, Exit2DR},
	Exit2DR:        {ShiftDR, UpdateDR},
	UpdateDR:       {RunTestIdle, SelectDRScan},
	SelectIRScan:   {CaptureIR, TestLogicReset},
	CaptureIR:      {ShiftIR, Exit1IR},
	ShiftIR:        {ShiftIR, Exit1IR},
	Exit1IR:        {PauseIR, UpdateIR},
	PauseIR:        {PauseIR, Exit2IR},
	Exit2IR:        {ShiftIR, UpdateIR},
	UpdateIR:       {RunTestIdle, SelectDRScan},
}

// NextState returns the state after one TCK rising edge with tms.
//
// An invalid state is returned unchanged.
func NextState(s State, tms bool) State {
	if !s.Valid() {
		return s
	}
	if tms {
		return transitions[s][1]
	}
	return transitions[s][0]
}

// Seq is a TMS sequence, clocked LSB first.
//
// The longest minimal path between two states is 8 clocks, for example
// Capture-DR to Exit2-IR, so a path always fits in TMS.
type Seq struct {
	TMS uint8
	Len int
}

// Bit returns the TMS value of the i-th clock.
func (q Seq) Bit(i int) bool {
	return q.TMS&(1<<uint(i)) != 0
}

// Bits returns the sequence as a slice.
func (q Seq) Bits() []bool {
	out := make([]bool, q.Len)
	for i := range out {
		out[i] = q.Bit(i)
	}
	return out
}

func (q Seq) String() string {
	b := make([]byte, q.Len)
	for i := range b {
		b[i] = '0'
		if q.Bit(i) {
			b[i] = '1'
		}
	}
	return string(b)
}

// ResetSeq forces Test-Logic-Reset from any state.
var ResetSeq = Seq{TMS: 0x1F, Len: 5}

// ErrInvalidState is returned when a state outside the 16 valid ones is used.
var ErrInvalidState = errors.New("tap: invalid state")

// Path returns the minimal TMS sequence from one state to another.
//
// The path from a state to itself is empty, even for the states that loop on
// themselves.
func Path(from, to State) (Seq, error) {
	if !from.Valid() || !to.Valid() {
		return Seq{}, ErrInvalidState
	}
	return paths[from][to], nil
}

// Walk returns the states visited while clocking q from s, s excluded.
func Walk(s State, q Seq) []State {
	out := make([]State, q.Len)
	for i := range out {
		s = NextState(s, q.Bit(i))
		out[i] = s
	}
	return out
}

// StateMachine tracks the TAP controller state in software.
//
// The zero value is in Test-Logic-Reset. It is not safe for concurrent use.
type StateMachine struct {
	state State
}

// State returns the tracked state.
func (m *StateMachine) State() State {
	return m.state
}

// Clock advances the machine one TCK cycle and returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// Apply clocks the whole sequence and returns the new state.
func (m *StateMachine) Apply(q Seq) State {
	for i := 0; i < q.Len; i++ {
		m.Clock(q.Bit(i))
	}
	return m.state
}

// Reset moves the machine to Test-Logic-Reset and returns the 5 ones to
// send.
func (m *StateMachine) Reset() Seq {
	m.state = TestLogicReset
	return ResetSeq
}

// GoTo moves the machine to target and returns the sequence to send.
func (m *StateMachine) GoTo(target State) (Seq, error) {
	q, err := Path(m.state, target)
	if err != nil {
		return Seq{}, err
	}
	m.state = target
	return q, nil
}

//

// paths is the precomputed minimal path table, indexed by [from][to].
var paths [NumStates][NumStates]Seq

func init() {
	// Breadth first search from every state. TMS=0 is explored first so ties
	// favor staying in the stable states.
	for from := State(0); from < NumStates; from++ {
		var seen [NumStates]bool
		seen[from] = true
		queue := []State{from}
		for len(queue) != 0 {
			s := queue[0]
			queue = queue[1:]
			for b := 0; b < 2; b++ {
				n := transitions[s][b]
				if seen[n] {
					continue
				}
				seen[n] = true
				q := paths[from][s]
				q.TMS |= uint8(b) << uint(q.Len)
				q.Len++
				paths[from][n] = q
				queue = append(queue, n)
			}
		}
	}
}
