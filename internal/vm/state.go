package vm

import (
	"fmt"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	MaxProgramSize  = MemorySize - int(ProgramStart)
	InstructionSize = 2

	flagRegister = 0x0F
)

// Display is the monochrome frame buffer, indexed [row][column].
type Display [ScreenHeight][ScreenWidth]bool

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// state is the machine model. VF is kept as an ordinary register slot;
// several instructions overwrite it with a flag.
type state struct {
	memory    [MemorySize]uint8 // Memory (4k)
	registers [RegisterCount]uint8

	stack [StackSize]uint16
	sp    uint8 // Stack pointer, 0..StackSize

	pc    uint16 // Program counter
	index uint16 // Index register (I)

	delayTimer uint8
	soundTimer uint8

	display  Display
	keys     [KeyCount]bool
	drawFlag bool // Indicates the display changed since the last frame

	waitingForKey bool
	pendingKey    Key
	hasPendingKey bool
}

func newState() *state {
	s := &state{}
	copy(s.memory[fontAddr:], chip8Font)
	return s
}

func (s *state) loadProgram(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, at most %d fit", ErrProgramTooLong, len(program), MaxProgramSize)
	}

	copy(s.memory[ProgramStart:], program)
	s.pc = ProgramStart
	return nil
}

// fetch reads the big-endian instruction word at pc and advances pc.
func (s *state) fetch() (uint16, error) {
	if int(s.pc)+1 >= MemorySize {
		return 0, fmt.Errorf("%w: fetch at 0x%04X", ErrInvalidAddress, s.pc)
	}

	hi := s.memory[s.pc]
	lo := s.memory[s.pc+1]
	s.pc += InstructionSize

	return uint16(hi)<<8 | uint16(lo), nil
}

func (s *state) tickTimers() {
	if s.delayTimer > 0 {
		s.delayTimer--
	}
	if s.soundTimer > 0 {
		s.soundTimer--
	}
}

func (s *state) spriteLocation(digit uint8) (uint16, error) {
	if digit > 0x0F {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSpriteDigit, digit)
	}
	return fontAddr + uint16(digit)*fontGlyphSize, nil
}

// checkAddr validates that n bytes starting at addr lie in program memory.
// The upper bound is exclusive of the last byte (addr+n < MemorySize).
func checkAddr(addr uint16, n int) (int, error) {
	i := int(addr)
	if i < int(ProgramStart) || i+n >= MemorySize {
		return 0, fmt.Errorf("%w: 0x%04X+%d", ErrInvalidAddress, addr, n)
	}
	return i, nil
}

func (s *state) clearDisplay() {
	s.display = Display{}
	s.drawFlag = true
}

// keyDown records a pressed key. A key pressed while the machine waits on
// FX0A is captured once; the wait instruction consumes it on its next run.
func (s *state) keyDown(key Key) {
	s.keys[key] = true

	if s.waitingForKey && !s.hasPendingKey {
		s.pendingKey = key
		s.hasPendingKey = true
		s.waitingForKey = false
	}
}

func (s *state) keyUp(key Key) {
	s.keys[key] = false
}
