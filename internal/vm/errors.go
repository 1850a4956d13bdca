package vm

import (
	"errors"
	"fmt"
)

var (
	ErrProgramTooLong     = errors.New("program too long")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrEmptyCallStack     = errors.New("can't return from empty call stack")
	ErrStackOverflow      = errors.New("stack overflow")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidKey         = errors.New("invalid key value")
	ErrInvalidSpriteDigit = errors.New("invalid sprite digit")
)

// DecodeError is returned for instruction words that do not map to any
// instruction. It carries enough machine state to locate the word in a ROM.
type DecodeError struct {
	Opcode    uint16
	PC        uint16 // fetch address of the opcode, not the post-fetch pc
	Registers [RegisterCount]uint8
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unknown opcode: 0x%04X; pc=0x%04X, registers=%v", e.Opcode, e.PC, e.Registers)
}

func (e *DecodeError) Unwrap() error {
	return ErrUnknownOpcode
}
