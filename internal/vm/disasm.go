package vm

import (
	"fmt"
	"io"
)

// Disassemble writes a listing of program to w, one instruction word per
// line, addressed as if loaded at ProgramStart. Words that decode to no
// instruction are listed as data.
func Disassemble(program []byte, w io.Writer) error {
	addr := ProgramStart

	for i := 0; i+1 < len(program); i += InstructionSize {
		opcode := uint16(program[i])<<8 | uint16(program[i+1])

		text := fmt.Sprintf(".word 0x%04x", opcode)
		if instr, ok := decode(opcode); ok {
			text = instr.Name(decodeOperands(opcode))
		}

		if _, err := fmt.Fprintf(w, "%04x: %04x  %s\n", addr, opcode, text); err != nil {
			return err
		}
		addr += InstructionSize
	}

	if len(program)%2 != 0 {
		last := program[len(program)-1]
		if _, err := fmt.Fprintf(w, "%04x: %02x    .byte 0x%02x\n", addr, last, last); err != nil {
			return err
		}
	}

	return nil
}
