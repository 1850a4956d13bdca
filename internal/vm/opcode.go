package vm

import (
	"fmt"
	"math/rand/v2"
)

// operands are the fields of an instruction word. Every field is decoded
// for every word; each instruction reads the ones it needs.
type operands struct {
	x   uint8  // second nibble
	y   uint8  // third nibble
	n   uint8  // fourth nibble
	nn  uint8  // low byte
	nnn uint16 // low 12 bits
}

func decodeOperands(opcode uint16) operands {
	x := uint8((opcode & 0x0F00) >> 8)
	y := uint8((opcode & 0x00F0) >> 4)
	n := uint8(opcode & 0x000F)

	return operands{
		x:   x,
		y:   y,
		n:   n,
		nn:  (y&0x0F)<<4 | n&0x0F,
		nnn: uint16(x)<<8 | uint16((y&0x0F)<<4|n&0x0F),
	}
}

type instruction struct {
	Name    func(args operands) string
	Execute func(s *state, args operands) error
}

// decode maps an instruction word to its instruction. The second result is
// false for words that name no instruction.
func decode(opcode uint16) (instruction, bool) {
	switch opcode & 0xF000 {
	case 0x0000:
		switch opcode {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction, true

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction, true
		}

		// 0NNN - Call machine code routine; not supported, executes as a no-op
		return sysInstruction, true

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction, true

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction, true

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction, true

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction, true

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if opcode&0x000F == 0 {
			return skeq2Instruction, true
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return mov1Instruction, true

	case 0x7000:
		// 7XNN - Adds NN to VX, no carry
		return add1Instruction, true

	case 0x8000:
		switch opcode & 0x000F {
		case 0x0000:
			// 8XY0 - Sets VX to the value of VY
			return mov2Instruction, true

		case 0x0001:
			// 8XY1 - Sets VX to (VX OR VY)
			return orInstruction, true

		case 0x0002:
			// 8XY2 - Sets VX to (VX AND VY)
			return andInstruction, true

		case 0x0003:
			// 8XY3 - Sets VX to (VX XOR VY)
			return xorInstruction, true

		case 0x0004:
			// 8XY4 - Adds VY to VX. VF is 0 on overflow, 1 otherwise.
			return add2Instruction, true

		case 0x0005:
			// 8XY5 - VY is subtracted from VX. VF is 0 on borrow, 1 otherwise.
			return subInstruction, true

		case 0x0006:
			// 8XY6 - Sets VX to VY shifted right by one. VF is the bit shifted out.
			return shrInstruction, true

		case 0x0007:
			// 8XY7 - Sets VX to VY minus VX. VF is 1 on borrow, 0 otherwise.
			return rsbInstruction, true

		case 0x000E:
			// 8XYE - Sets VX to VY shifted left by one. VF is the bit shifted out.
			return shlInstruction, true
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if opcode&0x000F == 0 {
			return skne2Instruction, true
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction, true

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction, true

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction, true

	case 0xD000:
		// DXYN - Draws an 8xN sprite from memory at I at (VX, VY).
		// VF is set to 1 if any set pixel is cleared, 0 otherwise.
		return spriteInstruction, true

	case 0xE000:
		switch opcode & 0x00FF {
		case 0x009E:
			// EX9E - Skips the next instruction if the key stored in VX is pressed
			return skprInstruction, true

		case 0x00A1:
			// EXA1 - Skips the next instruction if the key stored in VX isn't pressed
			return skupInstruction, true
		}

	case 0xF000:
		switch opcode & 0x00FF {
		case 0x0007:
			// FX07 - Sets VX to the value of the delay timer
			return gdelayInstruction, true

		case 0x000A:
			// FX0A - A key press is awaited, and then stored in VX
			return keyInstruction, true

		case 0x0015:
			// FX15 - Sets the delay timer to VX
			return sdelayInstruction, true

		case 0x0018:
			// FX18 - Sets the sound timer to VX
			return ssoundInstruction, true

		case 0x001E:
			// FX1E - Adds VX to I, no flag
			return adiInstruction, true

		case 0x0029:
			// FX29 - Sets I to the location of the font glyph for the digit in VX
			return fontInstruction, true

		case 0x0033:
			// FX33 - Stores the BCD representation of VX at I, I+1, I+2
			return bcdInstruction, true

		case 0x0055:
			// FX55 - Stores V0 to VX in memory starting at address I
			return strInstruction, true

		case 0x0065:
			// FX65 - Reads memory starting at address I into V0...VX
			return ldrInstruction, true
		}
	}

	return instruction{}, false
}

var (
	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(args operands) string {
			return "cls"
		},
		Execute: func(s *state, args operands) error {
			s.clearDisplay()
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(args operands) string {
			return "rts"
		},
		Execute: func(s *state, args operands) error {
			if s.sp == 0 {
				return ErrEmptyCallStack
			}

			s.sp--
			s.pc = s.stack[s.sp]
			return nil
		},
	}

	// 0xxx	sys xxx	machine code call, ignored
	sysInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("sys 0x%03x", args.nnn)
		},
		Execute: func(s *state, args operands) error {
			return nil
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("jmp 0x%03x", args.nnn)
		},
		Execute: func(s *state, args operands) error {
			s.pc = args.nnn
			return nil
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("jsr 0x%03x", args.nnn)
		},
		Execute: func(s *state, args operands) error {
			if int(s.sp)+1 > StackSize {
				return fmt.Errorf("%w: call to 0x%03x", ErrStackOverflow, args.nnn)
			}

			addr, err := checkAddr(args.nnn, 1)
			if err != nil {
				return err
			}

			s.stack[s.sp] = s.pc
			s.sp++
			s.pc = uint16(addr)
			return nil
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skeq v%x, %d", args.x, args.nn)
		},
		Execute: func(s *state, args operands) error {
			if s.registers[args.x] == args.nn {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skne v%x, %d", args.x, args.nn)
		},
		Execute: func(s *state, args operands) error {
			if s.registers[args.x] != args.nn {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skeq v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			if s.registers[args.x] == s.registers[args.y] {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("mov v%x, %d", args.x, args.nn)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] = args.nn
			return nil
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("add v%x, %d", args.x, args.nn)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] += args.nn
			return nil
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("mov v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] = s.registers[args.y]
			return nil
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("or v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] |= s.registers[args.y]
			return nil
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("and v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] &= s.registers[args.y]
			return nil
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("xor v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] ^= s.registers[args.y]
			return nil
		},
	}

	// 8ry4	add vr,vy	add register vy to vr, vf = 1 unless it overflowed
	add2Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("add v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			x := s.registers[args.x]
			y := s.registers[args.y]
			sum := x + y

			s.registers[args.x] = sum
			if sum < x {
				s.registers[flagRegister] = 0
			} else {
				s.registers[flagRegister] = 1
			}
			return nil
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr, vf = 1 unless it borrowed
	subInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("sub v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			x := s.registers[args.x]
			y := s.registers[args.y]

			s.registers[args.x] = x - y
			if y > x {
				s.registers[flagRegister] = 0
			} else {
				s.registers[flagRegister] = 1
			}
			return nil
		},
	}

	// 8ry6	shr vr,vy	vr = vy >> 1, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("shr v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			y := s.registers[args.y]

			s.registers[args.x] = y >> 1
			s.registers[flagRegister] = y & 0x01
			return nil
		},
	}

	// 8ry7	rsb vr,vy	vr = vy - vr, vf = 1 if it borrowed
	rsbInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("rsb v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			x := s.registers[args.x]
			y := s.registers[args.y]

			s.registers[args.x] = y - x
			if x > y {
				s.registers[flagRegister] = 1
			} else {
				s.registers[flagRegister] = 0
			}
			return nil
		},
	}

	// 8rye	shl vr,vy	vr = vy << 1, bit 7 goes into register vf
	shlInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("shl v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			y := s.registers[args.y]

			s.registers[args.x] = y << 1
			s.registers[flagRegister] = y >> 7
			return nil
		},
	}

	// 9ry0	skne vr,vy	skip if register r <> register y
	skne2Instruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skne v%x, v%x", args.x, args.y)
		},
		Execute: func(s *state, args operands) error {
			if s.registers[args.x] != s.registers[args.y] {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("mvi 0x%03x", args.nnn)
		},
		Execute: func(s *state, args operands) error {
			s.index = args.nnn & 0x0FFF
			return nil
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("jmi 0x%03x", args.nnn)
		},
		Execute: func(s *state, args operands) error {
			addr, err := checkAddr(args.nnn+uint16(s.registers[0]), InstructionSize)
			if err != nil {
				return err
			}

			s.pc = uint16(addr)
			return nil
		},
	}

	// crxx	rand vr,xx	vr = random number masked with xx
	randInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("rand v%x, %d", args.x, args.nn)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] = uint8(rand.UintN(256)) & args.nn
			return nil
		},
	}

	// drys	sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// Sprites are read from memory at the index register, 8 bits wide.
	// Wraps around the screen on both axes.
	// If when drawn, clears a pixel, vf is set to 1 otherwise it is zero.
	// All drawing is xor drawing (e.g. it toggles the screen pixels)
	spriteInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", args.x, args.y, args.n)
		},
		Execute: func(s *state, args operands) error {
			start := int(s.index)
			height := int(args.n)
			if start+height > MemorySize {
				return fmt.Errorf("%w: sprite at 0x%04X height %d", ErrInvalidAddress, s.index, height)
			}

			xLocation := int(s.registers[args.x])
			yLocation := int(s.registers[args.y])

			hasCollision := uint8(0)
			for row, pixels := range s.memory[start : start+height] {
				y := (yLocation + row) % ScreenHeight

				const width = 8
				for bit := 0; bit < width; bit++ {
					if pixels&(0x80>>bit) == 0 {
						continue
					}

					x := (xLocation + bit) % ScreenWidth
					if s.display[y][x] {
						hasCollision = 1
					}
					s.display[y][x] = !s.display[y][x]
				}
			}

			s.registers[flagRegister] = hasCollision
			s.drawFlag = true
			return nil
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed
	skprInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skpr v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			key := s.registers[args.x]
			if key >= KeyCount {
				return fmt.Errorf("%w: %d", ErrInvalidKey, key)
			}

			if s.keys[key] {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("skup v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			key := s.registers[args.x]
			if key >= KeyCount {
				return fmt.Errorf("%w: %d", ErrInvalidKey, key)
			}

			if !s.keys[key] {
				s.pc += InstructionSize
			}
			return nil
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("gdelay v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			s.registers[args.x] = s.delayTimer
			return nil
		},
	}

	// fr0a	key vr	wait for for keypress, put key in register vr
	keyInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("key v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			if s.hasPendingKey {
				s.registers[args.x] = uint8(s.pendingKey)
				s.hasPendingKey = false
				s.waitingForKey = false
				return nil
			}

			// Rewind so this instruction runs again once a key arrives.
			s.waitingForKey = true
			s.pc -= InstructionSize
			return nil
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("sdelay v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			s.delayTimer = s.registers[args.x]
			return nil
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("ssound v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			s.soundTimer = s.registers[args.x]
			return nil
		},
	}

	// fr1e	adi vr	add register vr to the index register
	adiInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("adi v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			s.index += uint16(s.registers[args.x])
			return nil
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("font v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			addr, err := s.spriteLocation(s.registers[args.x])
			if err != nil {
				return err
			}

			s.index = addr
			return nil
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("bcd v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			i, err := checkAddr(s.index, 3)
			if err != nil {
				return err
			}

			x := s.registers[args.x]
			s.memory[i] = x / 100
			s.memory[i+1] = (x / 10) % 10
			s.memory[i+2] = x % 10
			return nil
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards	I = I + r + 1
	strInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("str v0-v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			n := int(args.x) + 1
			i, err := checkAddr(s.index, n)
			if err != nil {
				return err
			}

			copy(s.memory[i:i+n], s.registers[:n])
			s.index = uint16(i + n)
			return nil
		},
	}

	// fr65	ldr v0-vr	load registers v0-vr from location I onwards	I = I + r + 1
	ldrInstruction = instruction{
		Name: func(args operands) string {
			return fmt.Sprintf("ldr v0-v%x", args.x)
		},
		Execute: func(s *state, args operands) error {
			n := int(args.x) + 1
			i, err := checkAddr(s.index, n)
			if err != nil {
				return err
			}

			copy(s.registers[:n], s.memory[i:i+n])
			s.index = uint16(i + n)
			return nil
		},
	}
)
