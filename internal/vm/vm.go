package vm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TimerPeriod is the interval at which the delay and sound timers count down.
const TimerPeriod = time.Second / 60

// Tone receives edge-triggered sound events. The sound timer being non-zero
// means the tone is on.
type Tone interface {
	StartTone()
	StopTone()
}

// VM drives the machine one instruction at a time. It is not safe for
// concurrent use: load, reset, cycles and key events must all come from the
// same goroutine.
type VM struct {
	s *state

	tone        Tone
	tonePlaying bool

	loaded     bool
	timerDelta time.Duration
}

// New creates a machine with the font loaded and no program. tone may be nil.
func New(tone Tone) *VM {
	return &VM{
		s:    newState(),
		tone: tone,
	}
}

// Load copies program into memory at ProgramStart. It panics if a program
// is already loaded; call Reset first.
func (vm *VM) Load(program []byte) error {
	if vm.loaded {
		panic("vm: program already loaded, reset first")
	}

	if err := vm.s.loadProgram(program); err != nil {
		return err
	}

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	vm.loaded = true
	return nil
}

// Reset returns the machine to its freshly constructed state and silences
// the tone.
func (vm *VM) Reset() {
	vm.s = newState()
	vm.loaded = false
	vm.timerDelta = 0
	vm.setTone(false)
}

// ExecuteCycle advances the timers by delta at a fixed 60 Hz and then runs a
// single instruction unless the machine is waiting for a key. An error means
// the instruction was consumed and the machine should be halted or reset.
func (vm *VM) ExecuteCycle(delta time.Duration) error {
	if !vm.loaded {
		panic("vm: no program loaded")
	}

	vm.timerDelta += delta
	for vm.timerDelta >= TimerPeriod {
		vm.timerDelta -= TimerPeriod
		vm.s.tickTimers()
	}

	if !vm.s.waitingForKey {
		if err := vm.step(); err != nil {
			return err
		}
	}

	vm.setTone(vm.s.soundTimer > 0)
	return nil
}

func (vm *VM) step() error {
	pc := vm.s.pc
	opcode, err := vm.s.fetch()
	if err != nil {
		return err
	}

	instr, ok := decode(opcode)
	if !ok {
		return &DecodeError{Opcode: opcode, PC: pc, Registers: vm.s.registers}
	}

	args := decodeOperands(opcode)
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", pc),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.Name(args),
		)
	}

	return instr.Execute(vm.s, args)
}

func (vm *VM) setTone(on bool) {
	if on == vm.tonePlaying {
		return
	}
	vm.tonePlaying = on

	slog.Debug("tone", "on", on)
	if vm.tone == nil {
		return
	}
	if on {
		vm.tone.StartTone()
	} else {
		vm.tone.StopTone()
	}
}

func checkKey(key Key) {
	if key > KeyF {
		panic(fmt.Sprintf("vm: key 0x%x out of range", uint8(key)))
	}
}

// KeyDown marks key as pressed. While the machine waits for a key the first
// press is captured and the wait instruction consumes it on the next cycle.
func (vm *VM) KeyDown(key Key) {
	checkKey(key)
	vm.s.keyDown(key)
}

// KeyUp marks key as released.
func (vm *VM) KeyUp(key Key) {
	checkKey(key)
	vm.s.keyUp(key)
}

// Display returns a copy of the frame buffer.
func (vm *VM) Display() Display {
	return vm.s.display
}

func (vm *VM) Registers() [RegisterCount]uint8 {
	return vm.s.registers
}

func (vm *VM) PC() uint16 {
	return vm.s.pc
}

func (vm *VM) Index() uint16 {
	return vm.s.index
}

func (vm *VM) DelayTimer() uint8 {
	return vm.s.delayTimer
}

func (vm *VM) SoundTimer() uint8 {
	return vm.s.soundTimer
}

func (vm *VM) WaitingForKey() bool {
	return vm.s.waitingForKey
}

func (vm *VM) Loaded() bool {
	return vm.loaded
}
