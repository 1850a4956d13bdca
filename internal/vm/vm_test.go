package vm

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type fakeTone struct {
	starts, stops int
}

func (f *fakeTone) StartTone() { f.starts++ }
func (f *fakeTone) StopTone()  { f.stops++ }

func newLoaded(t *testing.T, tone Tone, program ...byte) *VM {
	t.Helper()

	machine := New(tone)
	if err := machine.Load(program); err != nil {
		t.Fatalf("load: %v", err)
	}
	return machine
}

func mustCycle(t *testing.T, machine *VM, delta time.Duration) {
	t.Helper()

	if err := machine.ExecuteCycle(delta); err != nil {
		t.Fatalf("cycle at pc 0x%04X: %v", machine.PC(), err)
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()

	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestLoadFetchOrder(t *testing.T) {
	// mov v0,1; mov v1,2; mov v2,3
	machine := newLoaded(t, nil, 0x60, 0x01, 0x61, 0x02, 0x62, 0x03)

	for i, want := range []uint16{0x202, 0x204, 0x206} {
		mustCycle(t, machine, 0)
		if machine.PC() != want {
			t.Errorf("cycle %d: pc = 0x%04X, want 0x%04X", i, machine.PC(), want)
		}
	}

	regs := machine.Registers()
	if regs[0] != 1 || regs[1] != 2 || regs[2] != 3 {
		t.Errorf("registers = %v", regs[:3])
	}
}

func TestLoadCapacity(t *testing.T) {
	machine := New(nil)
	if err := machine.Load(make([]byte, MaxProgramSize)); err != nil {
		t.Errorf("load of %d bytes: %v", MaxProgramSize, err)
	}

	machine = New(nil)
	err := machine.Load(bytes.Repeat([]byte{0xAA}, MaxProgramSize+1))
	if !errors.Is(err, ErrProgramTooLong) {
		t.Fatalf("err = %v, want ErrProgramTooLong", err)
	}
	if machine.Loaded() {
		t.Error("machine marked loaded after failed load")
	}
	if machine.s.memory[ProgramStart] != 0 || machine.PC() != 0 {
		t.Error("failed load modified memory")
	}

	// A failed load leaves the machine loadable.
	if err := machine.Load([]byte{0x12, 0x00}); err != nil {
		t.Errorf("load after failure: %v", err)
	}
}

func TestPreconditionsPanic(t *testing.T) {
	expectPanic(t, "double load", func() {
		machine := newLoaded(t, nil, 0x12, 0x00)
		_ = machine.Load([]byte{0x12, 0x00})
	})

	expectPanic(t, "cycle before load", func() {
		_ = New(nil).ExecuteCycle(0)
	})

	expectPanic(t, "key down out of range", func() {
		New(nil).KeyDown(Key(16))
	})

	expectPanic(t, "key up out of range", func() {
		New(nil).KeyUp(Key(0xFF))
	})
}

func TestResetRestoresFreshState(t *testing.T) {
	tone := &fakeTone{}
	// mov v0,5; ssound v0; jmp 0x204
	machine := newLoaded(t, tone, 0x60, 0x05, 0xF0, 0x18, 0x12, 0x04)
	mustCycle(t, machine, 0)
	mustCycle(t, machine, 0)
	machine.KeyDown(Key2)

	if tone.starts != 1 {
		t.Fatalf("tone starts = %d, want 1", tone.starts)
	}

	machine.Reset()

	if tone.stops != 1 {
		t.Errorf("reset did not stop tone")
	}
	if machine.Loaded() || machine.PC() != 0 || machine.Registers() != ([RegisterCount]uint8{}) {
		t.Error("reset left program state behind")
	}
	if machine.SoundTimer() != 0 || machine.s.keys[Key2] {
		t.Error("reset left timers or keys behind")
	}
	if !bytes.Equal(machine.s.memory[:len(chip8Font)], chip8Font) {
		t.Error("reset lost the font")
	}

	if err := machine.Load([]byte{0x12, 0x00}); err != nil {
		t.Errorf("load after reset: %v", err)
	}
}

func TestTimersRunAtFixedRate(t *testing.T) {
	// jmp 0x200
	machine := newLoaded(t, nil, 0x12, 0x00)
	machine.s.delayTimer = 10

	mustCycle(t, machine, TimerPeriod/2)
	if machine.DelayTimer() != 10 {
		t.Errorf("half period ticked: delay = %d", machine.DelayTimer())
	}

	mustCycle(t, machine, TimerPeriod/2)
	if machine.DelayTimer() != 9 {
		t.Errorf("full period: delay = %d, want 9", machine.DelayTimer())
	}

	mustCycle(t, machine, 3*TimerPeriod)
	if machine.DelayTimer() != 6 {
		t.Errorf("three periods: delay = %d, want 6", machine.DelayTimer())
	}

	mustCycle(t, machine, 20*TimerPeriod)
	if machine.DelayTimer() != 0 {
		t.Errorf("delay = %d, want 0", machine.DelayTimer())
	}

	mustCycle(t, machine, TimerPeriod)
	if machine.DelayTimer() != 0 {
		t.Errorf("delay went below zero: %d", machine.DelayTimer())
	}
}

func TestToneEdges(t *testing.T) {
	tone := &fakeTone{}
	// mov v0,3; ssound v0; jmp 0x204
	machine := newLoaded(t, tone, 0x60, 0x03, 0xF0, 0x18, 0x12, 0x04)

	mustCycle(t, machine, 0)
	if tone.starts != 0 {
		t.Fatal("tone started before sound timer was set")
	}

	mustCycle(t, machine, 0)
	mustCycle(t, machine, 0)
	if tone.starts != 1 {
		t.Fatalf("starts = %d, want 1", tone.starts)
	}

	mustCycle(t, machine, TimerPeriod)
	mustCycle(t, machine, TimerPeriod)
	if tone.stops != 0 {
		t.Fatal("tone stopped early")
	}

	mustCycle(t, machine, TimerPeriod)
	if tone.stops != 1 {
		t.Fatalf("stops = %d, want 1", tone.stops)
	}

	for i := 0; i < 10; i++ {
		mustCycle(t, machine, TimerPeriod)
	}
	if tone.starts != 1 || tone.stops != 1 {
		t.Errorf("redundant tone events: starts = %d stops = %d", tone.starts, tone.stops)
	}
}

func TestWaitForKey(t *testing.T) {
	// key v3; jmp 0x202
	machine := newLoaded(t, nil, 0xF3, 0x0A, 0x12, 0x02)

	mustCycle(t, machine, 0)
	if !machine.WaitingForKey() || machine.PC() != 0x200 {
		t.Fatalf("waiting = %v pc = 0x%04X", machine.WaitingForKey(), machine.PC())
	}

	machine.s.delayTimer = 5
	mustCycle(t, machine, TimerPeriod)
	if machine.PC() != 0x200 {
		t.Errorf("instruction executed while waiting: pc = 0x%04X", machine.PC())
	}
	if machine.DelayTimer() != 4 {
		t.Errorf("timers stopped while waiting: delay = %d", machine.DelayTimer())
	}

	machine.KeyDown(Key5)
	if machine.WaitingForKey() {
		t.Fatal("key press did not end the wait")
	}
	if machine.Registers()[3] != 0 {
		t.Fatal("register written before the next cycle")
	}

	mustCycle(t, machine, 0)
	if machine.Registers()[3] != 5 {
		t.Errorf("v3 = %d, want 5", machine.Registers()[3])
	}
	if machine.PC() != 0x202 {
		t.Errorf("pc = 0x%04X, want 0x0202", machine.PC())
	}
}

func TestKeyBeforeWaitIsNotCaptured(t *testing.T) {
	// key v3
	machine := newLoaded(t, nil, 0xF3, 0x0A)

	machine.KeyDown(Key7)
	mustCycle(t, machine, 0)

	if !machine.WaitingForKey() {
		t.Error("key pressed before the wait satisfied it")
	}
}

func TestCallReturnRoundTrip(t *testing.T) {
	program := make([]byte, 0x102)
	copy(program, []byte{0x23, 0x00}) // jsr 0x300
	copy(program[0x100:], []byte{0x00, 0xEE})
	machine := newLoaded(t, nil, program...)

	mustCycle(t, machine, 0)
	if machine.PC() != 0x300 {
		t.Fatalf("pc = 0x%04X, want 0x0300", machine.PC())
	}

	mustCycle(t, machine, 0)
	if machine.PC() != 0x202 {
		t.Errorf("pc = 0x%04X, want 0x0202", machine.PC())
	}
}

func TestDecodeErrorDiagnostics(t *testing.T) {
	// mov v1,7; invalid
	machine := newLoaded(t, nil, 0x61, 0x07, 0xFF, 0xFF)
	mustCycle(t, machine, 0)

	err := machine.ExecuteCycle(0)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err %T is not a *DecodeError", err)
	}
	if decodeErr.Opcode != 0xFFFF || decodeErr.PC != 0x202 || decodeErr.Registers[1] != 7 {
		t.Errorf("diagnostics = %+v", decodeErr)
	}
}

func TestMachineCallIsNoop(t *testing.T) {
	// sys 0x123; mov v0,1
	machine := newLoaded(t, nil, 0x01, 0x23, 0x60, 0x01)

	mustCycle(t, machine, 0)
	mustCycle(t, machine, 0)

	if machine.Registers()[0] != 1 {
		t.Error("execution did not continue past sys")
	}
}

func TestRunOffEndOfMemory(t *testing.T) {
	// jmp 0xfff
	machine := newLoaded(t, nil, 0x1F, 0xFF)
	mustCycle(t, machine, 0)

	if err := machine.ExecuteCycle(0); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestClearLoop(t *testing.T) {
	// cls; mov v0,0x0a; jmp 0x200
	machine := newLoaded(t, nil, 0x00, 0xE0, 0x60, 0x0A, 0x12, 0x00)

	for i := 0; i < 1000; i++ {
		mustCycle(t, machine, time.Millisecond)
	}

	if machine.Display() != (Display{}) {
		t.Error("display not clear")
	}
	if machine.Registers()[0] != 0x0A {
		t.Errorf("v0 = 0x%02X, want 0x0A", machine.Registers()[0])
	}
}

func TestDrawLoop(t *testing.T) {
	program := []byte{
		0x60, 0x00, 0x61, 0x00, 0x6E, 0x1E, 0x8E, 0x17, 0x4F, 0x01, 0x12, 0x12, 0xD0, 0x15, 0x71,
		0x05, 0x12, 0x04, 0x60, 0x05, 0x61, 0x00, 0x41, 0x1E, 0x12, 0x20, 0xD0, 0x15, 0x71, 0x05,
		0x12, 0x16, 0x60, 0x0A, 0x61, 0x00, 0x6E, 0x1E, 0x8E, 0x17, 0x4F, 0x01, 0x12, 0x32, 0xD0,
		0x15, 0x71, 0x05, 0x12, 0x24, 0x60, 0x0F, 0x61, 0x00, 0x41, 0x1E, 0x12, 0x40, 0xD0, 0x15,
		0x71, 0x05, 0x12, 0x36, 0x60, 0x14, 0x61, 0x00, 0x41, 0x19, 0x12, 0x56, 0xD0, 0x15, 0x71,
		0x05, 0x62, 0x05, 0x72, 0xFF, 0x32, 0x00, 0x12, 0x4E, 0x12, 0x44, 0xD0, 0x15, 0x12, 0x58,
	}
	machine := newLoaded(t, nil, program...)

	for i := 0; i < 200; i++ {
		mustCycle(t, machine, 17*time.Millisecond)
	}
}
