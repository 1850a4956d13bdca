package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HAL implementations return these to stop Run.
var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

// HAL is the host side of the machine: a key source, a frame sink and a
// frame pacer.
type HAL interface {
	ReadInput(keyDown func(Key), keyUp func(Key)) error
	Draw(display *Display) error
	WaitForNextFrame() error
}

type RunOptions struct {
	// Clock is the number of instructions executed per second.
	Clock int

	// Now overrides the wall clock, mostly for tests.
	Now func() time.Time
}

// MaxClock is the fastest supported clock: one instruction per nanosecond.
const MaxClock = int(time.Second)

// maxFrameDelta caps the time credited to a single host frame so a stalled
// host doesn't trigger a burst of instructions.
const maxFrameDelta = 100 * time.Millisecond

// Run drives the loaded program until the HAL returns an error (for
// example ErrQuit). If the program fails, the error is logged and the
// machine halts showing its last frame while input is still polled.
func (vm *VM) Run(hal HAL, opts RunOptions) error {
	if opts.Clock <= 0 || opts.Clock > MaxClock {
		return fmt.Errorf("invalid clock rate %d", opts.Clock)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	period := time.Second / time.Duration(opts.Clock)
	last := now()
	budget := time.Duration(0)
	vm.s.drawFlag = true

	for {
		if err := hal.ReadInput(vm.KeyDown, vm.KeyUp); err != nil {
			return err
		}

		t := now()
		elapsed := t.Sub(last)
		last = t
		budget += min(elapsed, maxFrameDelta)

		for budget >= period {
			budget -= period

			if err := vm.ExecuteCycle(period); err != nil {
				slog.Error("program halted", "pc", fmt.Sprintf("0x%04x", vm.s.pc), "err", err)
				return vm.waitForReboot(hal)
			}
		}

		if err := vm.drawIfChanged(hal); err != nil {
			return err
		}

		if err := hal.WaitForNextFrame(); err != nil {
			return err
		}
	}
}

func (vm *VM) drawIfChanged(hal HAL) error {
	if !vm.s.drawFlag {
		return nil
	}

	if err := hal.Draw(&vm.s.display); err != nil {
		return err
	}
	vm.s.drawFlag = false
	return nil
}

func (vm *VM) waitForReboot(hal HAL) error {
	vm.setTone(false)

	if err := vm.drawIfChanged(hal); err != nil {
		return err
	}

	for {
		if err := hal.WaitForNextFrame(); err != nil {
			return err
		}

		if err := hal.ReadInput(func(_ Key) {}, func(_ Key) {}); err != nil {
			return err
		}
	}
}
