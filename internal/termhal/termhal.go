// Package termhal runs the machine in a terminal: raw-mode keyboard input
// and half-block character rendering.
package termhal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kapitanov/chip8/internal/vm"
	"golang.org/x/term"
)

const (
	// Terminals report presses but not releases; a key counts as held for
	// this many frames after its last press.
	keyHoldFrames = 6

	keyCtrlC     = 0x03
	keyEscape    = 0x1B
	keyBackspace = 0x7F
	keyCtrlH     = 0x08

	escHome       = "\x1b[H"
	escClear      = "\x1b[2J"
	escHideCursor = "\x1b[?25l"
	escShowCursor = "\x1b[?25h"
)

var ErrNotTerminal = errors.New("stdin is not a terminal")

type Options struct {
	FrameDelay time.Duration
}

type HAL struct {
	fd       int
	oldState *term.State
	out      *bufio.Writer
	input    chan byte

	held       [vm.KeyCount]int
	frameDelay time.Duration
	frame      strings.Builder
}

var _ vm.HAL = (*HAL)(nil)

// New switches stdin to raw mode and starts reading keys from it.
func New(opts Options) (*HAL, error) {
	return newHAL(os.Stdin, os.Stdout, opts)
}

func newHAL(in, out *os.File, opts Options) (*HAL, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}

	if width, height, err := term.GetSize(int(out.Fd())); err == nil {
		if width < vm.ScreenWidth || height < vm.ScreenHeight/2 {
			slog.Warn("termhal: terminal smaller than display", "width", width, "height", height)
		}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	slog.Debug("termhal: raw mode enabled")

	h := &HAL{
		fd:         fd,
		oldState:   oldState,
		out:        bufio.NewWriter(out),
		input:      make(chan byte, 64),
		frameDelay: opts.FrameDelay,
	}

	go readKeys(in, h.input)

	fmt.Fprint(h.out, escClear, escHideCursor)
	if err := h.out.Flush(); err != nil {
		h.Shutdown()
		return nil, err
	}

	return h, nil
}

// readKeys forwards bytes from r until it fails. The goroutine outlives
// Shutdown while blocked in Read; it is reclaimed at process exit.
func readKeys(r io.Reader, ch chan<- byte) {
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			ch <- b
		}
		if err != nil {
			close(ch)
			return
		}
	}
}

func (h *HAL) Shutdown() {
	fmt.Fprint(h.out, escShowCursor, "\r\n")
	if err := h.out.Flush(); err != nil {
		slog.Error("failed to flush terminal", "err", err)
	}

	if err := term.Restore(h.fd, h.oldState); err != nil {
		slog.Error("failed to restore terminal", "err", err)
	}
}

func (h *HAL) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	for key, frames := range h.held {
		if frames == 0 {
			continue
		}

		h.held[key]--
		if h.held[key] == 0 {
			keyUp(vm.Key(key))
		}
	}

	for {
		select {
		case b, ok := <-h.input:
			if !ok {
				return vm.ErrQuit
			}
			if err := h.processByte(b, keyDown); err != nil {
				return err
			}

		default:
			return nil
		}
	}
}

func (h *HAL) processByte(b byte, keyDown func(vm.Key)) error {
	switch b {
	case keyCtrlC, keyEscape:
		slog.Debug("termhal: exit requested")
		return vm.ErrQuit
	case keyBackspace, keyCtrlH:
		slog.Debug("termhal: reboot requested")
		return vm.ErrReboot
	}

	key, ok := keyMap(b)
	if !ok {
		return nil
	}

	if h.held[key] == 0 {
		keyDown(key)
	}
	h.held[key] = keyHoldFrames
	return nil
}

func keyMap(b byte) (vm.Key, bool) {
	// Same physical layout as the window front end:
	//   1 2 3 4      1 2 3 C
	//   q w e r  =>  4 5 6 D
	//   a s d f      7 8 9 E
	//   z x c v      A 0 B F
	switch b {
	case 'x', 'X':
		return vm.Key0, true
	case '1':
		return vm.Key1, true
	case '2':
		return vm.Key2, true
	case '3':
		return vm.Key3, true
	case 'q', 'Q':
		return vm.Key4, true
	case 'w', 'W':
		return vm.Key5, true
	case 'e', 'E':
		return vm.Key6, true
	case 'a', 'A':
		return vm.Key7, true
	case 's', 'S':
		return vm.Key8, true
	case 'd', 'D':
		return vm.Key9, true
	case 'z', 'Z':
		return vm.KeyA, true
	case 'c', 'C':
		return vm.KeyB, true
	case '4':
		return vm.KeyC, true
	case 'r', 'R':
		return vm.KeyD, true
	case 'f', 'F':
		return vm.KeyE, true
	case 'v', 'V':
		return vm.KeyF, true
	default:
		return 0, false
	}
}

// renderFrame writes the display as text, packing two pixel rows into each
// line with half-block glyphs. Raw mode needs explicit carriage returns.
func renderFrame(sb *strings.Builder, display *vm.Display) {
	sb.WriteString(escHome)

	for y := 0; y < vm.ScreenHeight; y += 2 {
		for x := 0; x < vm.ScreenWidth; x++ {
			top, bottom := display[y][x], display[y+1][x]
			switch {
			case top && bottom:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bottom:
				sb.WriteRune('▄')
			default:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString("\r\n")
	}
}

func (h *HAL) Draw(display *vm.Display) error {
	h.frame.Reset()
	renderFrame(&h.frame, display)

	if _, err := h.out.WriteString(h.frame.String()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return h.out.Flush()
}

func (h *HAL) WaitForNextFrame() error {
	time.Sleep(h.frameDelay)
	return nil
}
