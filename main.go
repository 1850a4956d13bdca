package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kapitanov/chip8/internal/audio"
	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/termhal"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/spf13/cobra"
)

const frameDelay = time.Second / 240

type options struct {
	verbose  bool
	clock    int
	scale    int
	mute     bool
	terminal bool
	tone     int
	logFile  string
}

func (o *options) validate() error {
	if o.clock <= 0 || o.clock > vm.MaxClock {
		return fmt.Errorf("clock must be in 1..%d, got %d", vm.MaxClock, o.clock)
	}
	if o.scale <= 0 {
		return fmt.Errorf("scale must be positive, got %d", o.scale)
	}
	if o.tone <= 0 {
		return fmt.Errorf("tone frequency must be positive, got %d", o.tone)
	}
	return nil
}

func main() {
	opts := &options{}
	var logFile *os.File

	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			w, f, err := logOutput(opts)
			if err != nil {
				return err
			}
			logFile = f
			setupLogger(w, opts.verbose)
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to a file instead of stderr")
	cmd.Flags().IntVarP(&opts.clock, "clock", "c", 700, "instructions per second")
	cmd.Flags().IntVarP(&opts.scale, "scale", "s", hal.DefaultScale, "window pixels per CHIP-8 pixel")
	cmd.Flags().BoolVarP(&opts.mute, "mute", "m", false, "disable sound")
	cmd.Flags().BoolVarP(&opts.terminal, "terminal", "t", false, "render in the terminal instead of a window")
	cmd.Flags().IntVar(&opts.tone, "tone", audio.DefaultFrequency, "tone frequency in Hz")

	cmd.AddCommand(disasmCommand())

	cmd.SetArgs(os.Args[1:])
	err := cmd.Execute()
	if logFile != nil {
		logFile.Close()
	}

	if err != nil {
		// The default logger may be discarding output; the terminal is
		// restored by now.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// logOutput picks the log destination. A raw-mode terminal owns stderr, so
// terminal mode logs nothing unless a log file is given. The returned file,
// if any, is owned by the caller.
func logOutput(opts *options) (io.Writer, *os.File, error) {
	switch {
	case opts.logFile != "":
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w", err)
		}
		return f, f, nil

	case opts.terminal:
		return io.Discard, nil, nil

	default:
		return os.Stderr, nil, nil
	}
}

func setupLogger(w io.Writer, verbose bool) {
	loggerOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		loggerOpts.Level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, loggerOpts)))
}

func disasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print a listing of a ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := readROM(args[0])
			if err != nil {
				return err
			}
			return vm.Disassemble(bs, cmd.OutOrStdout())
		},
	}
}

func readROM(path string) ([]byte, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load file %q: %w", path, err)
	}
	return bs, nil
}

type frontEnd interface {
	vm.HAL
	Shutdown()
}

func openFrontEnd(opts *options) (frontEnd, error) {
	if opts.terminal {
		return termhal.New(termhal.Options{FrameDelay: frameDelay})
	}
	return hal.New(hal.Options{Scale: opts.scale, FrameDelay: frameDelay})
}

func run(path string, opts *options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	bs, err := readROM(path)
	if err != nil {
		return err
	}

	var tone vm.Tone
	if !opts.mute {
		t, err := audio.New(audio.Options{Frequency: opts.tone})
		if err != nil {
			return fmt.Errorf("unable to initialize audio: %w", err)
		}
		defer t.Close()
		tone = t
	}

	h, err := openFrontEnd(opts)
	if err != nil {
		return fmt.Errorf("unable to initialize hal: %w", err)
	}
	defer h.Shutdown()

	machine := vm.New(tone)
	for {
		if err := machine.Load(bs); err != nil {
			return fmt.Errorf("unable to load program: %w", err)
		}

		err = machine.Run(h, vm.RunOptions{Clock: opts.clock})

		if errors.Is(err, vm.ErrQuit) {
			return nil
		}

		if errors.Is(err, vm.ErrReboot) {
			slog.Info("reboot")
			machine.Reset()
			continue
		}

		return err
	}
}
